package utils

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	CacheNoCache = 0
	CacheCustom  = -1
)

// TagVersion reports how many times a cache tag has been invalidated
type TagVersion func(ctx context.Context, tag string) (uint64, error)

// CacheRouter sets cache headers for a group of routes. With Tags and Versions set, responses
// get an ETag built from the current tag versions, so any invalidation of those tags changes it.
type CacheRouter struct {
	CacheTime int // defaults to CacheNoCache = 0
	Tags      func(c *gin.Context) []string
	Versions  TagVersion
}

func (cr *CacheRouter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cr.CacheTime != CacheCustom {
			if cr.CacheTime == CacheNoCache {
				c.Header("cache-control", "no-cache")
			} else {
				c.Header("cache-control", "private, max-age="+strconv.Itoa(cr.CacheTime))
			}
		}
		if etag, ok := cr.etag(c); ok {
			c.Header("etag", etag)
			if c.GetHeader("if-none-match") == etag {
				c.AbortWithStatus(304)
				return
			}
		}
		c.Next()
	}
}

func (cr *CacheRouter) etag(c *gin.Context) (string, bool) {
	if cr.Tags == nil || cr.Versions == nil {
		return "", false
	}
	tags := cr.Tags(c)
	if len(tags) == 0 {
		return "", false
	}
	hash := sha1.New()
	hash.Write([]byte(c.Request.URL.RequestURI()))
	for _, tag := range tags {
		version, err := cr.Versions(c.Request.Context(), tag)
		if err != nil {
			return "", false
		}
		hash.Write([]byte("|" + tag + "=" + strconv.FormatUint(version, 10)))
	}
	return `W/"` + hex.EncodeToString(hash.Sum(nil)) + `"`, true
}
