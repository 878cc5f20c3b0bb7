// Package handlers exposes the gallery operations over gin
package handlers

import (
	"errors"
	"gallery/albums"
	"gallery/batch"
	"gallery/counters"
	"gallery/ingest"
	"gallery/logging"
	"gallery/utils"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Response struct {
	Error string `json:"error"`
}

type MultiResponse struct {
	Error  string   `json:"error"`
	Failed []uint64 `json:"failed"`
}

var (
	// Predefined responses
	OKResponse       = Response{}
	DBError1Response = Response{"DB Error 1"}
	DBError2Response = Response{"DB Error 2"}
)

type Handlers struct {
	DB             *gorm.DB
	Albums         *albums.Service
	Ingestor       *ingest.Ingestor
	Batches        *batch.Stepper
	Counters       *counters.Maintainer
	UploadFs       afero.Fs // Must be the ingestor's source filesystem, uploads are moved out of it
	UploadDir      string
	MaxUploadBytes int64 // Zero means no limit
	AllowArchive   bool
	Versions       utils.TagVersion // Enables ETags on cacheable reads when set
	Log            *zap.Logger
}

// Register adds every route to router
func (h *Handlers) Register(router gin.IRouter) {
	if h.Log == nil {
		h.Log = logging.OrNop(nil)
	}
	if h.UploadDir == "" {
		h.UploadDir = "uploads"
	}
	// Album handlers
	router.GET("/album/list", h.AlbumList)
	router.POST("/album/create", h.AlbumCreate)
	router.POST("/album/delete", h.AlbumDelete)
	router.GET("/album/cover", h.AlbumCover)
	router.POST("/album/cover", h.AlbumSetCover)
	router.GET("/album/images", h.cached(albumTags), h.AlbumImages)
	router.POST("/album/rearrange", h.AlbumRearrange)
	router.POST("/album/reorder", h.AlbumReorder)
	router.PUT("/album/upload", h.AlbumUpload)
	// Image handlers
	router.GET("/image/pager", h.cached(imageTags), h.ImagePager)
	router.POST("/image/update", h.ImageUpdate)
	router.POST("/image/delete", h.ImageDelete)
	router.POST("/image/view", h.ImageView)
	// Counters
	router.GET("/count", h.Count)
	// Batch import
	router.POST("/import/start", h.ImportStart)
	router.POST("/import/step", h.ImportStep)
	router.POST("/import/finish", h.ImportFinish)
}

func (h *Handlers) cached(tags func(*gin.Context) []string) gin.HandlerFunc {
	cr := &utils.CacheRouter{CacheTime: utils.CacheNoCache, Tags: tags, Versions: h.Versions}
	return cr.Handler()
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, albums.ErrAlbumNotFound),
		errors.Is(err, albums.ErrImageNotFound),
		errors.Is(err, batch.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, albums.ErrImageNotInAlbum),
		errors.Is(err, albums.ErrUnknownScope),
		errors.Is(err, batch.ErrSourceNotFound),
		errors.Is(err, batch.ErrArchiveOpenFailed),
		errors.Is(err, ingest.ErrWrongType),
		errors.Is(err, ingest.ErrDecodeFailed),
		errors.Is(err, counters.ErrUnknownSubject):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrLimitReached):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, Response{err.Error()})
}

func queryUint64(c *gin.Context, key string) uint64 {
	id, _ := strconv.ParseUint(c.Query(key), 10, 64)
	return id
}
