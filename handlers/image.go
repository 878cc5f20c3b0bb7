package handlers

import (
	"gallery/albums"
	"gallery/cache"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ImageIDRequest struct {
	ID uint64 `form:"id" json:"id" binding:"required"`
}

type ImagePagerRequest struct {
	ID    uint64 `form:"id" binding:"required"`
	Scope string `form:"scope"`
}

type ImageUpdateRequest struct {
	ID          uint64  `json:"id" binding:"required"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Weight      *int    `json:"weight"`
	AlbumID     *uint64 `json:"album_id"`
	UserID      *uint64 `json:"user_id"`
}

type ImagePagerResponse struct {
	ID        uint64  `json:"id"`
	AlbumID   uint64  `json:"album_id"`
	AlbumName string  `json:"album_name"`
	Previous  *uint64 `json:"previous"`
	Next      *uint64 `json:"next"`
}

func imageTags(c *gin.Context) []string {
	id, err := strconv.ParseUint(c.Query("id"), 10, 64)
	if err != nil {
		return nil
	}
	return []string{cache.ImageTag(id), cache.TagImageList}
}

func (h *Handlers) ImagePager(c *gin.Context) {
	r := ImagePagerRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	pager, err := h.Albums.ImagePager(c.Request.Context(), r.ID, albums.Scope(r.Scope))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ImagePagerResponse{
		ID:        pager.Image.ID,
		AlbumID:   pager.Image.AlbumID,
		AlbumName: pager.AlbumName,
		Previous:  pager.Previous,
		Next:      pager.Next,
	})
}

func (h *Handlers) ImageUpdate(c *gin.Context) {
	r := ImageUpdateRequest{}
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	image, err := h.Albums.UpdateImage(c.Request.Context(), r.ID, albums.ImageUpdate{
		Title:       r.Title,
		Description: r.Description,
		Weight:      r.Weight,
		AlbumID:     r.AlbumID,
		UserID:      r.UserID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, imageInfo(image))
}

func (h *Handlers) ImageDelete(c *gin.Context) {
	r := ImageIDRequest{}
	if err := c.ShouldBind(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	if err := h.Albums.DeleteImage(c.Request.Context(), r.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse)
}

// ImageView records one visit and returns the new visit count
func (h *Handlers) ImageView(c *gin.Context) {
	r := ImageIDRequest{}
	if err := c.ShouldBind(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	count, err := h.Albums.RecordView(c.Request.Context(), r.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
