package handlers

import (
	"gallery/albums"
	"gallery/cache"
	"gallery/models"
	"gallery/utils"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type AlbumInfo struct {
	ID           uint64  `json:"id"`
	Owner        uint64  `json:"owner"`
	Name         string  `json:"name"`
	Subtitle     string  `json:"subtitle"`
	ImageCount   int64   `json:"image_count"`
	CoverImageID *uint64 `json:"cover_image_id"`
}

type ImageInfo struct {
	ID           uint64 `json:"id"`
	AlbumID      uint64 `json:"album_id"`
	Owner        uint64 `json:"owner"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Weight       int    `json:"weight"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	ViewCount    int64  `json:"view_count"`
	CommentCount int64  `json:"comment_count"`
	CreatedAt    int64  `json:"created"`
	ChangedAt    int64  `json:"changed"`
}

type AlbumImagesResponse struct {
	AlbumID uint64      `json:"album_id"`
	Order   string      `json:"order"`
	Page    int         `json:"page"`
	Pages   int         `json:"pages"`
	Limit   int         `json:"limit"`
	Total   int64       `json:"total"`
	Images  []ImageInfo `json:"images"`
}

type AlbumCreateRequest struct {
	Name   string `form:"name" binding:"required"`
	UserID uint64 `form:"user_id" binding:"required"`
}

type AlbumIDRequest struct {
	AlbumID uint64 `form:"album_id" binding:"required"`
}

type AlbumCoverRequest struct {
	AlbumID uint64 `form:"album_id" binding:"required"`
	ImageID uint64 `form:"image_id"` // Zero clears the cover
}

type AlbumImagesRequest struct {
	AlbumID     uint64 `form:"album_id" binding:"required"`
	Field       string `form:"field"`
	Sort        string `form:"sort"`
	Limit       string `form:"limit"`
	Page        int    `form:"page"`
	Destination string `form:"destination"`
}

type RearrangeRequest struct {
	AlbumID uint64 `form:"album_id"`
	UserID  uint64 `form:"user_id"`
	IDs     string `form:"ids" binding:"required"` // Comma separated, in the new order
}

func imageInfo(image models.Image) ImageInfo {
	return ImageInfo{
		ID:           image.ID,
		AlbumID:      image.AlbumID,
		Owner:        image.UserID,
		Title:        image.Title,
		Description:  image.Description,
		Weight:       image.Weight,
		Width:        image.Width,
		Height:       image.Height,
		FileSize:     image.FileSize,
		MimeType:     image.MimeType,
		ViewCount:    image.ViewCount,
		CommentCount: image.CommentCount,
		CreatedAt:    image.CreatedAt,
		ChangedAt:    image.ChangedAt,
	}
}

func albumTags(c *gin.Context) []string {
	id, err := strconv.ParseUint(c.Query("album_id"), 10, 64)
	if err != nil {
		return nil
	}
	return []string{cache.AlbumTag(id), cache.PhotosAlbumTag(id), cache.TagImageList}
}

// AlbumList returns the albums of one owner in their manual order
func (h *Handlers) AlbumList(c *gin.Context) {
	userID := queryUint64(c, "user_id")
	rows, err := h.DB.WithContext(c.Request.Context()).
		Table("albums").
		Select("albums.id, albums.name, albums.user_id, albums.image_count, albums.cover_image_id, ifnull(min(images.created_at), 0), ifnull(max(images.created_at), 0)").
		Joins("left join images on images.album_id = albums.id").
		Where("albums.user_id = ?", userID).
		Group("albums.id, albums.name, albums.user_id, albums.image_count, albums.cover_image_id, albums.weight").
		Order("albums.weight, albums.id").
		Rows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, DBError1Response)
		return
	}
	defer rows.Close()
	result := []AlbumInfo{}
	var minDate, maxDate int64
	for rows.Next() {
		albumInfo := AlbumInfo{}
		if err = rows.Scan(&albumInfo.ID, &albumInfo.Name, &albumInfo.Owner, &albumInfo.ImageCount, &albumInfo.CoverImageID, &minDate, &maxDate); err != nil {
			c.JSON(http.StatusInternalServerError, DBError2Response)
			return
		}
		albumInfo.Subtitle = utils.GetDatesString(minDate, maxDate)
		result = append(result, albumInfo)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) AlbumCreate(c *gin.Context) {
	r := AlbumCreateRequest{}
	if err := c.ShouldBindWith(&r, binding.Form); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	album, err := h.Albums.CreateAlbum(c.Request.Context(), r.UserID, r.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AlbumInfo{
		ID:    album.ID,
		Owner: album.UserID,
		Name:  album.Name,
	})
}

func (h *Handlers) AlbumDelete(c *gin.Context) {
	r := AlbumIDRequest{}
	if err := c.ShouldBindWith(&r, binding.Form); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	if err := h.Albums.DeleteAlbum(c.Request.Context(), r.AlbumID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse)
}

func (h *Handlers) AlbumCover(c *gin.Context) {
	r := AlbumIDRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	cover, err := h.Albums.Cover(c.Request.Context(), r.AlbumID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if cover == nil {
		c.JSON(http.StatusOK, gin.H{"cover": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cover": imageInfo(*cover)})
}

func (h *Handlers) AlbumSetCover(c *gin.Context) {
	r := AlbumCoverRequest{}
	if err := c.ShouldBindWith(&r, binding.Form); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	if err := h.Albums.SetCover(c.Request.Context(), r.AlbumID, r.ImageID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse)
}

func (h *Handlers) AlbumImages(c *gin.Context) {
	r := AlbumImagesRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	page, err := h.Albums.ListImages(c.Request.Context(), r.AlbumID, albums.ListQuery{
		Field:       r.Field,
		Sort:        r.Sort,
		Limit:       r.Limit,
		Page:        r.Page,
		Destination: r.Destination,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	result := AlbumImagesResponse{
		AlbumID: r.AlbumID,
		Order:   page.Order.String(),
		Page:    page.Window.Page,
		Pages:   page.Window.Pages,
		Limit:   page.Window.Limit,
		Total:   page.Window.Total,
		Images:  make([]ImageInfo, 0, len(page.Images)),
	}
	for _, image := range page.Images {
		result.Images = append(result.Images, imageInfo(image))
	}
	c.JSON(http.StatusOK, result)
}

// AlbumRearrange sets the manual order of images in an album
func (h *Handlers) AlbumRearrange(c *gin.Context) {
	r := RearrangeRequest{}
	if err := c.ShouldBindWith(&r, binding.Form); err != nil || r.AlbumID == 0 {
		c.JSON(http.StatusBadRequest, Response{"album_id and ids are required"})
		return
	}
	if err := h.Albums.RearrangeImages(c.Request.Context(), r.AlbumID, utils.StringToUInt64List(r.IDs)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse)
}

// AlbumReorder sets the manual order of an owner's albums
func (h *Handlers) AlbumReorder(c *gin.Context) {
	r := RearrangeRequest{}
	if err := c.ShouldBindWith(&r, binding.Form); err != nil || r.UserID == 0 {
		c.JSON(http.StatusBadRequest, Response{"user_id and ids are required"})
		return
	}
	if err := h.Albums.RearrangeAlbums(c.Request.Context(), r.UserID, utils.StringToUInt64List(r.IDs)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse)
}
