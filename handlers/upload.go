package handlers

import (
	"errors"
	"gallery/discovery"
	"gallery/ingest"
	"gallery/models"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type UploadRequest struct {
	AlbumID uint64 `form:"album_id" binding:"required"`
	UserID  uint64 `form:"user_id" binding:"required"`
	Name    string `form:"name" binding:"required"`
	Scheme  string `form:"scheme"`
}

type UploadResponse struct {
	Error   string `json:"error"`
	ImageID uint64 `json:"image_id,omitempty"`
	Images  int    `json:"images"`
}

// AlbumUpload stores the request body as one image, or as a zip archive of images
// when archive uploads are allowed
func (h *Handlers) AlbumUpload(c *gin.Context) {
	r := UploadRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Albums.Album(ctx, r.AlbumID); err != nil {
		h.fail(c, err)
		return
	}
	name := models.SanitizeFileName(r.Name)
	kind, ok := discovery.DefaultExtensions(h.AllowArchive).Match(name)
	if !ok {
		if _, isArchive := discovery.DefaultExtensions(true).Match(name); isArchive {
			c.JSON(http.StatusBadRequest, Response{"archive uploads are disabled"})
			return
		}
		c.JSON(http.StatusBadRequest, Response{ingest.ErrWrongType.Error()})
		return
	}

	// A directory per upload keeps the original file name
	dir := filepath.Join(h.UploadDir, uuid.NewString())
	path := filepath.Join(dir, name)
	defer func() {
		if err := h.UploadFs.RemoveAll(dir); err != nil {
			h.Log.Warn("cannot remove upload directory", zap.String("dir", dir), zap.Error(err))
		}
	}()
	if err := h.UploadFs.MkdirAll(dir, 0o755); err != nil {
		h.fail(c, err)
		return
	}
	body := c.Request.Body
	if h.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.MaxUploadBytes)
	}
	if err := afero.WriteReader(h.UploadFs, path, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, Response{"upload is larger than allowed"})
			return
		}
		h.fail(c, err)
		return
	}

	if kind == discovery.KindArchive {
		imported, err := h.Ingestor.Unzip(ctx, path, ingest.UnzipRequest{
			Fs:      h.UploadFs,
			AlbumID: r.AlbumID,
			UserID:  r.UserID,
			Scheme:  r.Scheme,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, UploadResponse{Images: imported})
		return
	}

	info, err := h.UploadFs.Stat(path)
	if err != nil {
		h.fail(c, err)
		return
	}
	id, err := h.Ingestor.Ingest(ctx, ingest.Request{
		File:    discovery.NewFile(h.UploadFs, path, info.Size(), 0, discovery.KindImage),
		AlbumID: r.AlbumID,
		UserID:  r.UserID,
		Scheme:  r.Scheme,
		Move:    true,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, UploadResponse{ImageID: id, Images: 1})
}
