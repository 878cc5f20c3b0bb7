package ingest

import (
	"gallery/config"
	"gallery/models"

	"gorm.io/gorm"
)

// Attachment decides how a stored file is attached to its Image row.
// It is resolved once from configuration; the variants are ImageAttachment and MediaAttachment.
type Attachment interface {
	Name() string
	attach(tx *gorm.DB, image *models.Image) error
}

// ImageAttachment references the stored file from the image directly
type ImageAttachment struct{}

// MediaAttachment wraps the stored file in a Media row first
type MediaAttachment struct{}

func (ImageAttachment) Name() string { return config.AttachmentImage }

func (ImageAttachment) attach(*gorm.DB, *models.Image) error { return nil }

func (MediaAttachment) Name() string { return config.AttachmentMedia }

func (MediaAttachment) attach(tx *gorm.DB, image *models.Image) error {
	media := models.Media{
		UserID:   image.UserID,
		Name:     image.Title,
		BucketID: image.BucketID,
		Path:     image.Path,
		MimeType: image.MimeType,
	}
	if err := tx.Create(&media).Error; err != nil {
		return err
	}
	image.MediaID = &media.ID
	return nil
}

// AttachmentFor maps the configured attachment kind to its variant
func AttachmentFor(kind string) Attachment {
	if kind == config.AttachmentMedia {
		return MediaAttachment{}
	}
	return ImageAttachment{}
}
