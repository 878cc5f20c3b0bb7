package models

import (
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

type Image struct {
	ID           uint64 `gorm:"primaryKey"`
	AlbumID      uint64 `gorm:"not null;index:album_image_weight,priority:1"`
	UserID       uint64 `gorm:"not null;index"`
	Title        string `gorm:"type:varchar(300)"`
	Description  string `gorm:"type:text"`
	Weight       int    `gorm:"not null;default:0;index:album_image_weight,priority:2"`
	CreatedAt    int64  `gorm:"autoCreateTime"`
	ChangedAt    int64  `gorm:"autoUpdateTime"`
	ViewCount    int64  `gorm:"not null;default:0"`
	CommentCount int64  `gorm:"not null;default:0"` // Maintained by whoever owns comments
	FileSize     int64
	Width        int
	Height       int
	MimeType     string `gorm:"type:varchar(50)"`
	FileName     string `gorm:"type:varchar(300)"`
	Path         string `gorm:"type:varchar(1000)"` // Relative to the bucket
	BucketID     uint64
	MediaID      *uint64
}

func (i *Image) BeforeSave(tx *gorm.DB) (err error) {
	i.FileName = SanitizeFileName(i.FileName)
	return
}

// SanitizeFileName restricts the characters in a stored file name.
// Anything outside [a-zA-Z0-9._-] becomes '_' and a leading dot is not allowed.
func SanitizeFileName(in string) string {
	var name strings.Builder
	for i, c := range filepath.Base(in) {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			(c == '.' && i > 0) || (c == '-') || (c == '_') {

			name.WriteRune(c)
		} else {
			name.WriteString("_")
		}
	}
	return name.String()
}
