package models

// FileUsage records which album/image a stored file belongs to
type FileUsage struct {
	BucketID  uint64 `gorm:"primaryKey"`
	Path      string `gorm:"primaryKey;type:varchar(700)"`
	AlbumID   uint64 `gorm:"not null;index"`
	ImageID   uint64 `gorm:"not null;index"`
	CreatedAt int64
}
