package models

// Media wraps a stored file when images are attached as media entities
type Media struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    uint64 `gorm:"not null;index"`
	Name      string `gorm:"type:varchar(300)"`
	BucketID  uint64
	Path      string `gorm:"type:varchar(1000)"`
	MimeType  string `gorm:"type:varchar(50)"`
	CreatedAt int64
}
