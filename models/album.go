package models

type Album struct {
	ID            uint64 `gorm:"primaryKey"`
	UserID        uint64 `gorm:"not null;index:user_album_weight,priority:1"`
	Name          string `gorm:"type:varchar(300)"`
	Weight        int    `gorm:"not null;default:0;index:user_album_weight,priority:2"`
	CoverImageID  *uint64
	ImageCount    int64  `gorm:"not null;default:0"`
	SortField     string `gorm:"type:varchar(30)"` // Empty means the site default order
	SortDirection string `gorm:"type:varchar(4)"`
	PageSize      int
	CreatedAt     int64
	UpdatedAt     int64
}
