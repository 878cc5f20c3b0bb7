package models

type SubjectType string

const (
	SubjectAlbum     SubjectType = "album"
	SubjectUserImage SubjectType = "user-image"
	SubjectUserAlbum SubjectType = "user-album"
	SubjectSiteImage SubjectType = "site-image"
	SubjectSiteAlbum SubjectType = "site-album"
)

// AllSubjectTypes in sweep order
var AllSubjectTypes = []SubjectType{
	SubjectAlbum,
	SubjectUserImage,
	SubjectUserAlbum,
	SubjectSiteImage,
	SubjectSiteAlbum,
}

func (s SubjectType) Valid() bool {
	for _, t := range AllSubjectTypes {
		if t == s {
			return true
		}
	}
	return false
}

// IsSite is true for subjects keyed by id 0
func (s SubjectType) IsSite() bool {
	return s == SubjectSiteImage || s == SubjectSiteAlbum
}

type Counter struct {
	SubjectType SubjectType `gorm:"primaryKey;type:varchar(20)"`
	SubjectID   uint64      `gorm:"primaryKey;autoIncrement:false"`
	Value       int64       `gorm:"not null;default:0"`
	ChangedAt   int64
}
