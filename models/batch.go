package models

const (
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// BatchProgress is the persisted state of one import job.
// Cursor always equals Processed and never goes backwards.
type BatchProgress struct {
	JobID           string `gorm:"primaryKey;type:varchar(36)"`
	AlbumID         uint64 `gorm:"not null"`
	UserID          uint64 `gorm:"not null"`
	Scheme          string `gorm:"type:varchar(20)"`
	Copy            bool
	Status          string `gorm:"type:varchar(20);index"`
	Processed       int
	Total           int
	Cursor          int
	ImagesProcessed int
	Failed          int
	ArchivePath     string `gorm:"type:varchar(1000)"` // Archive currently being extracted, if any
	ArchiveEntry    int    // Next entry index inside ArchivePath
	Error           string `gorm:"type:varchar(1000)"`
	CreatedAt       int64
	UpdatedAt       int64
}

// BatchFile is one discovered file of a job, in discovery order
type BatchFile struct {
	JobID string `gorm:"primaryKey;type:varchar(36)"`
	Index int    `gorm:"primaryKey;autoIncrement:false;column:position"`
	Path  string `gorm:"type:varchar(1000)"`
	Name  string `gorm:"type:varchar(300)"`
	Size  int64
	Kind  string `gorm:"type:varchar(10)"`
}
