package processing

const (
	Skipped = 0
	Done    = 2
	Failed  = 3
)

// ProcessingTask keeps the outcome of the last run of each maintenance task
type ProcessingTask struct {
	Name   string `gorm:"primaryKey;type:varchar(50)"`
	Status int
	RunAt  int64
	Runs   int64
	Error  string `gorm:"type:varchar(1024)"`
}

func statusLabel(status int) string {
	switch status {
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "skipped"
}
