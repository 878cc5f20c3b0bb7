package batch

import (
	"strconv"
)

// Summary is what a finished job reports back to the user
type Summary struct {
	JobID           string
	ImagesProcessed int
	Failed          int
	AlbumID         uint64
	UserID          uint64
	Copy            bool
	Success         bool
}

func (s Summary) Message() string {
	if !s.Success {
		return "Finished with an error."
	}
	verb := "moved"
	if s.Copy {
		verb = "copied"
	}
	if s.ImagesProcessed == 1 {
		return "One image " + verb + " to selected album."
	}
	return strconv.Itoa(s.ImagesProcessed) + " images " + verb + " to selected album."
}
