package batch

import (
	"errors"
	"fmt"
	"gallery/discovery"
)

var (
	ErrSourceNotFound    = discovery.ErrSourceNotFound
	ErrArchiveOpenFailed = discovery.ErrArchiveOpenFailed
	ErrUnknownJob        = errors.New("unknown batch job")
)

// Error is a job level failure. Per-file failures never surface as errors.
type Error struct {
	Kind  error
	JobID string
	File  string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("batch job %s: %s", e.JobID, e.Kind)
	if e.File != "" {
		msg += fmt.Sprintf(" (file %q)", e.File)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
