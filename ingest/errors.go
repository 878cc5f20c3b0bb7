package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrWrongType     = errors.New("file is not a supported image")
	ErrDecodeFailed  = errors.New("image could not be decoded")
	ErrLimitReached  = errors.New("album photo limit reached")
	ErrMoveFailed    = errors.New("file could not be written to storage")
	ErrPersistFailed = errors.New("image could not be recorded")
)

// Error describes why one file was not ingested.
// It matches both its kind sentinel and the underlying cause with errors.Is.
type Error struct {
	Kind    error
	File    string
	AlbumID uint64
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (file %q, album %d)", e.Kind, e.File, e.AlbumID)
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

func newError(kind error, file string, albumID uint64, cause error) *Error {
	return &Error{Kind: kind, File: file, AlbumID: albumID, Err: cause}
}
