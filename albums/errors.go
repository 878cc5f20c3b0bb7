package albums

import "errors"

var (
	ErrAlbumNotFound   = errors.New("album not found")
	ErrImageNotFound   = errors.New("image not found")
	ErrImageNotInAlbum = errors.New("image does not belong to album")
	ErrUnknownScope    = errors.New("unknown pager scope")
)
