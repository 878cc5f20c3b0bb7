package ingest

import (
	"context"
	"errors"
	"gallery/discovery"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type UnzipRequest struct {
	Fs         afero.Fs // Filesystem holding the archive
	AlbumID    uint64
	UserID     uint64
	Scheme     string
	Batched    bool
	StartEntry int // First entry to process, for resuming a partial extraction
	// OnEntry runs after every entry with the index of the next one to process.
	// Returning an error stops the extraction and keeps the archive.
	OnEntry func(next int, err error) error
}

// Unzip ingests every image entry of the archive at archivePath, stopping early once the album
// is full. The archive is deleted afterwards. It returns the number of images created.
func (in *Ingestor) Unzip(ctx context.Context, archivePath string, req UnzipRequest) (int, error) {
	fsys := req.Fs
	if fsys == nil {
		fsys = in.cfg.SourceFs
	}
	log := in.log.With(zap.String("archive", archivePath), zap.Uint64("album_id", req.AlbumID))

	archive, err := discovery.OpenArchive(fsys, archivePath, discovery.DefaultExtensions(false))
	if err != nil {
		return 0, err
	}
	imported := 0
	files := archive.Files()
	for i := req.StartEntry; i < len(files); i++ {
		if err := ctx.Err(); err != nil {
			archive.Close()
			return imported, err
		}
		_, ingestErr := in.Ingest(ctx, Request{
			File:    files[i],
			AlbumID: req.AlbumID,
			UserID:  req.UserID,
			Scheme:  req.Scheme,
			Batched: req.Batched,
		})
		if ingestErr == nil {
			imported++
		} else if !errors.Is(ingestErr, ErrLimitReached) {
			log.Warn("skipping archive entry", zap.String("file", files[i].Path), zap.Error(ingestErr))
		}
		if req.OnEntry != nil {
			if err := req.OnEntry(i+1, ingestErr); err != nil {
				archive.Close()
				return imported, err
			}
		}
		if errors.Is(ingestErr, ErrLimitReached) {
			log.Warn("album photo limit reached, remaining archive entries skipped",
				zap.Int("imported", imported),
				zap.Int("skipped", len(files)-i))
			break
		}
	}
	archive.Close()
	if err := fsys.Remove(archivePath); err != nil {
		log.Warn("could not delete archive", zap.Error(err))
	}
	return imported, nil
}
