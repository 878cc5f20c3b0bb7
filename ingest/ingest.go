// Package ingest validates, stores and records single images.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"gallery/cache"
	"gallery/discovery"
	"gallery/logging"
	"gallery/metrics"
	"gallery/models"
	"gallery/storage"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const photosDir = "photos"

var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
}

type Storages interface {
	ForScheme(scheme string) (storage.StorageAPI, error)
}

type CounterHooks interface {
	ImageAdded(ctx context.Context, albumID, userID uint64) error
}

type Config struct {
	CleanTitle      bool
	AlbumPhotoLimit int
	MaxWidth        uint // Zero disables downscaling
	MaxHeight       uint
	Attachment      Attachment
	SourceFs        afero.Fs // Where moved source files are removed from
	Logger          *zap.Logger
}

type Request struct {
	File        discovery.File
	AlbumID     uint64
	UserID      uint64
	Title       string // Overrides the title derived from the file name
	Description string
	Weight      *int
	Scheme      string
	Move        bool // Remove the source once the image is recorded
	Batched     bool // Leave counters and cache invalidation to the batch finish
}

type Ingestor struct {
	db       *gorm.DB
	storages Storages
	counters CounterHooks
	events   cache.Invalidator
	cfg      Config
	log      *zap.Logger
}

func New(db *gorm.DB, storages Storages, counters CounterHooks, events cache.Invalidator, cfg Config) *Ingestor {
	if cfg.Attachment == nil {
		cfg.Attachment = ImageAttachment{}
	}
	if cfg.SourceFs == nil {
		cfg.SourceFs = afero.NewOsFs()
	}
	if events == nil {
		events = cache.Nop{}
	}
	return &Ingestor{
		db:       db,
		storages: storages,
		counters: counters,
		events:   events,
		cfg:      cfg,
		log:      logging.OrNop(cfg.Logger),
	}
}

// Ingest records req.File as a new image of req.AlbumID and returns its id
func (in *Ingestor) Ingest(ctx context.Context, req Request) (uint64, error) {
	start := time.Now()
	id, err := in.ingest(ctx, req)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var ingestErr *Error
		result := "error"
		if errors.As(err, &ingestErr) {
			result = resultLabel(ingestErr.Kind)
		}
		metrics.IngestTotal.WithLabelValues(result).Inc()
		return 0, err
	}
	metrics.IngestTotal.WithLabelValues("ok").Inc()
	return id, nil
}

func (in *Ingestor) ingest(ctx context.Context, req Request) (uint64, error) {
	log := in.log.With(zap.String("file", req.File.Path), zap.Uint64("album_id", req.AlbumID))
	fail := func(kind error, cause error) (uint64, error) {
		return 0, newError(kind, req.File.Name, req.AlbumID, cause)
	}

	// The limit is checked before any storage is touched
	if in.cfg.AlbumPhotoLimit > 0 {
		var count int64
		if err := in.db.WithContext(ctx).Model(&models.Image{}).Where("album_id = ?", req.AlbumID).Count(&count).Error; err != nil {
			return fail(ErrPersistFailed, err)
		}
		if count >= int64(in.cfg.AlbumPhotoLimit) {
			return fail(ErrLimitReached, nil)
		}
	}

	imageConfig, format, err := decodeConfig(req.File)
	if err != nil {
		return 0, newError(errorKind(err), req.File.Name, req.AlbumID, err)
	}

	st, err := in.storages.ForScheme(req.Scheme)
	if err != nil {
		return fail(ErrMoveFailed, err)
	}
	dest, err := storage.UniquePath(st, photosDir, models.SanitizeFileName(req.File.Name))
	if err != nil {
		return fail(ErrMoveFailed, err)
	}
	size, err := copyToStorage(req.File, st, dest)
	if err != nil {
		_ = st.Delete(dest)
		return fail(ErrMoveFailed, err)
	}
	metrics.IngestBytes.Add(float64(size))

	weight, err := in.weight(ctx, req)
	if err != nil {
		_ = st.Delete(dest)
		return fail(ErrPersistFailed, err)
	}
	img := models.Image{
		AlbumID:     req.AlbumID,
		UserID:      req.UserID,
		Title:       in.title(req),
		Description: req.Description,
		Weight:      weight,
		FileSize:    size,
		Width:       imageConfig.Width,
		Height:      imageConfig.Height,
		MimeType:    mimeTypes[format],
		FileName:    req.File.Name,
		Path:        dest,
		BucketID:    st.GetBucket().ID,
	}
	err = in.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := in.cfg.Attachment.attach(tx, &img); err != nil {
			return err
		}
		if err := tx.Create(&img).Error; err != nil {
			return err
		}
		return tx.Create(&models.FileUsage{
			BucketID:  img.BucketID,
			Path:      img.Path,
			AlbumID:   img.AlbumID,
			ImageID:   img.ID,
			CreatedAt: time.Now().Unix(),
		}).Error
	})
	if err != nil {
		if delErr := st.Delete(dest); delErr != nil {
			log.Warn("could not remove stored file after failed insert", zap.String("path", dest), zap.Error(delErr))
		}
		return fail(ErrPersistFailed, err)
	}

	if req.Move {
		if err := in.cfg.SourceFs.Remove(req.File.Path); err != nil {
			log.Warn("could not remove moved source file", zap.Error(err))
		}
	}

	if in.cfg.MaxWidth > 0 && in.cfg.MaxHeight > 0 &&
		(uint(img.Width) > in.cfg.MaxWidth || uint(img.Height) > in.cfg.MaxHeight) {
		if err := in.downscale(ctx, st, &img); err != nil {
			log.Warn("could not downscale image", zap.Uint64("image_id", img.ID), zap.Error(err))
		}
	}

	if !req.Batched {
		if in.counters != nil {
			// Counter failures never undo an ingestion
			_ = in.counters.ImageAdded(ctx, img.AlbumID, img.UserID)
		}
		in.events.Fire(ctx, cache.ImageCreated{ImageID: img.ID, AlbumID: img.AlbumID, UserID: img.UserID})
	}
	log.Debug("image ingested", zap.Uint64("image_id", img.ID), zap.String("path", dest))
	return img.ID, nil
}

func (in *Ingestor) title(req Request) string {
	if req.Title != "" {
		return req.Title
	}
	if in.cfg.CleanTitle {
		return CleanTitle(req.File.Name)
	}
	return req.File.Name
}

// weight is the supplied one or one past the heaviest image of the album, 0 for an empty album
func (in *Ingestor) weight(ctx context.Context, req Request) (int, error) {
	if req.Weight != nil {
		return *req.Weight, nil
	}
	var max sql.NullInt64
	row := in.db.WithContext(ctx).Model(&models.Image{}).
		Where("album_id = ?", req.AlbumID).
		Select("MAX(weight)").
		Row()
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

func decodeConfig(file discovery.File) (image.Config, string, error) {
	rc, err := file.Open()
	if err != nil {
		return image.Config{}, "", err
	}
	defer rc.Close()
	cfg, format, err := image.DecodeConfig(rc)
	if err != nil {
		return cfg, format, err
	}
	if _, ok := mimeTypes[format]; !ok {
		return cfg, format, image.ErrFormat
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, format, errZeroSize
	}
	return cfg, format, nil
}

var errZeroSize = errors.New("image has no pixels")

func errorKind(err error) error {
	if errors.Is(err, image.ErrFormat) || errors.Is(err, errZeroSize) {
		return ErrWrongType
	}
	return ErrDecodeFailed
}

func copyToStorage(file discovery.File, st storage.StorageAPI, dest string) (int64, error) {
	rc, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return st.Save(dest, rc)
}

// downscale shrinks the stored file to fit the configured box and updates the row
func (in *Ingestor) downscale(ctx context.Context, st storage.StorageAPI, img *models.Image) error {
	format, err := imaging.FormatFromFilename(img.Path)
	if err != nil {
		return err
	}
	var original bytes.Buffer
	if _, err = st.Load(img.Path, &original); err != nil {
		return err
	}
	decoded, err := imaging.Decode(&original, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	resized := resize.Thumbnail(in.cfg.MaxWidth, in.cfg.MaxHeight, decoded, resize.Lanczos3)
	var encoded bytes.Buffer
	if err = imaging.Encode(&encoded, resized, format, imaging.JPEGQuality(90)); err != nil {
		return err
	}
	size, err := st.Save(img.Path, &encoded)
	if err != nil {
		return err
	}
	bounds := resized.Bounds()
	img.Width = bounds.Dx()
	img.Height = bounds.Dy()
	img.FileSize = size
	return in.db.WithContext(ctx).Model(img).Updates(map[string]interface{}{
		"width":     img.Width,
		"height":    img.Height,
		"file_size": img.FileSize,
	}).Error
}

func resultLabel(kind error) string {
	switch kind {
	case ErrWrongType:
		return "wrong_type"
	case ErrDecodeFailed:
		return "decode_failed"
	case ErrLimitReached:
		return "limit_reached"
	case ErrMoveFailed:
		return "move_failed"
	}
	return "persist_failed"
}
