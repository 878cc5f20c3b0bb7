// Package albums holds the album and image mutations that are not ingestion, and the read paths
// that list and page through images.
package albums

import (
	"context"
	"database/sql"
	"errors"
	"gallery/cache"
	"gallery/logging"
	"gallery/models"
	"gallery/ordering"
	"gallery/storage"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Storages interface {
	ByID(bucketID uint64) (storage.StorageAPI, error)
}

type CounterHooks interface {
	ImageRemoved(ctx context.Context, albumID, userID uint64) error
	ImageMoved(ctx context.Context, fromAlbum, toAlbum, fromUser, toUser uint64) error
	AlbumAdded(ctx context.Context, userID uint64) error
	AlbumRemoved(ctx context.Context, albumID, ownerID uint64, imageOwners []uint64) error
}

type Config struct {
	DefaultOrder ordering.Order // Used for albums without their own order
	PageSize     int
	Logger       *zap.Logger
}

type Service struct {
	db       *gorm.DB
	storages Storages
	counters CounterHooks
	events   cache.Invalidator
	cfg      Config
	log      *zap.Logger
}

func New(db *gorm.DB, storages Storages, counters CounterHooks, events cache.Invalidator, cfg Config) *Service {
	if cfg.DefaultOrder.Column == "" {
		cfg.DefaultOrder = ordering.DefaultOrder
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if events == nil {
		events = cache.Nop{}
	}
	return &Service{
		db:       db,
		storages: storages,
		counters: counters,
		events:   events,
		cfg:      cfg,
		log:      logging.OrNop(cfg.Logger),
	}
}

// Album loads one album
func (s *Service) Album(ctx context.Context, albumID uint64) (models.Album, error) {
	return s.album(ctx, albumID)
}

func (s *Service) album(ctx context.Context, albumID uint64) (models.Album, error) {
	album := models.Album{}
	err := s.db.WithContext(ctx).Take(&album, albumID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return album, ErrAlbumNotFound
	}
	return album, err
}

func (s *Service) image(ctx context.Context, imageID uint64) (models.Image, error) {
	image := models.Image{}
	err := s.db.WithContext(ctx).Take(&image, imageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return image, ErrImageNotFound
	}
	return image, err
}

// CreateAlbum adds an album at the end of the owner's album list
func (s *Service) CreateAlbum(ctx context.Context, userID uint64, name string) (models.Album, error) {
	var maxWeight sql.NullInt64
	err := s.db.WithContext(ctx).Model(&models.Album{}).
		Select("MAX(weight)").
		Where("user_id = ?", userID).
		Row().Scan(&maxWeight)
	if err != nil {
		return models.Album{}, err
	}
	album := models.Album{
		UserID: userID,
		Name:   strings.TrimSpace(name),
	}
	if maxWeight.Valid {
		album.Weight = int(maxWeight.Int64) + 1
	}
	if err = s.db.WithContext(ctx).Create(&album).Error; err != nil {
		return models.Album{}, err
	}
	s.countersFailed(s.counters.AlbumAdded(ctx, userID))
	s.events.Fire(ctx, cache.AlbumCreated{AlbumID: album.ID, UserID: userID})
	return album, nil
}

// SetCover makes imageID the album cover. Zero clears it.
func (s *Service) SetCover(ctx context.Context, albumID, imageID uint64) error {
	if _, err := s.album(ctx, albumID); err != nil {
		return err
	}
	var cover *uint64
	if imageID != 0 {
		image, err := s.image(ctx, imageID)
		if err != nil {
			return err
		}
		if image.AlbumID != albumID {
			return ErrImageNotInAlbum
		}
		cover = &imageID
	}
	err := s.db.WithContext(ctx).Model(&models.Album{}).
		Where("id = ?", albumID).
		UpdateColumn("cover_image_id", cover).Error
	if err != nil {
		return err
	}
	s.events.Fire(ctx, cache.AlbumCoverChanged{AlbumID: albumID})
	return nil
}

// Cover returns the album cover, falling back to the first image of the album.
// An empty album has no cover and returns nil.
func (s *Service) Cover(ctx context.Context, albumID uint64) (*models.Image, error) {
	album, err := s.album(ctx, albumID)
	if err != nil {
		return nil, err
	}
	if album.CoverImageID != nil {
		image, err := s.image(ctx, *album.CoverImageID)
		if err == nil {
			return &image, nil
		}
		if !errors.Is(err, ErrImageNotFound) {
			return nil, err
		}
	}
	images := []models.Image{}
	err = s.db.WithContext(ctx).Where("album_id = ?", albumID).Order("id").Limit(1).Find(&images).Error
	if err != nil || len(images) == 0 {
		return nil, err
	}
	return &images[0], nil
}

// ImageUpdate lists the fields to change, nil fields are left alone
type ImageUpdate struct {
	Title       *string
	Description *string
	Weight      *int
	AlbumID     *uint64
	UserID      *uint64
}

// UpdateImage edits an image and moves it when a new album or owner is given.
// An image leaving an album stops being its cover.
func (s *Service) UpdateImage(ctx context.Context, imageID uint64, u ImageUpdate) (models.Image, error) {
	image, err := s.image(ctx, imageID)
	if err != nil {
		return image, err
	}
	prevAlbum, prevUser := image.AlbumID, image.UserID
	if u.Title != nil {
		image.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		image.Description = *u.Description
	}
	if u.Weight != nil {
		image.Weight = *u.Weight
	}
	if u.AlbumID != nil && *u.AlbumID != image.AlbumID {
		if _, err = s.album(ctx, *u.AlbumID); err != nil {
			return image, err
		}
		image.AlbumID = *u.AlbumID
	}
	if u.UserID != nil {
		image.UserID = *u.UserID
	}
	moved := image.AlbumID != prevAlbum

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&image).Error; err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := tx.Model(&models.FileUsage{}).
			Where("image_id = ?", image.ID).
			UpdateColumn("album_id", image.AlbumID).Error; err != nil {
			return err
		}
		return clearCover(tx, prevAlbum, image.ID)
	})
	if err != nil {
		return image, err
	}
	if moved || image.UserID != prevUser {
		s.countersFailed(s.counters.ImageMoved(ctx, prevAlbum, image.AlbumID, prevUser, image.UserID))
	}
	if moved {
		s.log.Info("image moved",
			zap.Uint64("image_id", image.ID),
			zap.Uint64("from_album_id", prevAlbum),
			zap.Uint64("album_id", image.AlbumID))
	}
	s.events.Fire(ctx, cache.ImageUpdated{
		ImageID:         image.ID,
		AlbumID:         image.AlbumID,
		UserID:          image.UserID,
		PreviousAlbumID: prevAlbum,
		PreviousUserID:  prevUser,
	})
	return image, nil
}

func clearCover(tx *gorm.DB, albumID, imageID uint64) error {
	return tx.Model(&models.Album{}).
		Where("id = ? AND cover_image_id = ?", albumID, imageID).
		UpdateColumn("cover_image_id", nil).Error
}

// DeleteImage removes the image row, its usage record and the stored file
func (s *Service) DeleteImage(ctx context.Context, imageID uint64) error {
	image, err := s.image(ctx, imageID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", image.ID).Delete(&models.FileUsage{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&image).Error; err != nil {
			return err
		}
		if err := deleteMedia(tx, image); err != nil {
			return err
		}
		return clearCover(tx, image.AlbumID, image.ID)
	})
	if err != nil {
		return err
	}
	s.deleteFile(image)
	s.countersFailed(s.counters.ImageRemoved(ctx, image.AlbumID, image.UserID))
	s.events.Fire(ctx, cache.ImageDeleted{ImageID: image.ID, AlbumID: image.AlbumID, UserID: image.UserID})
	return nil
}

// DeleteAlbum removes the album together with all of its images and their files
func (s *Service) DeleteAlbum(ctx context.Context, albumID uint64) error {
	album, err := s.album(ctx, albumID)
	if err != nil {
		return err
	}
	images := []models.Image{}
	if err = s.db.WithContext(ctx).Where("album_id = ?", albumID).Find(&images).Error; err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("album_id = ?", albumID).Delete(&models.FileUsage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("album_id = ?", albumID).Delete(&models.Image{}).Error; err != nil {
			return err
		}
		if err := deleteMedia(tx, images...); err != nil {
			return err
		}
		return tx.Delete(&album).Error
	})
	if err != nil {
		return err
	}
	owners := make([]uint64, 0, len(images))
	for _, image := range images {
		s.deleteFile(image)
		owners = append(owners, image.UserID)
		s.events.Fire(ctx, cache.ImageDeleted{ImageID: image.ID, AlbumID: albumID, UserID: image.UserID})
	}
	s.countersFailed(s.counters.AlbumRemoved(ctx, albumID, album.UserID, owners))
	s.events.Fire(ctx, cache.AlbumDeleted{AlbumID: albumID, UserID: album.UserID})
	s.log.Info("album deleted", zap.Uint64("album_id", albumID), zap.Int("images", len(images)))
	return nil
}

// deleteMedia removes the Media rows wrapping the files of images
func deleteMedia(tx *gorm.DB, images ...models.Image) error {
	ids := []uint64{}
	for _, image := range images {
		if image.MediaID != nil {
			ids = append(ids, *image.MediaID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Where("id IN ?", ids).Delete(&models.Media{}).Error
}

// deleteFile is best effort, a leftover file is logged and otherwise ignored
func (s *Service) deleteFile(image models.Image) {
	if image.Path == "" {
		return
	}
	st, err := s.storages.ByID(image.BucketID)
	if err == nil {
		err = st.Delete(image.Path)
	}
	if err != nil {
		s.log.Warn("could not delete image file",
			zap.Uint64("image_id", image.ID),
			zap.String("file", image.Path),
			zap.Error(err))
	}
}

// RearrangeImages sets image weights to their position in ids. Ids from other albums are ignored.
func (s *Service) RearrangeImages(ctx context.Context, albumID uint64, ids []uint64) error {
	if _, err := s.album(ctx, albumID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for weight, id := range ids {
			err := tx.Model(&models.Image{}).
				Where("id = ? AND album_id = ?", id, albumID).
				UpdateColumn("weight", weight).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.Fire(ctx, cache.ImagesReordered{AlbumID: albumID})
	return nil
}

// RearrangeAlbums sets album weights of one owner to their position in ids
func (s *Service) RearrangeAlbums(ctx context.Context, userID uint64, ids []uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for weight, id := range ids {
			err := tx.Model(&models.Album{}).
				Where("id = ? AND user_id = ?", id, userID).
				UpdateColumn("weight", weight).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.Fire(ctx, cache.AlbumsReordered{UserID: userID})
	return nil
}

// RecordView bumps the image view count and returns the new value.
// The change time is left alone.
func (s *Service) RecordView(ctx context.Context, imageID uint64) (int64, error) {
	image, err := s.image(ctx, imageID)
	if err != nil {
		return 0, err
	}
	err = s.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ?", imageID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error
	if err != nil {
		return 0, err
	}
	s.events.Fire(ctx, cache.ImageUpdated{ImageID: image.ID, AlbumID: image.AlbumID, UserID: image.UserID})
	return image.ViewCount + 1, nil
}

func (s *Service) countersFailed(err error) {
	if err != nil {
		s.log.Warn("counter update failed", zap.Error(err))
	}
}
