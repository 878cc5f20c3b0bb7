// Package counters keeps the denormalised image and album counts in step with the data.
package counters

import (
	"context"
	"errors"
	"fmt"
	"gallery/cache"
	"gallery/config"
	"gallery/logging"
	"gallery/metrics"
	"gallery/models"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWriteFailed    = errors.New("counter write failed")
	ErrUnknownSubject = errors.New("unknown counter subject")
)

const DefaultSweepInterval = 2 * time.Hour

type Config struct {
	Mode          string // config.CounterModeImmediate or config.CounterModeDeferred
	SweepInterval time.Duration
	Logger        *zap.Logger
}

type Maintainer struct {
	db        *gorm.DB
	events    cache.Invalidator
	log       *zap.Logger
	deferred  bool
	interval  time.Duration
	mu        sync.Mutex
	lastSweep time.Time
	now       func() time.Time
}

func New(db *gorm.DB, events cache.Invalidator, cfg Config) *Maintainer {
	if events == nil {
		events = cache.Nop{}
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Maintainer{
		db:       db,
		events:   events,
		log:      logging.OrNop(cfg.Logger),
		deferred: cfg.Mode == config.CounterModeDeferred,
		interval: interval,
		now:      time.Now,
	}
}

func (m *Maintainer) Deferred() bool {
	return m.deferred
}

// Get returns the stored counter value. A subject that was never counted reads as zero.
func (m *Maintainer) Get(ctx context.Context, subject models.SubjectType, id uint64) (int64, error) {
	if !subject.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if subject.IsSite() {
		id = 0
	}
	counter := models.Counter{}
	err := m.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject, id).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return counter.Value, err
}

func (m *Maintainer) count(ctx context.Context, subject models.SubjectType, id uint64) (int64, error) {
	var total int64
	tx := m.db.WithContext(ctx)
	switch subject {
	case models.SubjectAlbum:
		tx = tx.Model(&models.Image{}).Where("album_id = ?", id)
	case models.SubjectUserImage:
		tx = tx.Model(&models.Image{}).Where("user_id = ?", id)
	case models.SubjectUserAlbum:
		tx = tx.Model(&models.Album{}).Where("user_id = ?", id)
	case models.SubjectSiteImage:
		tx = tx.Model(&models.Image{})
	case models.SubjectSiteAlbum:
		tx = tx.Model(&models.Album{})
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	err := tx.Count(&total).Error
	return total, err
}

// Recompute counts the subject from scratch and stores the result
func (m *Maintainer) Recompute(ctx context.Context, subject models.SubjectType, id uint64) (int64, error) {
	if subject.IsSite() {
		id = 0
	}
	value, err := m.count(ctx, subject, id)
	if err != nil {
		return 0, m.failed(subject, id, err)
	}
	if err = m.write(ctx, subject, id, value); err != nil {
		return 0, m.failed(subject, id, err)
	}
	metrics.CounterWritesTotal.WithLabelValues(string(subject), "ok").Inc()
	m.events.Fire(ctx, cache.CounterChanged{Subject: subject, SubjectID: id})
	return value, nil
}

func (m *Maintainer) write(ctx context.Context, subject models.SubjectType, id uint64, value int64) error {
	now := m.now().Unix()
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Counter{}).
			Where("subject_type = ? AND subject_id = ?", subject, id).
			Updates(map[string]interface{}{"value": value, "changed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "subject_type"}, {Name: "subject_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "changed_at"}),
			}).Create(&models.Counter{SubjectType: subject, SubjectID: id, Value: value, ChangedAt: now}).Error
			if err != nil {
				return err
			}
		}
		if subject == models.SubjectAlbum {
			return tx.Model(&models.Album{}).Where("id = ?", id).Update("image_count", value).Error
		}
		return nil
	})
}

// Increment adds delta to an existing counter. Without a stored row the subject is recomputed instead.
func (m *Maintainer) Increment(ctx context.Context, subject models.SubjectType, id uint64, delta int64) error {
	if !subject.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if subject.IsSite() {
		id = 0
	}
	if delta == 0 {
		return nil
	}
	now := m.now().Unix()
	var affected int64
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Counter{}).
			Where("subject_type = ? AND subject_id = ?", subject, id).
			Updates(map[string]interface{}{
				"value":      gorm.Expr("value + ?", delta),
				"changed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected > 0 && subject == models.SubjectAlbum {
			return tx.Model(&models.Album{}).Where("id = ?", id).
				Update("image_count", gorm.Expr("image_count + ?", delta)).Error
		}
		return nil
	})
	if err != nil {
		return m.failed(subject, id, err)
	}
	if affected == 0 {
		_, err = m.Recompute(ctx, subject, id)
		return err
	}
	metrics.CounterWritesTotal.WithLabelValues(string(subject), "ok").Inc()
	m.events.Fire(ctx, cache.CounterChanged{Subject: subject, SubjectID: id})
	return nil
}

func (m *Maintainer) failed(subject models.SubjectType, id uint64, err error) error {
	metrics.CounterWritesTotal.WithLabelValues(string(subject), "error").Inc()
	m.log.Error("counter write failed",
		zap.String("subject", string(subject)),
		zap.Uint64("subject_id", id),
		zap.Error(err))
	return fmt.Errorf("%w: %s %d: %w", ErrWriteFailed, subject, id, err)
}
