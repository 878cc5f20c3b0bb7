package counters

import (
	"context"
	"errors"
	"gallery/metrics"
	"gallery/models"
	"time"

	"go.uber.org/zap"
)

// Hooks below keep counters current in immediate mode and do nothing in deferred mode.
// Errors are logged by the maintainer and returned joined, callers treat them as non-fatal.

func (m *Maintainer) ImageAdded(ctx context.Context, albumID, userID uint64) error {
	if m.deferred {
		return nil
	}
	return errors.Join(
		m.Increment(ctx, models.SubjectAlbum, albumID, 1),
		m.Increment(ctx, models.SubjectUserImage, userID, 1),
		m.Increment(ctx, models.SubjectSiteImage, 0, 1),
	)
}

func (m *Maintainer) ImageRemoved(ctx context.Context, albumID, userID uint64) error {
	if m.deferred {
		return nil
	}
	return errors.Join(
		m.Increment(ctx, models.SubjectAlbum, albumID, -1),
		m.Increment(ctx, models.SubjectUserImage, userID, -1),
		m.Increment(ctx, models.SubjectSiteImage, 0, -1),
	)
}

// ImageMoved accounts for an image changing album and/or owner
func (m *Maintainer) ImageMoved(ctx context.Context, fromAlbum, toAlbum, fromUser, toUser uint64) error {
	if m.deferred {
		return nil
	}
	var errs []error
	if fromAlbum != toAlbum {
		errs = append(errs,
			m.Increment(ctx, models.SubjectAlbum, fromAlbum, -1),
			m.Increment(ctx, models.SubjectAlbum, toAlbum, 1))
	}
	if fromUser != toUser {
		errs = append(errs,
			m.Increment(ctx, models.SubjectUserImage, fromUser, -1),
			m.Increment(ctx, models.SubjectUserImage, toUser, 1))
	}
	return errors.Join(errs...)
}

func (m *Maintainer) AlbumAdded(ctx context.Context, userID uint64) error {
	if m.deferred {
		return nil
	}
	return errors.Join(
		m.Increment(ctx, models.SubjectUserAlbum, userID, 1),
		m.Increment(ctx, models.SubjectSiteAlbum, 0, 1),
	)
}

// AlbumRemoved runs after an album and its images are gone. imageOwners are the owners
// of the removed images; their totals are recounted.
func (m *Maintainer) AlbumRemoved(ctx context.Context, albumID, ownerID uint64, imageOwners []uint64) error {
	if m.deferred {
		return nil
	}
	errs := []error{m.dropAlbum(ctx, albumID)}
	_, err := m.Recompute(ctx, models.SubjectUserAlbum, ownerID)
	errs = append(errs, err)
	_, err = m.Recompute(ctx, models.SubjectSiteAlbum, 0)
	errs = append(errs, err)
	_, err = m.Recompute(ctx, models.SubjectSiteImage, 0)
	errs = append(errs, err)
	seen := map[uint64]bool{}
	for _, uid := range imageOwners {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		_, err = m.Recompute(ctx, models.SubjectUserImage, uid)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Maintainer) dropAlbum(ctx context.Context, albumID uint64) error {
	err := m.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", models.SubjectAlbum, albumID).
		Delete(&models.Counter{}).Error
	if err != nil {
		return m.failed(models.SubjectAlbum, albumID, err)
	}
	return nil
}

// RecomputeAfterBatch recounts what a batch import touched. It runs in both modes
// because batched ingestion skips the per-image hooks.
func (m *Maintainer) RecomputeAfterBatch(ctx context.Context, albumID, userID uint64) error {
	var errs []error
	for _, s := range []struct {
		subject models.SubjectType
		id      uint64
	}{
		{models.SubjectAlbum, albumID},
		{models.SubjectUserImage, userID},
		{models.SubjectSiteImage, 0},
	} {
		_, err := m.Recompute(ctx, s.subject, s.id)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sweep recounts every subject. Unless forced it runs at most once per sweep interval
// and reports whether it ran.
func (m *Maintainer) Sweep(ctx context.Context, force bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !force && !m.lastSweep.IsZero() && now.Sub(m.lastSweep) < m.interval {
		return false, nil
	}
	start := time.Now()

	var errs []error
	for _, subject := range []models.SubjectType{models.SubjectSiteAlbum, models.SubjectSiteImage} {
		_, err := m.Recompute(ctx, subject, 0)
		errs = append(errs, err)
	}

	var albumIDs []uint64
	if err := m.db.WithContext(ctx).Model(&models.Album{}).Order("id").Pluck("id", &albumIDs).Error; err != nil {
		return false, err
	}
	for _, id := range albumIDs {
		_, err := m.Recompute(ctx, models.SubjectAlbum, id)
		errs = append(errs, err)
	}
	// Counter rows of albums that no longer exist
	stale := m.db.WithContext(ctx).Where("subject_type = ?", models.SubjectAlbum)
	if len(albumIDs) > 0 {
		stale = stale.Where("subject_id NOT IN ?", albumIDs)
	}
	if err := stale.Delete(&models.Counter{}).Error; err != nil {
		errs = append(errs, err)
	}

	userIDs, err := m.knownUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, uid := range userIDs {
		_, err = m.Recompute(ctx, models.SubjectUserImage, uid)
		errs = append(errs, err)
		_, err = m.Recompute(ctx, models.SubjectUserAlbum, uid)
		errs = append(errs, err)
	}

	m.lastSweep = now
	metrics.CounterSweepDuration.Observe(time.Since(start).Seconds())
	err = errors.Join(errs...)
	m.log.Info("counter sweep finished",
		zap.Int("albums", len(albumIDs)),
		zap.Int("users", len(userIDs)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return true, err
}

// knownUsers lists every user that owns an album or an image or already has a counter
func (m *Maintainer) knownUsers(ctx context.Context) ([]uint64, error) {
	seen := map[uint64]bool{}
	result := []uint64{}
	queries := []func(*[]uint64) error{
		func(out *[]uint64) error {
			return m.db.WithContext(ctx).Model(&models.Album{}).Distinct().Pluck("user_id", out).Error
		},
		func(out *[]uint64) error {
			return m.db.WithContext(ctx).Model(&models.Image{}).Distinct().Pluck("user_id", out).Error
		},
		func(out *[]uint64) error {
			return m.db.WithContext(ctx).Model(&models.Counter{}).
				Where("subject_type IN ?", []models.SubjectType{models.SubjectUserImage, models.SubjectUserAlbum}).
				Distinct().Pluck("subject_id", out).Error
		},
	}
	for _, query := range queries {
		var ids []uint64
		if err := query(&ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}
	return result, nil
}
