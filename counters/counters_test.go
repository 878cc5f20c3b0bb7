package counters

import (
	"context"
	"errors"
	"gallery/cache"
	"gallery/config"
	"gallery/models"
	"gallery/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func mustMaintainer(t *testing.T, mode string) (*Maintainer, *gorm.DB, *cache.MemorySink) {
	t.Helper()
	db := testutil.OpenDB(t)
	sink := cache.NewMemorySink()
	m := New(db, cache.NewDispatcher(sink, cache.DispatcherConfig{}), Config{Mode: mode})
	return m, db, sink
}

func addImage(t *testing.T, db *gorm.DB, albumID, userID uint64) models.Image {
	t.Helper()
	img := models.Image{AlbumID: albumID, UserID: userID, Title: "x"}
	require.NoError(t, db.Create(&img).Error)
	return img
}

func mustGet(t *testing.T, m *Maintainer, subject models.SubjectType, id uint64) int64 {
	t.Helper()
	v, err := m.Get(context.Background(), subject, id)
	require.NoError(t, err)
	return v
}

func TestRecomputeAlbum(t *testing.T) {
	ctx := context.Background()
	m, db, sink := mustMaintainer(t, config.CounterModeImmediate)
	album := testutil.CreateAlbum(t, db, 1, "a")
	addImage(t, db, album.ID, 1)
	addImage(t, db, album.ID, 1)

	v, err := m.Recompute(ctx, models.SubjectAlbum, album.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectAlbum, album.ID))

	reloaded := models.Album{}
	require.NoError(t, db.First(&reloaded, album.ID).Error)
	assert.Equal(t, int64(2), reloaded.ImageCount)
	assert.Equal(t, uint64(1), sink.Version(cache.PhotosAlbumTag(album.ID)))

	// A second recompute updates the same row
	addImage(t, db, album.ID, 1)
	_, err = m.Recompute(ctx, models.SubjectAlbum, album.ID)
	require.NoError(t, err)
	var rows int64
	require.NoError(t, db.Model(&models.Counter{}).Where("subject_type = ?", models.SubjectAlbum).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
	assert.Equal(t, int64(3), mustGet(t, m, models.SubjectAlbum, album.ID))
}

func TestGet(t *testing.T) {
	m, _, _ := mustMaintainer(t, config.CounterModeImmediate)
	assert.Equal(t, int64(0), mustGet(t, m, models.SubjectUserImage, 42))

	_, err := m.Get(context.Background(), models.SubjectType("node"), 1)
	assert.True(t, errors.Is(err, ErrUnknownSubject))
}

func TestIncrementWithoutRowRecomputes(t *testing.T) {
	ctx := context.Background()
	m, db, _ := mustMaintainer(t, config.CounterModeImmediate)
	album := testutil.CreateAlbum(t, db, 1, "a")
	for i := 0; i < 3; i++ {
		addImage(t, db, album.ID, 1)
	}

	// No row yet: the delta is ignored in favour of a full count
	require.NoError(t, m.Increment(ctx, models.SubjectAlbum, album.ID, 1))
	assert.Equal(t, int64(3), mustGet(t, m, models.SubjectAlbum, album.ID))

	addImage(t, db, album.ID, 1)
	require.NoError(t, m.Increment(ctx, models.SubjectAlbum, album.ID, 1))
	assert.Equal(t, int64(4), mustGet(t, m, models.SubjectAlbum, album.ID))

	reloaded := models.Album{}
	require.NoError(t, db.First(&reloaded, album.ID).Error)
	assert.Equal(t, int64(4), reloaded.ImageCount)
}

func TestImmediateHooksStayConsistent(t *testing.T) {
	ctx := context.Background()
	m, db, _ := mustMaintainer(t, config.CounterModeImmediate)
	a1 := testutil.CreateAlbum(t, db, 1, "a1")
	require.NoError(t, m.AlbumAdded(ctx, 1))
	a2 := testutil.CreateAlbum(t, db, 2, "a2")
	require.NoError(t, m.AlbumAdded(ctx, 2))

	var images []models.Image
	for i := 0; i < 3; i++ {
		images = append(images, addImage(t, db, a1.ID, 1))
		require.NoError(t, m.ImageAdded(ctx, a1.ID, 1))
	}
	addImage(t, db, a2.ID, 2)
	require.NoError(t, m.ImageAdded(ctx, a2.ID, 2))

	// Move one image from a1/user 1 to a2/user 2
	moved := images[0]
	require.NoError(t, db.Model(&moved).Updates(map[string]interface{}{"album_id": a2.ID, "user_id": 2}).Error)
	require.NoError(t, m.ImageMoved(ctx, a1.ID, a2.ID, 1, 2))

	// Delete another one
	require.NoError(t, db.Delete(&images[1]).Error)
	require.NoError(t, m.ImageRemoved(ctx, a1.ID, 1))

	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectAlbum, a1.ID))
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectAlbum, a2.ID))
	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectUserImage, 1))
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectUserImage, 2))
	assert.Equal(t, int64(3), mustGet(t, m, models.SubjectSiteImage, 0))
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectSiteAlbum, 0))
	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectUserAlbum, 1))

	// Increments agree with a full sweep
	ran, err := m.Sweep(ctx, true)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectAlbum, a1.ID))
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectAlbum, a2.ID))
	site := mustGet(t, m, models.SubjectSiteImage, 0)
	assert.Equal(t, mustGet(t, m, models.SubjectAlbum, a1.ID)+mustGet(t, m, models.SubjectAlbum, a2.ID), site)
}

func TestAlbumRemoved(t *testing.T) {
	ctx := context.Background()
	m, db, _ := mustMaintainer(t, config.CounterModeImmediate)
	album := testutil.CreateAlbum(t, db, 1, "gone")
	img := addImage(t, db, album.ID, 3)
	_, err := m.Sweep(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectUserImage, 3))

	require.NoError(t, db.Delete(&img).Error)
	require.NoError(t, db.Delete(&album).Error)
	require.NoError(t, m.AlbumRemoved(ctx, album.ID, 1, []uint64{3, 3}))

	assert.Equal(t, int64(0), mustGet(t, m, models.SubjectUserImage, 3))
	assert.Equal(t, int64(0), mustGet(t, m, models.SubjectUserAlbum, 1))
	assert.Equal(t, int64(0), mustGet(t, m, models.SubjectSiteAlbum, 0))
	var rows int64
	require.NoError(t, db.Model(&models.Counter{}).Where("subject_type = ?", models.SubjectAlbum).Count(&rows).Error)
	assert.Equal(t, int64(0), rows)
}

func TestDeferredModeSweepsOnInterval(t *testing.T) {
	ctx := context.Background()
	m, db, _ := mustMaintainer(t, config.CounterModeDeferred)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	album := testutil.CreateAlbum(t, db, 1, "a")
	addImage(t, db, album.ID, 1)
	require.NoError(t, m.ImageAdded(ctx, album.ID, 1))
	assert.Equal(t, int64(0), mustGet(t, m, models.SubjectAlbum, album.ID), "hooks are no-ops in deferred mode")

	ran, err := m.Sweep(ctx, false)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectAlbum, album.ID))

	addImage(t, db, album.ID, 1)
	now = now.Add(time.Hour)
	ran, err = m.Sweep(ctx, false)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int64(1), mustGet(t, m, models.SubjectAlbum, album.ID))

	now = now.Add(time.Hour)
	ran, err = m.Sweep(ctx, false)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectAlbum, album.ID))
	assert.Equal(t, int64(2), mustGet(t, m, models.SubjectUserImage, 1))
}

func TestSweepDropsCountersOfDeletedAlbums(t *testing.T) {
	ctx := context.Background()
	m, db, _ := mustMaintainer(t, config.CounterModeImmediate)
	album := testutil.CreateAlbum(t, db, 1, "a")
	_, err := m.Recompute(ctx, models.SubjectAlbum, album.ID)
	require.NoError(t, err)
	require.NoError(t, db.Delete(&album).Error)

	_, err = m.Sweep(ctx, true)
	require.NoError(t, err)
	var rows int64
	require.NoError(t, db.Model(&models.Counter{}).Where("subject_type = ?", models.SubjectAlbum).Count(&rows).Error)
	assert.Equal(t, int64(0), rows)
}
