package batch

import (
	"context"
	"errors"
	"gallery/cache"
	"gallery/config"
	"gallery/counters"
	"gallery/discovery"
	"gallery/ingest"
	"gallery/models"
	"gallery/storage"
	"gallery/testutil"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	fs       afero.Fs
	sink     *cache.MemorySink
	counters *counters.Maintainer
	album    models.Album
}

func mustFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:   testutil.OpenDB(t),
		fs:   afero.NewMemMapFs(),
		sink: cache.NewMemorySink(),
	}
	f.album = testutil.CreateAlbum(t, f.db, 5, "imports")
	return f
}

func (f *fixture) stepper(chunk int, allowArchive bool) *Stepper {
	events := cache.NewDispatcher(f.sink, cache.DispatcherConfig{})
	f.counters = counters.New(f.db, events, counters.Config{Mode: config.CounterModeImmediate})
	registry := storage.NewRegistry(storage.SchemePublic)
	registry.Add(storage.NewDiskStorage(&storage.Bucket{ID: 1, Scheme: storage.SchemePublic}, afero.NewMemMapFs()))
	in := ingest.New(f.db, registry, f.counters, events, ingest.Config{CleanTitle: true, SourceFs: f.fs})
	return New(f.db, in, f.counters, events, Config{
		ChunkSize:    chunk,
		AllowArchive: allowArchive,
		TmpDir:       "/tmp/staging",
		Fs:           f.fs,
	})
}

func (f *fixture) write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, data, 0o644))
}

func (f *fixture) target(copy bool) Target {
	return Target{AlbumID: f.album.ID, UserID: 5, Copy: copy}
}

func (f *fixture) titles(t *testing.T) []string {
	t.Helper()
	var titles []string
	require.NoError(t, f.db.Model(&models.Image{}).Pluck("title", &titles).Error)
	sort.Strings(titles)
	return titles
}

func (f *fixture) seedImages(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.write(t, dir+"/img"+string(rune('a'+i))+".png", testutil.PNG(t, 2, 2))
	}
}

func runToEnd(t *testing.T, s *Stepper, h JobHandle) []StepResult {
	t.Helper()
	var results []StepResult
	for i := 0; i < 100; i++ {
		r, err := s.Step(context.Background(), h)
		require.NoError(t, err)
		results = append(results, r)
		if r.Done {
			return results
		}
	}
	t.Fatal("job never finished")
	return nil
}

func TestStartRejectsMissingSource(t *testing.T) {
	f := mustFixture(t)
	s := f.stepper(20, false)

	_, err := s.Start(context.Background(), StartRequest{Source: "/nowhere", Target: f.target(false)})
	assert.True(t, errors.Is(err, ErrSourceNotFound))

	var jobs int64
	require.NoError(t, f.db.Model(&models.BatchProgress{}).Count(&jobs).Error)
	assert.Equal(t, int64(0), jobs)
}

func TestMoveJobRunsInChunks(t *testing.T) {
	f := mustFixture(t)
	f.seedImages(t, "/import", 5)
	f.write(t, "/import/readme.txt", []byte("skip me"))
	s := f.stepper(2, false)
	ctx := context.Background()

	h, err := s.Start(ctx, StartRequest{Source: "/import", Target: f.target(false)})
	require.NoError(t, err)

	results := runToEnd(t, s, h)
	require.Len(t, results, 3)
	assert.InDelta(t, 0.4, results[0].Fraction, 0.0001)
	assert.InDelta(t, 0.8, results[1].Fraction, 0.0001)
	assert.Equal(t, 1.0, results[2].Fraction)
	assert.Equal(t, 5, results[2].Processed)

	progress, err := s.Progress(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, progress.Processed, progress.Cursor)
	assert.Equal(t, 5, progress.ImagesProcessed)
	assert.Equal(t, models.BatchCompleted, progress.Status)

	// Moved sources are gone, the unrelated file stays
	remaining, err := afero.ReadDir(f.fs, "/import")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "readme.txt", remaining[0].Name())

	// Batched ingestion leaves counting to Finish
	count, err := f.counters.Get(ctx, models.SubjectAlbum, f.album.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	summary, err := s.Finish(ctx, h, true)
	require.NoError(t, err)
	assert.Equal(t, "5 images moved to selected album.", summary.Message())
	count, err = f.counters.Get(ctx, models.SubjectAlbum, f.album.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	count, err = f.counters.Get(ctx, models.SubjectUserImage, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.NotZero(t, f.sink.Version(cache.TagRecentImage))
	assert.NotZero(t, f.sink.Version(cache.AlbumTag(f.album.ID)))

	_, err = s.Progress(ctx, h)
	assert.True(t, errors.Is(err, ErrUnknownJob))
	var files int64
	require.NoError(t, f.db.Model(&models.BatchFile{}).Count(&files).Error)
	assert.Equal(t, int64(0), files)
}

func TestResumeIsIdempotent(t *testing.T) {
	run := func(chunk int) (int, []string) {
		f := mustFixture(t)
		f.seedImages(t, "/import", 7)
		f.write(t, "/import/sub/broken.jpg", []byte("not an image"))
		s := f.stepper(chunk, false)
		h, err := s.Start(context.Background(), StartRequest{Source: "/import", Target: f.target(true)})
		require.NoError(t, err)
		runToEnd(t, s, h)
		summary, err := s.Finish(context.Background(), h, true)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
		return summary.ImagesProcessed, f.titles(t)
	}

	bigCount, bigTitles := run(1000)
	smallCount, smallTitles := run(1)
	assert.Equal(t, 7, bigCount)
	assert.Equal(t, bigCount, smallCount)
	assert.Equal(t, bigTitles, smallTitles)
}

// cancelAfterIngest cancels the step's context once an image has been recorded
type cancelAfterIngest struct {
	Ingester
	cancel context.CancelFunc
}

func (c *cancelAfterIngest) Ingest(ctx context.Context, req ingest.Request) (uint64, error) {
	id, err := c.Ingester.Ingest(ctx, req)
	if err == nil {
		c.cancel()
	}
	return id, err
}

func (c *cancelAfterIngest) Unzip(ctx context.Context, archivePath string, req ingest.UnzipRequest) (int, error) {
	onEntry := req.OnEntry
	req.OnEntry = func(next int, entryErr error) error {
		err := onEntry(next, entryErr)
		if entryErr == nil {
			c.cancel()
		}
		return err
	}
	return c.Ingester.Unzip(ctx, archivePath, req)
}

func TestCancelledStepKeepsImportedFile(t *testing.T) {
	f := mustFixture(t)
	f.seedImages(t, "/import", 3)
	s := f.stepper(20, false)

	h, err := s.Start(context.Background(), StartRequest{Source: "/import", Target: f.target(true)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ingestor = &cancelAfterIngest{Ingester: s.ingestor, cancel: cancel}
	_, err = s.Step(ctx, h)
	assert.True(t, errors.Is(err, context.Canceled))

	progress, err := s.Progress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Cursor)
	assert.Equal(t, 1, progress.ImagesProcessed)

	runToEnd(t, s, h)
	progress, err = s.Progress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.ImagesProcessed)
	assert.Equal(t, 0, progress.Failed)
	assert.Equal(t, []string{"imga", "imgb", "imgc"}, f.titles(t))
}

func TestCancelledStepKeepsArchiveEntry(t *testing.T) {
	f := mustFixture(t)
	f.write(t, "/import/photos.zip", testutil.Zip(t,
		testutil.ZipEntry{Name: "a.png", Data: testutil.PNG(t, 2, 2)},
		testutil.ZipEntry{Name: "b.png", Data: testutil.PNG(t, 2, 2)},
	))
	s := f.stepper(20, true)

	h, err := s.Start(context.Background(), StartRequest{Source: "/import", Target: f.target(true)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ingestor = &cancelAfterIngest{Ingester: s.ingestor, cancel: cancel}
	_, _ = s.Step(ctx, h)

	runToEnd(t, s, h)
	progress, err := s.Progress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.ImagesProcessed)
	assert.Equal(t, []string{"a", "b"}, f.titles(t))
}

func TestEmptyJobIsDoneImmediately(t *testing.T) {
	f := mustFixture(t)
	require.NoError(t, f.fs.MkdirAll("/empty", 0o755))
	s := f.stepper(20, false)

	h, err := s.Start(context.Background(), StartRequest{Source: "/empty", Target: f.target(true)})
	require.NoError(t, err)
	r, err := s.Step(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, r.Done)
	assert.Equal(t, 1.0, r.Fraction)

	summary, err := s.Finish(context.Background(), h, true)
	require.NoError(t, err)
	assert.Equal(t, "0 images copied to selected album.", summary.Message())
}

func TestCopyJobWithArchive(t *testing.T) {
	f := mustFixture(t)
	f.write(t, "/import/a.png", testutil.PNG(t, 2, 2))
	f.write(t, "/import/b.zip", testutil.Zip(t,
		testutil.ZipEntry{Name: "one.png", Data: testutil.PNG(t, 2, 2)},
		testutil.ZipEntry{Name: "notes.txt", Data: []byte("x")},
		testutil.ZipEntry{Name: "two.jpg", Data: testutil.JPEG(t, 2, 2)},
		testutil.ZipEntry{Name: "three.gif", Data: testutil.GIF(t, 2, 2)},
	))
	s := f.stepper(20, true)

	h, err := s.Start(context.Background(), StartRequest{Source: "/import", Target: f.target(true)})
	require.NoError(t, err)
	runToEnd(t, s, h)

	progress, err := s.Progress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 4, progress.ImagesProcessed)
	assert.Equal(t, 0, progress.Failed)
	assert.Empty(t, progress.ArchivePath)
	assert.Equal(t, []string{"a", "one", "three", "two"}, f.titles(t))

	exists, _ := afero.Exists(f.fs, "/import/b.zip")
	assert.True(t, exists, "copy mode keeps the source archive")
	staged, _ := afero.ReadDir(f.fs, "/tmp/staging")
	assert.Empty(t, staged, "staged copy is removed after extraction")
}

func TestMoveJobResumesInsideArchive(t *testing.T) {
	f := mustFixture(t)
	f.write(t, "/import/photos.zip", testutil.Zip(t,
		testutil.ZipEntry{Name: "a.png", Data: testutil.PNG(t, 2, 2)},
		testutil.ZipEntry{Name: "b.png", Data: testutil.PNG(t, 2, 2)},
		testutil.ZipEntry{Name: "c.png", Data: testutil.PNG(t, 2, 2)},
	))
	s := f.stepper(20, true)
	ctx := context.Background()
	h, err := s.Start(ctx, StartRequest{Source: "/import", Target: f.target(false)})
	require.NoError(t, err)

	// A previous step got through the first two entries before stopping
	require.NoError(t, f.db.Model(&models.BatchProgress{}).Where("job_id = ?", string(h)).
		Updates(map[string]interface{}{"archive_path": "/import/photos.zip", "archive_entry": 2, "images_processed": 2}).Error)

	runToEnd(t, s, h)
	progress, err := s.Progress(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.ImagesProcessed)
	assert.Equal(t, []string{"c"}, f.titles(t))
	exists, _ := afero.Exists(f.fs, "/import/photos.zip")
	assert.False(t, exists)
}

func TestArchiveSkippedWhenDisabled(t *testing.T) {
	f := mustFixture(t)
	f.write(t, "/import/x.zip", testutil.Zip(t, testutil.ZipEntry{Name: "a.png", Data: testutil.PNG(t, 2, 2)}))
	s := f.stepper(20, false)
	files := []discovery.File{discovery.NewFile(f.fs, "/import/x.zip", 10, 0, discovery.KindArchive)}

	h, err := s.StartFiles(context.Background(), files, f.target(false))
	require.NoError(t, err)
	runToEnd(t, s, h)

	progress, err := s.Progress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.ImagesProcessed)
	assert.Equal(t, 0, progress.Failed)
	assert.Equal(t, 1, progress.Processed)
	exists, _ := afero.Exists(f.fs, "/import/x.zip")
	assert.True(t, exists)
}

func TestUnreadableArchiveFailsJob(t *testing.T) {
	f := mustFixture(t)
	f.write(t, "/import/a.png", testutil.PNG(t, 2, 2))
	f.write(t, "/import/b.zip", []byte("garbage"))
	s := f.stepper(20, true)
	ctx := context.Background()

	h, err := s.Start(ctx, StartRequest{Source: "/import", Target: f.target(false)})
	require.NoError(t, err)
	_, err = s.Step(ctx, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArchiveOpenFailed))
	var jobErr *Error
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, "/import/b.zip", jobErr.File)

	r, err := s.Step(ctx, h)
	require.NoError(t, err)
	assert.True(t, r.Done)

	summary, err := s.Finish(ctx, h, true)
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, "Finished with an error.", summary.Message())
	assert.Equal(t, 1, summary.ImagesProcessed)
}

func TestUnknownJob(t *testing.T) {
	f := mustFixture(t)
	s := f.stepper(20, false)
	_, err := s.Step(context.Background(), JobHandle("missing"))
	assert.True(t, errors.Is(err, ErrUnknownJob))
	_, err = s.Finish(context.Background(), JobHandle("missing"), true)
	assert.True(t, errors.Is(err, ErrUnknownJob))
}

func TestCleanupStale(t *testing.T) {
	f := mustFixture(t)
	f.seedImages(t, "/import", 1)
	s := f.stepper(20, false)
	ctx := context.Background()
	old, err := s.Start(ctx, StartRequest{Source: "/import", Target: f.target(true)})
	require.NoError(t, err)
	fresh, err := s.Start(ctx, StartRequest{Source: "/import", Target: f.target(true)})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.BatchProgress{}).Where("job_id = ?", string(old)).
		UpdateColumn("updated_at", time.Now().Add(-48*time.Hour).Unix()).Error)

	removed, err := s.CleanupStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = s.Progress(ctx, old)
	assert.True(t, errors.Is(err, ErrUnknownJob))
	_, err = s.Progress(ctx, fresh)
	assert.NoError(t, err)
}

func TestSummaryMessage(t *testing.T) {
	tests := []struct {
		summary Summary
		want    string
	}{
		{Summary{ImagesProcessed: 1, Copy: true, Success: true}, "One image copied to selected album."},
		{Summary{ImagesProcessed: 1, Success: true}, "One image moved to selected album."},
		{Summary{ImagesProcessed: 12, Copy: true, Success: true}, "12 images copied to selected album."},
		{Summary{ImagesProcessed: 3}, "Finished with an error."},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Message())
		})
	}
}
