package ingest

import (
	"context"
	"errors"
	"gallery/testutil"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archiveWithImages(t *testing.T, images int) []byte {
	t.Helper()
	entries := []testutil.ZipEntry{}
	for i := 0; i < images; i++ {
		entries = append(entries, testutil.ZipEntry{Name: string(rune('a'+i)) + ".png", Data: testutil.PNG(t, 2, 2)})
		if i == 1 {
			entries = append(entries,
				testutil.ZipEntry{Name: "notes.txt", Data: []byte("hello")},
				testutil.ZipEntry{Name: "thumbs.db", Data: []byte{0, 1, 2}})
		}
	}
	return testutil.Zip(t, entries...)
}

func TestUnzip(t *testing.T) {
	f := mustFixture(t)
	in := f.ingestor(Config{CleanTitle: true})
	require.NoError(t, afero.WriteFile(f.src, "/up/photos.zip", archiveWithImages(t, 5), 0o644))

	imported, err := in.Unzip(context.Background(), "/up/photos.zip", UnzipRequest{AlbumID: f.album.ID, UserID: 7})
	require.NoError(t, err)
	assert.Equal(t, 5, imported)

	images := f.images(t)
	require.Len(t, images, 5)
	assert.Equal(t, "a", images[0].Title)
	assert.Equal(t, 4, images[4].Weight)
	assert.Len(t, f.counters.added, 5)

	_, err = f.src.Stat("/up/photos.zip")
	assert.Error(t, err, "archive is removed after extraction")
}

func TestUnzipStopsAtLimit(t *testing.T) {
	f := mustFixture(t)
	in := f.ingestor(Config{AlbumPhotoLimit: 3})
	require.NoError(t, afero.WriteFile(f.src, "/up/photos.zip", archiveWithImages(t, 5), 0o644))

	var seen []int
	imported, err := in.Unzip(context.Background(), "/up/photos.zip", UnzipRequest{
		AlbumID: f.album.ID,
		UserID:  7,
		OnEntry: func(next int, err error) error {
			seen = append(seen, next)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, imported)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
	assert.Len(t, f.images(t), 3)
	_, err = f.src.Stat("/up/photos.zip")
	assert.Error(t, err)
}

func TestUnzipResumesFromEntry(t *testing.T) {
	f := mustFixture(t)
	in := f.ingestor(Config{})
	require.NoError(t, afero.WriteFile(f.src, "/up/photos.zip", archiveWithImages(t, 4), 0o644))

	imported, err := in.Unzip(context.Background(), "/up/photos.zip", UnzipRequest{
		AlbumID:    f.album.ID,
		UserID:     7,
		StartEntry: 2,
		Batched:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Empty(t, f.counters.added)
}

func TestUnzipCallbackErrorKeepsArchive(t *testing.T) {
	f := mustFixture(t)
	in := f.ingestor(Config{})
	require.NoError(t, afero.WriteFile(f.src, "/up/photos.zip", archiveWithImages(t, 3), 0o644))
	stop := errors.New("stop")

	imported, err := in.Unzip(context.Background(), "/up/photos.zip", UnzipRequest{
		AlbumID: f.album.ID,
		OnEntry: func(int, error) error { return stop },
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, imported)
	_, err = f.src.Stat("/up/photos.zip")
	assert.NoError(t, err)
}

func TestUnzipBadArchive(t *testing.T) {
	f := mustFixture(t)
	in := f.ingestor(Config{})
	require.NoError(t, afero.WriteFile(f.src, "/up/bad.zip", []byte("nope"), 0o644))

	_, err := in.Unzip(context.Background(), "/up/bad.zip", UnzipRequest{AlbumID: f.album.ID})
	assert.Error(t, err)
}
