package storage

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

type DiskStorage struct {
	bucket    Bucket
	fs        afero.Fs
	dirs      map[string]bool
	dirsMutex sync.Mutex
}

// NewDiskStorage serves bucket files from fsys, which must already be rooted at the bucket path
func NewDiskStorage(bucket *Bucket, fsys afero.Fs) *DiskStorage {
	return &DiskStorage{
		bucket: *bucket,
		fs:     fsys,
		dirs:   make(map[string]bool, 10),
	}
}

func (s *DiskStorage) GetBucket() *Bucket {
	return &s.bucket
}

func (s *DiskStorage) createDir(dir string) error {
	s.dirsMutex.Lock()
	defer s.dirsMutex.Unlock()

	if ok := s.dirs[dir]; ok {
		return nil
	}
	if err := s.fs.MkdirAll(dir, 0o777); err != nil {
		return err
	}
	s.dirs[dir] = true
	return nil
}

func (s *DiskStorage) Exists(path string) (bool, error) {
	_, err := s.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *DiskStorage) Save(path string, reader io.Reader) (int64, error) {
	if err := s.createDir(filepath.Dir(path)); err != nil {
		return 0, err
	}
	file, err := s.fs.Create(path)
	if err != nil {
		return 0, err
	}
	result, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return result, err
}

func (s *DiskStorage) Load(path string, writer io.Writer) (int64, error) {
	file, err := s.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return io.Copy(writer, file)
}

func (s *DiskStorage) Delete(path string) error {
	return s.fs.Remove(path)
}
