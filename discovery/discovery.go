// Package discovery enumerates candidate image files from a directory tree or a zip archive.
package discovery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

type Kind string

const (
	KindImage   Kind = "image"
	KindArchive Kind = "archive"
)

var (
	ErrSourceNotFound    = errors.New("source directory not found")
	ErrArchiveOpenFailed = errors.New("archive could not be opened")
)

var (
	imageExtensions   = []string{"jpg", "JPG", "jpeg", "JPEG", "png", "PNG", "gif", "GIF"}
	archiveExtensions = []string{"zip", "ZIP"}
)

// Extensions is an exact-case extension allow-list
type Extensions struct {
	kinds map[string]Kind
}

// DefaultExtensions accepts the image formats and, if allowed, zip archives
func DefaultExtensions(allowArchive bool) Extensions {
	e := Extensions{kinds: map[string]Kind{}}
	for _, ext := range imageExtensions {
		e.kinds[ext] = KindImage
	}
	if allowArchive {
		for _, ext := range archiveExtensions {
			e.kinds[ext] = KindArchive
		}
	}
	return e
}

// Match returns the kind of file name, if its extension is allowed
func (e Extensions) Match(name string) (Kind, bool) {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return "", false
	}
	kind, ok := e.kinds[ext]
	return kind, ok
}

func (e Extensions) imagesOnly() Extensions {
	result := Extensions{kinds: map[string]Kind{}}
	for ext, kind := range e.kinds {
		if kind == KindImage {
			result.kinds[ext] = kind
		}
	}
	return result
}

type File struct {
	Name  string // Base name, used for titles and destination names
	Path  string // Path inside the source filesystem or archive
	Size  int64
	Index int
	Kind  Kind
	open  func() (io.ReadCloser, error)
}

func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s cannot be opened", f.Path)
	}
	return f.open()
}

// NewFile describes a file stored on fsys
func NewFile(fsys afero.Fs, filePath string, size int64, index int, kind Kind) File {
	return File{
		Name:  filepath.Base(filePath),
		Path:  filePath,
		Size:  size,
		Index: index,
		Kind:  kind,
		open: func() (io.ReadCloser, error) {
			return fsys.Open(filePath)
		},
	}
}

// ScanDirectory walks root recursively in lexical order and returns every allowed file.
// The order is stable across calls for an unchanged tree.
func ScanDirectory(fsys afero.Fs, root string, exts Extensions) ([]File, error) {
	info, err := fsys.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, root)
	}
	result := []File{}
	err = afero.Walk(fsys, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		kind, ok := exts.Match(info.Name())
		if !ok {
			return nil
		}
		result = append(result, NewFile(fsys, p, info.Size(), len(result), kind))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return result, nil
}

type Archive struct {
	Path   string
	file   afero.File
	reader *zip.Reader
	files  []File
}

// OpenArchive reads the zip directory of archivePath. Entries that are archives themselves are skipped.
func OpenArchive(fsys afero.Fs, archivePath string, exts Extensions) (*Archive, error) {
	file, err := fsys.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpenFailed, archivePath, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpenFailed, archivePath, err)
	}
	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpenFailed, archivePath, err)
	}

	a := &Archive{Path: archivePath, file: file, reader: reader}
	images := exts.imagesOnly()
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if _, ok := images.Match(entry.Name); !ok {
			continue
		}
		entry := entry
		a.files = append(a.files, File{
			Name:  path.Base(entry.Name),
			Path:  entry.Name,
			Size:  int64(entry.UncompressedSize64),
			Index: len(a.files),
			Kind:  KindImage,
			open: func() (io.ReadCloser, error) {
				return entry.Open()
			},
		})
	}
	return a, nil
}

// Files returns the image entries in archive order
func (a *Archive) Files() []File {
	return a.files
}

func (a *Archive) Close() error {
	return a.file.Close()
}
