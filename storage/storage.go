package storage

import (
	"errors"
	"fmt"
	"gallery/logging"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownScheme = errors.New("no storage for scheme")
	ErrUnknownBucket = errors.New("no storage for bucket")
)

type StorageAPI interface {
	GetBucket() *Bucket
	Exists(path string) (bool, error)
	Save(path string, reader io.Reader) (int64, error)
	Load(path string, writer io.Writer) (int64, error)
	Delete(path string) error
}

// Registry resolves storage schemes and bucket ids to a StorageAPI
type Registry struct {
	mu            sync.RWMutex
	storages      []StorageAPI
	defaultScheme string
}

func NewRegistry(defaultScheme string) *Registry {
	if defaultScheme == "" {
		defaultScheme = SchemePublic
	}
	return &Registry{defaultScheme: defaultScheme}
}

func (r *Registry) Add(s StorageAPI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storages = append(r.storages, s)
}

// ForScheme returns the first storage serving scheme. "default" and "" map to the configured default.
func (r *Registry) ForScheme(scheme string) (StorageAPI, error) {
	if scheme == "" || scheme == SchemeDefault {
		scheme = r.defaultScheme
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.storages {
		if s.GetBucket().Scheme == scheme {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
}

func (r *Registry) ByID(bucketID uint64) (StorageAPI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.storages {
		if s.GetBucket().ID == bucketID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownBucket, bucketID)
}

// NewStorage builds the StorageAPI matching the bucket type
func NewStorage(bucket *Bucket) (StorageAPI, error) {
	switch bucket.StorageType {
	case StorageTypeFile:
		return NewDiskStorage(bucket, afero.NewBasePathFs(afero.NewOsFs(), bucket.Path)), nil
	case StorageTypeS3:
		return NewS3Storage(bucket), nil
	}
	return nil, fmt.Errorf("storage type unavailable for bucket %d", bucket.ID)
}

type BootstrapConfig struct {
	PublicDir     string
	PrivateDir    string
	DefaultScheme string
}

// Load migrates the bucket table, creates disk buckets for configured schemes that have none,
// and returns a registry over all buckets.
func Load(db *gorm.DB, cfg BootstrapConfig, log *zap.Logger) (*Registry, error) {
	log = logging.OrNop(log)
	if err := db.AutoMigrate(&Bucket{}); err != nil {
		return nil, fmt.Errorf("migrate buckets: %w", err)
	}
	for scheme, dir := range map[string]string{SchemePublic: cfg.PublicDir, SchemePrivate: cfg.PrivateDir} {
		if dir == "" {
			continue
		}
		var count int64
		if err := db.Model(&Bucket{}).Where("scheme = ?", scheme).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			continue
		}
		if err := afero.NewOsFs().MkdirAll(dir, 0o777); err != nil {
			return nil, fmt.Errorf("create %s storage dir: %w", scheme, err)
		}
		bucket := Bucket{Name: scheme, Scheme: scheme, StorageType: StorageTypeFile, Path: dir}
		if err := db.Create(&bucket).Error; err != nil {
			return nil, err
		}
		log.Info("created bucket", zap.String("scheme", scheme), zap.String("path", dir))
	}

	var buckets []Bucket
	if err := db.Order("id").Find(&buckets).Error; err != nil {
		return nil, err
	}
	registry := NewRegistry(cfg.DefaultScheme)
	for i := range buckets {
		s, err := NewStorage(&buckets[i])
		if err != nil {
			return nil, err
		}
		log.Info("storage bucket loaded",
			zap.Uint64("bucket_id", buckets[i].ID),
			zap.String("scheme", buckets[i].Scheme),
			zap.Bool("s3", buckets[i].IsS3()))
		registry.Add(s)
	}
	return registry, nil
}

// UniquePath returns dir/name, or dir/base_N.ext with the smallest N that is not taken yet
func UniquePath(s StorageAPI, dir, name string) (string, error) {
	candidate := path.Join(dir, name)
	exists, err := s.Exists(candidate)
	if err != nil || !exists {
		return candidate, err
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate = path.Join(dir, base+"_"+strconv.Itoa(i)+ext)
		if exists, err = s.Exists(candidate); err != nil || !exists {
			return candidate, err
		}
	}
}
