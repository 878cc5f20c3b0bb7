package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "GALLERY"

	CounterModeImmediate = "immediate"
	CounterModeDeferred  = "deferred"

	AttachmentImage = "image"
	AttachmentMedia = "media"
)

// Config holds everything the server, the importer and the maintenance loop need.
// It is loaded once and passed down explicitly.
type Config struct {
	BindAddress string
	TLSDomains  string // e.g. "example.com,example2.com"
	DebugMode   bool
	LogLevel    string

	MySQLDSN   string // MySQL will be used if this is set
	SQLiteFile string // SQLite is used otherwise

	PublicDir     string // Disk location of the "public" scheme bucket, created on first start
	PrivateDir    string // Disk location of the "private" scheme bucket, optional
	DefaultScheme string // "public" or "private"
	TmpDir        string // Used for staging copied archives

	Photos PhotosConfig
	Cache  CacheConfig
}

type PhotosConfig struct {
	CleanTitle           bool
	AlbumPhotoLimit      int
	SizeMax              string // "WxH", empty disables downscaling
	AllowArchive         bool
	UploadMaxBytes       int64 // Zero disables the upload size limit
	CounterMode          string
	CounterSweepInterval time.Duration
	BatchChunkSize       int
	PageSize             int
	ImageOrder           string // "field|direction"
	Attachment           string
}

type CacheConfig struct {
	RedisAddr     string // Redis sink is used if this is set, in-memory otherwise
	RedisPassword string
	RedisDB       int
	Async         bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", "0.0.0.0:8080")
	v.SetDefault("tls.domains", "")
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.sqlite_file", "gallery.db")
	v.SetDefault("storage.public_dir", "files/public")
	v.SetDefault("storage.private_dir", "")
	v.SetDefault("storage.default_scheme", "public")
	v.SetDefault("storage.tmp_dir", "/tmp")
	v.SetDefault("photos.clean_title", true)
	v.SetDefault("photos.album_photo_limit", 0)
	v.SetDefault("photos.size_max", "")
	v.SetDefault("photos.allow_archive", false)
	v.SetDefault("photos.upload_max_bytes", 256<<20)
	v.SetDefault("photos.counter_mode", CounterModeImmediate)
	v.SetDefault("photos.counter_sweep_interval", 2*time.Hour)
	v.SetDefault("photos.batch_chunk_size", 20)
	v.SetDefault("photos.page_size", 10)
	v.SetDefault("photos.image_order", "weight|asc")
	v.SetDefault("photos.attachment", AttachmentImage)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.async", false)
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		BindAddress:   v.GetString("http.address"),
		TLSDomains:    v.GetString("tls.domains"),
		DebugMode:     v.GetBool("debug"),
		LogLevel:      v.GetString("log.level"),
		MySQLDSN:      v.GetString("database.mysql_dsn"),
		SQLiteFile:    v.GetString("database.sqlite_file"),
		PublicDir:     v.GetString("storage.public_dir"),
		PrivateDir:    v.GetString("storage.private_dir"),
		DefaultScheme: v.GetString("storage.default_scheme"),
		TmpDir:        v.GetString("storage.tmp_dir"),
		Photos: PhotosConfig{
			CleanTitle:           v.GetBool("photos.clean_title"),
			AlbumPhotoLimit:      v.GetInt("photos.album_photo_limit"),
			SizeMax:              strings.TrimSpace(v.GetString("photos.size_max")),
			AllowArchive:         v.GetBool("photos.allow_archive"),
			UploadMaxBytes:       v.GetInt64("photos.upload_max_bytes"),
			CounterMode:          strings.ToLower(v.GetString("photos.counter_mode")),
			CounterSweepInterval: v.GetDuration("photos.counter_sweep_interval"),
			BatchChunkSize:       v.GetInt("photos.batch_chunk_size"),
			PageSize:             v.GetInt("photos.page_size"),
			ImageOrder:           v.GetString("photos.image_order"),
			Attachment:           strings.ToLower(v.GetString("photos.attachment")),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("cache.redis_addr"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
			Async:         v.GetBool("cache.async"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MySQLDSN == "" && strings.TrimSpace(c.SQLiteFile) == "" {
		return fmt.Errorf("either database.mysql_dsn or database.sqlite_file is required")
	}
	if c.DefaultScheme != "public" && c.DefaultScheme != "private" {
		return fmt.Errorf("storage.default_scheme must be public or private, got %q", c.DefaultScheme)
	}
	if c.DefaultScheme == "private" && c.PrivateDir == "" {
		return fmt.Errorf("storage.private_dir is required when the default scheme is private")
	}
	if c.Photos.CounterMode != CounterModeImmediate && c.Photos.CounterMode != CounterModeDeferred {
		return fmt.Errorf("photos.counter_mode must be %s or %s", CounterModeImmediate, CounterModeDeferred)
	}
	if c.Photos.Attachment != AttachmentImage && c.Photos.Attachment != AttachmentMedia {
		return fmt.Errorf("photos.attachment must be %s or %s", AttachmentImage, AttachmentMedia)
	}
	if c.Photos.BatchChunkSize <= 0 {
		return fmt.Errorf("photos.batch_chunk_size must be positive")
	}
	if c.Photos.PageSize <= 0 {
		return fmt.Errorf("photos.page_size must be positive")
	}
	if c.Photos.UploadMaxBytes < 0 {
		return fmt.Errorf("photos.upload_max_bytes cannot be negative")
	}
	if c.Photos.AlbumPhotoLimit < 0 {
		return fmt.Errorf("photos.album_photo_limit cannot be negative")
	}
	if _, _, err := c.Photos.MaxResolution(); err != nil {
		return err
	}
	return nil
}

// MaxResolution parses SizeMax. Zero values mean no limit.
func (p PhotosConfig) MaxResolution() (width, height uint, err error) {
	if p.SizeMax == "" {
		return 0, 0, nil
	}
	parts := strings.Split(strings.ToLower(p.SizeMax), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("photos.size_max must look like 1024x768, got %q", p.SizeMax)
	}
	w, errW := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	h, errH := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if errW != nil || errH != nil || w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("photos.size_max must look like 1024x768, got %q", p.SizeMax)
	}
	return uint(w), uint(h), nil
}
