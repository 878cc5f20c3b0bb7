package main

import (
	"context"
	"fmt"
	"gallery/albums"
	"gallery/batch"
	"gallery/cache"
	"gallery/config"
	"gallery/counters"
	"gallery/db"
	"gallery/ingest"
	"gallery/logging"
	"gallery/models"
	"gallery/ordering"
	"gallery/storage"
	"gallery/utils"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const redisTagPrefix = "gallery:cache:"

// app carries the services shared by the server and the command line tools
type app struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	redis      *redis.Client
	events     *cache.Dispatcher
	tagVersion utils.TagVersion
	sourceFs   afero.Fs
	counters   *counters.Maintainer
	ingestor   *ingest.Ingestor
	batches    *batch.Stepper
	albums     *albums.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log, err := logging.NewLogger(cfg.LogLevel, cfg.DebugMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, sourceFs: afero.NewOsFs()}

	a.db, err = db.Open(db.Config{MySQLDSN: cfg.MySQLDSN, SQLiteFile: cfg.SQLiteFile, Debug: cfg.DebugMode}, log)
	if err != nil {
		return nil, err
	}
	if err = models.Migrate(a.db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	storages, err := storage.Load(a.db, storage.BootstrapConfig{
		PublicDir:     cfg.PublicDir,
		PrivateDir:    cfg.PrivateDir,
		DefaultScheme: cfg.DefaultScheme,
	}, log)
	if err != nil {
		return nil, err
	}

	var sink cache.Sink
	if cfg.Cache.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Cache.RedisAddr, err)
		}
		redisSink := cache.NewRedisSink(a.redis, redisTagPrefix)
		sink, a.tagVersion = redisSink, redisSink.Version
	} else {
		memorySink := cache.NewMemorySink()
		sink = memorySink
		a.tagVersion = func(_ context.Context, tag string) (uint64, error) {
			return memorySink.Version(tag), nil
		}
	}
	a.events = cache.NewDispatcher(sink, cache.DispatcherConfig{Async: cfg.Cache.Async, Logger: log})

	a.counters = counters.New(a.db, a.events, counters.Config{
		Mode:          cfg.Photos.CounterMode,
		SweepInterval: cfg.Photos.CounterSweepInterval,
		Logger:        log,
	})

	maxWidth, maxHeight, _ := cfg.Photos.MaxResolution()
	a.ingestor = ingest.New(a.db, storages, a.counters, a.events, ingest.Config{
		CleanTitle:      cfg.Photos.CleanTitle,
		AlbumPhotoLimit: cfg.Photos.AlbumPhotoLimit,
		MaxWidth:        maxWidth,
		MaxHeight:       maxHeight,
		Attachment:      ingest.AttachmentFor(cfg.Photos.Attachment),
		SourceFs:        a.sourceFs,
		Logger:          log,
	})
	a.batches = batch.New(a.db, a.ingestor, a.counters, a.events, batch.Config{
		ChunkSize:    cfg.Photos.BatchChunkSize,
		AllowArchive: cfg.Photos.AllowArchive,
		TmpDir:       cfg.TmpDir,
		Fs:           a.sourceFs,
		Logger:       log,
	})

	defaultOrder, ok := ordering.ParseOrder(cfg.Photos.ImageOrder)
	if !ok {
		log.Warn("Invalid image order, using default", zap.String("order", cfg.Photos.ImageOrder))
		defaultOrder = ordering.DefaultOrder
	}
	a.albums = albums.New(a.db, storages, a.counters, a.events, albums.Config{
		DefaultOrder: defaultOrder,
		PageSize:     cfg.Photos.PageSize,
		Logger:       log,
	})
	return a, nil
}

// Close drains pending cache invalidations before releasing connections
func (a *app) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.log.Sync()
}
