package db

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	MySQLDSN   string
	SQLiteFile string
	Debug      bool
}

// Open connects to MySQL when a DSN is given and to a local SQLite file otherwise
func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.MySQLDSN != "" {
		dialector = mysql.Open(cfg.MySQLDSN)
	} else {
		if cfg.SQLiteFile == "" {
			return nil, fmt.Errorf("sqlite file path is required")
		}
		if dir := filepath.Dir(cfg.SQLiteFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLiteFile + "?_foreign_keys=on&_busy_timeout=5000")
	}

	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	if cfg.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if log != nil {
		log.Info("database opened", zap.String("dialect", db.Dialector.Name()))
	}
	return db, nil
}
