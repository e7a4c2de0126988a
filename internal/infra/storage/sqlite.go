package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"feedengine/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the optional local diagnostics journal: it persists
// periodic MetricsSnapshot rows for post-mortem inspection. This is
// not the order-book/trade history persistence the engine's scope
// excludes — only operational counters ever land here.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if necessary) the local SQLite metrics
// journal at the OS-appropriate config directory.
func NewStorage() (*Storage, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB path: %w", err)
	}

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.MetricsRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "FeedEngine", "data", "metrics.db"), nil
}

// RecordMetrics appends one MetricsSnapshot row to the journal.
func (s *Storage) RecordMetrics(record *domain.MetricsRecord) error {
	return s.db.Create(record).Error
}

// RecentMetrics returns the most recent n metrics rows, newest first.
func (s *Storage) RecentMetrics(n int) ([]domain.MetricsRecord, error) {
	var rows []domain.MetricsRecord
	err := s.db.Order("timestamp desc").Limit(n).Find(&rows).Error
	return rows, err
}
