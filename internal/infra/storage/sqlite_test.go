package storage

import (
	"os"
	"testing"
	"time"

	"feedengine/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbName := "test_metrics.db"
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(&domain.MetricsRecord{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	t.Cleanup(func() {
		os.Remove(dbName)
	})

	return &Storage{db: db}
}

func TestRecordMetrics_PersistsRow(t *testing.T) {
	s := setupTestDB(t)

	record := &domain.MetricsRecord{
		Timestamp:         time.Now(),
		DepthUpdatesTotal: 100,
		TradesTotal:       10,
		ParseErrorsTotal:  1,
		ActiveSubscribers: 3,
	}

	if err := s.RecordMetrics(record); err != nil {
		t.Fatalf("RecordMetrics failed: %v", err)
	}

	rows, err := s.RecentMetrics(10)
	if err != nil {
		t.Fatalf("RecentMetrics failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].DepthUpdatesTotal != 100 {
		t.Errorf("DepthUpdatesTotal = %d, want 100", rows[0].DepthUpdatesTotal)
	}
}

func TestRecentMetrics_OrdersNewestFirst(t *testing.T) {
	s := setupTestDB(t)

	older := &domain.MetricsRecord{Timestamp: time.Now().Add(-time.Hour), DepthUpdatesTotal: 1}
	newer := &domain.MetricsRecord{Timestamp: time.Now(), DepthUpdatesTotal: 2}
	s.RecordMetrics(older)
	s.RecordMetrics(newer)

	rows, err := s.RecentMetrics(10)
	if err != nil {
		t.Fatalf("RecentMetrics failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].DepthUpdatesTotal != 2 {
		t.Errorf("expected newest row first, got %+v", rows)
	}
}

func TestRecentMetrics_RespectsLimit(t *testing.T) {
	s := setupTestDB(t)
	for i := 0; i < 5; i++ {
		s.RecordMetrics(&domain.MetricsRecord{Timestamp: time.Now(), DepthUpdatesTotal: uint64(i)})
	}

	rows, err := s.RecentMetrics(2)
	if err != nil {
		t.Fatalf("RecentMetrics failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows with limit 2, got %d", len(rows))
	}
}
