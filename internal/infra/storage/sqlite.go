package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"orderflow_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStorage persists flow rows and instruments in a local SQLite file.
type SQLiteStorage struct {
	db *gorm.DB
}

// NewSQLiteStorage opens (or creates) the database at dbPath and migrates it.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newSQLiteStorage(db)
}

func newSQLiteStorage(db *gorm.DB) (*SQLiteStorage, error) {
	if err := db.AutoMigrate(&domain.FlowRow{}, &domain.Instrument{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// ======================================================================================
// Flow Operations
// ======================================================================================

// Append stores one processed snapshot.
// Timestamps are kept in UTC so range comparisons stay lexical-safe.
func (s *SQLiteStorage) Append(ctx context.Context, row domain.FlowRow) error {
	row.ID = 0
	row.Timestamp = row.Timestamp.UTC()
	return s.db.WithContext(ctx).Create(&row).Error
}

// QueryRange returns the security's rows inside [from, to], earliest first.
func (s *SQLiteStorage) QueryRange(ctx context.Context, securityID uint32, from, to time.Time) ([]domain.FlowRow, error) {
	q := s.db.WithContext(ctx).Where("security_id = ?", securityID)
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("timestamp <= ?", to.UTC())
	}

	rows := []domain.FlowRow{}
	err := q.Order("timestamp ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

// ======================================================================================
// Instrument Operations
// ======================================================================================

// UpsertInstruments creates or updates instrument metadata.
// CreatedAt is preserved for rows that already exist.
func (s *SQLiteStorage) UpsertInstruments(ctx context.Context, instruments []domain.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "security_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "exchange", "segment", "exchange_segment", "is_active", "updated_at",
		}),
	}).Create(&instruments).Error
}

// AllInstruments retrieves every instrument ordered by security id.
func (s *SQLiteStorage) AllInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	err := s.db.WithContext(ctx).Order("security_id ASC").Find(&instruments).Error
	return instruments, err
}

// Close releases the underlying connection pool.
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
