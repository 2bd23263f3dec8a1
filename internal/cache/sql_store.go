package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// entryModel is the row layout of the cache table.
type entryModel struct {
	Key           string `gorm:"primaryKey;column:cache_key"`
	Data          []byte `gorm:"column:data"`
	Created       int64  `gorm:"column:created_at"`
	TTL           int64  `gorm:"column:ttl"`
	Checksum      int64  `gorm:"column:checksum"`
	SchemaVersion string `gorm:"column:schema_version"`
}

func (entryModel) TableName() string { return "cache" }

// SQLStore keeps entries in a sqlite database, one row per key.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens (or creates) the sqlite cache database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "cache database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create cache directory", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheReadFailed, "failed to open cache database", err)
	}

	return NewSQLStoreFromDB(db)
}

// NewSQLStoreFromDB migrates the cache table on an existing connection.
func NewSQLStoreFromDB(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "gorm db cannot be nil")
	}

	if err := db.AutoMigrate(&entryModel{}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to migrate cache table", err)
	}

	return &SQLStore{db: db}, nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, key string) (optional.Option[Entry], error) {
	var row entryModel

	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return optional.None[Entry](), nil
	}

	if err != nil {
		return optional.None[Entry](), errors.Wrapf(errors.ErrCodeCacheReadFailed, err, "failed to load cache row %s", key)
	}

	return optional.Some(Entry{
		Key:           row.Key,
		Payload:       row.Data,
		CreatedAt:     time.Unix(0, row.Created),
		TTL:           time.Duration(row.TTL),
		Checksum:      uint64(row.Checksum), //nolint:gosec // stored bit pattern
		SchemaVersion: row.SchemaVersion,
	}), nil
}

// Save implements Store. The upsert is a single statement.
func (s *SQLStore) Save(ctx context.Context, entry Entry) error {
	row := entryModel{
		Key:           entry.Key,
		Data:          entry.Payload,
		Created:       entry.CreatedAt.UnixNano(),
		TTL:           int64(entry.TTL),
		Checksum:      int64(entry.Checksum), //nolint:gosec // stored bit pattern
		SchemaVersion: entry.SchemaVersion,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(errors.ErrCodeCacheWriteFailed, err, "failed to save cache row %s", entry.Key)
	}

	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&entryModel{}).Error; err != nil {
		return errors.Wrapf(errors.ErrCodeCacheWriteFailed, err, "failed to delete cache row %s", key)
	}

	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
