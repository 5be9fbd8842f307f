package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one persisted key.
type Entry struct {
	Key       string    `gorm:"column:name;primaryKey;size:128"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (Entry) TableName() string {
	return "storage_entries"
}

type createEntriesTable struct{}

func (createEntriesTable) Version() string     { return "001" }
func (createEntriesTable) Description() string { return "create storage_entries" }
func (createEntriesTable) Up(tx *gorm.DB) error {
	return tx.Migrator().CreateTable(&Entry{})
}
func (createEntriesTable) Down(tx *gorm.DB) error {
	return tx.Migrator().DropTable(&Entry{})
}

// Migrations returns the schema history of the sqlite driver.
func Migrations() []Migration {
	return []Migration{createEntriesTable{}}
}

// OpenSQLite opens a gorm handle with logging silenced.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	return db, nil
}

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed store and applies pending migrations.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if _, err := NewMigrationManager(db, Migrations()...).Run(context.Background()); err != nil {
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("name = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

func (s *sqliteStore) SetMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]Entry, 0, len(entries))
	for k, v := range entries {
		rows = append(rows, Entry{Key: k, Value: v, UpdatedAt: now})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error
	})
}

func (s *sqliteStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("name IN ?", keys).Delete(&Entry{}).Error
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&Entry{}).Order("name").Pluck("name", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":  DriverSQLite,
		"total": total,
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
