package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"teachhelper-console/internal/platform/errors"
)

// Migration 数据库迁移接口
type Migration interface {
	Version() string
	Description() string
	Up(tx *gorm.DB) error
	Down(tx *gorm.DB) error
}

// MigrationRecord 迁移记录
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// MigrationManager applies versioned schema changes, one transaction each.
type MigrationManager struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrationManager 创建迁移管理器
func NewMigrationManager(db *gorm.DB, migrations ...Migration) *MigrationManager {
	return &MigrationManager{
		db:         db,
		migrations: migrations,
	}
}

// Run applies every migration that has not been recorded yet and returns the
// versions it applied.
func (m *MigrationManager) Run(ctx context.Context) ([]string, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.create_table", "failed to create migration table", err)
	}

	var appliedVersions []string
	if err := db.Model(&MigrationRecord{}).Pluck("version", &appliedVersions).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.get_applied", "failed to get applied migrations", err)
	}
	applied := make(map[string]bool, len(appliedVersions))
	for _, v := range appliedVersions {
		applied[v] = true
	}

	var ran []string
	for _, migration := range m.migrations {
		if applied[migration.Version()] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:   migration.Version(),
				Name:      migration.Description(),
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return ran, errors.Wrap(errors.KindStorage, "migration.up",
				fmt.Sprintf("failed to run migration %s", migration.Version()), err)
		}
		ran = append(ran, migration.Version())
	}
	return ran, nil
}

// Rollback reverts a single applied migration.
func (m *MigrationManager) Rollback(ctx context.Context, version string) error {
	var target Migration
	for _, migration := range m.migrations {
		if migration.Version() == version {
			target = migration
			break
		}
	}
	if target == nil {
		return errors.New(errors.KindStorage, "migration.not_registered", fmt.Sprintf("migration %s not registered", version))
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("version = ?", version).Delete(&MigrationRecord{})
		if res.Error != nil {
			return errors.Wrap(errors.KindStorage, "migration.delete_record", "failed to delete migration record", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New(errors.KindStorage, "migration.not_found", fmt.Sprintf("migration %s not applied", version))
		}
		if err := target.Down(tx); err != nil {
			return errors.Wrap(errors.KindStorage, "migration.down", fmt.Sprintf("failed to rollback migration %s", version), err)
		}
		return nil
	})
}

// History lists applied migrations, newest first.
func (m *MigrationManager) History(ctx context.Context) ([]MigrationRecord, error) {
	var records []MigrationRecord
	if err := m.db.WithContext(ctx).Order("applied_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.history", "failed to get migration history", err)
	}
	return records, nil
}
