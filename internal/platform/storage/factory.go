package storage

import (
	"fmt"

	"gorm.io/gorm"
)

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config selects and configures a driver.
type Config struct {
	Driver string
	File   *FileConfig
	SQLite *SQLiteConfig
	Redis  *RedisConfig
}

type FileConfig struct {
	Path string
}

type SQLiteConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a store based on the provided configuration.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		if cfg.File == nil || cfg.File.Path == "" {
			return nil, fmt.Errorf("file driver requires a path")
		}
		return NewFile(cfg.File.Path)
	case DriverSQLite:
		db := deps.SQLiteDB
		if db == nil {
			if cfg.SQLite == nil || cfg.SQLite.DSN == "" {
				return nil, fmt.Errorf("sqlite driver requires database handle or dsn")
			}
			opened, err := OpenSQLite(cfg.SQLite.DSN)
			if err != nil {
				return nil, err
			}
			db = opened
		}
		return NewSQLite(db)
	case DriverRedis:
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
