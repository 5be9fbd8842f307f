package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAPIBaseURL = "http://localhost:8080/api"
	DefaultWSPath     = "/ws/tasks"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "teachhelper",
		},
		API: APIConfig{
			BaseURL:     DefaultAPIBaseURL,
			Timeout:     30 * time.Second,
			LongTimeout: 5 * time.Minute,
		},
		WS: WSConfig{
			Path:                 DefaultWSPath,
			MaxReconnectAttempts: 5,
			ReconnectInterval:    3 * time.Second,
			HandshakeTimeout:     10 * time.Second,
		},
		Auth: AuthConfig{
			ExpiryWindow:    5 * time.Minute,
			MonitorInterval: time.Minute,
		},
		Storage: StorageConfig{
			Driver: "file",
			File: FileStorageConfig{
				Path: defaultStoragePath(),
			},
			SQLite: SQLiteStoreConfig{
				DSN: "file:teachhelper.db?cache=shared",
			},
			Redis: RedisStorageConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "teachhelper:storage:",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
		Console: ConsoleConfig{
			Addr: ":5173",
		},
	}
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "teachhelper", "storage.json")
}
