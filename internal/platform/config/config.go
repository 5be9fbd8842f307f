package config

import (
	"time"
)

type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	API           APIConfig           `yaml:"api" mapstructure:"api"`
	WS            WSConfig            `yaml:"ws" mapstructure:"ws"`
	Auth          AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Console       ConsoleConfig       `yaml:"console" mapstructure:"console"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	DevMode bool   `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// APIConfig describes the backend REST collaborator.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	LongTimeout time.Duration `yaml:"long_timeout" mapstructure:"long_timeout"`
}

// WSConfig describes the task notification socket. URL wins over the value
// derived from API.BaseURL and Path.
type WSConfig struct {
	URL                  string        `yaml:"url,omitempty" mapstructure:"url"`
	Path                 string        `yaml:"path" mapstructure:"path"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
}

type AuthConfig struct {
	ExpiryWindow    time.Duration `yaml:"expiry_window" mapstructure:"expiry_window"`
	MonitorInterval time.Duration `yaml:"monitor_interval" mapstructure:"monitor_interval"`
}

type StorageConfig struct {
	Driver string             `yaml:"driver" mapstructure:"driver"`
	File   FileStorageConfig  `yaml:"file,omitempty" mapstructure:"file"`
	SQLite SQLiteStoreConfig  `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Redis  RedisStorageConfig `yaml:"redis,omitempty" mapstructure:"redis"`
}

type FileStorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type SQLiteStoreConfig struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type RedisStorageConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type ConsoleConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	StaticDir string `yaml:"static_dir,omitempty" mapstructure:"static_dir"`
	// AllowOrigins lists browser origins accepted by CORS and the task
	// relay. Empty means same-origin only for the relay.
	AllowOrigins []string `yaml:"allow_origins,omitempty" mapstructure:"allow_origins"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}
