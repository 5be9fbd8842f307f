package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "teachhelper-console/internal/platform/errors"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "teachhelper.yaml"

// Environment variables that override file values.
const (
	EnvAPIBaseURL    = "TEACHHELPER_API_BASE_URL"
	EnvDevMode       = "TEACHHELPER_DEV"
	EnvWSURL         = "TEACHHELPER_WS_URL"
	EnvStorageDriver = "TEACHHELPER_STORAGE_DRIVER"
	EnvStoragePath   = "TEACHHELPER_STORAGE_PATH"
	EnvRedisAddr     = "TEACHHELPER_REDIS_ADDR"
	EnvLogLevel      = "TEACHHELPER_LOG_LEVEL"
)

// Loader assembles a Config from defaults, an optional YAML file, a .env
// file and the process environment, in that order of precedence.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading DefaultFile and the real environment.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath sets an explicit configuration file. A missing explicit file is an error.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the configuration.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := l.path
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "parse "+path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		path = ""
	default:
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "read "+path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv(EnvAPIBaseURL); ok && v != "" {
		cfg.API.BaseURL = v
	}
	if v, ok := l.lookupEnv(EnvDevMode); ok && v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "config.env", EnvDevMode, err)
		}
		cfg.App.DevMode = dev
	}
	if v, ok := l.lookupEnv(EnvWSURL); ok && v != "" {
		cfg.WS.URL = v
	}
	if v, ok := l.lookupEnv(EnvStorageDriver); ok && v != "" {
		cfg.Storage.Driver = v
	}
	if v, ok := l.lookupEnv(EnvStoragePath); ok && v != "" {
		cfg.Storage.File.Path = v
	}
	if v, ok := l.lookupEnv(EnvRedisAddr); ok && v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v, ok := l.lookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return platformerrors.New(platformerrors.KindConfig, "config.validate", msg)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail(fmt.Sprintf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout < 0 || c.API.LongTimeout < 0 {
		return fail("api timeouts must not be negative")
	}
	if c.WS.MaxReconnectAttempts < 0 {
		return fail("ws.max_reconnect_attempts must not be negative")
	}
	if c.WS.ReconnectInterval <= 0 {
		return fail("ws.reconnect_interval must be positive")
	}
	if c.Auth.MonitorInterval <= 0 {
		return fail("auth.monitor_interval must be positive")
	}
	switch c.Storage.Driver {
	case "memory", "file", "sqlite", "redis":
	default:
		return fail(fmt.Sprintf("unsupported storage driver %q", c.Storage.Driver))
	}
	return nil
}

// TaskSocketURL returns the task notification socket URL. Without an explicit
// ws.url it reuses the API host and swaps http(s) for ws(s).
func (c *Config) TaskSocketURL() (string, error) {
	if c.WS.URL != "" {
		return c.WS.URL, nil
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindConfig, "config.ws_url", "parse api.base_url", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	path := c.WS.Path
	if path == "" {
		path = DefaultWSPath
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// LogLevel is the effective level; dev mode forces debug.
func (c *Config) LogLevel() string {
	if c.App.DevMode {
		return "debug"
	}
	return c.Log.Level
}
