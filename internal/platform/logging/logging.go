package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RetentionDays 日志保留天数
const RetentionDays = 7

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console receives the coloured text output. Defaults to os.Stderr.
	Console io.Writer
	// NoColor disables ANSI colours on the console sink.
	NoColor bool
}

// Logger writes human readable lines to the console and, when a directory is
// configured, JSON lines to a daily rotated file.
type Logger struct {
	config Config
	level  slog.Level
	slog   *slog.Logger
	file   *rotatingFile

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ParseLevel converts a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := fanoutHandler{newConsoleHandler(console, level, !cfg.NoColor)}

	l := &Logger{
		config: cfg,
		level:  level,
		stopCh: make(chan struct{}),
	}

	if cfg.Dir != "" {
		if cfg.Filename == "" {
			cfg.Filename = "teachhelper.log"
			l.config.Filename = cfg.Filename
		}
		file, err := openRotatingFile(cfg.Dir, cfg.Filename)
		if err != nil {
			return nil, err
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
		l.startRotationChecker()
	}

	l.slog = slog.New(handlers)
	return l, nil
}

// Discard returns a logger that drops everything. Used where no logger was
// injected.
func Discard() *Logger {
	l, _ := New(Config{Level: "error", Console: io.Discard, NoColor: true})
	return l
}

// Level reports the configured level.
func (l *Logger) Level() slog.Level {
	return l.level
}

// Slog exposes the structured logger for integrations that want slog directly.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close stops rotation and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) startRotationChecker() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if rotated, err := l.file.rotateIfNeeded(time.Now()); err != nil {
					l.Error("日志文件轮转失败: %v", err)
				} else if rotated {
					l.Info("日志文件已轮转")
					l.file.cleanOld(time.Now(), RetentionDays)
				}
			case <-l.stopCh:
				return
			}
		}
	}()
}

func containsFormatPlaceholders(s string) bool {
	return strings.Contains(s, "%")
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.slog == nil {
		return
	}
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	if len(args) > 0 && containsFormatPlaceholders(msg) {
		l.slog.Log(ctx, level, fmt.Sprintf(msg, args...))
		return
	}
	l.slog.Log(ctx, level, msg, args...)
}

// FormatLog 构造带单一分类标签的日志消息。例如：FormatLog("认证", "登录成功") -> "[认证] 登录成功"
// 如果 message 已经以 "[" 开头，则直接返回原文。
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// Debug 记录调试级别日志
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info 记录信息级别日志
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn 记录警告级别日志
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error 记录错误级别日志
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// DebugTag 记录带分类标签的调试日志
func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.log(slog.LevelDebug, FormatLog(tag, msg), args...)
}

// InfoTag 记录带分类标签的信息日志
func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.log(slog.LevelInfo, FormatLog(tag, msg), args...)
}

// WarnTag 记录带分类标签的警告日志
func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.log(slog.LevelWarn, FormatLog(tag, msg), args...)
}

// ErrorTag 记录带分类标签的错误日志
func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.log(slog.LevelError, FormatLog(tag, msg), args...)
}

// rotatingFile is an io.Writer over the active log file that can be swapped
// for a new day's file without rebuilding the slog handlers.
type rotatingFile struct {
	mu          sync.Mutex
	dir         string
	name        string
	file        *os.File
	currentDate string
}

func openRotatingFile(dir, name string) (*rotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return &rotatingFile{
		dir:         dir,
		name:        name,
		file:        file,
		currentDate: time.Now().Format("2006-01-02"),
	}, nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, os.ErrClosed
	}
	return r.file.Write(p)
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// rotateIfNeeded archives the active file as <base>-<date><ext> once the day
// changes.
func (r *rotatingFile) rotateIfNeeded(now time.Time) (bool, error) {
	today := now.Format("2006-01-02")

	r.mu.Lock()
	defer r.mu.Unlock()
	if today == r.currentDate || r.file == nil {
		return false, nil
	}

	current := filepath.Join(r.dir, r.name)
	ext := filepath.Ext(r.name)
	base := strings.TrimSuffix(r.name, ext)
	archived := filepath.Join(r.dir, fmt.Sprintf("%s-%s%s", base, r.currentDate, ext))

	_ = r.file.Close()
	if err := os.Rename(current, archived); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("重命名日志文件失败: %w", err)
	}
	file, err := os.OpenFile(current, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.file = nil
		return false, fmt.Errorf("创建新日志文件失败: %w", err)
	}
	r.file = file
	r.currentDate = today
	return true, nil
}

// cleanOld removes archived files older than the retention window.
func (r *rotatingFile) cleanOld(now time.Time, retentionDays int) []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	ext := filepath.Ext(r.name)
	prefix := strings.TrimSuffix(r.name, ext) + "-"

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext))
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, name)); err == nil {
			removed = append(removed, name)
		}
	}
	return removed
}
