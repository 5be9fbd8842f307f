package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// 模块标签颜色
var tagColors = map[string]string{
	"[引导]":        "\x1b[96m",
	"[认证]":        "\x1b[94m",
	"[导航]":        "\x1b[93m",
	"[任务]":        "\x1b[35m",
	"[存储]":        "\x1b[36m",
	"[HTTP]":      "\x1b[95m",
	"[WebSocket]": "\x1b[92m",
	"[控制台]":       "\x1b[97m",
	"[OBSERVABILITY]": "\x1b[90m",
}

// consoleHandler renders records as coloured single lines, highlighting
// messages that start with a known module tag.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	color  bool
	mu     *sync.Mutex
	attrs  []slog.Attr
}

func newConsoleHandler(w io.Writer, level slog.Level, color bool) *consoleHandler {
	return &consoleHandler{
		writer: w,
		level:  level,
		color:  color,
		mu:     &sync.Mutex{},
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelStr, levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelStr, levelColor = "错误", colorError
	case r.Level >= slog.LevelWarn:
		levelStr, levelColor = "警告", colorWarn
	case r.Level >= slog.LevelInfo:
		levelStr, levelColor = "信息", colorInfo
	default:
		levelStr, levelColor = "调试", colorDebug
	}

	msg := r.Message
	moduleColor := ""
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "]"); end > 0 {
			moduleColor = tagColors[msg[:end+1]]
		}
	}

	var b strings.Builder
	if moduleColor != "" && r.Level < slog.LevelWarn {
		// 模块日志格式: [时间] [模块] 消息
		fmt.Fprintf(&b, "%s %s", h.paint(colorTime, "["+timeStr+"]"), h.paint(moduleColor, msg))
	} else {
		fmt.Fprintf(&b, "%s %s %s",
			h.paint(colorTime, "["+timeStr+"]"),
			h.paint(levelColor, "["+levelStr+"]"),
			msg)
	}

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	if len(attrs) > 0 {
		b.WriteString(" {")
		for _, a := range attrs {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		b.WriteString(" }")
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *consoleHandler) paint(color, s string) string {
	if !h.color {
		return s
	}
	return color + s + colorReset
}

// fanoutHandler forwards every record to all enabled handlers.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
