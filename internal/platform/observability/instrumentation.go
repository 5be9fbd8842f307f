package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// Series is an aggregated metric.
type Series struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Last  float64 `json:"last"`
}

var (
	metricsMu sync.Mutex
	metrics   = map[string]*Series{}
)

// RecordMetric aggregates a datapoint and, when enabled, logs it.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)
	metricsMu.Lock()
	s, ok := metrics[key]
	if !ok {
		s = &Series{}
		metrics[key] = s
	}
	s.Count++
	s.Sum += value
	s.Last = value
	metricsMu.Unlock()

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns a copy of the aggregated series keyed by
// name{label=value,...}.
func Snapshot() map[string]Series {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := make(map[string]Series, len(metrics))
	for k, v := range metrics {
		out[k] = *v
	}
	return out
}

// Reset clears aggregated series.
func Reset() {
	metricsMu.Lock()
	metrics = map[string]*Series{}
	metricsMu.Unlock()
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
