// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each decode.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeDecode(_ context.Context, format core.Format, name string) {
	h.logger.Debug("decode.start",
		"format", format,
		"name", name,
	)
}

func (h *LoggingHook) AfterDecode(_ context.Context, ev core.DecodeEvent) {
	if ev.Err != nil {
		h.logger.Error("decode.error",
			"decode_id", ev.ID,
			"format", ev.Format,
			"name", ev.Name,
			"category", apperrors.CategoryOf(ev.Err),
			"duration_ms", ev.Duration.Milliseconds(),
			"error", ev.Err.Error(),
		)
		return
	}
	h.logger.Debug("decode.done",
		"decode_id", ev.ID,
		"format", ev.Format,
		"name", ev.Name,
		"width", ev.Header.Width,
		"height", ev.Header.Height,
		"bytes", ev.Bytes,
		"duration_ms", ev.Duration.Milliseconds(),
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	decodeDurationsMs map[string]int64 // cumulative ms per format
	decodeCalls       map[string]int64 // call count per format
	errors            map[string]int64 // per "format/category"

	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		decodeDurationsMs: make(map[string]int64),
		decodeCalls:       make(map[string]int64),
		errors:            make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordDecodeTime(format string, d time.Duration) {
	m.mu.Lock()
	m.decodeDurationsMs[format] += d.Milliseconds()
	m.decodeCalls[format]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(format string, category string) {
	m.mu.Lock()
	m.errors[format+"/"+category]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		DecodeDurationsMs: make(map[string]int64, len(m.decodeDurationsMs)),
		DecodeCalls:       make(map[string]int64, len(m.decodeCalls)),
		Errors:            make(map[string]int64, len(m.errors)),
		TotalThroughputB:  atomic.LoadInt64(&m.totalThroughputB),
	}
	for k, v := range m.decodeDurationsMs {
		snap.DecodeDurationsMs[k] = v
	}
	for k, v := range m.decodeCalls {
		snap.DecodeCalls[k] = v
	}
	for k, v := range m.errors {
		snap.Errors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	DecodeDurationsMs map[string]int64
	DecodeCalls       map[string]int64
	Errors            map[string]int64 // keyed "format/category"
	TotalThroughputB  int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds decode events into a MetricsCollector.  Use it instead
// of Loader.SetMetrics when several collectors should see the same events.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeDecode(_ context.Context, _ core.Format, _ string) {}

func (h *MetricsHook) AfterDecode(_ context.Context, ev core.DecodeEvent) {
	h.collector.RecordDecodeTime(string(ev.Format), ev.Duration)
	if ev.Err != nil {
		h.collector.RecordError(string(ev.Format), string(apperrors.CategoryOf(ev.Err)))
		return
	}
	h.collector.RecordThroughput(ev.Bytes)
}
