// Package hooks provides production-ready Hook, AttemptObserver, and Logger
// implementations.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gifpress/gifpress/core"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, fields...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, fields...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, fields...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, fields...)
}

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each processing stage.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStage(_ context.Context, stage string, a *core.Asset) {
	fields := []interface{}{"stage", stage}
	if a != nil {
		fields = append(fields, "frames", a.FrameCount, "width", a.Width, "height", a.Height)
	}
	h.logger.Debug("stage.start", fields...)
}

func (h *LoggingHook) AfterStage(_ context.Context, stage string, a *core.Asset, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("stage.error",
			"stage", stage,
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	out := "nil"
	if a != nil {
		out = fmt.Sprintf("%dx%d %df %dB", a.Width, a.Height, a.FrameCount, a.SizeBytes())
	}
	h.logger.Debug("stage.done",
		"stage", stage,
		"duration_ms", d.Milliseconds(),
		"output", out,
	)
}

// ── Progress observer ─────────────────────────────────────────────────────────

// ProgressWriter reports every attempt to w as it happens, in the shape
// `Attempt 3: 1.24MB (colors=64 lossy=40 scale=1.00 frames=1.00)`.
type ProgressWriter struct {
	W io.Writer
}

func (p *ProgressWriter) OnAttempt(_ context.Context, rec core.AttemptRecord) {
	marker := " "
	if rec.Improved {
		marker = "*"
	}
	fmt.Fprintf(p.W, "Attempt %d:%s %.2fMB (colors=%d lossy=%d scale=%.2f frames=%.2f)\n",
		rec.Attempt, marker,
		float64(rec.SizeBytes)/1_000_000,
		rec.Params.Colors, rec.Params.Lossy, rec.Params.Scale, rec.Params.FrameRate,
	)
}

// AttemptLogger forwards attempts to a structured logger.
type AttemptLogger struct {
	Logger core.Logger
}

func (a *AttemptLogger) OnAttempt(_ context.Context, rec core.AttemptRecord) {
	a.Logger.Info("search.attempt",
		"attempt", rec.Attempt,
		"size", rec.SizeBytes,
		"improved", rec.Improved,
		"colors", rec.Params.Colors,
		"lossy", rec.Params.Lossy,
		"scale", rec.Params.Scale,
		"frame_rate", rec.Params.FrameRate,
		"backend", string(rec.Backend),
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stageDurationsMs map[string]int64 // cumulative ms per stage
	stageCalls       map[string]int64 // call count per stage
	stageErrors      map[string]int64

	totalAttempts    int64
	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stageDurationsMs: make(map[string]int64),
		stageCalls:       make(map[string]int64),
		stageErrors:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordStageTime(stage string, d time.Duration) {
	ms := d.Milliseconds()
	m.mu.Lock()
	m.stageDurationsMs[stage] += ms
	m.stageCalls[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordAttempts(n int) {
	atomic.AddInt64(&m.totalAttempts, int64(n))
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(stage string, _ string) {
	m.mu.Lock()
	m.stageErrors[stage]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StageDurationsMs: make(map[string]int64, len(m.stageDurationsMs)),
		StageCalls:       make(map[string]int64, len(m.stageCalls)),
		StageErrors:      make(map[string]int64, len(m.stageErrors)),
		TotalAttempts:    atomic.LoadInt64(&m.totalAttempts),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
	}
	for k, v := range m.stageDurationsMs {
		snap.StageDurationsMs[k] = v
	}
	for k, v := range m.stageCalls {
		snap.StageCalls[k] = v
	}
	for k, v := range m.stageErrors {
		snap.StageErrors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StageDurationsMs map[string]int64
	StageCalls       map[string]int64
	StageErrors      map[string]int64
	TotalAttempts    int64
	TotalThroughputB int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds stage events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStage(_ context.Context, _ string, _ *core.Asset) {}

func (h *MetricsHook) AfterStage(_ context.Context, stage string, a *core.Asset, d time.Duration, err error) {
	h.collector.RecordStageTime(stage, d)
	if err != nil {
		h.collector.RecordError(stage, "stage")
	}
}

var (
	_ core.Hook            = (*LoggingHook)(nil)
	_ core.Hook            = (*MetricsHook)(nil)
	_ core.AttemptObserver = (*ProgressWriter)(nil)
	_ core.AttemptObserver = (*AttemptLogger)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
	_ core.Logger           = (*SlogLogger)(nil)
)
