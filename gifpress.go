// Package gifpress compresses animated GIFs (and short videos) down to a
// byte target by searching over color depth, lossy level, scale, and frame
// rate. It prefers the gifsicle and ffmpeg binaries when they respond and
// degrades to pure-Go equivalents when they do not.
package gifpress

import (
	"context"
	"io"
	"os"

	"github.com/gifpress/gifpress/adapters/fallback"
	"github.com/gifpress/gifpress/adapters/gifsicle"
	"github.com/gifpress/gifpress/adapters/video"
	"github.com/gifpress/gifpress/capability"
	"github.com/gifpress/gifpress/config"
	"github.com/gifpress/gifpress/core"
	"github.com/gifpress/gifpress/pipeline"
)

// Re-export Format constants for convenience.
const (
	GIF  = core.FormatGIF
	MP4  = core.FormatMP4
	WebM = core.FormatWebM
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// TargetBytesFromMB converts a megabyte target to bytes (decimal megabytes).
func TargetBytesFromMB(mb float64) int64 { return core.TargetBytesFromMB(mb) }

// Option customises Compressor construction.
type Option func(*options)

type options struct {
	backend core.Backend
}

// WithBackend forces a specific backend instead of the probed default.
// The backend is registered under its own Kind.
func WithBackend(b core.Backend) Option {
	return func(o *options) { o.backend = b }
}

// Compressor is the primary entry point.
type Compressor struct {
	inner *core.Processor
	reg   *core.DefaultRegistry
	caps  capability.State
	cfg   config.Config
}

// New probes for native tools and wires a ready Compressor. Probing never
// fails; a machine without gifsicle or ffmpeg still gets a working
// (pure-Go) instance.
func New(cfg config.Config, opts ...Option) *Compressor {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout)
	defer cancel()
	caps := capability.Detect(ctx, capability.Options{
		GifsicleBinary: cfg.GifsicleBinary,
		FFmpegBinary:   cfg.FFmpegBinary,
		Timeout:        cfg.ProbeTimeout,
	})

	fb := fallback.New()
	reg := core.NewRegistry()
	reg.RegisterBackend(core.BackendFallback, fb)

	var backend core.Backend = fb
	if caps.NativeEncoder {
		gs := gifsicle.New(gifsicle.Options{Binary: cfg.GifsicleBinary, Timeout: cfg.ToolTimeout}, fb)
		reg.RegisterBackend(core.BackendGifsicle, gs)
		backend = gs
	}
	if o.backend != nil {
		reg.RegisterBackend(o.backend.Kind(), o.backend)
		backend = o.backend
	}

	engine := core.NewEngine(backend, cfg.Tuning)
	conv := video.New(video.Options{Binary: cfg.FFmpegBinary, Timeout: cfg.ToolTimeout}, caps.NativeDecoder, fb)

	inner := core.NewProcessor(cfg, reg, backend, engine, fb, conv, pipeline.FromPolicy)
	return &Compressor{inner: inner, reg: reg, caps: caps, cfg: cfg}
}

// Capabilities reports which native tools responded at construction time.
func (c *Compressor) Capabilities() capability.State { return c.caps }

// Reprobe re-runs tool detection and rewires the default backend. Useful
// after installing gifsicle without restarting the process.
func (c *Compressor) Reprobe() capability.State {
	fresh := New(c.cfg)
	c.inner = fresh.inner
	c.reg = fresh.reg
	c.caps = fresh.caps
	return c.caps
}

// SetLogger attaches a structured logger.
func (c *Compressor) SetLogger(l core.Logger) { c.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (c *Compressor) SetMetrics(m core.MetricsCollector) { c.inner.SetMetrics(m) }

// AddHook registers an observer for stage events.
func (c *Compressor) AddHook(h core.Hook) { c.inner.AddHook(h) }

// AddAttemptObserver registers an observer for individual search attempts.
func (c *Compressor) AddAttemptObserver(o core.AttemptObserver) { c.inner.AddAttemptObserver(o) }

// Start starts the background worker pool.
func (c *Compressor) Start() { c.inner.Start() }

// Stop drains and shuts down the worker pool.
func (c *Compressor) Stop() { c.inner.Stop() }

// Compress runs the full pipeline on src synchronously: detect, decode or
// convert, preprocess, then search toward policy.TargetBytes.
func (c *Compressor) Compress(ctx context.Context, src core.Source, policy core.Policy) (*core.SearchResult, error) {
	return c.inner.Compress(ctx, src, policy)
}

// Batch compresses multiple sources concurrently with the same policy.
// Failures are per-item; one bad input never aborts its siblings.
func (c *Compressor) Batch(ctx context.Context, sources []core.Source, policy core.Policy) ([]*core.SearchResult, []error) {
	return c.inner.Batch(ctx, sources, policy)
}

// Submit enqueues an async job for the worker pool.
func (c *Compressor) Submit(job core.Job) error { return c.inner.Submit(job) }

// Registry exposes backend registration for custom backends.
func (c *Compressor) Registry() core.Registry { return c.reg }

// Backend returns the backend the engine currently searches with.
func (c *Compressor) Backend() core.Backend { return c.inner.Backend() }

// Stats returns lightweight processing statistics.
func (c *Compressor) Stats() (processed, errors int64) {
	return c.inner.ProcessedCount(), c.inner.ErrorCount()
}

// ── Source constructors ───────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// FromFile creates a Source backed by a file on disk. The caller owns the
// returned closer.
func FromFile(path string) (core.Source, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Source{}, nil, err
	}
	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	return core.Source{Reader: f, Size: size, Name: path}, f, nil
}
