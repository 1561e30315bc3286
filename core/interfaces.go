package core

import (
	"context"
	"io"
	"time"
)

// Backend is the capability-polymorphic set of transform primitives.  Two
// implementations exist: the native gifsicle subprocess backend and the
// in-process fallback backend.  All primitives are pure over Asset: the input
// is never mutated and a new Asset is returned.
//
// Backend selection is the single dispatch point for native-tool
// availability; callers never consult capability state themselves.
type Backend interface {
	Kind() BackendKind

	// SupportsLossy reports whether ApplyLossy does anything.  The engine
	// skips the lossy rung entirely when this is false.
	SupportsLossy() bool

	// QuantizeColors reduces the palette to at most n colors (2-256),
	// preserving frame count and dimensions exactly.
	QuantizeColors(ctx context.Context, a *Asset, n int) (*Asset, error)

	// ApplyLossy applies lossy frame-delta compression at the given strength
	// (0-200).  Implementations without lossy support return the input
	// unchanged.
	ApplyLossy(ctx context.Context, a *Asset, level int) (*Asset, error)

	// Rescale resizes all frames by factor (0 < factor <= 1).  Never upsamples.
	Rescale(ctx context.Context, a *Asset, factor float64) (*Asset, error)

	// ResampleFrames keeps a uniform-stride subset of roughly rate of the
	// frames (at least one), stretching delays so total playback duration is
	// approximately preserved.
	ResampleFrames(ctx context.Context, a *Asset, rate float64) (*Asset, error)

	// AdjustDuration multiplies every frame's display duration by factor.
	AdjustDuration(ctx context.Context, a *Asset, factor float64) (*Asset, error)

	// Crop removes pixel margins from every frame.  Fails when margins exceed
	// frame dimensions.
	Crop(ctx context.Context, a *Asset, margins CropMargins) (*Asset, error)

	// Encode produces final GIF bytes for the asset.
	Encode(ctx context.Context, a *Asset) ([]byte, error)
}

// Decoder turns raw animation bytes into a decoded Asset.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*Asset, error)
}

// Converter turns raw video bytes into an initial animation Asset.
type Converter interface {
	Convert(ctx context.Context, data []byte, policy Policy) (*Asset, error)
}

// StorageAdapter persists compressed outputs and retrieves them later.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from the processor.
type MetricsCollector interface {
	RecordStageTime(stage string, d time.Duration)
	RecordAttempts(n int)
	RecordThroughput(bytes int64)
	RecordError(stage string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Step is a preprocessing building block.  Each Step transforms an *Asset and
// must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, a *Asset) (*Asset, error)
}

// Hook is an optional observer invoked around processing stages.
type Hook interface {
	BeforeStage(ctx context.Context, stage string, a *Asset)
	AfterStage(ctx context.Context, stage string, a *Asset, d time.Duration, err error)
}

// AttemptObserver receives every search attempt as it is recorded.
type AttemptObserver interface {
	OnAttempt(ctx context.Context, rec AttemptRecord)
}

// Registry maps BackendKind values to Backend implementations.
type Registry interface {
	BackendFor(kind BackendKind) (Backend, bool)
	RegisterBackend(kind BackendKind, b Backend)
}
