package core

import (
	"context"
	"image/gif"
	"io"
	"time"
)

// Format identifies a source container.
type Format string

const (
	FormatGIF     Format = "gif"
	FormatMP4     Format = "mp4"
	FormatWebM    Format = "webm"
	FormatAVI     Format = "avi"
	FormatMJPEG   Format = "mjpeg"
	FormatUnknown Format = "unknown"
)

// IsVideo reports whether the format needs conversion before compression.
func (f Format) IsVideo() bool {
	switch f {
	case FormatMP4, FormatWebM, FormatAVI, FormatMJPEG:
		return true
	}
	return false
}

// BackendKind names a transform backend implementation.
type BackendKind string

const (
	BackendGifsicle BackendKind = "gifsicle"
	BackendFallback BackendKind = "fallback"
	BackendVips     BackendKind = "vips"
)

// CropMargins are pixel margins removed from every frame.
type CropMargins struct {
	Top, Bottom, Left, Right int
}

// Zero reports whether no cropping was requested.
func (m CropMargins) Zero() bool {
	return m.Top == 0 && m.Bottom == 0 && m.Left == 0 && m.Right == 0
}

// Policy is the immutable per-item configuration bundle.  Set once by the
// caller; the engine and preprocessing stage only read it.
type Policy struct {
	TargetBytes int64
	MaxAttempts int

	// Search bounds.  MinColors in [2,256]; MinScale in (0,1].
	MinColors    int
	MinScale     float64
	ForceScaling bool // try scale reduction before color/lossy rungs

	// One-shot preprocessing values, applied verbatim before the search.
	FrameRate   float64 // fraction of frames kept; 0 or 1 = keep all
	SpeedFactor float64 // per-frame duration multiplier; 0 or 1 = unchanged
	Crop        CropMargins
}

// TargetBytesFromMB converts a megabyte target to bytes using decimal
// megabytes (1 MB = 1,000,000 bytes).
func TargetBytesFromMB(mb float64) int64 { return int64(mb * 1_000_000) }

// Asset is the in-memory animation passed between stages.  Data holds encoded
// GIF bytes; GIF holds the decoded frame sequence.  A stage may populate
// either representation; Decoded()/Encoded() views are produced by the
// backends.  Stages never mutate an Asset in place — every transform returns
// a new one.
type Asset struct {
	// Encoded GIF bytes — non-nil after an encode or when decoded from raw input.
	Data []byte

	// Decoded frames — non-nil after an in-process decode.
	GIF *gif.GIF

	Width      int
	Height     int
	FrameCount int
	Colors     int // largest frame palette size

	// Size of the original raw input, for reporting and the early-exit check.
	OriginalSize int64
}

// NewAssetFromGIF builds an Asset around decoded frames, deriving dimensions,
// frame count, and palette size.
func NewAssetFromGIF(g *gif.GIF) *Asset {
	a := &Asset{GIF: g, FrameCount: len(g.Image)}
	a.Width, a.Height = g.Config.Width, g.Config.Height
	for _, frame := range g.Image {
		if b := frame.Bounds(); a.Width < b.Dx() || a.Height < b.Dy() {
			if b.Dx() > a.Width {
				a.Width = b.Dx()
			}
			if b.Dy() > a.Height {
				a.Height = b.Dy()
			}
		}
		if n := len(frame.Palette); n > a.Colors {
			a.Colors = n
		}
	}
	return a
}

// Clone returns a shallow copy.  Frame and byte buffers are shared; transforms
// allocate fresh buffers for anything they change.
func (a *Asset) Clone() *Asset {
	cp := *a
	return &cp
}

// SizeBytes returns the encoded size, or the original input size when the
// asset has not been re-encoded yet.
func (a *Asset) SizeBytes() int64 {
	if a.Data != nil {
		return int64(len(a.Data))
	}
	return a.OriginalSize
}

// AttemptParams is one parameter combination tried by the search engine.
type AttemptParams struct {
	Colors    int
	Lossy     int
	Scale     float64
	FrameRate float64 // fraction of frames kept
}

// AttemptRecord is one append-only entry per search iteration.
type AttemptRecord struct {
	Attempt   int
	Params    AttemptParams
	SizeBytes int64
	Improved  bool
	Backend   BackendKind
	Elapsed   time.Duration
}

// EngineState is the terminal state of a search.
type EngineState string

const (
	StateSucceeded EngineState = "succeeded"
	StateExhausted EngineState = "exhausted"
)

// SearchResult is the terminal output of a search.  Constructed once at loop
// termination; immutable thereafter.
type SearchResult struct {
	Data         []byte
	SizeBytes    int64
	OriginalSize int64
	MetTarget    bool
	State        EngineState
	Attempts     []AttemptRecord

	ProcessingTime time.Duration
	StageTimings   map[string]time.Duration
}

// Source abstracts where raw bytes come from (reader, file path, upload, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // intentional for async jobs
	Source Source
	Policy Policy
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *SearchResult
	Err    error
}

// StorageKey uniquely identifies a stored output.
type StorageKey struct {
	Bucket string
	Path   string
}
