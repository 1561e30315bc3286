package core

import (
	"context"
	"math"
	"time"

	"github.com/gifpress/gifpress/config"
	apperrors "github.com/gifpress/gifpress/errors"
)

// Engine runs the adaptive compression search: a bounded loop over a
// prioritized ladder of parameter reductions, converging on the smallest
// encoding at or under the byte target.
type Engine struct {
	backend   Backend
	tuning    config.StepTuning
	logger    Logger
	observers []AttemptObserver
}

// NewEngine creates an Engine bound to one backend.
func NewEngine(backend Backend, tuning config.StepTuning) *Engine {
	if tuning.ColorDivisor <= 1 {
		tuning.ColorDivisor = 2
	}
	if tuning.LossyStep <= 0 {
		tuning.LossyStep = 40
	}
	if tuning.LossyMax <= 0 {
		tuning.LossyMax = 200
	}
	if tuning.ScaleStep <= 0 {
		tuning.ScaleStep = 0.1
	}
	if tuning.FrameRateStep <= 0 {
		tuning.FrameRateStep = 0.25
	}
	if tuning.FrameRateFloor <= 0 {
		tuning.FrameRateFloor = 0.5
	}
	return &Engine{backend: backend, tuning: tuning}
}

// SetLogger attaches a structured logger.
func (e *Engine) SetLogger(l Logger) { e.logger = l }

// AddObserver registers a per-attempt observer.
func (e *Engine) AddObserver(o AttemptObserver) { e.observers = append(e.observers, o) }

// Backend returns the backend the engine dispatches to.
func (e *Engine) Backend() Backend { return e.backend }

// rung is one strategy of the ladder: it advances the cumulative parameter
// state toward its bound, reporting false once the bound is reached.
type rung struct {
	name string
	step func(p AttemptParams) (AttemptParams, bool)
}

// Run executes the search.  The source asset is never mutated: every attempt
// derives a fresh candidate from it through the pure transform primitives.
func (e *Engine) Run(ctx context.Context, src *Asset, policy Policy) (*SearchResult, error) {
	start := time.Now()

	if src == nil || src.FrameCount == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "engine.run", apperrors.ErrZeroFrames)
	}
	if policy.TargetBytes <= 0 {
		return nil, apperrors.New(apperrors.CategoryConfig, "engine.run", apperrors.ErrInvalidInput)
	}
	policy = normalizeBounds(policy)

	// Inputs already at or under target return untouched with zero attempts.
	if src.Data == nil {
		data, err := e.backend.Encode(ctx, src)
		if err != nil {
			return nil, err
		}
		src = src.Clone()
		src.Data = data
	}
	if int64(len(src.Data)) <= policy.TargetBytes {
		return &SearchResult{
			Data:           src.Data,
			SizeBytes:      int64(len(src.Data)),
			OriginalSize:   src.OriginalSize,
			MetTarget:      true,
			State:          StateSucceeded,
			ProcessingTime: time.Since(start),
		}, nil
	}

	rungs := e.ladder(policy)
	params := AttemptParams{
		Colors:    startColors(src),
		Lossy:     0,
		Scale:     1.0,
		FrameRate: 1.0,
	}

	// The source itself seeds the accumulator: an attempt that comes out
	// larger than the input is never kept.
	var (
		records  []AttemptRecord
		bestData = src.Data
		bestSize = int64(len(src.Data))
	)

	attempts := 0
	ri := 0
	for attempts < policy.MaxAttempts && ri < len(rungs) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, "engine.run", err)
		}

		next, ok := rungs[ri].step(params)
		if !ok {
			ri++
			continue
		}

		attemptStart := time.Now()
		candidate, err := e.applyCandidate(ctx, src, next)
		if err != nil {
			// Primitive failures mean a policy/input mismatch, not a quality
			// trade-off; abort the search rather than retry other parameters.
			return nil, err
		}
		data, err := e.backend.Encode(ctx, candidate)
		if err != nil {
			return nil, err
		}

		size := int64(len(data))
		attempts++
		params = next

		// First-improvement tie-break: only a strictly smaller candidate
		// replaces the best-so-far, so earlier equal-size results win.
		improved := size < bestSize
		rec := AttemptRecord{
			Attempt:   attempts,
			Params:    next,
			SizeBytes: size,
			Improved:  improved,
			Backend:   e.backend.Kind(),
			Elapsed:   time.Since(attemptStart),
		}
		records = append(records, rec)
		e.notifyAttempt(ctx, rec)

		if improved {
			bestData, bestSize = data, size
			if size <= policy.TargetBytes {
				return &SearchResult{
					Data:           bestData,
					SizeBytes:      bestSize,
					OriginalSize:   src.OriginalSize,
					MetTarget:      true,
					State:          StateSucceeded,
					Attempts:       records,
					ProcessingTime: time.Since(start),
				}, nil
			}
		} else {
			// This rung stopped paying off; move down the ladder with the
			// reductions accumulated so far.
			ri++
		}
	}

	// Budget or bounds exhausted: return the smallest achieved even though it
	// is above target.  This is a valid result, not an error.
	result := &SearchResult{
		Data:           bestData,
		SizeBytes:      bestSize,
		OriginalSize:   src.OriginalSize,
		MetTarget:      false,
		State:          StateExhausted,
		Attempts:       records,
		ProcessingTime: time.Since(start),
	}
	if e.logger != nil {
		e.logger.Info("engine.exhausted",
			"attempts", attempts,
			"best_size", bestSize,
			"target", policy.TargetBytes,
		)
	}
	return result, nil
}

// ladder builds the prioritized strategy sequence for this policy.  The lossy
// rung is present only when the backend supports lossy compression;
// ForceScaling moves the scale rung to the front.
func (e *Engine) ladder(policy Policy) []rung {
	colors := rung{name: "colors", step: func(p AttemptParams) (AttemptParams, bool) {
		if p.Colors <= policy.MinColors {
			return p, false
		}
		next := int(float64(p.Colors) / e.tuning.ColorDivisor)
		if next < policy.MinColors {
			next = policy.MinColors
		}
		p.Colors = next
		return p, true
	}}
	lossy := rung{name: "lossy", step: func(p AttemptParams) (AttemptParams, bool) {
		if p.Lossy >= e.tuning.LossyMax {
			return p, false
		}
		next := p.Lossy + e.tuning.LossyStep
		if next > e.tuning.LossyMax {
			next = e.tuning.LossyMax
		}
		p.Lossy = next
		return p, true
	}}
	scale := rung{name: "scale", step: func(p AttemptParams) (AttemptParams, bool) {
		if p.Scale <= policy.MinScale+1e-9 {
			return p, false
		}
		next := roundScale(p.Scale - e.tuning.ScaleStep)
		if next < policy.MinScale {
			next = policy.MinScale
		}
		p.Scale = next
		return p, true
	}}
	frames := rung{name: "frames", step: func(p AttemptParams) (AttemptParams, bool) {
		if p.FrameRate <= e.tuning.FrameRateFloor+1e-9 {
			return p, false
		}
		next := roundScale(p.FrameRate - e.tuning.FrameRateStep)
		if next < e.tuning.FrameRateFloor {
			next = e.tuning.FrameRateFloor
		}
		p.FrameRate = next
		return p, true
	}}

	ladder := make([]rung, 0, 4)
	if policy.ForceScaling {
		ladder = append(ladder, scale)
	}
	ladder = append(ladder, colors)
	if e.backend.SupportsLossy() {
		ladder = append(ladder, lossy)
	}
	if !policy.ForceScaling {
		ladder = append(ladder, scale)
	}
	ladder = append(ladder, frames)
	return ladder
}

// applyCandidate derives a candidate from the pristine source by composing
// the primitives the parameter state calls for.
func (e *Engine) applyCandidate(ctx context.Context, src *Asset, p AttemptParams) (*Asset, error) {
	a := src
	var err error
	if p.Colors > 0 && p.Colors < startColors(src) {
		if a, err = e.backend.QuantizeColors(ctx, a, p.Colors); err != nil {
			return nil, err
		}
	}
	if p.Lossy > 0 && e.backend.SupportsLossy() {
		if a, err = e.backend.ApplyLossy(ctx, a, p.Lossy); err != nil {
			return nil, err
		}
	}
	if p.Scale < 1 {
		if a, err = e.backend.Rescale(ctx, a, p.Scale); err != nil {
			return nil, err
		}
	}
	if p.FrameRate < 1 {
		if a, err = e.backend.ResampleFrames(ctx, a, p.FrameRate); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (e *Engine) notifyAttempt(ctx context.Context, rec AttemptRecord) {
	for _, o := range e.observers {
		o.OnAttempt(ctx, rec)
	}
	if e.logger != nil {
		e.logger.Debug("engine.attempt",
			"attempt", rec.Attempt,
			"colors", rec.Params.Colors,
			"lossy", rec.Params.Lossy,
			"scale", rec.Params.Scale,
			"frame_rate", rec.Params.FrameRate,
			"size", rec.SizeBytes,
			"improved", rec.Improved,
		)
	}
}

// startColors is the palette size the ladder descends from.
func startColors(src *Asset) int {
	if src.Colors > 0 {
		return src.Colors
	}
	return 256
}

// normalizeBounds clamps policy bounds to their documented domains.
func normalizeBounds(p Policy) Policy {
	if p.MinColors < 2 {
		p.MinColors = 2
	}
	if p.MinColors > 256 {
		p.MinColors = 256
	}
	if p.MinScale <= 0 || p.MinScale > 1 {
		p.MinScale = 1
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// roundScale keeps repeated float decrements from drifting.
func roundScale(v float64) float64 {
	return math.Round(v*1000) / 1000
}
