// Package pipeline provides the preprocessing steps and the extensible Step API.
package pipeline

import (
	"context"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep removes the requested pixel margins from every frame.
type CropStep struct {
	Backend core.Backend
	Margins core.CropMargins
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if s.Margins.Zero() {
		return a, nil
	}
	// Margins are validated here, before any pixel work, so an impossible
	// crop fails the item ahead of the adaptive search.
	if s.Margins.Top < 0 || s.Margins.Bottom < 0 || s.Margins.Left < 0 || s.Margins.Right < 0 ||
		a.Width-s.Margins.Left-s.Margins.Right <= 0 ||
		a.Height-s.Margins.Top-s.Margins.Bottom <= 0 {
		return nil, apperrors.New(apperrors.CategoryCrop, s.Name(), apperrors.ErrInvalidCrop)
	}
	return s.Backend.Crop(ctx, a, s.Margins)
}

// ── Frame sampling ────────────────────────────────────────────────────────────

// FrameSampleStep keeps the requested fraction of frames, once, verbatim.
type FrameSampleStep struct {
	Backend core.Backend
	Rate    float64
}

func (s *FrameSampleStep) Name() string { return "frame_sample" }

func (s *FrameSampleStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if s.Rate <= 0 || s.Rate >= 1 {
		return a, nil
	}
	return s.Backend.ResampleFrames(ctx, a, s.Rate)
}

// ── Duration ──────────────────────────────────────────────────────────────────

// DurationStep multiplies every frame's display duration by Factor.
type DurationStep struct {
	Backend core.Backend
	Factor  float64
}

func (s *DurationStep) Name() string { return "duration" }

func (s *DurationStep) Execute(ctx context.Context, a *core.Asset) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if s.Factor <= 0 || s.Factor == 1 {
		return a, nil
	}
	return s.Backend.AdjustDuration(ctx, a, s.Factor)
}

// FromPolicy builds the preprocessing steps a policy asks for, in the order
// they are applied: crop, frame sampling, duration.
func FromPolicy(backend core.Backend, policy core.Policy) []core.Step {
	var steps []core.Step
	if !policy.Crop.Zero() {
		steps = append(steps, &CropStep{Backend: backend, Margins: policy.Crop})
	}
	if policy.FrameRate > 0 && policy.FrameRate < 1 {
		steps = append(steps, &FrameSampleStep{Backend: backend, Rate: policy.FrameRate})
	}
	if policy.SpeedFactor > 0 && policy.SpeedFactor != 1 {
		// SpeedFactor is a playback multiplier; delays shrink by its inverse.
		steps = append(steps, &DurationStep{Backend: backend, Factor: 1 / policy.SpeedFactor})
	}
	return steps
}
