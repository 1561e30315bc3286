// Package pipeline wires preprocessing steps together, runs hooks, and
// retries transient failures.  Preprocessing applies the caller's one-shot
// transforms (crop, frame sampling, duration) exactly once, before the
// adaptive search; the engine never re-applies or reverses them.
package pipeline

import (
	"context"
	"time"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// Pipeline executes a sequence of Steps with hook and retry support.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Run executes the pipeline on a.  It returns the final Asset and a map of
// per-step timing observations.
func (p *Pipeline) Run(ctx context.Context, a *core.Asset) (*core.Asset, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := a

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] = elapsed
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

// runStep executes a single step, calling hooks and retrying transient errors.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, a *core.Asset) (*core.Asset, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), a)

	var (
		result  *core.Asset
		elapsed time.Duration
		err     error
	)

	attempts := p.maxRetries + 1
	for i := 0; i < attempts; i++ {
		start := time.Now()
		result, err = step.Execute(ctx, a)
		elapsed = time.Since(start)

		if err == nil {
			break
		}
		if !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		// Wait before retrying.
		select {
		case <-ctx.Done():
			err = apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			goto done
		case <-time.After(p.retryDelay):
		}
	}

done:
	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, a *core.Asset) {
	for _, h := range p.hooks {
		h.BeforeStage(ctx, name, a)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, a *core.Asset, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStage(ctx, name, a, d, err)
	}
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps:      make([]core.Step, len(p.steps)),
		hooks:      make([]core.Hook, len(p.hooks)),
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}
