package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// recordingBackend notes which primitives ran and with what arguments.
type recordingBackend struct {
	calls []string
	rate  float64
	dur   float64
	crop  core.CropMargins
}

func (r *recordingBackend) Kind() core.BackendKind { return core.BackendFallback }
func (r *recordingBackend) SupportsLossy() bool    { return false }

func (r *recordingBackend) QuantizeColors(_ context.Context, a *core.Asset, _ int) (*core.Asset, error) {
	r.calls = append(r.calls, "quantize")
	return a, nil
}

func (r *recordingBackend) ApplyLossy(_ context.Context, a *core.Asset, _ int) (*core.Asset, error) {
	r.calls = append(r.calls, "lossy")
	return a, nil
}

func (r *recordingBackend) Rescale(_ context.Context, a *core.Asset, _ float64) (*core.Asset, error) {
	r.calls = append(r.calls, "rescale")
	return a, nil
}

func (r *recordingBackend) ResampleFrames(_ context.Context, a *core.Asset, rate float64) (*core.Asset, error) {
	r.calls = append(r.calls, "resample")
	r.rate = rate
	return a, nil
}

func (r *recordingBackend) AdjustDuration(_ context.Context, a *core.Asset, factor float64) (*core.Asset, error) {
	r.calls = append(r.calls, "duration")
	r.dur = factor
	return a, nil
}

func (r *recordingBackend) Crop(_ context.Context, a *core.Asset, m core.CropMargins) (*core.Asset, error) {
	r.calls = append(r.calls, "crop")
	r.crop = m
	return a, nil
}

func (r *recordingBackend) Encode(_ context.Context, a *core.Asset) ([]byte, error) {
	r.calls = append(r.calls, "encode")
	return a.Data, nil
}

func pipelineAsset() *core.Asset {
	return &core.Asset{Width: 100, Height: 80, FrameCount: 10, Colors: 256}
}

func TestFromPolicyOrder(t *testing.T) {
	be := &recordingBackend{}
	policy := core.Policy{
		Crop:        core.CropMargins{Top: 5},
		FrameRate:   0.5,
		SpeedFactor: 2.0,
	}

	steps := FromPolicy(be, policy)
	if len(steps) != 3 {
		t.Fatalf("want 3 steps, got %d", len(steps))
	}

	pl := New().Use(steps...)
	if _, _, err := pl.Run(context.Background(), pipelineAsset()); err != nil {
		t.Fatal(err)
	}

	want := []string{"crop", "resample", "duration"}
	if len(be.calls) != len(want) {
		t.Fatalf("calls %v", be.calls)
	}
	for i, name := range want {
		if be.calls[i] != name {
			t.Fatalf("step %d: want %s, got %s", i, name, be.calls[i])
		}
	}
	if be.rate != 0.5 {
		t.Fatalf("frame rate %v", be.rate)
	}
	// Double speed halves the delays.
	if be.dur != 0.5 {
		t.Fatalf("duration factor %v, want 0.5", be.dur)
	}
}

func TestFromPolicySkipsIdentity(t *testing.T) {
	steps := FromPolicy(&recordingBackend{}, core.Policy{FrameRate: 1.0, SpeedFactor: 1.0})
	if len(steps) != 0 {
		t.Fatalf("identity policy must produce no steps, got %d", len(steps))
	}
}

func TestCropStepValidatesBeforePixelWork(t *testing.T) {
	be := &recordingBackend{}
	step := &CropStep{Backend: be, Margins: core.CropMargins{Left: 60, Right: 60}}

	_, err := step.Execute(context.Background(), pipelineAsset())
	if !errors.Is(err, apperrors.ErrInvalidCrop) {
		t.Fatalf("want ErrInvalidCrop, got %v", err)
	}
	if len(be.calls) != 0 {
		t.Fatalf("backend must not run on invalid margins, got %v", be.calls)
	}
}

func TestFrameSampleStepIdentityRates(t *testing.T) {
	be := &recordingBackend{}
	a := pipelineAsset()
	for _, rate := range []float64{0, 1, 1.5} {
		step := &FrameSampleStep{Backend: be, Rate: rate}
		out, err := step.Execute(context.Background(), a)
		if err != nil {
			t.Fatal(err)
		}
		if out != a {
			t.Fatalf("rate %v must pass through", rate)
		}
	}
	if len(be.calls) != 0 {
		t.Fatalf("identity rates must not hit the backend: %v", be.calls)
	}
}

// flakyStep fails transiently until its counter runs out.
type flakyStep struct {
	failures int
	runs     int
}

func (s *flakyStep) Name() string { return "flaky" }

func (s *flakyStep) Execute(_ context.Context, a *core.Asset) (*core.Asset, error) {
	s.runs++
	if s.runs <= s.failures {
		return nil, apperrors.Transient("flaky", errors.New("try again"))
	}
	return a, nil
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	step := &flakyStep{failures: 2}
	pl := New().Use(step).WithRetry(2, time.Millisecond)

	_, timings, err := pl.Run(context.Background(), pipelineAsset())
	if err != nil {
		t.Fatal(err)
	}
	if step.runs != 3 {
		t.Fatalf("want 2 retries then success, got %d runs", step.runs)
	}
	if _, ok := timings["flaky"]; !ok {
		t.Fatal("missing step timing")
	}
}

func TestPipelineDoesNotRetryPermanentFailures(t *testing.T) {
	boom := apperrors.New(apperrors.CategoryCrop, "crop", apperrors.ErrInvalidCrop)
	step := &failingStep{err: boom}
	pl := New().Use(step).WithRetry(3, time.Millisecond)

	_, _, err := pl.Run(context.Background(), pipelineAsset())
	if !errors.Is(err, apperrors.ErrInvalidCrop) {
		t.Fatalf("want the original failure, got %v", err)
	}
	if step.runs != 1 {
		t.Fatalf("permanent failure must not retry, got %d runs", step.runs)
	}
}

type failingStep struct {
	err  error
	runs int
}

func (s *failingStep) Name() string { return "failing" }

func (s *failingStep) Execute(_ context.Context, _ *core.Asset) (*core.Asset, error) {
	s.runs++
	return nil, s.err
}

// captureHook records stage notifications.
type captureHook struct {
	before []string
	after  []string
	errs   int
}

func (h *captureHook) BeforeStage(_ context.Context, stage string, _ *core.Asset) {
	h.before = append(h.before, stage)
}

func (h *captureHook) AfterStage(_ context.Context, stage string, _ *core.Asset, _ time.Duration, err error) {
	h.after = append(h.after, stage)
	if err != nil {
		h.errs++
	}
}

func TestPipelineHooks(t *testing.T) {
	hook := &captureHook{}
	be := &recordingBackend{}
	pl := New().
		Use(&FrameSampleStep{Backend: be, Rate: 0.5}, &DurationStep{Backend: be, Factor: 0.5}).
		AddHook(hook)

	if _, _, err := pl.Run(context.Background(), pipelineAsset()); err != nil {
		t.Fatal(err)
	}
	if len(hook.before) != 2 || len(hook.after) != 2 {
		t.Fatalf("hook calls before=%v after=%v", hook.before, hook.after)
	}
	if hook.errs != 0 {
		t.Fatalf("unexpected error notifications: %d", hook.errs)
	}
}
