package hooks

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gifpress/gifpress/core"
)

func TestProgressWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	p := &ProgressWriter{W: &buf}

	p.OnAttempt(context.Background(), core.AttemptRecord{
		Attempt:   3,
		SizeBytes: 1_240_000,
		Improved:  true,
		Params:    core.AttemptParams{Colors: 64, Lossy: 40, Scale: 1.0, FrameRate: 1.0},
	})

	out := buf.String()
	if !strings.HasPrefix(out, "Attempt 3:") {
		t.Fatalf("got %q", out)
	}
	if !strings.Contains(out, "1.24MB") || !strings.Contains(out, "colors=64") {
		t.Fatalf("got %q", out)
	}
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	m := NewInMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordStageTime("search", 2*time.Millisecond)
				m.RecordAttempts(1)
				m.RecordThroughput(10)
				m.RecordError("decode", "input")
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.TotalAttempts != 800 {
		t.Fatalf("attempts %d", snap.TotalAttempts)
	}
	if snap.TotalThroughputB != 8000 {
		t.Fatalf("throughput %d", snap.TotalThroughputB)
	}
	if snap.StageDurationsMs["search"] != 1600 {
		t.Fatalf("durations %v", snap.StageDurationsMs)
	}
	if snap.StageErrors["decode"] != 800 {
		t.Fatalf("errors %v", snap.StageErrors)
	}
	if snap.StageCalls["search"] != 800 {
		t.Fatalf("calls %v", snap.StageCalls)
	}
}

func TestMetricsHookRecordsErrors(t *testing.T) {
	m := NewInMemoryMetrics()
	h := NewMetricsHook(m)
	ctx := context.Background()

	h.AfterStage(ctx, "decode", nil, time.Millisecond, nil)
	h.AfterStage(ctx, "decode", nil, time.Millisecond, context.DeadlineExceeded)

	snap := m.Snapshot()
	if snap.StageCalls["decode"] != 2 {
		t.Fatalf("calls %v", snap.StageCalls)
	}
	if snap.StageErrors["decode"] != 1 {
		t.Fatalf("errors %v", snap.StageErrors)
	}
}
