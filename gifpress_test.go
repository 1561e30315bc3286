package gifpress

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"math/rand"
	"testing"
	"time"

	"github.com/gifpress/gifpress/adapters/fallback"
	"github.com/gifpress/gifpress/config"
	"github.com/gifpress/gifpress/core"
	"github.com/gifpress/gifpress/hooks"
)

// noiseGIF builds an animation of random pixels, which LZW barely compresses,
// so the search engine always has size to claw back.
func noiseGIF(t *testing.T, w, h, frames int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	pal := make(color.Palette, 0, 256)
	for i := 0; i < 256; i++ {
		pal = append(pal, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
	}
	g := &gif.GIF{Config: image.Config{Width: w, Height: h}}
	for f := 0; f < frames; f++ {
		img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
		for i := range img.Pix {
			img.Pix[i] = uint8(rng.Intn(256))
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 8)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testCompressor wires the pure-Go backend so tests never depend on gifsicle
// or ffmpeg being installed.
func testCompressor() *Compressor {
	cfg := config.Default()
	cfg.GifsicleBinary = "gifsicle-not-installed"
	cfg.FFmpegBinary = "ffmpeg-not-installed"
	cfg.ProbeTimeout = time.Second
	return New(cfg, WithBackend(fallback.New()))
}

func TestCompressAlreadyUnderTarget(t *testing.T) {
	press := testCompressor()
	raw := noiseGIF(t, 60, 40, 2)

	res, err := press.Compress(context.Background(),
		FromReader(bytes.NewReader(raw)),
		core.Policy{TargetBytes: int64(len(raw)) + 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	if !res.MetTarget || len(res.Attempts) != 0 {
		t.Fatalf("under-target input: met=%v attempts=%d", res.MetTarget, len(res.Attempts))
	}
	if !bytes.Equal(res.Data, raw) {
		t.Fatal("under-target input must pass through byte-identical")
	}
}

func TestCompressSearchInvariants(t *testing.T) {
	press := testCompressor()
	raw := noiseGIF(t, 120, 90, 6)

	policy := core.Policy{
		TargetBytes: 1000, // unreachable: forces a full ladder walk
		MaxAttempts: 10,
		MinColors:   32,
		MinScale:    0.4,
	}
	res, err := press.Compress(context.Background(), FromReader(bytes.NewReader(raw)), policy)
	if err != nil {
		t.Fatal(err)
	}

	if res.MetTarget {
		t.Fatal("1KB from noisy input should be unreachable")
	}
	if res.State != core.StateExhausted {
		t.Fatalf("want exhausted, got %s", res.State)
	}
	if len(res.Attempts) > policy.MaxAttempts {
		t.Fatalf("%d attempts exceeded budget %d", len(res.Attempts), policy.MaxAttempts)
	}
	if res.SizeBytes > res.OriginalSize {
		t.Fatalf("best effort %d larger than input %d", res.SizeBytes, res.OriginalSize)
	}

	// Improved records must shrink strictly; parameters must honor bounds.
	best := int64(1 << 62)
	for _, a := range res.Attempts {
		if a.Improved {
			if a.SizeBytes >= best {
				t.Fatalf("attempt %d marked improved at %d, best was %d", a.Attempt, a.SizeBytes, best)
			}
			best = a.SizeBytes
		}
		if a.Params.Colors < policy.MinColors {
			t.Fatalf("colors %d under floor", a.Params.Colors)
		}
		if a.Params.Scale < policy.MinScale-1e-9 {
			t.Fatalf("scale %.3f under floor", a.Params.Scale)
		}
		if a.Params.Lossy != 0 {
			t.Fatalf("pure-Go backend cannot honor lossy %d", a.Params.Lossy)
		}
	}

	// The returned bytes decode as a valid animation.
	if _, err := gif.DecodeAll(bytes.NewReader(res.Data)); err != nil {
		t.Fatalf("result is not a decodable GIF: %v", err)
	}
}

func TestCompressAppliesCropBeforeSearch(t *testing.T) {
	press := testCompressor()
	raw := noiseGIF(t, 100, 80, 3)

	res, err := press.Compress(context.Background(),
		FromReader(bytes.NewReader(raw)),
		core.Policy{
			TargetBytes: 10_000_000,
			Crop:        core.CropMargins{Top: 10, Bottom: 10, Left: 10, Right: 10},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatal(err)
	}
	if g.Config.Width != 80 || g.Config.Height != 60 {
		t.Fatalf("crop lost: got %dx%d", g.Config.Width, g.Config.Height)
	}
}

func TestCompressRejectsImpossibleCrop(t *testing.T) {
	press := testCompressor()
	raw := noiseGIF(t, 20, 20, 1)

	_, err := press.Compress(context.Background(),
		FromReader(bytes.NewReader(raw)),
		core.Policy{
			TargetBytes: 10_000_000,
			Crop:        core.CropMargins{Top: 10, Bottom: 10, Left: 10, Right: 10},
		},
	)
	if err == nil {
		t.Fatal("margins consuming the canvas must fail the item")
	}
}

func TestCompressVideoSource(t *testing.T) {
	press := testCompressor()

	// Two JPEG frames back to back: a minimal motion-JPEG stream.
	var stream bytes.Buffer
	for i := 0; i < 2; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 48, 36))
		for p := range img.Pix {
			img.Pix[p] = uint8((p + i*31) % 256)
		}
		if err := jpeg.Encode(&stream, img, nil); err != nil {
			t.Fatal(err)
		}
	}

	res, err := press.Compress(context.Background(),
		FromReader(bytes.NewReader(stream.Bytes())),
		core.Policy{TargetBytes: 10_000_000},
	)
	if err != nil {
		t.Fatal(err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("video conversion produced undecodable output: %v", err)
	}
	if len(g.Image) != 2 {
		t.Fatalf("want 2 frames, got %d", len(g.Image))
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	press := testCompressor()
	good := noiseGIF(t, 40, 30, 2)

	results, errs := press.Batch(context.Background(),
		[]core.Source{
			FromReader(bytes.NewReader(good)),
			FromReader(bytes.NewReader([]byte("certainly not an animation"))),
		},
		core.Policy{TargetBytes: 10_000_000},
	)
	if errs[0] != nil {
		t.Fatalf("good item failed: %v", errs[0])
	}
	if results[0] == nil || !results[0].MetTarget {
		t.Fatal("good item should meet a 10MB target")
	}
	if errs[1] == nil {
		t.Fatal("garbage item must fail on its own")
	}
}

func TestSubmitAsyncJob(t *testing.T) {
	press := testCompressor()
	press.Start()
	defer press.Stop()

	raw := noiseGIF(t, 40, 30, 2)
	resultCh := make(chan core.JobResult, 1)
	err := press.Submit(core.Job{
		ID:       "job-1",
		Source:   FromReader(bytes.NewReader(raw)),
		Policy:   core.Policy{TargetBytes: 10_000_000},
		ResultCh: resultCh,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-resultCh:
		if out.Err != nil {
			t.Fatal(out.Err)
		}
		if out.JobID != "job-1" || !out.Result.MetTarget {
			t.Fatalf("unexpected job result: %+v", out)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestAttemptObserverSeesEveryAttempt(t *testing.T) {
	press := testCompressor()
	var buf bytes.Buffer
	press.AddAttemptObserver(&hooks.ProgressWriter{W: &buf})

	raw := noiseGIF(t, 80, 60, 4)
	res, err := press.Compress(context.Background(),
		FromReader(bytes.NewReader(raw)),
		core.Policy{TargetBytes: 1000, MaxAttempts: 5, MinColors: 32, MinScale: 0.4},
	)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	if lines != len(res.Attempts) {
		t.Fatalf("observer saw %d attempts, engine recorded %d", lines, len(res.Attempts))
	}
}

func TestCapabilitiesWithoutTools(t *testing.T) {
	press := testCompressor()
	caps := press.Capabilities()
	if caps.NativeEncoder || caps.NativeDecoder {
		t.Fatalf("missing binaries must probe unavailable: %+v", caps)
	}
	if press.Backend().Kind() != core.BackendFallback {
		t.Fatalf("want fallback backend, got %s", press.Backend().Kind())
	}
}
