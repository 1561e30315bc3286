package gifsicle

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"
	"time"

	"github.com/gifpress/gifpress/adapters/fallback"
	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
)

// brokenBackend builds a Backend whose subprocess can never start, so every
// native call exercises the per-call degradation path.
func brokenBackend() *Backend {
	return New(Options{Binary: "gifsicle-that-does-not-exist", Timeout: time.Second}, fallback.New())
}

func animAsset(w, h, frames int) *core.Asset {
	pal := make(color.Palette, 0, 256)
	for i := 0; i < 256; i++ {
		pal = append(pal, color.RGBA{R: uint8(i), G: uint8(i / 2), B: uint8(255 - i), A: 255})
	}
	g := &gif.GIF{Config: image.Config{Width: w, Height: h}}
	for f := 0; f < frames; f++ {
		img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
		for i := range img.Pix {
			img.Pix[i] = uint8((i * (f + 3)) % 256)
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 10)
	}
	return core.NewAssetFromGIF(g)
}

func TestQuantizeDegradesPerCall(t *testing.T) {
	b := brokenBackend()
	out, err := b.QuantizeColors(context.Background(), animAsset(40, 30, 3), 32)
	if err != nil {
		t.Fatalf("degradation should hide the subprocess failure: %v", err)
	}
	if out.FrameCount != 3 || out.Width != 40 {
		t.Fatalf("degraded result malformed: %dx%d %d frames", out.Width, out.Height, out.FrameCount)
	}
}

func TestRescaleDegradesPerCall(t *testing.T) {
	b := brokenBackend()
	out, err := b.Rescale(context.Background(), animAsset(40, 30, 2), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 20 || out.Height != 15 {
		t.Fatalf("want 20x15, got %dx%d", out.Width, out.Height)
	}

	src := animAsset(40, 30, 2)
	same, err := b.Rescale(context.Background(), src, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if same != src {
		t.Fatal("factor >= 1 must return the input unchanged")
	}
}

func TestApplyLossyFailureKeepsInput(t *testing.T) {
	b := brokenBackend()
	src := animAsset(30, 30, 2)
	out, err := b.ApplyLossy(context.Background(), src, 80)
	if err != nil {
		t.Fatal(err)
	}
	if out != src {
		t.Fatal("a failed lossy pass must return the input unchanged")
	}
	if !b.SupportsLossy() {
		t.Fatal("native backend must advertise lossy support")
	}
}

func TestCropValidatesBeforeSubprocess(t *testing.T) {
	b := brokenBackend()
	_, err := b.Crop(context.Background(), animAsset(20, 20, 1),
		core.CropMargins{Top: 10, Bottom: 10, Left: 10, Right: 10})
	if !errors.Is(err, apperrors.ErrInvalidCrop) {
		t.Fatalf("want ErrInvalidCrop, got %v", err)
	}
}

func TestEncodeDegradesToInputBytes(t *testing.T) {
	b := brokenBackend()
	fb := fallback.New()
	src := animAsset(30, 30, 2)
	raw, err := fb.Encode(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	src.Data = raw

	out, err := b.Encode(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(raw) {
		t.Fatal("failed optimize pass must return the unoptimized bytes")
	}
}

func TestFrameSelections(t *testing.T) {
	sel := frameSelections(8, 4)
	want := []string{"#0", "#2", "#4", "#6"}
	if len(sel) != len(want) {
		t.Fatalf("got %v", sel)
	}
	for i := range want {
		if sel[i] != want[i] {
			t.Fatalf("got %v, want %v", sel, want)
		}
	}

	if sel := frameSelections(5, 9); len(sel) != 5 {
		t.Fatalf("keep beyond total must clamp: %v", sel)
	}
}

func TestUniformDelay(t *testing.T) {
	a := animAsset(20, 20, 3)
	if d, ok := uniformDelay(a); !ok || d != 10 {
		t.Fatalf("got d=%d ok=%v", d, ok)
	}
	a.GIF.Delay[1] = 20
	if _, ok := uniformDelay(a); ok {
		t.Fatal("mixed delays reported as uniform")
	}
}
