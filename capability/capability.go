// Package capability detects which native tools are installed and usable.
// The probe runs once per process and its result is read-only afterwards;
// re-running it is safe and idempotent.
package capability

import (
	"context"
	"io"
	"os/exec"
	"time"
)

// State records native tool availability.  Read-only after Detect.
type State struct {
	NativeEncoder bool // gifsicle present and responding
	NativeDecoder bool // ffmpeg present and responding
}

// Options names the binaries to probe and bounds each probe call.
type Options struct {
	GifsicleBinary string
	FFmpegBinary   string
	Timeout        time.Duration
}

// Detect probes both native tools with a version query.  Any failure — binary
// not found, non-zero exit, timeout — marks that tool unavailable.  Detect
// never returns an error: an unusable tool is a soft condition that selects
// the fallback path, not a fault.
func Detect(ctx context.Context, opts Options) State {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return State{
		NativeEncoder: toolResponds(ctx, opts.GifsicleBinary, "--version", timeout),
		NativeDecoder: toolResponds(ctx, opts.FFmpegBinary, "-version", timeout),
	}
}

// toolResponds runs `binary versionArg` and reports whether it exited zero
// within the timeout.
func toolResponds(ctx context.Context, binary, versionArg string, timeout time.Duration) bool {
	if binary == "" {
		return false
	}
	if _, err := exec.LookPath(binary); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, versionArg)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}
