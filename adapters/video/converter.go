// Package video converts short videos into an initial animation asset.  The
// native path shells out to ffmpeg with a palettegen/paletteuse filter graph;
// when ffmpeg is missing or fails, an in-process MJPEG scanner decodes the
// stream frame by frame instead.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
	"github.com/gifpress/gifpress/utils"
)

// Options configures the converter.
type Options struct {
	Binary  string        // default "ffmpeg"
	Timeout time.Duration // per conversion; default 60s

	FPS      int // output frame rate; default 12
	MaxWidth int // output width cap, aspect preserved; default 720
}

// Converter produces an Asset from raw video bytes.
type Converter struct {
	opts      Options
	available bool         // native decoder availability from the one-time probe
	decoder   core.Decoder // parses the GIF that ffmpeg emits
}

// New creates a Converter.  available comes from the capability probe;
// decoder parses ffmpeg's GIF output back into an Asset.
func New(opts Options, available bool, decoder core.Decoder) *Converter {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.FPS <= 0 {
		opts.FPS = 12
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 720
	}
	return &Converter{opts: opts, available: available, decoder: decoder}
}

// Convert decodes a video into an animation asset, preferring the native
// tool.  Both paths failing is ConversionFailed.
func (c *Converter) Convert(ctx context.Context, data []byte, policy core.Policy) (*core.Asset, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryConvert, "video.convert", apperrors.ErrEmptyInput)
	}

	if c.available {
		if asset, err := c.convertNative(ctx, data, policy); err == nil {
			return asset, nil
		}
	}

	asset, err := decodeMJPEG(ctx, data, c.opts.FPS)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConvert, "video.convert", apperrors.ErrConversionFailed)
	}
	return asset, nil
}

// convertNative runs ffmpeg with a two-pass palette filter graph.  The frame
// rate and scale arguments derive from the policy and converter options.
func (c *Converter) convertNative(ctx context.Context, data []byte, policy core.Policy) (*core.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	in, err := os.CreateTemp("", "gifpress-video-*"+extensionFor(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConvert, "video.tmp", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, apperrors.Wrap(apperrors.CategoryConvert, "video.tmp.write", err)
	}
	if err := in.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConvert, "video.tmp.close", err)
	}

	out, err := os.CreateTemp("", "gifpress-video-*.gif")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConvert, "video.tmp", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	filter := fmt.Sprintf(
		"fps=%d,scale='min(iw,%d)':-1:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse",
		c.fps(policy), c.opts.MaxWidth,
	)
	cmd := exec.CommandContext(ctx, c.opts.Binary,
		"-v", "error",
		"-y",
		"-i", in.Name(),
		"-vf", filter,
		"-loop", "0",
		out.Name(),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperrors.Transient("video.ffmpeg",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	encoded, err := os.ReadFile(out.Name())
	if err != nil || len(encoded) == 0 {
		return nil, apperrors.New(apperrors.CategoryConvert, "video.ffmpeg.read", apperrors.ErrConversionFailed)
	}

	asset, err := c.decoder.Decode(ctx, encoded)
	if err != nil {
		return nil, err
	}
	asset.OriginalSize = int64(len(data))
	return asset, nil
}

// fps maps the policy's frame-keep fraction onto an output frame rate.
func (c *Converter) fps(policy core.Policy) int {
	fps := c.opts.FPS
	if policy.FrameRate > 0 && policy.FrameRate < 1 {
		fps = int(float64(fps) * policy.FrameRate)
		if fps < 1 {
			fps = 1
		}
	}
	return fps
}

// extensionFor gives ffmpeg a container hint via the temp file name.
func extensionFor(data []byte) string {
	switch core.Format(utils.DetectFormat(data)) {
	case core.FormatMP4:
		return ".mp4"
	case core.FormatWebM:
		return ".webm"
	case core.FormatAVI:
		return ".avi"
	case core.FormatMJPEG:
		return ".mjpeg"
	}
	return ".bin"
}

var _ core.Converter = (*Converter)(nil)
