package gifsicle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "github.com/gifpress/gifpress/errors"
)

// run executes one gifsicle invocation: write input to a temp file, run
//
//	gifsicle <flags> -i <in> <selections> -o <out>
//
// wait with the configured timeout, and read back the output.  Both temp
// files are removed on every exit path; a timeout kills the subprocess via
// the command context.
func (b *Backend) run(ctx context.Context, input []byte, flags, selections []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	in, err := os.CreateTemp("", "gifpress-in-*.gif")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "gifsicle.tmp", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(input); err != nil {
		in.Close()
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "gifsicle.tmp.write", err)
	}
	if err := in.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "gifsicle.tmp.close", err)
	}

	out, err := os.CreateTemp("", "gifpress-out-*.gif")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "gifsicle.tmp", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	args := make([]string, 0, len(flags)+len(selections)+4)
	args = append(args, flags...)
	args = append(args, "-i", in.Name())
	args = append(args, selections...)
	args = append(args, "-o", out.Name())

	cmd := exec.CommandContext(ctx, b.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperrors.Transient("gifsicle.run",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryBackend, "gifsicle.read", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryBackend, "gifsicle.read", apperrors.ErrEmptyInput)
	}
	return data, nil
}
