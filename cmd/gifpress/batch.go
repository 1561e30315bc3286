package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/gifpress/gifpress"
	"github.com/gifpress/gifpress/adapters/storage"
	"github.com/gifpress/gifpress/core"
)

var batchExtensions = map[string]struct{}{
	".gif":  {},
	".mp4":  {},
	".webm": {},
	".avi":  {},
}

// runBatch compresses every animation in each directory. Outputs land in a
// per-run subdirectory so repeated runs never clobber earlier results. One
// bad file is reported and skipped; the rest of the batch proceeds.
func runBatch(ctx context.Context, press *gifpress.Compressor, dirs []string, policy core.Policy) error {
	batchID := uuid.NewString()

	for _, dir := range dirs {
		if err := batchDir(ctx, press, dir, batchID, policy); err != nil {
			fmt.Fprintf(os.Stderr, "gifpress: %s: %v\n", dir, err)
		}
	}
	return nil
}

func batchDir(ctx context.Context, press *gifpress.Compressor, dir, batchID string, policy core.Policy) error {
	// One gifpress at a time per directory; a second invocation fails fast
	// instead of racing over the same outputs.
	lock := flock.New(filepath.Join(dir, ".gifpress.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another gifpress run holds %s", lock.Path())
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	sink, err := storage.NewLocal(filepath.Join(dir, "gifpress-"+batchID[:8]), 0o644)
	if err != nil {
		return err
	}

	var done, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, want := batchExtensions[ext]; !want {
			continue
		}

		inPath := filepath.Join(dir, entry.Name())
		if err := batchOne(ctx, press, sink, inPath, entry.Name(), policy); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "gifpress: %s: %v\n", inPath, err)
			continue
		}
		done++
	}

	fmt.Printf("%s: %d compressed, %d failed\n", dir, done, failed)
	return nil
}

func batchOne(ctx context.Context, press *gifpress.Compressor, sink *storage.Local, inPath, name string, policy core.Policy) error {
	src, closer, err := gifpress.FromFile(inPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	res, err := press.Compress(ctx, src, policy)
	if err != nil {
		return err
	}

	outName := strings.TrimSuffix(name, filepath.Ext(name)) + ".gif"
	key := core.StorageKey{Path: outName}
	if err := sink.PutResult(ctx, key, res); err != nil {
		return err
	}

	fmt.Println(renderSummary(inPath, outName, res))
	return nil
}
