// Package storage provides StorageAdapter implementations for publishing
// compressed outputs and their search reports.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gifpress/gifpress/core"
	apperrors "github.com/gifpress/gifpress/errors"
	"github.com/gifpress/gifpress/utils"
)

// Local stores outputs on the local filesystem.
type Local struct {
	rootDir     string
	permissions os.FileMode
	chunkSize   int
}

// NewLocal creates a Local storage adapter rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: mkdir %s: %w", dir, err)
	}
	return &Local{rootDir: dir, permissions: perm, chunkSize: 256 * 1024}, nil
}

func (l *Local) absPath(key core.StorageKey) string {
	// Bucket maps to a subdirectory; Path is the filename.
	return filepath.Join(l.rootDir, filepath.Clean(key.Bucket), filepath.Clean(key.Path))
}

func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}

	path := l.absPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.open", err)
	}
	defer f.Close()

	cw := &utils.ChunkedWriter{W: f, ChunkSize: l.chunkSize}
	if _, err = io.Copy(cw, r); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.copy", err)
	}

	// Metadata lands in a side-car JSON file next to the output.
	if len(meta) > 0 {
		metaPath := path + ".meta.json"
		mf, err := os.OpenFile(metaPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
		if err == nil {
			_ = json.NewEncoder(mf).Encode(meta)
			mf.Close()
		}
	}
	return nil
}

// PutResult publishes a finished search result and a report side-car
// summarising how the target was (or was not) reached.
func (l *Local) PutResult(ctx context.Context, key core.StorageKey, res *core.SearchResult) error {
	meta := map[string]string{
		"original_size": fmt.Sprintf("%d", res.OriginalSize),
		"final_size":    fmt.Sprintf("%d", res.SizeBytes),
		"met_target":    fmt.Sprintf("%t", res.MetTarget),
		"state":         string(res.State),
		"attempts":      fmt.Sprintf("%d", len(res.Attempts)),
	}
	if err := l.Put(ctx, key, utils.BytesReader(res.Data), meta); err != nil {
		return err
	}

	reportPath := l.absPath(key) + ".report.json"
	rf, err := os.OpenFile(reportPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.report", err)
	}
	defer rf.Close()

	enc := json.NewEncoder(rf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reportFor(res)); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.report", err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	f, err := os.Open(l.absPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get", fmt.Errorf("key not found: %v", key))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	path := l.absPath(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	_ = os.Remove(path + ".meta.json")
	_ = os.Remove(path + ".report.json")
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	_, err := os.Stat(l.absPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}

// report is the serialised shape of a search outcome.
type report struct {
	OriginalSize   int64           `json:"original_size"`
	FinalSize      int64           `json:"final_size"`
	MetTarget      bool            `json:"met_target"`
	State          string          `json:"state"`
	ProcessingMs   int64           `json:"processing_ms"`
	Attempts       []attemptReport `json:"attempts"`
	StageTimingsMs map[string]int64 `json:"stage_timings_ms,omitempty"`
}

type attemptReport struct {
	Attempt   int     `json:"attempt"`
	SizeBytes int64   `json:"size_bytes"`
	Improved  bool    `json:"improved"`
	Colors    int     `json:"colors"`
	Lossy     int     `json:"lossy"`
	Scale     float64 `json:"scale"`
	FrameRate float64 `json:"frame_rate"`
	Backend   string  `json:"backend"`
}

func reportFor(res *core.SearchResult) report {
	r := report{
		OriginalSize: res.OriginalSize,
		FinalSize:    res.SizeBytes,
		MetTarget:    res.MetTarget,
		State:        string(res.State),
		ProcessingMs: res.ProcessingTime.Milliseconds(),
		Attempts:     make([]attemptReport, 0, len(res.Attempts)),
	}
	for _, a := range res.Attempts {
		r.Attempts = append(r.Attempts, attemptReport{
			Attempt:   a.Attempt,
			SizeBytes: a.SizeBytes,
			Improved:  a.Improved,
			Colors:    a.Params.Colors,
			Lossy:     a.Params.Lossy,
			Scale:     a.Params.Scale,
			FrameRate: a.Params.FrameRate,
			Backend:   string(a.Backend),
		})
	}
	if len(res.StageTimings) > 0 {
		r.StageTimingsMs = make(map[string]int64, len(res.StageTimings))
		for k, v := range res.StageTimings {
			r.StageTimingsMs[k] = v.Milliseconds()
		}
	}
	return r
}

var _ core.StorageAdapter = (*Local)(nil)
