package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gifpress/gifpress/config"
	apperrors "github.com/gifpress/gifpress/errors"
	"github.com/gifpress/gifpress/utils"
)

// StepBuilder produces the preprocessing steps a policy asks for.  Injected
// by the facade so core does not import the pipeline package.
type StepBuilder func(backend Backend, policy Policy) []Step

// Processor is the central orchestrator: decode (or convert), preprocess,
// then hand the asset to the search engine.  Safe for concurrent use.
type Processor struct {
	cfg       config.Config
	registry  Registry
	backend   Backend
	engine    *Engine
	decoder   Decoder
	converter Converter
	buildPre  StepBuilder

	hooks   []Hook
	logger  Logger
	metrics MetricsCollector

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// NewProcessor wires a Processor.  Call Start() before submitting async jobs;
// call Stop() when done.  Synchronous Compress calls work without Start.
func NewProcessor(cfg config.Config, reg Registry, backend Backend, engine *Engine, dec Decoder, conv Converter, buildPre StepBuilder) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:       cfg,
		registry:  reg,
		backend:   backend,
		engine:    engine,
		decoder:   dec,
		converter: conv,
		buildPre:  buildPre,
		jobQueue:  make(chan Job, queueSize),
		shutdown:  make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) {
	p.logger = l
	p.engine.SetLogger(l)
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// AddHook registers a stage hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// AddAttemptObserver registers a per-attempt observer on the engine.
func (p *Processor) AddAttemptObserver(o AttemptObserver) { p.engine.AddObserver(o) }

// Registry returns the backend registry so callers can register alternative
// backends after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Backend returns the selected transform backend.
func (p *Processor) Backend() Backend { return p.backend }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop drains the queue and shuts down all workers.
func (p *Processor) Stop() {
	close(p.shutdown)
	p.wg.Wait()
}

// Compress is the primary synchronous API: one animation processed start to
// finish.  Fatal errors abort this item only.
func (p *Processor) Compress(ctx context.Context, src Source, policy Policy) (*SearchResult, error) {
	start := time.Now()
	policy = p.fillPolicy(policy)

	// --- 1. Drain source into memory (respecting max size limit) -------------
	limitedR := src.Reader
	if p.cfg.MaxInputBytes > 0 {
		limitedR = &utils.LimitedReader{R: src.Reader, Max: p.cfg.MaxInputBytes}
	}
	buf, err := utils.DrainReader(ctx, limitedR, p.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "compress.drain", err)
	}
	rawBytes := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)
	if len(rawBytes) == 0 {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, apperrors.New(apperrors.CategoryInput, "compress.drain", apperrors.ErrEmptyInput)
	}

	// --- 2. Detect container and build the initial asset ---------------------
	format := Format(utils.DetectFormat(rawBytes))
	if src.ContentType != "" {
		if hinted := contentTypeToFormat(src.ContentType); hinted != FormatUnknown {
			format = hinted
		}
	}

	timings := make(map[string]time.Duration)
	var asset *Asset
	switch {
	case format == FormatGIF:
		asset, err = p.runStage(ctx, "decode", timings, func(ctx context.Context) (*Asset, error) {
			return p.decoder.Decode(ctx, rawBytes)
		})
	case format.IsVideo():
		asset, err = p.runStage(ctx, "convert", timings, func(ctx context.Context) (*Asset, error) {
			return p.converter.Convert(ctx, rawBytes, policy)
		})
	default:
		err = apperrors.New(apperrors.CategoryInput, "compress.detect", apperrors.ErrUnsupportedFormat)
	}
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, err
	}

	// --- 3. Preprocess: one-shot caller transforms, applied verbatim ---------
	prePolicy := policy
	if format.IsVideo() {
		// The converter already derived its frame rate from the policy;
		// sampling again here would apply the reduction twice.
		prePolicy.FrameRate = 0
	}
	for _, step := range p.buildPre(p.backend, prePolicy) {
		step := step
		asset, err = p.runStage(ctx, step.Name(), timings, func(ctx context.Context) (*Asset, error) {
			return p.runWithRetry(ctx, step, asset)
		})
		if err != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, err
		}
	}

	// --- 4. Adaptive search ---------------------------------------------------
	var result *SearchResult
	_, err = p.runStage(ctx, "search", timings, func(ctx context.Context) (*Asset, error) {
		var runErr error
		result, runErr = p.engine.Run(ctx, asset, policy)
		return asset, runErr
	})
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, err
	}

	atomic.AddInt64(&p.processedCount, 1)
	result.StageTimings = timings
	result.ProcessingTime = time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordAttempts(len(result.Attempts))
		p.metrics.RecordThroughput(result.SizeBytes)
	}
	return result, nil
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch compresses multiple sources concurrently (fan-out / fan-in).  Each
// item is fully isolated: its own asset, attempt records, and result.  One
// failed item never aborts the others.
func (p *Processor) Batch(ctx context.Context, sources []Source, policy Policy) ([]*SearchResult, []error) {
	results := make([]*SearchResult, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			r, e := p.Compress(ctx, s, policy)
			results[idx] = r
			errs[idx] = e
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.cfg.JobTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := p.Compress(ctx, job.Source, job.Policy)
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Result: result, Err: err}
	}
}

// runStage wraps one processing stage with hooks, timing, and metrics.
func (p *Processor) runStage(ctx context.Context, name string, timings map[string]time.Duration, fn func(context.Context) (*Asset, error)) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, name, err)
	}
	p.notifyBefore(ctx, name, nil)
	start := time.Now()
	asset, err := fn(ctx)
	elapsed := time.Since(start)
	timings[name] = elapsed
	p.notifyAfter(ctx, name, asset, elapsed, err)
	if p.metrics != nil {
		p.metrics.RecordStageTime(name, elapsed)
		if err != nil {
			p.metrics.RecordError(name, string(categoryOf(err)))
		}
	}
	return asset, err
}

func (p *Processor) runWithRetry(ctx context.Context, step Step, a *Asset) (*Asset, error) {
	maxRetries := p.cfg.MaxRetries
	delay := p.cfg.RetryDelay

	var (
		result *Asset
		err    error
	)
	for i := 0; i <= maxRetries; i++ {
		result, err = step.Execute(ctx, a)
		if err == nil || !apperrors.IsRetryable(err) {
			return result, err
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return result, err
}

func (p *Processor) notifyBefore(ctx context.Context, name string, a *Asset) {
	for _, h := range p.hooks {
		h.BeforeStage(ctx, name, a)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, a *Asset, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStage(ctx, name, a, d, err)
	}
}

// fillPolicy layers configured search defaults under zero policy fields.
func (p *Processor) fillPolicy(policy Policy) Policy {
	s := p.cfg.Search
	if policy.TargetBytes <= 0 {
		policy.TargetBytes = TargetBytesFromMB(s.TargetMB)
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = s.MaxAttempts
	}
	if policy.MinColors <= 0 {
		policy.MinColors = s.MinColors
	}
	if policy.MinScale <= 0 {
		policy.MinScale = s.MinScale
	}
	return policy
}

func categoryOf(err error) apperrors.Category {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return apperrors.CategoryPipeline
}

// contentTypeToFormat maps MIME types to Format values.
func contentTypeToFormat(ct string) Format {
	switch ct {
	case "image/gif":
		return FormatGIF
	case "video/mp4":
		return FormatMP4
	case "video/webm":
		return FormatWebM
	case "video/x-msvideo", "video/avi":
		return FormatAVI
	case "video/x-motion-jpeg", "multipart/x-mixed-replace":
		return FormatMJPEG
	}
	return FormatUnknown
}

// ProcessedCount returns the total number of successfully processed items.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
