package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/jdziat/logqueue/pkg/analyze"
	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/queue"
	"github.com/jdziat/logqueue/pkg/security"
)

// Queue is the worker side of the queue connector.
type Queue interface {
	Take(ctx context.Context) (*core.Job, error)
	Complete(ctx context.Context, id string, now time.Time) error
	Fail(ctx context.Context, id, reason string, now time.Time) (queue.FailResult, error)
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)
	Clean(ctx context.Context, state core.JobState, olderThan time.Time, limit int) (int, error)
	Stalled(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// Store records job progress and results.
type Store interface {
	MarkProcessing(ctx context.Context, jobID, userID, fileName string) error
	MarkCompleted(ctx context.Context, jobID string, raw core.RawStats, processedLines, validEntries int64) error
	MarkRetrying(ctx context.Context, jobID, errMsg string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
}

// Processor turns a log file into statistics. *analyze.Analyzer implements it.
type Processor interface {
	Analyze(ctx context.Context, r io.Reader) (analyze.Result, error)
}

// cleanBatch bounds how many jobs one retention pass removes per state.
const cleanBatch = 1000

// DefaultStallTimeout outlasts the download timeout plus analysis of the
// largest accepted upload.
const DefaultStallTimeout = 30 * time.Minute

// errStalled is recorded on attempts recovered by housekeeping.
var errStalled = errors.New("job stalled: no progress within stall timeout")

// Worker processes jobs from the queue.
type Worker struct {
	queue  Queue
	store  Store
	config Config
	logger *slog.Logger
	wg     sync.WaitGroup

	inflight sync.Map // job id -> struct{}
}

// NewWorker creates a worker reading from q and reporting to store.
func NewWorker(q Queue, store Store, opts ...Option) *Worker {
	def := queue.DefaultConfig().Retention
	config := Config{
		Concurrency:  10,
		PollInterval: 100 * time.Millisecond,
		WorkerID:     uuid.New().String(),
		PromoteSpec:  "@every 1s",
		CleanSpec:    "@every 1m",
		StalledSpec:  "@every 30s",
		StallTimeout: DefaultStallTimeout,
		Retention:    def,
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.StorageRetry == nil {
		rc := DefaultRetryConfig()
		config.StorageRetry = &rc
	}
	if config.TakeRetry == nil {
		rc := takeRetryConfig()
		config.TakeRetry = &rc
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if config.Processor == nil {
		config.Processor = analyze.New(analyze.Config{})
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Worker{
		queue:  q,
		store:  store,
		config: config,
		logger: config.Logger.With("worker_id", config.WorkerID),
	}
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.config
}

// Start processes jobs until ctx is cancelled, then waits for in-flight
// jobs to finish and returns the context's error. An invalid housekeeping
// schedule is reported before any job is taken.
func (w *Worker) Start(ctx context.Context) error {
	if w.config.EnableHousekeeping {
		c, err := w.housekeeping(ctx)
		if err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	pace := rate.NewLimiter(rate.Every(w.config.PollInterval), 1)
	slots := make(chan struct{}, w.config.Concurrency)

	w.logger.Info("worker started", "concurrency", w.config.Concurrency, "poll_interval", w.config.PollInterval)
	defer w.logger.Info("worker stopped")

	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		}

		if err := pace.Wait(ctx); err != nil {
			<-slots
			w.wg.Wait()
			return ctx.Err()
		}

		job, err := w.takeWithRetry(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Error("failed to take job after retries", "error", err)
			}
			<-slots
			continue
		}
		if job == nil {
			<-slots
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-slots }()
			w.processJob(ctx, job)
		}()
	}
}

func (w *Worker) takeWithRetry(ctx context.Context) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *w.config.TakeRetry, func() error {
		var takeErr error
		job, takeErr = w.queue.Take(ctx)
		return takeErr
	})
	return job, err
}

func (w *Worker) processJob(ctx context.Context, job *core.Job) {
	w.inflight.Store(job.ID, struct{}{})
	defer w.inflight.Delete(job.ID)

	start := time.Now()
	log := w.logger.With("job_id", job.ID, "attempt", job.AttemptsMade+1)
	log.Info("processing job", "file", job.Payload.OriginalFilename, "priority", job.Priority)

	// Bookkeeping outlives shutdown so a taken job is never left half-recorded.
	bookCtx := context.WithoutCancel(ctx)

	res, err := w.run(ctx, bookCtx, job)
	if err != nil {
		w.handleError(bookCtx, log, job, err)
		return
	}

	if err := w.withRetry(bookCtx, func() error {
		return w.queue.Complete(bookCtx, job.ID, w.config.Now())
	}); err != nil {
		log.Error("failed to complete job after retries", "error", err)
		return
	}
	log.Info("job completed",
		"processed_lines", res.ProcessedLines,
		"valid_entries", res.ValidEntries,
		"duration", time.Since(start))
}

// run performs one attempt up to and including persisting the statistics.
func (w *Worker) run(ctx, bookCtx context.Context, job *core.Job) (res analyze.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	p := job.Payload
	if err := w.withRetry(bookCtx, func() error {
		return w.store.MarkProcessing(bookCtx, job.ID, p.UserID, p.OriginalFilename)
	}); err != nil {
		return res, fmt.Errorf("mark processing: %w", err)
	}

	body, err := w.fetch(ctx, p.FileURL)
	if err != nil {
		return res, err
	}
	defer body.Close()

	res, err = w.config.Processor.Analyze(ctx, io.LimitReader(body, security.MaxUploadSize))
	if err != nil {
		return res, fmt.Errorf("analyze: %w", err)
	}
	res.Stats.JobID = job.ID

	if err := w.withRetry(bookCtx, func() error {
		return w.store.MarkCompleted(bookCtx, job.ID, res.Stats, res.ProcessedLines, res.ValidEntries)
	}); err != nil {
		return res, fmt.Errorf("save stats: %w", err)
	}
	return res, nil
}

func (w *Worker) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if url == "" {
		return nil, errors.New("fetch: job has no file url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	resp, err := w.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// handleError hands the failed attempt to the queue and mirrors the outcome
// into the store.
func (w *Worker) handleError(ctx context.Context, log *slog.Logger, job *core.Job, cause error) {
	msg := security.SanitizeErrorMessage(cause.Error())

	var res queue.FailResult
	err := w.withRetry(ctx, func() error {
		var failErr error
		res, failErr = w.queue.Fail(ctx, job.ID, msg, w.config.Now())
		return failErr
	})
	if errors.Is(err, queue.ErrNotActive) {
		log.Warn("job left the active state before it could be failed", "cause", msg)
		return
	}
	if err != nil {
		log.Error("failed to mark job as failed after retries", "error", err, "cause", msg)
		return
	}

	if res.State == core.StateDelayed {
		log.Warn("job failed, retrying", "error", msg, "attempts_made", res.AttemptsMade, "retry_at", res.RetryAt)
		err = w.withRetry(ctx, func() error { return w.store.MarkRetrying(ctx, job.ID, msg) })
	} else {
		log.Error("job failed", "error", msg, "attempts_made", res.AttemptsMade)
		err = w.withRetry(ctx, func() error { return w.store.MarkFailed(ctx, job.ID, msg) })
	}
	if err != nil {
		log.Error("failed to record job failure", "error", err)
	}
}

func (w *Worker) withRetry(ctx context.Context, op func() error) error {
	return retryWithBackoff(ctx, *w.config.StorageRetry, op)
}

// housekeeping builds the cron schedule for delayed promotion and retention.
func (w *Worker) housekeeping(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cron.DiscardLogger), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.config.PromoteSpec, func() { w.promote(ctx) }); err != nil {
		return nil, fmt.Errorf("worker: promote schedule %q: %w", w.config.PromoteSpec, err)
	}
	if _, err := c.AddFunc(w.config.CleanSpec, func() { w.clean(ctx) }); err != nil {
		return nil, fmt.Errorf("worker: clean schedule %q: %w", w.config.CleanSpec, err)
	}
	if _, err := c.AddFunc(w.config.StalledSpec, func() { w.recoverStalled(ctx) }); err != nil {
		return nil, fmt.Errorf("worker: stalled schedule %q: %w", w.config.StalledSpec, err)
	}
	return c, nil
}

func (w *Worker) promote(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := w.queue.PromoteDelayed(ctx, w.config.Now())
	if err != nil {
		w.logger.Error("failed to promote delayed jobs", "error", err)
		return
	}
	if n > 0 {
		w.logger.Debug("promoted delayed jobs", "count", n)
	}
}

func (w *Worker) clean(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := w.config.Now()
	for state, age := range map[core.JobState]time.Duration{
		core.StateCompleted: w.config.Retention.CompletedMaxAge,
		core.StateFailed:    w.config.Retention.FailedMaxAge,
	} {
		if age <= 0 {
			continue
		}
		n, err := w.queue.Clean(ctx, state, now.Add(-age), cleanBatch)
		if err != nil {
			w.logger.Error("failed to clean jobs", "state", state, "error", err)
			continue
		}
		if n > 0 {
			w.logger.Info("cleaned jobs", "state", state, "count", n)
		}
	}
}

// recoverStalled fails active jobs that outlived the stall timeout, so a
// crashed worker's jobs are retried or failed instead of staying active.
// Jobs this worker is still running are left alone.
func (w *Worker) recoverStalled(ctx context.Context) {
	if ctx.Err() != nil || w.config.StallTimeout <= 0 {
		return
	}
	ids, err := w.queue.Stalled(ctx, w.config.Now().Add(-w.config.StallTimeout), cleanBatch)
	if err != nil {
		w.logger.Error("failed to list stalled jobs", "error", err)
		return
	}
	for _, id := range ids {
		if _, running := w.inflight.Load(id); running {
			continue
		}
		w.handleError(ctx, w.logger.With("job_id", id), &core.Job{ID: id}, errStalled)
	}
}
