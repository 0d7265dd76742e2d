// Package logqueue is a durable log-processing pipeline: uploads are stored,
// prioritized by size and queued on Redis, a worker analyzes each file, and
// dashboards read queue snapshots and aggregated statistics.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages.
//
// Basic usage:
//
//	q, _ := logqueue.NewQueue(logqueue.QueueConfig{Addr: "localhost:6379"})
//	defer q.Close()
//
//	h, _ := q.Enqueue(ctx, logqueue.JobName, payload,
//	    logqueue.WithPriority(logqueue.Classify(payload.FileSize)))
//
//	db, _ := logqueue.OpenDB("sqlite", "logqueue.db")
//	store := logqueue.NewGormStorage(db)
//	store.Migrate(ctx)
//
//	w := logqueue.NewWorker(q, store, logqueue.Concurrency(4))
//	w.Start(ctx)
package logqueue

import (
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/introspect"
	"github.com/jdziat/logqueue/pkg/priority"
	"github.com/jdziat/logqueue/pkg/queue"
	"github.com/jdziat/logqueue/pkg/security"
	"github.com/jdziat/logqueue/pkg/stats"
	"github.com/jdziat/logqueue/pkg/storage"
	"github.com/jdziat/logqueue/pkg/worker"
)

// Type aliases
type (
	// Job is a queued unit of work as stored by the queue backend.
	Job = core.Job

	// JobState is the queue-backend state of a job.
	JobState = core.JobState

	// Payload is the data a log-analysis job carries to the worker.
	Payload = core.Payload

	// RetryPolicy controls how many times the backend runs a job.
	RetryPolicy = core.RetryPolicy

	// Backoff is the delay policy applied after a failed attempt.
	Backoff = core.Backoff

	// Snapshot is a point-in-time read of the queue.
	Snapshot = core.Snapshot

	// View is the aggregated statistics of one or many jobs.
	View = core.View

	// RawStats is the per-job statistics record produced by the worker.
	RawStats = core.RawStats

	// Error is returned at the boundary of every public operation.
	Error = core.Error

	// Queue is the Redis-backed queue connector.
	Queue = queue.Connector

	// QueueConfig configures a Queue.
	QueueConfig = queue.Config

	// Option modifies enqueue options.
	Option = queue.Option

	// Worker processes jobs from the queue.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.Option

	// GormStorage stores job status and statistics rows.
	GormStorage = storage.GormStorage

	// StatsEngine aggregates statistics records.
	StatsEngine = stats.Engine

	// Introspector builds queue snapshots.
	Introspector = introspect.Service
)

// JobName is the type tag of every log-analysis job.
const JobName = core.JobName

// Job states
const (
	StateWaiting   = core.StateWaiting
	StateActive    = core.StateActive
	StateCompleted = core.StateCompleted
	StateFailed    = core.StateFailed
	StateDelayed   = core.StateDelayed
	StateUnknown   = core.StateUnknown
)

// Limits
const (
	MaxPriority    = queue.MaxPriority
	MaxUploadSize  = security.MaxUploadSize
	MaxConcurrency = security.MaxConcurrency
)

// Error variables
var (
	ErrInvalidPriority = core.ErrInvalidPriority
	ErrJobNotFound     = core.ErrJobNotFound
	ErrQueueClosed     = queue.ErrClosed
)

// NewQueue creates a queue connector. The Redis connection opens on first use.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	return queue.New(cfg)
}

// OpenDB connects to driver ("sqlite" or "postgres") at dsn.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	return storage.Open(driver, dsn)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewWorker creates a worker reading from q and reporting to store.
func NewWorker(q *Queue, store *GormStorage, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, store, opts...)
}

// NewIntrospector creates a snapshot reader over q.
func NewIntrospector(q *Queue) *Introspector {
	return introspect.New(q)
}

// NewStatsEngine creates an engine with the standard level vocabulary.
func NewStatsEngine() *StatsEngine {
	return stats.NewEngine(stats.DefaultConfig())
}

// Classify returns the priority tier for a payload of sizeBytes.
func Classify(sizeBytes int64) int {
	return priority.Classify(sizeBytes)
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 5s.
func DefaultRetryPolicy() RetryPolicy {
	return core.DefaultRetryPolicy()
}

// KindOf returns the error category of err.
func KindOf(err error) core.Kind {
	return core.KindOf(err)
}

// Enqueue option functions

// WithPriority sets the job priority (lower runs first).
func WithPriority(p int) Option {
	return queue.WithPriority(p)
}

// WithRetryPolicy overrides the queue's default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return queue.WithRetryPolicy(p)
}

// WithDelay holds the job in the delayed state for d.
func WithDelay(d time.Duration) Option {
	return queue.WithDelay(d)
}

// Worker option functions

// Concurrency sets how many jobs a worker runs at once.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// PollInterval sets the minimum spacing between take attempts.
func PollInterval(d time.Duration) WorkerOption {
	return worker.PollInterval(d)
}

// WithHousekeeping enables delayed promotion and retention cleanup.
func WithHousekeeping(enabled bool) WorkerOption {
	return worker.WithHousekeeping(enabled)
}
