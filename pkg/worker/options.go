package worker

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jdziat/logqueue/pkg/queue"
	"github.com/jdziat/logqueue/pkg/security"
)

// Option configures a Worker.
type Option interface {
	ApplyWorker(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyWorker(c *Config) { f(c) }

// Config holds worker configuration.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	WorkerID     string

	EnableHousekeeping bool
	PromoteSpec        string // Cron spec for promoting delayed jobs
	CleanSpec          string // Cron spec for retention cleanup
	StalledSpec        string // Cron spec for recovering stalled active jobs
	StallTimeout       time.Duration
	Retention          queue.Retention

	StorageRetry *RetryConfig
	TakeRetry    *RetryConfig

	HTTPClient *http.Client
	Processor  Processor
	Logger     *slog.Logger
	Now        func() time.Time
}

// Concurrency sets how many jobs run at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// PollInterval sets the minimum spacing between take attempts.
func PollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WithWorkerID overrides the generated worker id used in logs.
func WithWorkerID(id string) Option {
	return optionFunc(func(c *Config) {
		c.WorkerID = id
	})
}

// WithHousekeeping enables promotion of delayed jobs and retention cleanup.
func WithHousekeeping(enabled bool) Option {
	return optionFunc(func(c *Config) {
		c.EnableHousekeeping = enabled
	})
}

// WithRetention sets the maximum ages used by retention cleanup.
func WithRetention(r queue.Retention) Option {
	return optionFunc(func(c *Config) {
		c.Retention = r
	})
}

// WithStallTimeout sets how long a job may stay active before housekeeping
// fails the attempt. Zero or less disables recovery.
func WithStallTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.StallTimeout = d
	})
}

// WithStorageRetry sets the retry policy for store and queue transitions.
func WithStorageRetry(rc RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = &rc
	})
}

// WithHTTPClient sets the client used to download uploaded files.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Config) {
		c.HTTPClient = hc
	})
}

// WithProcessor replaces the default log analyzer.
func WithProcessor(p Processor) Option {
	return optionFunc(func(c *Config) {
		c.Processor = p
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// WithClock sets the time source passed to queue transitions.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		c.Now = now
	})
}

// WithTakeRetry sets the retry policy for taking jobs off the queue.
func WithTakeRetry(rc RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.TakeRetry = &rc
	})
}

// DisableRetry makes every store, queue and take call single-shot.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		once := RetryConfig{MaxAttempts: 1}
		c.StorageRetry = &once
		take := once
		c.TakeRetry = &take
	})
}
