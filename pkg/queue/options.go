package queue

import (
	"time"

	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/security"
)

// MaxPriority is the largest accepted priority value.
// priority<<32 + id must stay exact in a float64 score.
const MaxPriority = 2097151

// Options holds configuration for a single enqueue call.
type Options struct {
	Priority int
	Retry    *core.RetryPolicy
	Attempts int
	Backoff  *core.Backoff
	Delay    time.Duration
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithPriority sets the job priority (lower = served first).
func WithPriority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// WithRetryPolicy replaces the connector's default retry policy for this job.
func WithRetryPolicy(p core.RetryPolicy) Option {
	return optionFunc(func(o *Options) {
		o.Retry = &p
	})
}

// WithAttempts overrides the maximum number of attempts.
// Values are clamped to [1, security.MaxAttempts].
func WithAttempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.Attempts = security.ClampAttempts(n)
	})
}

// WithBackoff overrides the delay policy between attempts.
func WithBackoff(b core.Backoff) Option {
	return optionFunc(func(o *Options) {
		o.Backoff = &b
	})
}

// WithDelay parks the job in the delayed set for d before it becomes waiting.
func WithDelay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// retryPolicy resolves the effective policy on top of def.
func (o *Options) retryPolicy(def core.RetryPolicy) core.RetryPolicy {
	p := def
	if o.Retry != nil {
		p = *o.Retry
	}
	if o.Attempts > 0 {
		p.Attempts = o.Attempts
	}
	if o.Backoff != nil {
		p.Backoff = *o.Backoff
	}
	p.Attempts = security.ClampAttempts(p.Attempts)
	if p.Backoff.Type == "" {
		p.Backoff.Type = core.BackoffFixed
	}
	return p
}
