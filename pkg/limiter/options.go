package limiter

import (
	"log/slog"
	"time"
)

type config struct {
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

func defaultConfig() config {
	return config{
		limit:  DefaultLimit,
		window: DefaultWindow,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
}

// Option configures a Limiter.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithLimit sets the number of requests admitted per window.
func WithLimit(n int) Option {
	return optionFunc(func(c *config) {
		if n > 0 {
			c.limit = n
		}
	})
}

// WithWindow sets the sliding window length.
func WithWindow(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.window = d
		}
	})
}

// WithPrefix sets the key namespace.
func WithPrefix(p string) Option {
	return optionFunc(func(c *config) {
		if p != "" {
			c.prefix = p
		}
	})
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		if now != nil {
			c.now = now
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		c.logger = l
	})
}
