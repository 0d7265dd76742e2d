package api

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Server.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	logger         *slog.Logger
	streamInterval time.Duration
	checkOrigin    func(*http.Request) bool
}

func defaultConfig() config {
	return config{
		logger:         slog.Default(),
		streamInterval: 2 * time.Second,
		checkOrigin:    func(*http.Request) bool { return true },
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithStreamInterval sets how often the queue stream pushes a snapshot.
func WithStreamInterval(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.streamInterval = d
		}
	})
}

// WithCheckOrigin sets the websocket origin policy. All origins are
// accepted by default.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return optionFunc(func(c *config) {
		if fn != nil {
			c.checkOrigin = fn
		}
	})
}
