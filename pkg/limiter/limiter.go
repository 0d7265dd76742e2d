// Package limiter provides a sliding-window admission limiter backed by a
// Redis sorted set, plus gin wrappers that apply it per client address.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jdziat/logqueue/pkg/core"
)

// Defaults applied when options are not given.
const (
	DefaultLimit  = 100
	DefaultWindow = 15 * time.Minute
	DefaultPrefix = "ratelimit"
)

// Message is returned to denied callers.
const Message = "Too many requests, please try again later."

// Drops entries older than the window, then admits when fewer than limit remain.
// KEYS: window key
// ARGV: nowMs, windowMs, limit, member
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", string.format("%.0f", now - window))
local count = redis.call("ZCARD", KEYS[1])
if count < limit then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {1, limit - count - 1, 0}
end
local retry = window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if #oldest == 2 then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, string.format("%.0f", retry)}
`)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most limit requests per key within a sliding window.
// Counting happens inside Redis, so limiters in different processes sharing
// a backend enforce one allowance per key.
type Limiter struct {
	rdb    redis.Scripter
	cfg    config
	logger *slog.Logger
}

// New creates a Limiter using rdb as the counter store.
func New(rdb redis.Scripter, opts ...Option) *Limiter {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{rdb: rdb, cfg: cfg, logger: logger}
}

// Allow records one request for key and reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{l.cfg.prefix + ":" + key},
		l.cfg.now().UnixMilli(),
		l.cfg.window.Milliseconds(),
		l.cfg.limit,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("limiter: allow %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("limiter: allow %s: unexpected reply %v", key, res)
	}
	return Decision{
		Allowed:    toInt64(res[0]) == 1,
		Remaining:  int(toInt64(res[1])),
		RetryAfter: time.Duration(toInt64(res[2])) * time.Millisecond,
	}, nil
}

// Middleware applies the limiter to every request in a gin chain.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.admit(c) {
			c.Next()
		}
	}
}

// Guard wraps a single handler. Denied requests never reach h.
func (l *Limiter) Guard(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.admit(c) {
			h(c)
		}
	}
}

// admit writes the rejection response itself and returns false when the
// request must not proceed. Counter-store failures reject with 500.
func (l *Limiter) admit(c *gin.Context) bool {
	ip := ClientIP(c.Request)
	d, err := l.Allow(c.Request.Context(), ip)
	if err != nil {
		l.logger.Error("rate limit check failed", "ip", ip, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
			"code":  core.KindInternal,
		})
		return false
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(l.cfg.limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		secs := int((d.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		l.logger.Warn("rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": Message,
			"code":  core.KindRateLimited,
		})
		return false
	}
	return true
}

// ClientIP resolves the caller address: the first X-Forwarded-For entry,
// then X-Real-IP, then loopback.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "127.0.0.1"
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
