package limiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupLimiter(t *testing.T, opts ...Option) (*Limiter, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	return New(rdb, append([]Option{WithClock(clock.Now)}, opts...)...), mr, clock
}

func TestAllow_WindowLimit(t *testing.T) {
	l, _, clock := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < DefaultLimit; i++ {
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, DefaultLimit-i-1, d.Remaining)
	}

	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DefaultWindow, d.RetryAfter)

	// Other keys keep their own allowance.
	d, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clock.Advance(DefaultWindow)
	d, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAllow_SlidesWithOldestEntry(t *testing.T) {
	l, _, clock := setupLimiter(t, WithLimit(2), WithWindow(time.Minute))
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = l.Allow(ctx, "k")
	require.NoError(t, err)

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clock.Advance(30 * time.Second)
	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "second entry still inside the window")
}

func TestAllow_ConcurrentCallersShareWindow(t *testing.T) {
	l, _, _ := setupLimiter(t, WithLimit(20))
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "shared")
			if assert.NoError(t, err) && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), admitted.Load())
}

func TestAllow_KeyNamespace(t *testing.T) {
	l, mr, _ := setupLimiter(t)

	_, err := l.Allow(context.Background(), "1.2.3.4")
	require.NoError(t, err)

	assert.True(t, mr.Exists("ratelimit:1.2.3.4"))
	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "logq:")
	}
}

func newRouter(l *Limiter, calls *int) *gin.Engine {
	r := gin.New()
	r.GET("/guarded", l.Guard(func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}))
	return r
}

func TestGuard_RejectsWithoutInvokingHandler(t *testing.T) {
	l, _, clock := setupLimiter(t, WithLimit(100))
	calls := 0
	r := newRouter(l, &calls)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, do().Code)
	}
	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.Equal(t, 100, calls)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, Message, body["error"])
	assert.Equal(t, "rate_limited", body["code"])

	clock.Advance(DefaultWindow)
	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, 101, calls)
}

func TestMiddleware_FailsClosed(t *testing.T) {
	l, mr, _ := setupLimiter(t)
	mr.Close()

	calls := 0
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/x", func(c *gin.Context) { calls++ })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, calls)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2", "X-Real-IP": "3.3.3.3"}, "1.1.1.1"},
		{"real ip fallback", map[string]string{"X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"empty forwarded", map[string]string{"X-Forwarded-For": " ", "X-Real-IP": "3.3.3.3"}, "3.3.3.3"},
		{"loopback default", nil, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
