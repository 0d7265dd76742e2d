package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/security"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("queue: connector closed")

// ErrNotActive is returned when a transition expects an active job.
var ErrNotActive = errors.New("queue: job is not active")

// Retention bounds how long terminal jobs are kept.
type Retention struct {
	KeepCompleted   int           // Completed jobs kept after each completion, default 1000
	CompletedMaxAge time.Duration // Default 24h
	FailedMaxAge    time.Duration // Default 7 days
}

// Config configures a Connector.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string // Key prefix, default "logq"
	Name         string // Queue name, default "log-processing"
	DefaultRetry core.RetryPolicy
	Retention    Retention
	Logger       *slog.Logger
	Now          func() time.Time
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Prefix:       "logq",
		Name:         "log-processing",
		DefaultRetry: core.DefaultRetryPolicy(),
		Retention: Retention{
			KeepCompleted:   1000,
			CompletedMaxAge: 24 * time.Hour,
			FailedMaxAge:    7 * 24 * time.Hour,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.DefaultRetry.Attempts == 0 {
		c.DefaultRetry = def.DefaultRetry
	}
	if c.Retention.KeepCompleted == 0 {
		c.Retention.KeepCompleted = def.Retention.KeepCompleted
	}
	if c.Retention.CompletedMaxAge == 0 {
		c.Retention.CompletedMaxAge = def.Retention.CompletedMaxAge
	}
	if c.Retention.FailedMaxAge == 0 {
		c.Retention.FailedMaxAge = def.Retention.FailedMaxAge
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Connector owns the process's connection to the queue backend.
// The Redis client is created on first use and shared by all callers.
type Connector struct {
	cfg  Config
	keys keys

	once   sync.Once
	mu     sync.RWMutex
	client *redis.Client
	closed bool
}

type keys struct {
	id, job, prioritized, schedule string
	states                         map[core.JobState]string
}

func newKeys(prefix, name string) keys {
	base := prefix + ":" + name + ":"
	k := keys{
		id:          base + "id",
		job:         base + "job:",
		prioritized: base + "prioritized",
		schedule:    base + "schedule",
		states:      make(map[core.JobState]string, len(core.States)),
	}
	for _, s := range core.States {
		k.states[s] = base + string(s)
	}
	return k
}

// New creates a Connector. No connection is made until the first operation.
func New(cfg Config) (*Connector, error) {
	cfg = cfg.withDefaults()
	if err := security.ValidateQueueName(cfg.Prefix); err != nil {
		return nil, fmt.Errorf("queue: prefix %q: %w", cfg.Prefix, err)
	}
	if err := security.ValidateQueueName(cfg.Name); err != nil {
		return nil, fmt.Errorf("queue: name %q: %w", cfg.Name, err)
	}
	return &Connector{cfg: cfg, keys: newKeys(cfg.Prefix, cfg.Name)}, nil
}

// Config returns the effective configuration.
func (c *Connector) Config() Config {
	return c.cfg
}

// Client returns the shared Redis client, creating it on first call.
func (c *Connector) Client() (*redis.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.once.Do(func() {
		c.client = redis.NewClient(&redis.Options{
			Addr:     c.cfg.Addr,
			Password: c.cfg.Password,
			DB:       c.cfg.DB,
		})
		c.cfg.Logger.Info("queue connection created", "addr", c.cfg.Addr, "queue", c.cfg.Name)
	})
	return c.client, nil
}

// Ping checks that the backend is reachable.
func (c *Connector) Ping(ctx context.Context) error {
	rdb, err := c.Client()
	if err != nil {
		return err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

// Close closes the connection. Later calls fail with ErrClosed.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Enqueue writes a new job in the waiting set (or delayed with WithDelay).
// The connector's DefaultRetry applies unless overridden by options.
func (c *Connector) Enqueue(ctx context.Context, name string, payload core.Payload, opts ...Option) (core.JobHandle, error) {
	if err := security.ValidateQueueName(name); err != nil {
		return core.JobHandle{}, fmt.Errorf("queue: job name %q: %w", name, err)
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	if options.Priority < 0 || options.Priority > MaxPriority {
		return core.JobHandle{}, core.ErrInvalidPriority
	}
	retry := options.retryPolicy(c.cfg.DefaultRetry)

	data, err := json.Marshal(payload)
	if err != nil {
		return core.JobHandle{}, fmt.Errorf("queue: marshal payload: %w", err)
	}

	rdb, err := c.Client()
	if err != nil {
		return core.JobHandle{}, err
	}

	id, err := enqueueScript.Run(ctx, rdb,
		[]string{c.keys.id, c.keys.states[core.StateWaiting], c.keys.prioritized,
			c.keys.states[core.StateDelayed], c.keys.schedule},
		c.keys.job,
		name,
		string(data),
		options.Priority,
		retry.Attempts,
		string(retry.Backoff.Type),
		retry.Backoff.Delay.Milliseconds(),
		c.cfg.Now().UnixMilli(),
		options.Delay.Milliseconds(),
	).Text()
	if err != nil {
		return core.JobHandle{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	return core.JobHandle{ID: id}, nil
}

// Count returns the number of jobs in state.
func (c *Connector) Count(ctx context.Context, state core.JobState) (int64, error) {
	key, ok := c.keys.states[state]
	if !ok {
		return 0, fmt.Errorf("queue: count: unknown state %q", state)
	}
	rdb, err := c.Client()
	if err != nil {
		return 0, err
	}
	n, err := rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: count %s: %w", state, err)
	}
	return n, nil
}

// Counts returns the size of every state set in one round trip.
func (c *Connector) Counts(ctx context.Context) (core.StateCounts, error) {
	var counts core.StateCounts
	rdb, err := c.Client()
	if err != nil {
		return counts, err
	}
	cmds := make(map[core.JobState]*redis.IntCmd, len(core.States))
	_, err = rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, s := range core.States {
			cmds[s] = p.ZCard(ctx, c.keys.states[s])
		}
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("queue: counts: %w", err)
	}
	for s, cmd := range cmds {
		counts.Set(s, cmd.Val())
	}
	return counts, nil
}

// ListJobs returns up to limit jobs from the given state sets after skipping offset.
// With byPriority and only the waiting state, jobs are ordered by priority then
// submission order. Otherwise the sets are merged by most recent transition.
// Jobs removed between the listing and the read are skipped.
func (c *Connector) ListJobs(ctx context.Context, states []core.JobState, offset, limit int, byPriority bool) ([]*core.Job, error) {
	if limit <= 0 || len(states) == 0 {
		return []*core.Job{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	for _, s := range states {
		if _, ok := c.keys.states[s]; !ok {
			return nil, fmt.Errorf("queue: list: unknown state %q", s)
		}
	}
	rdb, err := c.Client()
	if err != nil {
		return nil, err
	}

	var ids []string
	var from []core.JobState
	if byPriority && len(states) == 1 && states[0] == core.StateWaiting {
		ids, err = rdb.ZRange(ctx, c.keys.prioritized, int64(offset), int64(offset+limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: list by priority: %w", err)
		}
		from = make([]core.JobState, len(ids))
		for i := range from {
			from[i] = core.StateWaiting
		}
	} else {
		ids, from, err = c.listRecent(ctx, rdb, states, offset, limit)
		if err != nil {
			return nil, err
		}
	}

	return c.loadJobs(ctx, rdb, ids, from)
}

type member struct {
	id    string
	score float64
	state core.JobState
}

func (c *Connector) listRecent(ctx context.Context, rdb *redis.Client, states []core.JobState, offset, limit int) ([]string, []core.JobState, error) {
	stop := int64(offset + limit - 1)
	cmds := make([]*redis.ZSliceCmd, len(states))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, s := range states {
			cmds[i] = p.ZRevRangeWithScores(ctx, c.keys.states[s], 0, stop)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("queue: list: %w", err)
	}

	var merged []member
	for i, cmd := range cmds {
		for _, z := range cmd.Val() {
			id, _ := z.Member.(string)
			merged = append(merged, member{id: id, score: z.Score, state: states[i]})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return idLess(merged[j].id, merged[i].id)
	})

	if offset >= len(merged) {
		return nil, nil, nil
	}
	merged = merged[offset:]
	if len(merged) > limit {
		merged = merged[:limit]
	}
	ids := make([]string, len(merged))
	from := make([]core.JobState, len(merged))
	for i, m := range merged {
		ids[i] = m.id
		from[i] = m.state
	}
	return ids, from, nil
}

// idLess orders numeric ids numerically.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (c *Connector) loadJobs(ctx context.Context, rdb *redis.Client, ids []string, from []core.JobState) ([]*core.Job, error) {
	jobs := make([]*core.Job, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, c.keys.job+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: load jobs: %w", err)
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := decodeJob(ids[i], fields)
		if err != nil {
			return nil, err
		}
		job.State = from[i]
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetState resolves the live state of a job by set membership.
func (c *Connector) GetState(ctx context.Context, id string) (core.JobState, error) {
	rdb, err := c.Client()
	if err != nil {
		return core.StateUnknown, err
	}
	cmds := make([]*redis.FloatCmd, len(core.States))
	_, err = rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, s := range core.States {
			cmds[i] = p.ZScore(ctx, c.keys.states[s], id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.StateUnknown, fmt.Errorf("queue: get state: %w", err)
	}
	for i, cmd := range cmds {
		switch err := cmd.Err(); {
		case err == nil:
			return core.States[i], nil
		case !errors.Is(err, redis.Nil):
			return core.StateUnknown, fmt.Errorf("queue: get state: %w", err)
		}
	}
	return core.StateUnknown, nil
}

// GetJob returns a job with its live state, or core.ErrJobNotFound.
func (c *Connector) GetJob(ctx context.Context, id string) (*core.Job, error) {
	rdb, err := c.Client()
	if err != nil {
		return nil, err
	}
	fields, err := rdb.HGetAll(ctx, c.keys.job+id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrJobNotFound
	}
	job, err := decodeJob(id, fields)
	if err != nil {
		return nil, err
	}
	if job.State, err = c.GetState(ctx, id); err != nil {
		return nil, err
	}
	return job, nil
}

// Take moves the highest-priority waiting job to active.
// Returns nil, nil when nothing is waiting.
func (c *Connector) Take(ctx context.Context) (*core.Job, error) {
	rdb, err := c.Client()
	if err != nil {
		return nil, err
	}
	id, err := takeScript.Run(ctx, rdb,
		[]string{c.keys.prioritized, c.keys.states[core.StateWaiting], c.keys.states[core.StateActive]},
		c.keys.job, c.cfg.Now().UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: take: %w", err)
	}

	fields, err := rdb.HGetAll(ctx, c.keys.job+id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: take: %w", err)
	}
	job, err := decodeJob(id, fields)
	if err != nil {
		return nil, err
	}
	job.State = core.StateActive
	return job, nil
}

// Complete moves an active job to completed and trims the completed set.
func (c *Connector) Complete(ctx context.Context, id string, now time.Time) error {
	rdb, err := c.Client()
	if err != nil {
		return err
	}
	ok, err := completeScript.Run(ctx, rdb,
		[]string{c.keys.states[core.StateActive], c.keys.states[core.StateCompleted]},
		c.keys.job, id, now.UnixMilli(), c.cfg.Retention.KeepCompleted,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", id, err)
	}
	if ok == 0 {
		return fmt.Errorf("queue: complete %s: %w", id, ErrNotActive)
	}
	return nil
}

// FailResult describes where a failed attempt left the job.
type FailResult struct {
	State        core.JobState // StateDelayed while attempts remain, else StateFailed
	AttemptsMade int
	RetryAt      time.Time // Zero unless delayed
}

// Fail records a failed attempt. While attempts remain the job is delayed
// by its backoff policy; otherwise it becomes failed.
func (c *Connector) Fail(ctx context.Context, id, reason string, now time.Time) (FailResult, error) {
	rdb, err := c.Client()
	if err != nil {
		return FailResult{}, err
	}
	res, err := failScript.Run(ctx, rdb,
		[]string{c.keys.states[core.StateActive], c.keys.states[core.StateDelayed],
			c.keys.schedule, c.keys.states[core.StateFailed]},
		c.keys.job, id, now.UnixMilli(), security.SanitizeErrorMessage(reason),
	).Slice()
	if err != nil {
		return FailResult{}, fmt.Errorf("queue: fail %s: %w", id, err)
	}
	if len(res) != 3 {
		return FailResult{}, fmt.Errorf("queue: fail %s: unexpected reply %v", id, res)
	}
	state, _ := res[0].(string)
	if state == "" {
		return FailResult{}, fmt.Errorf("queue: fail %s: %w", id, ErrNotActive)
	}
	out := FailResult{State: core.JobState(state), AttemptsMade: int(toInt64(res[1]))}
	if out.State == core.StateDelayed {
		out.RetryAt = time.UnixMilli(toInt64(res[2]))
	}
	return out, nil
}

// PromoteDelayed moves delayed jobs due at or before now back to waiting.
func (c *Connector) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	rdb, err := c.Client()
	if err != nil {
		return 0, err
	}
	n, err := promoteScript.Run(ctx, rdb,
		[]string{c.keys.schedule, c.keys.states[core.StateDelayed],
			c.keys.states[core.StateWaiting], c.keys.prioritized},
		c.keys.job, now.UnixMilli(), 1000,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: promote delayed: %w", err)
	}
	return n, nil
}

// Clean removes up to limit terminal jobs that entered state before olderThan.
func (c *Connector) Clean(ctx context.Context, state core.JobState, olderThan time.Time, limit int) (int, error) {
	if !state.Terminal() {
		return 0, fmt.Errorf("queue: clean: state %q is not terminal", state)
	}
	if limit <= 0 {
		limit = 1000
	}
	rdb, err := c.Client()
	if err != nil {
		return 0, err
	}
	n, err := cleanScript.Run(ctx, rdb,
		[]string{c.keys.states[state]},
		c.keys.job, olderThan.UnixMilli(), limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: clean %s: %w", state, err)
	}
	return n, nil
}

// Stalled returns up to limit active job ids taken before olderThan,
// oldest first. Recovering them is left to the caller through Fail.
func (c *Connector) Stalled(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rdb, err := c.Client()
	if err != nil {
		return nil, err
	}
	ids, err := rdb.ZRangeByScore(ctx, c.keys.states[core.StateActive], &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: stalled: %w", err)
	}
	return ids, nil
}

func decodeJob(id string, f map[string]string) (*core.Job, error) {
	job := &core.Job{
		ID:           id,
		Name:         f["name"],
		Priority:     atoi(f["priority"]),
		AttemptsMade: atoi(f["attemptsMade"]),
		FailedReason: f["failedReason"],
		Timestamp:    time.UnixMilli(atoi64(f["timestamp"])),
		ProcessedOn:  msTime(f["processedOn"]),
		FinishedOn:   msTime(f["finishedOn"]),
		Retry: core.RetryPolicy{
			Attempts: atoi(f["attempts"]),
			Backoff: core.Backoff{
				Type:  core.BackoffType(f["backoffType"]),
				Delay: time.Duration(atoi64(f["backoffDelay"])) * time.Millisecond,
			},
		},
	}
	if data := f["data"]; data != "" {
		if err := json.Unmarshal([]byte(data), &job.Payload); err != nil {
			return nil, fmt.Errorf("queue: decode job %s: %w", id, err)
		}
	}
	return job, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func msTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := time.UnixMilli(atoi64(s))
	return &t
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		return atoi64(n)
	default:
		return 0
	}
}
