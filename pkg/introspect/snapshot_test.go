package introspect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/queue"
)

type mockReader struct {
	counts   map[core.JobState]int64
	priority []*core.Job
	recent   []*core.Job
	states   map[string]core.JobState

	countErr error
	listErr  error
	stateErr error

	stateCalls atomic.Int64
}

func (m *mockReader) Count(ctx context.Context, state core.JobState) (int64, error) {
	if m.countErr != nil && state == core.StateFailed {
		return 0, m.countErr
	}
	return m.counts[state], nil
}

func (m *mockReader) ListJobs(ctx context.Context, states []core.JobState, offset, limit int, byPriority bool) ([]*core.Job, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if byPriority {
		return m.priority, nil
	}
	return m.recent, nil
}

func (m *mockReader) GetState(ctx context.Context, id string) (core.JobState, error) {
	m.stateCalls.Add(1)
	if m.stateErr != nil {
		return core.StateUnknown, m.stateErr
	}
	if s, ok := m.states[id]; ok {
		return s, nil
	}
	return core.StateUnknown, nil
}

func job(id string, prio int) *core.Job {
	return &core.Job{
		ID:        id,
		Name:      core.JobName,
		Priority:  prio,
		Timestamp: time.UnixMilli(1_700_000_000_000),
		Payload:   core.Payload{OriginalFilename: id + ".log", FileSize: 10, UserID: "u1"},
	}
}

func TestSnapshot_AnnotatesLiveState(t *testing.T) {
	r := &mockReader{
		counts:   map[core.JobState]int64{core.StateWaiting: 3, core.StateActive: 1, core.StateCompleted: 9, core.StateFailed: 2, core.StateDelayed: 1},
		priority: []*core.Job{job("2", 1), job("3", 4)},
		recent:   []*core.Job{job("1", 2), job("2", 1), job("3", 4)},
		// Job 3 finished between listing and lookup.
		states: map[string]core.JobState{"1": core.StateActive, "2": core.StateWaiting, "3": core.StateCompleted},
	}

	snap, err := New(r).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StateCounts{Waiting: 3, Active: 1, Completed: 9, Failed: 2, Delayed: 1}, snap.Counts)
	require.Len(t, snap.PriorityJobs, 2)
	assert.Equal(t, "2", snap.PriorityJobs[0].ID)
	assert.Equal(t, core.StateWaiting, snap.PriorityJobs[0].State)

	require.Len(t, snap.RecentJobs, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{snap.RecentJobs[0].ID, snap.RecentJobs[1].ID, snap.RecentJobs[2].ID})
	assert.Equal(t, core.StateCompleted, snap.RecentJobs[2].State)
	assert.Equal(t, core.JobData{FileName: "1.log", FileSize: 10, UserID: "u1"}, snap.RecentJobs[0].Data)
	assert.Equal(t, int64(1_700_000_000_000), snap.RecentJobs[0].Timestamp)
	assert.Equal(t, int64(5), r.stateCalls.Load())
}

func TestSnapshot_EmptyQueue(t *testing.T) {
	snap, err := New(&mockReader{}).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StateCounts{}, snap.Counts)
	assert.NotNil(t, snap.PriorityJobs)
	assert.Empty(t, snap.PriorityJobs)
	assert.Empty(t, snap.RecentJobs)
}

func TestSnapshot_FailsWhole(t *testing.T) {
	boom := errors.New("i/o timeout")
	tests := map[string]*mockReader{
		"count": {countErr: boom},
		"list":  {listErr: boom},
		"state": {recent: []*core.Job{job("1", 1)}, stateErr: boom},
	}

	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			snap, err := New(r).Snapshot(context.Background())

			assert.True(t, core.IsKind(err, core.KindAggregation))
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, core.Snapshot{}, snap)
		})
	}
}

func TestSnapshot_AgainstConnector(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := queue.New(queue.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	for i, p := range []int{3, 1, 5, 2, 4, 1, 2} {
		_, err := c.Enqueue(ctx, core.JobName, core.Payload{OriginalFilename: fmt.Sprintf("%d.log", i), UserID: "u1"}, queue.WithPriority(p))
		require.NoError(t, err)
	}
	_, err = c.Enqueue(ctx, core.JobName, core.Payload{OriginalFilename: "later.log"}, queue.WithDelay(time.Hour))
	require.NoError(t, err)
	taken, err := c.Take(ctx)
	require.NoError(t, err)

	snap, err := New(c).Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, core.StateCounts{Waiting: 6, Active: 1, Delayed: 1}, snap.Counts)
	require.Len(t, snap.PriorityJobs, PriorityLimit)
	for i := 1; i < len(snap.PriorityJobs); i++ {
		assert.LessOrEqual(t, snap.PriorityJobs[i-1].Priority, snap.PriorityJobs[i].Priority)
	}
	for _, j := range snap.PriorityJobs {
		assert.Equal(t, core.StateWaiting, j.State)
		assert.NotEqual(t, taken.ID, j.ID)
	}
	assert.Len(t, snap.RecentJobs, 8)
}
