// Package introspect reports live queue depth and job listings.
package introspect

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/logqueue/pkg/core"
)

// Listing sizes used by Snapshot.
const (
	PriorityLimit = 5
	RecentLimit   = 10
)

// recentStates are the states merged into the recency listing.
var recentStates = []core.JobState{core.StateActive, core.StateWaiting, core.StateDelayed}

// Reader is the read side of the queue connector.
type Reader interface {
	Count(ctx context.Context, state core.JobState) (int64, error)
	ListJobs(ctx context.Context, states []core.JobState, offset, limit int, byPriority bool) ([]*core.Job, error)
	GetState(ctx context.Context, id string) (core.JobState, error)
}

// Service builds queue snapshots.
type Service struct {
	q   Reader
	now func() time.Time
}

// New creates a Service reading from q.
func New(q Reader) *Service {
	return &Service{q: q, now: time.Now}
}

// Snapshot reads the five state counts and both listings concurrently,
// then resolves each listed job's live state. Any failed read fails the
// whole snapshot; nothing is retried.
func (s *Service) Snapshot(ctx context.Context) (core.Snapshot, error) {
	var (
		counts   [5]int64
		priority []*core.Job
		recent   []*core.Job
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, state := range core.States {
		g.Go(func() error {
			n, err := s.q.Count(gctx, state)
			counts[i] = n
			return err
		})
	}
	g.Go(func() error {
		var err error
		priority, err = s.q.ListJobs(gctx, []core.JobState{core.StateWaiting}, 0, PriorityLimit, true)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.q.ListJobs(gctx, recentStates, 0, RecentLimit, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Snapshot{}, core.E(core.KindAggregation, "introspect.snapshot", "Error fetching queue stats", err)
	}

	snap := core.Snapshot{TakenAt: s.now()}
	for i, state := range core.States {
		snap.Counts.Set(state, counts[i])
	}

	lists, err := s.annotate(ctx, [2][]*core.Job{priority, recent})
	if err != nil {
		return core.Snapshot{}, core.E(core.KindAggregation, "introspect.snapshot", "Error fetching job state", err)
	}
	snap.PriorityJobs, snap.RecentJobs = lists[0], lists[1]
	return snap, nil
}

// annotate resolves every listed job's state independently, so a job that
// moves between listing and lookup only changes its own entry.
func (s *Service) annotate(ctx context.Context, lists [2][]*core.Job) ([2][]core.JobSummary, error) {
	var out [2][]core.JobSummary
	g, gctx := errgroup.WithContext(ctx)
	for li, jobs := range lists {
		out[li] = make([]core.JobSummary, len(jobs))
		for ji, job := range jobs {
			g.Go(func() error {
				state, err := s.q.GetState(gctx, job.ID)
				if err != nil {
					return err
				}
				out[li][ji] = core.Summarize(job, state)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
