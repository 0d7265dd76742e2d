package stats

import (
	"context"
	"log/slog"

	"github.com/jdziat/logqueue/pkg/core"
)

// OverviewLimit bounds how many recent records an overview folds.
const OverviewLimit = 50

// Store reads job ownership and statistics rows.
type Store interface {
	// OwnsJob reports whether jobID exists and belongs to userID.
	OwnsJob(ctx context.Context, userID, jobID string) (bool, error)
	// GetStats returns the row for jobID, or nil when none has been written.
	GetStats(ctx context.Context, jobID string) (*Record, error)
	// RecentStats returns up to limit rows of the user's jobs, newest first.
	RecentStats(ctx context.Context, userID string, limit int) ([]Record, error)
}

// Service serves statistics views for a user.
type Service struct {
	store  Store
	engine *Engine
	logger *slog.Logger
}

// NewService creates a Service. A nil logger uses slog.Default.
func NewService(store Store, engine *Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, logger: logger}
}

// ForJob returns the view of one job owned by userID.
func (s *Service) ForJob(ctx context.Context, userID, jobID string) (core.View, error) {
	const op = "stats.for_job"

	owned, err := s.store.OwnsJob(ctx, userID, jobID)
	if err != nil {
		return core.View{}, core.E(core.KindAggregation, op, "Error fetching job", err)
	}
	if !owned {
		return core.View{}, core.E(core.KindNotFound, op, "Job not found or access denied", nil)
	}

	rec, err := s.store.GetStats(ctx, jobID)
	if err != nil {
		return core.View{}, core.E(core.KindAggregation, op, "Error fetching stats", err)
	}
	if rec == nil {
		return s.engine.Single(nil), nil
	}

	raw, err := DecodeRecord(*rec)
	if err != nil {
		s.logger.Error("invalid statistics row", "job_id", jobID, "error", err)
		return core.View{}, core.E(core.KindAggregation, op, "Error fetching stats", err)
	}
	return s.engine.Single(&raw), nil
}

// Overview folds the user's most recent records into one view.
func (s *Service) Overview(ctx context.Context, userID string) (core.View, error) {
	const op = "stats.overview"

	recs, err := s.store.RecentStats(ctx, userID, OverviewLimit)
	if err != nil {
		return core.View{}, core.E(core.KindAggregation, op, "Error fetching stats", err)
	}

	raws := make([]core.RawStats, 0, len(recs))
	for _, rec := range recs {
		raw, err := DecodeRecord(rec)
		if err != nil {
			s.logger.Error("invalid statistics row", "job_id", rec.JobID, "error", err)
			return core.View{}, core.E(core.KindAggregation, op, "Error fetching stats", err)
		}
		raws = append(raws, raw)
	}
	return s.engine.Many(raws), nil
}
