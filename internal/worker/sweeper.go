package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/metrics"
)

// OverdueMarker lists notified decisions and marks them overdue.
type OverdueMarker interface {
	List(ctx context.Context, filter domain.DecisionFilter) ([]*domain.DecisionView, error)
	MarkOverdue(ctx context.Context, id string, asOf time.Time) (*domain.SanctionDecision, bool, error)
}

// Sweeper periodically moves notified decisions past their payment deadline to overdue.
// Each decision is written with its own guarded update; there is no global lock.
type Sweeper struct {
	marker      OverdueMarker
	interval    time.Duration
	concurrency int
	metrics     *metrics.Metrics
	now         func() time.Time
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked   int `json:"checked"`
	Marked    int `json:"marked"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// NewSweeper creates a sweeper from the worker configuration.
func NewSweeper(marker OverdueMarker, cfg domain.WorkerConfig, m *metrics.Metrics) *Sweeper {
	concurrency := cfg.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		marker:      marker,
		interval:    cfg.SweepInterval,
		concurrency: concurrency,
		metrics:     m,
		now:         time.Now,
	}
}

// SweepOnce checks every notified decision against asOf.
// A decision changed concurrently is counted as a conflict and picked up by the next sweep.
func (s *Sweeper) SweepOnce(ctx context.Context, asOf time.Time) (SweepResult, error) {
	start := time.Now()

	notified, err := s.marker.List(ctx, domain.DecisionFilter{Status: domain.StatusNotified})
	if err != nil {
		return SweepResult{}, err
	}

	var marked, conflicts, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, d := range notified {
		id := d.ID
		g.Go(func() error {
			_, changed, err := s.marker.MarkOverdue(gctx, id, asOf)
			switch {
			case err == nil:
				if changed {
					marked.Add(1)
				}
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				slog.Error("overdue check failed", "decision_id", id, "error", err)
			}
			return nil
		})
	}
	err = g.Wait()

	result := SweepResult{
		Checked:   len(notified),
		Marked:    int(marked.Load()),
		Conflicts: int(conflicts.Load()),
		Failed:    int(failed.Load()),
	}
	s.metrics.ObserveSweep(result.Marked, result.Failed, time.Since(start))

	slog.Info("overdue sweep finished",
		"checked", result.Checked,
		"marked", result.Marked,
		"conflicts", result.Conflicts,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, err
}

// Run sweeps every interval until ctx is cancelled. A zero interval disables the sweep.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("overdue sweep disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("overdue sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("overdue sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, s.now()); err != nil && ctx.Err() == nil {
				slog.Error("overdue sweep failed", "error", err)
			}
		}
	}
}
