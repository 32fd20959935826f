// Package worker runs background work: automatic fiscal exports driven by
// lifecycle events and the periodic overdue sweep.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

// Exporter produces fiscal exports.
type Exporter interface {
	Get(ctx context.Context, id string) (*domain.SanctionDecision, error)
	Export(ctx context.Context, actor domain.Actor, id string) (*domain.ExportRecord, error)
}

// Worker consumes approval events from the EventBus and exports the approved decisions.
type Worker struct {
	bus      domain.EventBus
	exporter Exporter

	subscriptions []domain.Subscription
	jobs          chan string
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of concurrent export consumers
	WorkerCount int

	// MaxAttempts bounds retries after a concurrent modification
	MaxAttempts int
}

const retryDelay = 50 * time.Millisecond

// NewWorker creates a new export worker.
func NewWorker(bus domain.EventBus, exporter Exporter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		exporter: exporter,
		jobs:     make(chan string, 256),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to approvals and starts the consumers.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicDecisionApproved, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.consume(cfg.MaxAttempts)
	}

	slog.Info("export workers started",
		"workers", cfg.WorkerCount,
		"topic", domain.TopicDecisionApproved,
	)
	return nil
}

// handleMessage queues the approved decision for export.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.DecisionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse decision event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.Decision == nil || event.Decision.ID == "" {
		slog.Warn("decision event without decision", "message_id", msg.ID)
		return nil
	}

	select {
	case w.jobs <- event.Decision.ID:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *Worker) consume(maxAttempts int) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.jobs:
			w.export(w.ctx, id, maxAttempts)
		}
	}
}

// export writes the first export of a decision. Decisions that were already
// exported are skipped; a lost race is retried against the fresh version.
func (w *Worker) export(ctx context.Context, id string, maxAttempts int) {
	start := time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d, err := w.exporter.Get(ctx, id)
		if err != nil {
			slog.Error("failed to load decision for export", "decision_id", id, "error", err)
			return
		}
		if d.Exported {
			slog.Debug("decision already exported", "decision_id", id)
			return
		}

		rec, err := w.exporter.Export(ctx, domain.SystemActor, id)
		if err == nil {
			slog.Info("decision exported",
				"decision_id", id,
				"export_id", rec.ID,
				"attempt", attempt,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return
		}
		if !errors.Is(err, domain.ErrConflict) {
			slog.Error("export failed", "decision_id", id, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}

	slog.Warn("export abandoned after repeated conflicts",
		"decision_id", id,
		"attempts", maxAttempts,
	)
}

// Stop gracefully stops all consumers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("export workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Pending           int      `json:"pending"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Pending:           len(w.jobs),
	}
}
