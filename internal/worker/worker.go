// Package worker consumes queued integration requests from the EventBus
// and drives them through the router, so callers can fire integrations
// without waiting on the external system.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/router"
)

// Worker processes integration requests asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	router *router.Router

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency caps the number of integration requests in flight.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, rt *router.Router) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		router: rt,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the integration request topic and begins processing.
func (w *Worker) Start(cfg Config) error {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	w.sem = make(chan struct{}, concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicIntegrationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("integration worker started",
		"topic", domain.TopicIntegrationRequested,
		"concurrency", concurrency,
	)
	return nil
}

// handleMessage dispatches one queued request, bounded by the semaphore.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.processRequest(w.ctx, msg)
	}()
	return nil
}

// processRequest executes one integration request. Failures are already
// recorded against the instance and published by the router, so the
// worker only logs the outcome.
func (w *Worker) processRequest(ctx context.Context, msg *domain.Message) {
	var req domain.IntegrationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse integration request message",
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	resp, err := w.router.ExecuteIntegration(ctx, &req)
	if err != nil {
		slog.Error("queued integration failed",
			"message_id", msg.ID,
			"system", req.System,
			"operation", req.Operation,
			"error", err,
		)
		return
	}

	slog.Info("queued integration completed",
		"integration_id", resp.IntegrationID,
		"system", req.System,
		"operation", req.Operation,
		"duration_ms", resp.ProcessingTime,
	)
}

// Stop gracefully stops the worker, waiting for in-flight requests.
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

	slog.Info("integration worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
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
	}
}
