package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opencompliance/corelink/internal/bus"
	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/router"
)

// countingConnector records executed operations.
type countingConnector struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingConnector) Connect(ctx context.Context) error    { return nil }
func (c *countingConnector) Disconnect(ctx context.Context) error { return nil }

func (c *countingConnector) Execute(ctx context.Context, req *domain.WireRequest) *domain.WireResponse {
	c.mu.Lock()
	c.calls = append(c.calls, req.Operation)
	c.mu.Unlock()
	return &domain.WireResponse{
		Status:    domain.WireSuccess,
		Data:      map[string]any{"ok": true},
		Timestamp: time.Now(),
	}
}

func (c *countingConnector) State() domain.ConnectorState { return domain.StateConnected }
func (c *countingConnector) Session() domain.ConnectionSession {
	return domain.ConnectionSession{IsConnected: true}
}
func (c *countingConnector) System() string { return "flexcube" }

func (c *countingConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestWorkerProcessesQueuedRequests(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	conn := &countingConnector{}
	rt := router.New(nil, eventBus)
	rt.RegisterConnector(conn)

	w := NewWorker(eventBus, rt)
	if err := w.Start(Config{Concurrency: 2}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	// Completion events confirm end-to-end processing.
	done := make(chan struct{}, 10)
	eventBus.Subscribe(context.Background(), domain.TopicIntegrationCompleted, func(ctx context.Context, msg *domain.Message) error {
		done <- struct{}{}
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(domain.IntegrationRequest{
			Type:      domain.IntegrationBankingCore,
			System:    "flexcube",
			Operation: "QueryAccount",
			Data:      map[string]any{"AccountNo": "001"},
		})
		if err := eventBus.Publish(ctx, domain.TopicIntegrationRequested, payload); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-deadline:
			t.Fatalf("timed out waiting for completions, got %d connector calls", conn.callCount())
		}
	}

	if conn.callCount() != 3 {
		t.Errorf("connector calls = %d, want 3", conn.callCount())
	}

	instances := rt.ListInstances()
	if len(instances) != 3 {
		t.Errorf("instances = %d, want 3", len(instances))
	}
	for _, inst := range instances {
		if inst.Status != domain.StatusCompleted {
			t.Errorf("instance %s status = %s", inst.ID, inst.Status)
		}
	}
}

func TestWorkerIgnoresMalformedPayload(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	rt := router.New(nil, eventBus)

	w := NewWorker(eventBus, rt)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	if err := eventBus.Publish(context.Background(), domain.TopicIntegrationRequested, []byte("not-json")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Give the handler a chance to run; nothing should be recorded.
	time.Sleep(50 * time.Millisecond)
	if len(rt.ListInstances()) != 0 {
		t.Errorf("expected no instances for malformed payload")
	}
}

func TestWorkerStats(t *testing.T) {
	eventBus := bus.NewChannelBus(4)
	defer eventBus.Close()

	w := NewWorker(eventBus, router.New(nil, eventBus))
	if err := w.Start(Config{Concurrency: 1}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("subscription count = %d, want 1", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicIntegrationRequested {
		t.Errorf("topics = %v", stats.Topics)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}
