// Package router dispatches canonical integration requests to the
// connector or REST client that serves the target system, and owns the
// lifecycle record of every call.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/transform"
)

// ErrInvalidRequest marks configuration errors rejected before any
// integration instance is created.
var ErrInvalidRequest = errors.New("invalid integration request")

// Router routes integration requests by type and system. Connectors serve
// BANKING_CORE systems; REST clients serve everything else. The router is
// the single place an integration failure surfaces as a returned error,
// always after the instance has been marked FAILED.
type Router struct {
	mu         sync.RWMutex
	connectors map[string]domain.Connector
	clients    map[string]*RESTClient
	instances  map[string]*domain.IntegrationInstance

	repo   domain.Repository
	bus    domain.EventBus
	engine *transform.Engine
	tracer trace.Tracer
}

// New creates a router. repo and bus are optional; without a repository
// the audit trail is in-memory only.
func New(repo domain.Repository, bus domain.EventBus) *Router {
	return &Router{
		connectors: make(map[string]domain.Connector),
		clients:    make(map[string]*RESTClient),
		instances:  make(map[string]*domain.IntegrationInstance),
		repo:       repo,
		bus:        bus,
		tracer:     otel.Tracer("corelink/router"),
	}
}

// SetTransformEngine enables response transformation: a request whose
// metadata names a responseRuleId has its response data run through the
// engine before the instance completes.
func (r *Router) SetTransformEngine(e *transform.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = e
}

// RegisterConnector makes a banking-core connector routable by its
// system name.
func (r *Router) RegisterConnector(c domain.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.System()] = c
}

// RegisterEndpoint makes a REST-based system routable.
func (r *Router) RegisterEndpoint(system string, cfg domain.EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[system] = NewRESTClient(system, cfg)
}

// Connectors returns the registered banking-core connectors.
func (r *Router) Connectors() []domain.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].System() < out[j].System() })
	return out
}

// Connector returns the connector for a system, if registered.
func (r *Router) Connector(system string) (domain.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[system]
	return c, ok
}

// ExecuteIntegration runs one integration request end to end. An unknown
// type or unregistered system is a configuration error rejected before
// any instance is created. Downstream failures mark the instance FAILED
// first and are then returned to the caller.
func (r *Router) ExecuteIntegration(ctx context.Context, req *domain.IntegrationRequest) (*domain.IntegrationResponse, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}

	inst := &domain.IntegrationInstance{
		ID:          uuid.New().String(),
		Type:        req.Type,
		System:      req.System,
		Operation:   req.Operation,
		Status:      domain.StatusProcessing,
		StartedAt:   time.Now(),
		RequestData: req.Data,
	}

	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveInstance(ctx, inst); err != nil {
			slog.Warn("failed to persist integration instance", "integration_id", inst.ID, "error", err)
		}
	}

	r.publishIntegration(domain.TopicIntegrationStarted, inst, "")
	slog.Info("integration started",
		"integration_id", inst.ID,
		"type", req.Type,
		"system", req.System,
		"operation", req.Operation,
	)

	ctx, span := r.tracer.Start(ctx, "router.execute_integration",
		trace.WithAttributes(
			attribute.String("integration.id", inst.ID),
			attribute.String("integration.type", string(req.Type)),
			attribute.String("integration.system", req.System),
			attribute.String("integration.operation", req.Operation),
		))
	defer span.End()

	data, err := r.dispatch(ctx, req)
	if err == nil {
		data, err = r.transformResponse(ctx, req, data)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.markFailed(ctx, inst, err)
		return nil, fmt.Errorf("integration %s failed: %w", inst.ID, err)
	}

	r.markCompleted(ctx, inst, data)
	return &domain.IntegrationResponse{
		IntegrationID:  inst.ID,
		Status:         domain.StatusCompleted,
		Data:           data,
		ProcessingTime: inst.ProcessingTimeMs,
		Timestamp:      time.Now(),
	}, nil
}

// GetInstance returns one integration instance by id, preferring the
// in-memory registry and falling back to the repository.
func (r *Router) GetInstance(ctx context.Context, id string) (*domain.IntegrationInstance, error) {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}
	if r.repo != nil {
		return r.repo.GetInstance(ctx, id)
	}
	return nil, fmt.Errorf("integration instance %q not found", id)
}

// ListInstances returns the in-memory instance registry, newest first.
func (r *Router) ListInstances() []*domain.IntegrationInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.IntegrationInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (r *Router) validate(req *domain.IntegrationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if req.Operation == "" {
		return fmt.Errorf("%w: operation is required", ErrInvalidRequest)
	}

	switch req.Type {
	case domain.IntegrationBankingCore:
		if _, ok := r.Connector(req.System); !ok {
			return fmt.Errorf("%w: no connector registered for banking core system %q", ErrInvalidRequest, req.System)
		}
	case domain.IntegrationRegulatory, domain.IntegrationThirdParty, domain.IntegrationInternal:
		r.mu.RLock()
		_, ok := r.clients[req.System]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: no endpoint configured for %s system %q", ErrInvalidRequest, req.Type, req.System)
		}
	default:
		return fmt.Errorf("%w: unknown integration type %q", ErrInvalidRequest, req.Type)
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, req *domain.IntegrationRequest) (map[string]any, error) {
	if req.Type == domain.IntegrationBankingCore {
		conn, _ := r.Connector(req.System)
		wireReq := &domain.WireRequest{
			Service:   serviceFor(req),
			Operation: req.Operation,
			Data:      req.Data,
		}

		resp := conn.Execute(ctx, wireReq)
		if resp.Status == domain.WireError {
			return nil, fmt.Errorf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		if len(resp.Warnings) > 0 {
			slog.Warn("banking core responded with warnings",
				"system", req.System,
				"operation", req.Operation,
				"warnings", resp.Warnings,
			)
		}
		return resp.Data, nil
	}

	r.mu.RLock()
	client := r.clients[req.System]
	r.mu.RUnlock()
	return client.Do(ctx, req.Operation, req.Data)
}

// transformResponse applies the transformation rule named by the
// request's responseRuleId metadata, when one is set and an engine is
// attached. A failed transform fails the whole integration.
func (r *Router) transformResponse(ctx context.Context, req *domain.IntegrationRequest, data map[string]any) (map[string]any, error) {
	ruleID, _ := req.Metadata["responseRuleId"].(string)
	if ruleID == "" {
		return data, nil
	}

	r.mu.RLock()
	engine := r.engine
	r.mu.RUnlock()
	if engine == nil {
		return nil, fmt.Errorf("responseRuleId %q set but no transformation engine attached", ruleID)
	}

	result := engine.Transform(ctx, ruleID, data, transform.Options{})
	if !result.Success {
		msg := "transformation failed"
		if len(result.Errors) > 0 {
			msg = result.Errors[0].Message
		}
		return nil, fmt.Errorf("response transformation %s: %s", ruleID, msg)
	}
	return result.Data, nil
}

// serviceFor resolves the core service module for an operation. Callers
// may override it through metadata.
func serviceFor(req *domain.IntegrationRequest) string {
	if svc, ok := req.Metadata["service"].(string); ok && svc != "" {
		return svc
	}

	op := strings.ToUpper(req.Operation)
	switch {
	case strings.Contains(op, "CUSTOMER"):
		return "FCUBSCustomerService"
	case strings.Contains(op, "ACCOUNT"), strings.Contains(op, "BALANCE"):
		return "FCUBSAccService"
	case strings.Contains(op, "TRANSACTION"), strings.Contains(op, "PAYMENT"):
		return "FCUBSPaymentService"
	default:
		return "FCUBSGWService"
	}
}

// markCompleted transitions an instance to COMPLETED. Terminal instances
// are never touched again.
func (r *Router) markCompleted(ctx context.Context, inst *domain.IntegrationInstance, data map[string]any) {
	r.mu.Lock()
	if inst.Terminal() {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	inst.Status = domain.StatusCompleted
	inst.CompletedAt = &now
	inst.ResponseData = data
	inst.ProcessingTimeMs = now.Sub(inst.StartedAt).Milliseconds()
	r.mu.Unlock()

	r.persistUpdate(ctx, inst)
	r.publishIntegration(domain.TopicIntegrationCompleted, inst, "")
	slog.Info("integration completed",
		"integration_id", inst.ID,
		"system", inst.System,
		"duration_ms", inst.ProcessingTimeMs,
	)
}

func (r *Router) markFailed(ctx context.Context, inst *domain.IntegrationInstance, cause error) {
	r.mu.Lock()
	if inst.Terminal() {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	inst.Status = domain.StatusFailed
	inst.CompletedAt = &now
	inst.Error = cause.Error()
	inst.ProcessingTimeMs = now.Sub(inst.StartedAt).Milliseconds()
	r.mu.Unlock()

	r.persistUpdate(ctx, inst)
	r.publishIntegration(domain.TopicIntegrationFailed, inst, cause.Error())
	slog.Error("integration failed",
		"integration_id", inst.ID,
		"system", inst.System,
		"operation", inst.Operation,
		"error", cause,
	)
}

func (r *Router) persistUpdate(ctx context.Context, inst *domain.IntegrationInstance) {
	if r.repo == nil {
		return
	}
	if err := r.repo.UpdateInstance(ctx, inst); err != nil {
		slog.Warn("failed to update integration instance", "integration_id", inst.ID, "error", err)
	}
}

func (r *Router) publishIntegration(topic string, inst *domain.IntegrationInstance, errMsg string) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(domain.IntegrationEvent{
		IntegrationID: inst.ID,
		Type:          inst.Type,
		System:        inst.System,
		Operation:     inst.Operation,
		Error:         errMsg,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish integration event", "topic", topic, "error", err)
	}
}
