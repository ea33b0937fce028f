package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/router"
	"github.com/opencompliance/corelink/internal/transform"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *transform.Engine
	router  *router.Router
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *transform.Engine, rt *router.Router, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		router:  rt,
		version: version,
	}
}

// ExecuteIntegration handles POST /integrations requests.
func (h *Handler) ExecuteIntegration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.IntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resp, err := h.router.ExecuteIntegration(ctx, &req)
	if err != nil {
		if errors.Is(err, router.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetIntegration retrieves one integration instance by ID.
func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "integration id is required",
		})
		return
	}

	inst, err := h.router.GetInstance(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "integration not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, inst)
}

// ListIntegrations returns the instance registry, newest first.
// Supports an optional ?system= filter.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	system := r.URL.Query().Get("system")

	instances := h.router.ListInstances()
	if system != "" {
		filtered := instances[:0]
		for _, inst := range instances {
			if inst.System == system {
				filtered = append(filtered, inst)
			}
		}
		instances = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"integrations": instances,
		"count":        len(instances),
	})
}

// TransformRequest is the request body for POST /transform/{ruleId}.
type TransformRequest struct {
	Data    map[string]any     `json:"data"`
	Options *transform.Options `json:"options,omitempty"`
}

// Transform handles POST /transform/{ruleId} requests. The transformation
// result always reports success or failure in its body; a failed transform
// is a 422, not a 500.
func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "ruleId")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	var req TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Data == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "data is required",
		})
		return
	}

	opts := transform.Options{
		ValidateInput:   true,
		ValidateOutput:  true,
		IncludeMetadata: true,
	}
	if req.Options != nil {
		opts = *req.Options
	}

	result := h.engine.Transform(ctx, ruleID, req.Data, opts)
	if !result.Success {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded transformation rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule creates a transformation rule, loads it into the engine, and
// persists it. Loading first validates the mapping set and compiles any
// custom validation expressions before anything is written.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.TransformationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if rule.ID == "" || rule.SourceFormat == "" || rule.TargetFormat == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, sourceFormat, and targetFormat are required",
		})
		return
	}
	if len(rule.Mappings) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one mapping is required",
		})
		return
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.engine.LoadRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRule(ctx, &rule); err != nil {
			slog.Error("failed to save rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "version", rule.Version)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule": rule,
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// ListLookupTables returns all lookup tables loaded in the engine.
func (h *Handler) ListLookupTables(w http.ResponseWriter, r *http.Request) {
	tables := h.engine.LookupTables()

	writeJSON(w, http.StatusOK, map[string]any{
		"lookupTables": tables,
		"count":        len(tables),
	})
}

// GetLookupTable retrieves a lookup table by ID.
func (h *Handler) GetLookupTable(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "id")

	if tableID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lookup table id is required",
		})
		return
	}

	for _, table := range h.engine.LookupTables() {
		if table.ID == tableID {
			writeJSON(w, http.StatusOK, table)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "lookup table not found",
	})
}

// SaveLookupTable creates or replaces a lookup table. The engine update
// evicts any cached entries for the table so stale values never survive
// a table change.
func (h *Handler) SaveLookupTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var table domain.LookupTable
	if err := json.NewDecoder(r.Body).Decode(&table); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// PUT carries the id in the URL and it wins over the body.
	if id := chi.URLParam(r, "id"); id != "" {
		table.ID = id
	}

	if table.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "lookup table id is required",
		})
		return
	}
	if len(table.Mappings) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one mapping is required",
		})
		return
	}

	if err := h.engine.UpdateLookupTable(ctx, &table); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid lookup table: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveLookupTable(ctx, &table); err != nil {
			slog.Error("failed to save lookup table", "id", table.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save lookup table",
			})
			return
		}
	}

	slog.Info("lookup table saved", "id", table.ID, "entries", len(table.Mappings))
	writeJSON(w, http.StatusOK, map[string]any{
		"lookupTable": table,
	})
}

// ConnectorStatus is one entry in the GET /connectors response.
type ConnectorStatus struct {
	System        string                `json:"system"`
	State         domain.ConnectorState `json:"state"`
	IsConnected   bool                  `json:"isConnected"`
	LastHeartbeat string                `json:"lastHeartbeat,omitempty"`
}

// ListConnectors returns the state of every registered connector.
func (h *Handler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	connectors := h.router.Connectors()

	statuses := make([]ConnectorStatus, 0, len(connectors))
	for _, c := range connectors {
		session := c.Session()
		status := ConnectorStatus{
			System:      c.System(),
			State:       c.State(),
			IsConnected: session.IsConnected,
		}
		if !session.LastHeartbeat.IsZero() {
			status.LastHeartbeat = session.LastHeartbeat.UTC().Format(time.RFC3339)
		}
		statuses = append(statuses, status)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connectors": statuses,
		"count":      len(statuses),
	})
}

// ConnectConnector establishes a session for the named connector.
func (h *Handler) ConnectConnector(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	system := chi.URLParam(r, "system")

	conn, ok := h.router.Connector(system)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "connector not found",
		})
		return
	}

	if err := conn.Connect(ctx); err != nil {
		slog.Error("connector connect failed", "system", system, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"system": system,
		"state":  conn.State(),
	})
}

// DisconnectConnector tears down the session for the named connector.
func (h *Handler) DisconnectConnector(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	system := chi.URLParam(r, "system")

	conn, ok := h.router.Connector(system)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "connector not found",
		})
		return
	}

	if err := conn.Disconnect(ctx); err != nil {
		slog.Error("connector disconnect failed", "system", system, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"system": system,
		"state":  conn.State(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
