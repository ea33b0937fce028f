package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/router"
	"github.com/opencompliance/corelink/internal/transform"
)

// stubConnector is a scriptable banking-core connector for handler tests.
type stubConnector struct {
	system  string
	state   domain.ConnectorState
	resp    *domain.WireResponse
	connErr error
}

func (c *stubConnector) Connect(ctx context.Context) error {
	if c.connErr != nil {
		return c.connErr
	}
	c.state = domain.StateConnected
	return nil
}

func (c *stubConnector) Disconnect(ctx context.Context) error {
	c.state = domain.StateDisconnected
	return nil
}

func (c *stubConnector) Execute(ctx context.Context, req *domain.WireRequest) *domain.WireResponse {
	if c.resp != nil {
		return c.resp
	}
	return &domain.WireResponse{
		Status:    domain.WireSuccess,
		Data:      map[string]any{"echo": req.Operation},
		Timestamp: time.Now(),
	}
}

func (c *stubConnector) State() domain.ConnectorState { return c.state }

func (c *stubConnector) Session() domain.ConnectionSession {
	return domain.ConnectionSession{
		IsConnected:   c.state == domain.StateConnected,
		LastHeartbeat: time.Now(),
	}
}

func (c *stubConnector) System() string { return c.system }

// createTestServer creates a server with an engine and a router wired to
// a stub flexcube connector.
func createTestServer(t *testing.T) (*Server, *stubConnector) {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, err := transform.NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	rule := &domain.TransformationRule{
		ID:           "account-normalize",
		Name:         "Normalize core account fields",
		SourceFormat: "FLEXCUBE",
		TargetFormat: "PLATFORM",
		Mappings: []domain.FieldMapping{
			{SourceField: "ACC", TargetField: "accountNumber", TransformationType: domain.TransformDirect, IsRequired: true, DataType: domain.TypeString},
			{SourceField: "CCY", TargetField: "currency", TransformationType: domain.TransformDirect, DefaultValue: "INR", DataType: domain.TypeString},
		},
		IsActive: true,
		Version:  "1.0.0",
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	conn := &stubConnector{system: "flexcube", state: domain.StateConnected}
	rt := router.New(nil, nil)
	rt.RegisterConnector(conn)

	return NewServer(cfg, nil, nil, nil, engine, rt, "test-v1"), conn
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestIntegrationEndpoints(t *testing.T) {
	server, conn := createTestServer(t)

	var integrationID string

	t.Run("ExecuteBankingCore", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/integrations", domain.IntegrationRequest{
			Type:      domain.IntegrationBankingCore,
			System:    "flexcube",
			Operation: "QueryAccount",
			Data:      map[string]any{"AccountNo": "0012345"},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.IntegrationResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.IntegrationID == "" {
			t.Error("expected integrationId in response")
		}
		if resp.Status != domain.StatusCompleted {
			t.Errorf("status = %s, want COMPLETED", resp.Status)
		}
		if resp.Data["echo"] != "QueryAccount" {
			t.Errorf("data = %v", resp.Data)
		}
		integrationID = resp.IntegrationID
	})

	t.Run("GetIntegration", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/integrations/"+integrationID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var inst domain.IntegrationInstance
		if err := json.Unmarshal(rr.Body.Bytes(), &inst); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if inst.ID != integrationID || inst.Status != domain.StatusCompleted {
			t.Errorf("instance = %+v", inst)
		}
	})

	t.Run("GetIntegrationNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/integrations/no-such-id", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListIntegrations", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/integrations?system=flexcube", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count < 1 {
			t.Errorf("count = %d, want at least 1", resp.Count)
		}
	})

	t.Run("UnknownSystemRejected", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/integrations", domain.IntegrationRequest{
			Type:      domain.IntegrationBankingCore,
			System:    "temenos",
			Operation: "QueryAccount",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnknownTypeRejected", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/integrations", domain.IntegrationRequest{
			Type:      "LEGACY",
			System:    "flexcube",
			Operation: "QueryAccount",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("WireErrorIsBadGateway", func(t *testing.T) {
		conn.resp = &domain.WireResponse{
			Status:       domain.WireError,
			ErrorCode:    "FC-AC01",
			ErrorMessage: "Account does not exist",
			Timestamp:    time.Now(),
		}
		defer func() { conn.resp = nil }()

		rr := doJSON(t, server, http.MethodPost, "/integrations", domain.IntegrationRequest{
			Type:      domain.IntegrationBankingCore,
			System:    "flexcube",
			Operation: "QueryAccount",
			Data:      map[string]any{"AccountNo": "missing"},
		})
		if rr.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] == "" {
			t.Error("expected error message in response")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/integrations", bytes.NewBufferString("not-json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestTransformEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("SuccessfulTransform", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/transform/account-normalize", TransformRequest{
			Data: map[string]any{"ACC": "0012345"},
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result transform.Result
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !result.Success {
			t.Errorf("result = %+v", result)
		}
		if result.Data["accountNumber"] != "0012345" {
			t.Errorf("accountNumber = %v", result.Data["accountNumber"])
		}
		if result.Data["currency"] != "INR" {
			t.Errorf("currency = %v", result.Data["currency"])
		}
		if result.Metadata == nil {
			t.Error("expected metadata in response")
		}
	})

	t.Run("FailedTransformIsUnprocessable", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/transform/account-normalize", TransformRequest{
			Data: map[string]any{"CCY": "USD"},
		})

		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}

		var result transform.Result
		json.Unmarshal(rr.Body.Bytes(), &result)
		if result.Success || len(result.Errors) == 0 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("UnknownRuleIsUnprocessable", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/transform/no-such-rule", TransformRequest{
			Data: map[string]any{"ACC": "1"},
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("MissingData", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/transform/account-normalize", map[string]any{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("ListRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules/account-normalize", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rule domain.TransformationRule
		json.Unmarshal(rr.Body.Bytes(), &rule)
		if rule.ID != "account-normalize" {
			t.Errorf("rule id = %s", rule.ID)
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules/no-such-rule", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateRule", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", domain.TransformationRule{
			ID:           "txn-normalize",
			SourceFormat: "FLEXCUBE",
			TargetFormat: "PLATFORM",
			Mappings: []domain.FieldMapping{
				{SourceField: "TXNREF", TargetField: "transactionRef", TransformationType: domain.TransformDirect},
			},
			IsActive: true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// The new rule is immediately usable.
		tr := doJSON(t, server, http.MethodPost, "/transform/txn-normalize", TransformRequest{
			Data: map[string]any{"TXNREF": "TXN-001"},
		})
		if tr.Code != http.StatusOK {
			t.Errorf("expected status 200 for new rule, got %d", tr.Code)
		}
	})

	t.Run("CreateRuleMissingMappings", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", domain.TransformationRule{
			ID:           "empty-rule",
			SourceFormat: "A",
			TargetFormat: "B",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateRuleBadExpression", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", domain.TransformationRule{
			ID:           "bad-cel",
			SourceFormat: "A",
			TargetFormat: "B",
			Mappings: []domain.FieldMapping{
				{SourceField: "x", TargetField: "y", TransformationType: domain.TransformDirect},
			},
			Validations: []domain.ValidationRule{
				{Field: "x", ValidationType: domain.ValidateCustom, Parameters: map[string]any{"expression": "data.x +"}},
			},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ReloadWithoutRepository", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestLookupTableEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("SaveLookupTable", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/lookup-tables", domain.LookupTable{
			ID:       "currency-codes",
			Name:     "ISO currency codes",
			Mappings: map[string]any{"INR": "356", "USD": "840"},
			IsActive: true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetLookupTable", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/lookup-tables/currency-codes", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var table domain.LookupTable
		json.Unmarshal(rr.Body.Bytes(), &table)
		if table.Mappings["INR"] != "356" {
			t.Errorf("mappings = %v", table.Mappings)
		}
	})

	t.Run("PutReplacesTable", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/lookup-tables/currency-codes", domain.LookupTable{
			Mappings: map[string]any{"INR": "356"},
			IsActive: true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		get := doJSON(t, server, http.MethodGet, "/lookup-tables/currency-codes", nil)
		var table domain.LookupTable
		json.Unmarshal(get.Body.Bytes(), &table)
		if len(table.Mappings) != 1 {
			t.Errorf("expected 1 mapping after replace, got %d", len(table.Mappings))
		}
	})

	t.Run("SaveWithoutMappings", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/lookup-tables", domain.LookupTable{ID: "empty"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/lookup-tables/no-such-table", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestConnectorEndpoints(t *testing.T) {
	server, conn := createTestServer(t)

	t.Run("ListConnectors", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/connectors", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Connectors []ConnectorStatus `json:"connectors"`
			Count      int               `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.Connectors[0].System != "flexcube" {
			t.Errorf("connectors = %+v", resp)
		}
		if !resp.Connectors[0].IsConnected {
			t.Error("expected connector to report connected")
		}
	})

	t.Run("DisconnectAndConnect", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/connectors/flexcube/disconnect", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("disconnect: expected status 200, got %d", rr.Code)
		}
		if conn.State() != domain.StateDisconnected {
			t.Errorf("state = %s", conn.State())
		}

		rr = doJSON(t, server, http.MethodPost, "/connectors/flexcube/connect", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("connect: expected status 200, got %d", rr.Code)
		}
		if conn.State() != domain.StateConnected {
			t.Errorf("state = %s", conn.State())
		}
	})

	t.Run("ConnectFailureIsBadGateway", func(t *testing.T) {
		conn.connErr = context.DeadlineExceeded
		defer func() { conn.connErr = nil }()

		rr := doJSON(t, server, http.MethodPost, "/connectors/flexcube/connect", nil)
		if rr.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rr.Code)
		}
	})

	t.Run("UnknownConnector", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/connectors/temenos/connect", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("TracingMiddlewarePropagatesRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-abc-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") != "req-abc-123" {
			t.Errorf("request id = %s", rr.Header().Get("X-Request-ID"))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
