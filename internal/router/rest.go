package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencompliance/corelink/internal/domain"
)

// RESTClient calls JSON-over-HTTP external systems: regulatory reporting
// services, third-party providers, and internal platform services.
type RESTClient struct {
	system string
	cfg    domain.EndpointConfig
	client *http.Client
}

// NewRESTClient creates a client for one configured endpoint.
func NewRESTClient(system string, cfg domain.EndpointConfig) *RESTClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		system: system,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Do posts one operation to the endpoint. The operation name becomes the
// URL path; the payload and response are both JSON objects.
func (c *RESTClient) Do(ctx context.Context, operation string, data map[string]any) (map[string]any, error) {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request for %s: %w", c.system, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(operation, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.system, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", c.system, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d: %s", c.system, res.StatusCode, truncate(string(body), 200))
	}

	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON from %s: %w", c.system, err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
