package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencompliance/corelink/internal/domain"
)

const (
	sessionService = "FCUBSSessionService"

	opAuthenticate = "Authenticate"
	opHeartbeat    = "Heartbeat"
	opLogout       = "Logout"
)

// Flexcube is the session-oriented SOAP connector for the FLEXCUBE
// banking core. It owns one authenticated session, kept alive by a
// heartbeat loop; a failed heartbeat or a rejected request tears the
// session down and the router decides whether to reconnect.
type Flexcube struct {
	cfg    domain.ConnectorConfig
	bus    domain.EventBus
	client *http.Client

	mu      sync.RWMutex
	state   domain.ConnectorState
	session domain.ConnectionSession
	stop    chan struct{}
}

// NewFlexcube creates a FLEXCUBE connector. Unset config fields are
// filled with the reference defaults.
func NewFlexcube(cfg domain.ConnectorConfig, bus domain.EventBus) *Flexcube {
	cfg = domain.DefaultConnectorConfig(cfg)
	if cfg.System == "" {
		cfg.System = "flexcube"
	}

	return &Flexcube{
		cfg:    cfg,
		bus:    bus,
		client: &http.Client{Timeout: cfg.Timeout},
		state:  domain.StateDisconnected,
	}
}

// System returns the external system identifier.
func (f *Flexcube) System() string { return f.cfg.System }

// State returns the current connection state.
func (f *Flexcube) State() domain.ConnectorState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Session returns a snapshot of the current session.
func (f *Flexcube) Session() domain.ConnectionSession {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session
}

// Connect authenticates against the core and starts the heartbeat loop.
// A failed or rejected login leaves the connector DISCONNECTED with no
// session state; callers may retry. Only one login may be in flight at a
// time: a Connect that races with another returns an error instead of
// opening a second session.
func (f *Flexcube) Connect(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case domain.StateConnected:
		f.mu.Unlock()
		return nil
	case domain.StateConnecting:
		f.mu.Unlock()
		return fmt.Errorf("connection attempt to %s already in progress", f.cfg.System)
	}
	f.state = domain.StateConnecting
	// A previous session's token must never leak into a new login.
	f.session = domain.ConnectionSession{}
	f.mu.Unlock()

	slog.Info("connecting to banking core", "system", f.cfg.System, "url", f.cfg.BaseURL)

	envelope := buildEnvelope(f.cfg, envelopeInput{
		Service:   sessionService,
		Operation: opAuthenticate,
		MessageID: uuid.New().String(),
		Username:  f.cfg.Username,
		Password:  f.cfg.Password,
		Timestamp: time.Now(),
	})

	statusCode, payload, err := f.post(ctx, envelope)
	if err != nil {
		f.resetToDisconnected()
		f.publish(domain.TopicConnectFailed, err.Error())
		return fmt.Errorf("failed to connect to %s: %w", f.cfg.System, err)
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		f.resetToDisconnected()
		f.publish(domain.TopicConnectorAuthFailed, fmt.Sprintf("authentication rejected with status %d", statusCode))
		return fmt.Errorf("authentication against %s rejected", f.cfg.System)
	}
	if statusCode != http.StatusOK {
		f.resetToDisconnected()
		f.publish(domain.TopicConnectFailed, fmt.Sprintf("unexpected status %d", statusCode))
		return fmt.Errorf("unexpected status %d from %s", statusCode, f.cfg.System)
	}

	body, fault, err := parseEnvelope(payload)
	if err != nil {
		f.resetToDisconnected()
		f.publish(domain.TopicConnectFailed, err.Error())
		return err
	}
	if fault != nil {
		f.resetToDisconnected()
		f.publish(domain.TopicConnectorAuthFailed, fault.Reason)
		return fmt.Errorf("authentication fault from %s: %s", f.cfg.System, fault.Reason)
	}

	token := extractSessionToken(body)
	if token == "" {
		f.resetToDisconnected()
		f.publish(domain.TopicConnectFailed, "login response carried no session token")
		return fmt.Errorf("no session token in %s login response", f.cfg.System)
	}

	f.mu.Lock()
	f.state = domain.StateConnected
	f.session = domain.ConnectionSession{
		SessionToken:  token,
		IsConnected:   true,
		LastHeartbeat: time.Now(),
	}
	// A stale stop channel here would leak its heartbeat loop.
	if f.stop != nil {
		close(f.stop)
	}
	f.stop = make(chan struct{})
	stop := f.stop
	f.mu.Unlock()

	f.publish(domain.TopicConnectorConnected, "")
	slog.Info("banking core session established", "system", f.cfg.System)

	go f.heartbeatLoop(stop)
	return nil
}

// Disconnect sends a best-effort logout and clears the session. The
// connector ends up DISCONNECTED regardless of the logout outcome.
func (f *Flexcube) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	if f.state == domain.StateDisconnected {
		f.mu.Unlock()
		return nil
	}
	token := f.session.SessionToken
	f.mu.Unlock()

	if token != "" {
		envelope := buildEnvelope(f.cfg, envelopeInput{
			Service:      sessionService,
			Operation:    opLogout,
			MessageID:    uuid.New().String(),
			SessionToken: token,
			Timestamp:    time.Now(),
		})
		if _, _, err := f.post(ctx, envelope); err != nil {
			slog.Warn("logout request failed", "system", f.cfg.System, "error", err)
		}
	}

	f.resetToDisconnected()
	slog.Info("banking core session closed", "system", f.cfg.System)
	return nil
}

// Execute sends one operation over the active session. Every failure mode
// lands in the response status; Execute never panics and never loses the
// caller's message id.
func (f *Flexcube) Execute(ctx context.Context, req *domain.WireRequest) *domain.WireResponse {
	start := time.Now()

	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}

	resp := &domain.WireResponse{
		MessageID: messageID,
		Timestamp: time.Now(),
	}
	fail := func(code, msg string) *domain.WireResponse {
		resp.Status = domain.WireError
		resp.ErrorCode = code
		resp.ErrorMessage = msg
		resp.ProcessingTime = time.Since(start).Milliseconds()
		return resp
	}

	f.mu.RLock()
	state := f.state
	token := f.session.SessionToken
	f.mu.RUnlock()

	if state != domain.StateConnected || token == "" {
		return fail("NOT_CONNECTED", fmt.Sprintf("no active session for %s", f.cfg.System))
	}

	envelope := buildEnvelope(f.cfg, envelopeInput{
		Service:      req.Service,
		Operation:    req.Operation,
		MessageID:    messageID,
		SessionToken: token,
		Options:      req.Options,
		Data:         req.Data,
		Timestamp:    time.Now(),
	})

	statusCode, payload, err := f.post(ctx, envelope)
	if err != nil {
		return fail("TRANSPORT_ERROR", err.Error())
	}

	if statusCode == http.StatusUnauthorized {
		// The core invalidated our session. Tear it down and let the
		// router decide whether to re-authenticate.
		f.resetToDisconnected()
		f.publish(domain.TopicConnectorAuthFailed, "session rejected by core")
		slog.Warn("session rejected by banking core", "system", f.cfg.System, "operation", req.Operation)
		return fail("AUTH_FAILED", "session is no longer valid")
	}
	if statusCode != http.StatusOK && statusCode != http.StatusInternalServerError {
		// SOAP faults legitimately arrive as HTTP 500; anything else is a
		// transport-level failure.
		return fail("HTTP_ERROR", fmt.Sprintf("unexpected status %d", statusCode))
	}

	body, fault, err := parseEnvelope(payload)
	if err != nil {
		return fail("PARSE_ERROR", err.Error())
	}
	if fault != nil {
		return fail(faultErrorCode(fault), fault.Reason)
	}

	resp.Status = domain.WireSuccess
	resp.Data = mapResponseData(req.Operation, body)
	if warnings := extractWarnings(body); len(warnings) > 0 {
		resp.Status = domain.WireWarning
		resp.Warnings = warnings
	}
	resp.ProcessingTime = time.Since(start).Milliseconds()
	return resp
}

// heartbeatLoop keeps the session warm. The first failed heartbeat marks
// the connection lost and exits; there is no automatic reconnect.
func (f *Flexcube) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(f.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := f.heartbeat(); err != nil {
				slog.Warn("heartbeat failed, marking connection lost",
					"system", f.cfg.System,
					"error", err,
				)
				f.resetToDisconnected()
				f.publish(domain.TopicConnectorLost, err.Error())
				return
			}

			f.mu.Lock()
			f.session.LastHeartbeat = time.Now()
			f.mu.Unlock()
		}
	}
}

func (f *Flexcube) heartbeat() error {
	f.mu.RLock()
	token := f.session.SessionToken
	f.mu.RUnlock()
	if token == "" {
		return fmt.Errorf("no session token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	defer cancel()

	envelope := buildEnvelope(f.cfg, envelopeInput{
		Service:      sessionService,
		Operation:    opHeartbeat,
		MessageID:    uuid.New().String(),
		SessionToken: token,
		Timestamp:    time.Now(),
	})

	statusCode, payload, err := f.post(ctx, envelope)
	if err != nil {
		return err
	}
	if statusCode != http.StatusOK {
		return fmt.Errorf("heartbeat rejected with status %d", statusCode)
	}
	if _, fault, err := parseEnvelope(payload); err != nil {
		return err
	} else if fault != nil {
		return fmt.Errorf("heartbeat fault: %s", fault.Reason)
	}
	return nil
}

func (f *Flexcube) post(ctx context.Context, envelope string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.BaseURL, bytes.NewReader([]byte(envelope)))
	if err != nil {
		return 0, nil, err
	}
	if f.cfg.SOAPVersion == "1.2" {
		req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	} else {
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", "")
	}

	res, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, payload, nil
}

// resetToDisconnected clears all session state and stops the heartbeat
// loop if one is running.
func (f *Flexcube) resetToDisconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = domain.StateDisconnected
	f.session = domain.ConnectionSession{}
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

func (f *Flexcube) publish(topic, reason string) {
	if f.bus == nil {
		return
	}
	payload, _ := json.Marshal(domain.ConnectorEvent{System: f.cfg.System, Reason: reason})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish connector event", "topic", topic, "error", err)
	}
}

func extractSessionToken(body map[string]any) string {
	for _, name := range []string{"SESSION", "SessionToken", "SESSIONID"} {
		if v := deepFind(body, name); v != "" {
			return v
		}
	}
	return ""
}

func extractWarnings(body map[string]any) []string {
	var warnings []string
	switch v := deepFindAny(body, "WARNING").(type) {
	case string:
		if v != "" {
			warnings = append(warnings, v)
		}
	case []any:
		for _, w := range v {
			if s, ok := w.(string); ok && s != "" {
				warnings = append(warnings, s)
			}
		}
	}
	return warnings
}

func faultErrorCode(fault *soapFault) string {
	if fault.Code != "" {
		return fault.Code
	}
	return "SOAP_FAULT"
}

func deepFind(m map[string]any, name string) string {
	if s, ok := deepFindAny(m, name).(string); ok {
		return s
	}
	return ""
}

func deepFindAny(m map[string]any, name string) any {
	queue := []map[string]any{m}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if v, ok := current[name]; ok {
			return v
		}
		for _, v := range current {
			if child, ok := v.(map[string]any); ok {
				queue = append(queue, child)
			}
		}
	}
	return nil
}
