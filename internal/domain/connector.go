package domain

import (
	"context"
	"time"
)

// ConnectorState is the connection lifecycle of a protocol connector.
type ConnectorState string

const (
	StateDisconnected ConnectorState = "DISCONNECTED"
	StateConnecting   ConnectorState = "CONNECTING"
	StateConnected    ConnectorState = "CONNECTED"
)

// Connector is the contract every banking-core protocol connector implements.
// One connector owns one persistent authenticated session against one
// configured external system.
type Connector interface {
	// Connect authenticates against the external system and starts the
	// heartbeat loop. On auth failure the connector stays DISCONNECTED.
	Connect(ctx context.Context) error

	// Disconnect sends a best-effort logout and clears the session
	// regardless of the logout outcome.
	Disconnect(ctx context.Context) error

	// Execute sends one request over the active session. Protocol faults
	// and transport failures are reported through WireResponse.Status,
	// never as a returned error.
	Execute(ctx context.Context, req *WireRequest) *WireResponse

	// State returns the current connection state.
	State() ConnectorState

	// Session returns a snapshot of the current session.
	Session() ConnectionSession

	// System returns the external system identifier (e.g. "flexcube").
	System() string
}

// ConnectionSession is the per-connector authenticated session.
// SessionToken is sensitive and is never logged in full.
type ConnectionSession struct {
	SessionToken  string    `json:"-"`
	IsConnected   bool      `json:"isConnected"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// ConnectorConfig holds per-external-system connection settings.
type ConnectorConfig struct {
	System     string `json:"system"`
	BaseURL    string `json:"baseUrl"`
	Username   string `json:"username"`
	Password   string `json:"-"`
	BranchCode string `json:"branchCode"`
	SourceCode string `json:"sourceCode"`

	Timeout           time.Duration `json:"timeout"`
	EnableSSL         bool          `json:"enableSSL"`
	SOAPVersion       string        `json:"soapVersion"` // "1.1" or "1.2"
	Namespace         string        `json:"namespace"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
}

// WireStatus is the normalized outcome of one wire exchange.
type WireStatus string

const (
	WireSuccess WireStatus = "SUCCESS"
	WireError   WireStatus = "ERROR"
	WireWarning WireStatus = "WARNING"
)

// WireRequest is one operation executed against a connected session.
type WireRequest struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	MessageID string         `json:"messageId,omitempty"`
	Data      map[string]any `json:"data"`
	Options   *WireOptions   `json:"options,omitempty"`
}

// WireOptions carries caller execution hints.
type WireOptions struct {
	Async        bool   `json:"async,omitempty"`
	Priority     string `json:"priority,omitempty"`
	ValidateOnly bool   `json:"validateOnly,omitempty"`
}

// WireResponse is the single failure channel for connector execution:
// SOAP faults, HTTP errors, and parse failures all land here as
// Status=ERROR with a code and message.
type WireResponse struct {
	Status       WireStatus     `json:"status"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	MessageID    string         `json:"messageId,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`

	ProcessingTime int64 `json:"processingTime"` // milliseconds
}
