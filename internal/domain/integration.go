package domain

import (
	"time"
)

// IntegrationType identifies the class of external system a request targets.
type IntegrationType string

const (
	IntegrationBankingCore IntegrationType = "BANKING_CORE"
	IntegrationRegulatory  IntegrationType = "REGULATORY"
	IntegrationThirdParty  IntegrationType = "THIRD_PARTY"
	IntegrationInternal    IntegrationType = "INTERNAL"
)

// IntegrationStatus tracks the lifecycle of an integration instance.
// Transitions are monotonic: PROCESSING may move to COMPLETED or FAILED,
// and terminal states are immutable.
type IntegrationStatus string

const (
	StatusProcessing IntegrationStatus = "PROCESSING"
	StatusCompleted  IntegrationStatus = "COMPLETED"
	StatusFailed     IntegrationStatus = "FAILED"
)

// IntegrationRequest is the canonical, system-agnostic request shape that
// every connector and REST client translates from.
type IntegrationRequest struct {
	Type      IntegrationType `json:"type"`
	System    string          `json:"system"`
	Operation string          `json:"operation"`
	Data      map[string]any  `json:"data"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// IntegrationResponse is the canonical response returned to the caller.
type IntegrationResponse struct {
	IntegrationID  string            `json:"integrationId"`
	Status         IntegrationStatus `json:"status"`
	Data           map[string]any    `json:"data,omitempty"`
	ProcessingTime int64             `json:"processingTime"` // milliseconds
	Timestamp      time.Time         `json:"timestamp"`
}

// IntegrationInstance is the router-owned record of one integration call.
type IntegrationInstance struct {
	ID          string            `json:"id"`
	Type        IntegrationType   `json:"type"`
	System      string            `json:"system"`
	Operation   string            `json:"operation"`
	Status      IntegrationStatus `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`

	RequestData  map[string]any `json:"requestData,omitempty"`
	ResponseData map[string]any `json:"responseData,omitempty"`
	Error        string         `json:"error,omitempty"`

	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// Terminal reports whether the instance has reached an immutable state.
func (i *IntegrationInstance) Terminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}
