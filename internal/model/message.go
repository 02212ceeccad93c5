package model

import (
	"encoding/json"
	"time"
)

// Topic names the four pipeline message streams.
type Topic string

const (
	TopicRawEvents        Topic = "raw.events"
	TopicCleanEvents      Topic = "clean.events"
	TopicSignalsDetected  Topic = "signals.detected"
	TopicActionsTriggered Topic = "actions.triggered"
)

// Topics lists every topic the dispatcher consumes.
func Topics() []Topic {
	return []Topic{TopicRawEvents, TopicCleanEvents, TopicSignalsDetected, TopicActionsTriggered}
}

// ActionType routes an actions.triggered message to a handler.
type ActionType string

const (
	ActionRunAgent         ActionType = "run_agent"
	ActionGenerateProposal ActionType = "generate_proposal"
	ActionCRMSync          ActionType = "crm_sync"
)

// RawEventMessage is the raw.events payload produced by the crawler.
type RawEventMessage struct {
	EventType string          `json:"event_type"`
	CompanyID int64           `json:"company_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// CleanEventMessage is the clean.events payload: a normalized event plus the
// company attributes needed to build a fresh run state.
type CleanEventMessage struct {
	CompanyID   int64          `json:"company_id"`
	CompanyData map[string]any `json:"company_data"`
	EventType   string         `json:"event_type"`
	URL         string         `json:"url,omitempty"`
	Title       string         `json:"title,omitempty"`
	Text        string         `json:"text,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Event converts the message into its event form.
func (m CleanEventMessage) Event() Event {
	return Event{
		EventType: m.EventType,
		CompanyID: m.CompanyID,
		URL:       m.URL,
		Title:     m.Title,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}

// SignalMessage is the signals.detected payload.
type SignalMessage struct {
	SignalID  string     `json:"signal_id"`
	CompanyID int64      `json:"company_id"`
	Kind      SignalKind `json:"kind"`
	Score     float64    `json:"score"`
}

// ActionInput carries pre-fetched state for a run_agent action.
type ActionInput struct {
	CompanyData map[string]any `json:"company_data,omitempty"`
	Events      []Event        `json:"events,omitempty"`
	Signals     []Signal       `json:"signals,omitempty"`
}

// ActionMessage is the actions.triggered payload. Fields beyond ActionType
// are action-specific: AgentType+CompanyID+InputData for run_agent,
// CompanyID+ProductID for generate_proposal, CRMType+Direction for crm_sync.
type ActionMessage struct {
	ActionType ActionType   `json:"action_type"`
	AgentType  string       `json:"agent_type,omitempty"`
	CompanyID  int64        `json:"company_id,omitempty"`
	InputData  *ActionInput `json:"input_data,omitempty"`
	ProductID  string       `json:"product_id,omitempty"`
	CRMType    string       `json:"crm_type,omitempty"`
	Direction  string       `json:"direction,omitempty"`
}
