package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction is emitted after every redaction request
	EventTypeRedaction EventType = "redaction"
	// EventTypeRuleChange is emitted when rules are created, updated, deleted or imported
	EventTypeRuleChange EventType = "rule_change"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// RedactionEvent summarizes one redaction call. Content never leaves the server.
type RedactionEvent struct {
	RequestID  string        `json:"request_id"`
	Kind       string        `json:"kind"`
	Viewer     string        `json:"viewer,omitempty"`
	Spans      int           `json:"spans"`
	Hits       map[int64]int `json:"hits,omitempty"`
	Errors     int           `json:"errors"`
	Degraded   bool          `json:"degraded"`
	DurationMS float64       `json:"duration_ms"`
}

// RuleChangeEvent describes a change to the rule set
type RuleChangeEvent struct {
	Action  string  `json:"action"` // created, updated, deleted, imported
	RuleIDs []int64 `json:"rule_ids,omitempty"`
	Count   int64   `json:"count"`
	Actor   string  `json:"actor,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRedactions  int64  `json:"total_redactions"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows redaction and rule events
type EventFilter struct {
	Kinds   []string `json:"kinds,omitempty"`
	RuleIDs []int64  `json:"rule_ids,omitempty"`
	// OnlyHits drops redaction events that replaced nothing
	OnlyHits bool `json:"only_hits,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}
