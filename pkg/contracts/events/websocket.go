// Package events contains the WebSocket message contract of the status server.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeUpdateState carries a new update lifecycle state
	MessageTypeUpdateState MessageType = "update:state"

	// MessageTypeLicenseStatus carries the latest license verification summary
	MessageTypeLicenseStatus MessageType = "license:status"

	// Connection messages
	MessageTypeConnect MessageType = "connect"
	MessageTypeError   MessageType = "error"
)

// BaseMessage represents the base structure for all WebSocket messages
type BaseMessage struct {
	ID        string      `json:"id,omitempty"`       // Unique message ID
	Type      MessageType `json:"type"`               // Message type
	Timestamp time.Time   `json:"timestamp"`          // Message timestamp
	TraceID   string      `json:"trace_id,omitempty"` // Request trace ID
}

// WebSocketMessage represents a complete WebSocket message
type WebSocketMessage struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// UpdateStateEvent is the payload of an update:state message
type UpdateStateEvent struct {
	Sequence uint64                 `json:"sequence"`
	Status   string                 `json:"status"`
	Terminal bool                   `json:"terminal"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
}

// ErrorEvent is the payload of an error message
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}
