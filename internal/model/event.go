// internal/model/event.go
package model

import (
	"time"
)

// EventType represents the type of event pushed to the host
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventSpyState     EventType = "spyState"
)

// HostEvent is a notification sent to the host on behalf of a session
type HostEvent struct {
	Event     EventType        `json:"event"`
	StreamID  string           `json:"streamId"`
	Port      string           `json:"port,omitempty"`
	Error     string           `json:"error,omitempty"`
	Load      map[string]int64 `json:"load,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewHostEvent creates an event stamped with the current time
func NewHostEvent(event EventType, streamID, port string) *HostEvent {
	return &HostEvent{
		Event:     event,
		StreamID:  streamID,
		Port:      port,
		Timestamp: time.Now(),
	}
}

// PayloadKind tells whether device bytes were decoded to text
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadBinary
)

// Payload is a device line decoded once at ingestion
type Payload struct {
	Kind PayloadKind
	Text string
	Raw  []byte
}

// TextPayload creates a decoded payload
func TextPayload(text string) Payload {
	return Payload{Kind: PayloadText, Text: text}
}

// BinaryPayload creates a payload for bytes that could not be decoded
func BinaryPayload(raw []byte) Payload {
	return Payload{Kind: PayloadBinary, Raw: raw}
}
