// internal/testutil/host.go
package testutil

import (
	"sync"

	"serial-mux/internal/model"
)

// FakeHost records everything sent toward the host
type FakeHost struct {
	mu      sync.Mutex
	streams map[string][]byte
	events  map[string][]*model.HostEvent
	sendErr error
}

// NewFakeHost creates an empty host recorder
func NewFakeHost() *FakeHost {
	return &FakeHost{
		streams: make(map[string][]byte),
		events:  make(map[string][]*model.HostEvent),
	}
}

// SendToStream appends data to the session's stream
func (h *FakeHost) SendToStream(sessionID string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.streams[sessionID] = append(h.streams[sessionID], data...)
	return nil
}

// Notify records event for the session
func (h *FakeHost) Notify(sessionID string, event *model.HostEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[sessionID] = append(h.events[sessionID], event)
	return nil
}

// FailSend makes SendToStream return err
func (h *FakeHost) FailSend(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// Stream returns everything sent to the session's stream
func (h *FakeHost) Stream(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.streams[sessionID])
}

// Events returns the events of the session
func (h *FakeHost) Events(sessionID string) []*model.HostEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*model.HostEvent(nil), h.events[sessionID]...)
}

// EventsOfType returns the events of the session with the given type
func (h *FakeHost) EventsOfType(sessionID string, eventType model.EventType) []*model.HostEvent {
	var out []*model.HostEvent
	for _, e := range h.Events(sessionID) {
		if e.Event == eventType {
			out = append(out, e)
		}
	}
	return out
}
