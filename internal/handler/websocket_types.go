// internal/handler/websocket_types.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"serial-mux/internal/model"
)

// Outbound message types
const (
	MessageTypeEvent    = "event"
	MessageTypeResponse = "response"
	MessageTypeError    = "error"
	MessageTypePong     = "pong"
)

var (
	errClientGone   = errors.New("session has no connected client")
	errSendOverflow = errors.New("client send buffer is full")
)

// Client represents the WebSocket connection of one host session
type Client struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan frame      `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// frame is one queued WebSocket message
type frame struct {
	messageType int
	data        []byte
}

// WebSocketMessage represents a text message sent to the host
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Command   string      `json:"command,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// CommandError is the payload of an error message
type CommandError struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
	Code    string `json:"code"`
}

// ConnectionManager tracks one client per session and delivers session output
// to it. Port data goes out as binary frames and events as JSON text frames.
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers client for its session. It fails when the session
// already has a client.
func (cm *ConnectionManager) Register(client *Client) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, exists := cm.clients[client.SessionID]; exists {
		return false
	}
	cm.clients[client.SessionID] = client
	return true
}

// Unregister removes client and closes its send queue
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if current, ok := cm.clients[client.SessionID]; ok && current == client {
		delete(cm.clients, client.SessionID)
		close(client.Send)
	}
}

// Has reports whether sessionID has a connected client
func (cm *ConnectionManager) Has(sessionID string) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	_, ok := cm.clients[sessionID]
	return ok
}

// SendToStream queues data for the session's client as a binary frame
func (cm *ConnectionManager) SendToStream(sessionID string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return cm.enqueue(sessionID, frame{messageType: websocket.BinaryMessage, data: buf})
}

// Notify queues event for the session's client
func (cm *ConnectionManager) Notify(sessionID string, event *model.HostEvent) error {
	return cm.SendMessage(sessionID, &WebSocketMessage{
		Type:      MessageTypeEvent,
		Data:      event,
		Timestamp: event.Timestamp,
	})
}

// SendMessage queues message for the session's client
func (cm *ConnectionManager) SendMessage(sessionID string, message *WebSocketMessage) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal WebSocket message: %w", err)
	}
	return cm.enqueue(sessionID, frame{messageType: websocket.TextMessage, data: messageBytes})
}

func (cm *ConnectionManager) enqueue(sessionID string, f frame) error {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	client, ok := cm.clients[sessionID]
	if !ok {
		return errClientGone
	}
	select {
	case client.Send <- f:
		return nil
	default:
		return errSendOverflow
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}
	for _, client := range cm.clients {
		stats.Clients = append(stats.Clients, client)
	}
	sort.Slice(stats.Clients, func(i, j int) bool {
		return stats.Clients[i].SessionID < stats.Clients[j].SessionID
	})
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
