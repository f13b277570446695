// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/service"
	"serial-mux/internal/utils"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	commandTimeout = 30 * time.Second
	sendBufferSize = 1024
)

// WebSocketHandler serves the host channel: one connection per session carrying
// commands in and port output, events and responses out
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	sessions    *service.SessionService
	baseLogger  *zap.Logger
	logger      *utils.ServiceLogger

	// settingsTimeout bounds settings store commands
	settingsTimeout time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(sessions *service.SessionService, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		connections:     NewConnectionManager(),
		sessions:        sessions,
		baseLogger:      logger,
		logger:          utils.NewServiceLogger(logger, "websocket-handler"),
		settingsTimeout: commandTimeout,
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/sessions/:session_id", h.HandleSessionConnection)
}

// HandleSessionConnection attaches a host session to a WebSocket connection
// @Summary Open a session channel
// @Description Upgrades to a WebSocket carrying commands for one session. Port output arrives as binary frames, events and command results as JSON text frames.
// @Tags Sessions
// @Param session_id path string true "Session ID"
// @Success 101 "Switching protocols"
// @Failure 400 {object} utils.APIResponse "Invalid session id"
// @Failure 409 {object} utils.APIResponse "Session already connected"
// @Router /ws/sessions/{session_id} [get]
func (h *WebSocketHandler) HandleSessionConnection(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" || strings.HasPrefix(sessionID, model.PseudoSession) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session id", nil)
		return
	}
	if h.connections.Has(sessionID) {
		utils.ErrorResponse(c, http.StatusConflict, "Session already connected", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Connection:  conn,
		Send:        make(chan frame, sendBufferSize),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	if !h.connections.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session already connected"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.sessions.OpenSession(sessionID, h.connections)
	h.logger.Info("Session WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientRead runs the session's commands in arrival order and tears the
// session down when the connection ends
func (h *WebSocketHandler) handleClientRead(client *Client) {
	connCtx, cancelConn := context.WithCancel(context.Background())
	defer func() {
		cancelConn()
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		h.sessions.CloseSession(ctx, client.SessionID)
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Session WebSocket client disconnected",
			zap.String("client_id", client.ID),
			zap.String("session_id", client.SessionID),
		)
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		return client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("session_id", client.SessionID),
				)
			}
			return
		}
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			h.sendError(client, "", "", model.NewValidationError("commands must be sent as text frames"))
			continue
		}

		var cmd model.Command
		if err := json.Unmarshal(messageBytes, &cmd); err != nil {
			h.sendError(client, "", "", model.NewValidationError("malformed command: "+err.Error()))
			continue
		}

		h.handleCommand(connCtx, client, &cmd)
		// a paced send can outlast pongWait while no frame is read
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// handleClientWrite drains the client's queue onto the connection
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case f, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(f.messageType, f.data); err != nil {
				h.logger.Warn("WebSocket write error",
					zap.Error(err),
					zap.String("session_id", client.SessionID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand runs one command. Port commands run until they finish or the
// connection ends; only settings store calls are bounded by settingsTimeout.
func (h *WebSocketHandler) handleCommand(connCtx context.Context, client *Client, cmd *model.Command) {
	if cmd.Command == "ping" {
		h.send(client, &WebSocketMessage{Type: MessageTypePong, RequestID: cmd.RequestID, Timestamp: time.Now()})
		return
	}

	ctx := connCtx
	if cmd.IsSettings() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(connCtx, h.settingsTimeout)
		defer cancel()
	}

	result, err := h.sessions.HandleCommand(ctx, client.SessionID, cmd)
	if err != nil {
		h.sendError(client, string(cmd.Command), cmd.RequestID, err)
		return
	}

	h.send(client, &WebSocketMessage{
		Type:      MessageTypeResponse,
		Command:   string(cmd.Command),
		Data:      result,
		RequestID: cmd.RequestID,
		Timestamp: time.Now(),
	})
}

func (h *WebSocketHandler) sendError(client *Client, command, requestID string, err error) {
	h.send(client, &WebSocketMessage{
		Type: MessageTypeError,
		Data: &CommandError{
			Message: err.Error(),
			Command: command,
			Code:    model.ErrorKind(err),
		},
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

func (h *WebSocketHandler) send(client *Client, message *WebSocketMessage) {
	if err := h.connections.SendMessage(client.SessionID, message); err != nil {
		utils.LoggerWithRequestID(h.baseLogger, message.RequestID).Warn("Failed to queue WebSocket message",
			zap.String("session_id", client.SessionID),
			zap.String("type", message.Type),
			zap.Error(err),
		)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// originChecker accepts requests without an Origin header and those whose
// origin is listed
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}
