package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/port"
	"serial-mux/internal/repository"
	"serial-mux/internal/service"
	"serial-mux/internal/testutil"
)

const (
	usb0    = "/dev/ttyUSB0"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func init() {
	gin.SetMode(gin.TestMode)
}

type wsFixture struct {
	t         *testing.T
	transport *testutil.FakeTransport
	registry  *port.Registry
	sessions  *service.SessionService
	server    *httptest.Server
}

func newWSFixture(t *testing.T, configure ...func(*WebSocketHandler)) *wsFixture {
	t.Helper()
	transport := testutil.NewFakeTransport()
	handleOpts := port.DefaultHandleOptions()
	handleOpts.PacingDelay = time.Millisecond
	registry := port.NewRegistry(transport, port.RegistryOptions{Handle: handleOpts}, zap.NewNop())

	repo := repository.NewSettingsFileRepository(filepath.Join(t.TempDir(), "settings.yaml"), zap.NewNop())
	settings := service.NewSettingsService(repo, zap.NewNop())
	sessions := service.NewSessionService(registry, settings, 20*time.Millisecond, zap.NewNop())

	ws := NewWebSocketHandler(sessions, nil, zap.NewNop())
	for _, fn := range configure {
		fn(ws)
	}
	router := gin.New()
	ws.RegisterRoutes(router.Group("/ws"))
	NewPortHandler(sessions, registry, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	NewSettingsHandler(settings, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		_ = sessions.Shutdown(t.Context())
	})

	return &wsFixture{t: t, transport: transport, registry: registry, sessions: sessions, server: server}
}

func (f *wsFixture) dial(sessionID string) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, command, requestID string, data interface{}) {
	t.Helper()
	msg := map[string]interface{}{"command": command, "request_id": requestID}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

type received struct {
	binary  []byte
	message WebSocketMessage
	raw     json.RawMessage
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)

	if messageType == websocket.BinaryMessage {
		return received{binary: data}
	}
	var envelope struct {
		WebSocketMessage
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	return received{message: envelope.WebSocketMessage, raw: envelope.Data}
}

func openOptions(path string) map[string]interface{} {
	return map[string]interface{}{
		"options": map[string]interface{}{
			"path":    path,
			"options": map[string]interface{}{"baudRate": 9600},
		},
	}
}

func TestSessionChannelOpenStreamsOutput(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial("S1")

	sendCommand(t, conn, "open", "r1", openOptions(usb0))

	event := readFrame(t, conn)
	require.Equal(t, MessageTypeEvent, event.message.Type)
	var hostEvent model.HostEvent
	require.NoError(t, json.Unmarshal(event.raw, &hostEvent))
	assert.Equal(t, model.EventConnected, hostEvent.Event)
	assert.Equal(t, usb0, hostEvent.Port)

	response := readFrame(t, conn)
	require.Equal(t, MessageTypeResponse, response.message.Type)
	assert.Equal(t, "r1", response.message.RequestID)
	assert.Equal(t, "open", response.message.Command)
	assert.JSONEq(t, `{"status":"done"}`, string(response.raw))

	f.transport.Stream(usb0).Emit("hello\r\n")

	data := readFrame(t, conn)
	assert.Equal(t, "\x04"+usb0+"\x04: hello\n", string(data.binary))

	sendCommand(t, conn, "send", "r2", map[string]interface{}{"path": usb0, "cmd": "ls"})
	response = readFrame(t, conn)
	assert.JSONEq(t, `{"status":"sent"}`, string(response.raw))
	assert.Eventually(t, func() bool {
		return f.transport.Stream(usb0).Written() == "ls\n\r"
	}, waitFor, tick)
}

func TestSessionChannelLongSendIsNotCutShort(t *testing.T) {
	f := newWSFixture(t, func(h *WebSocketHandler) { h.settingsTimeout = 20 * time.Millisecond })
	conn := f.dial("S1")

	sendCommand(t, conn, "open", "r1", openOptions(usb0))
	readFrame(t, conn)
	readFrame(t, conn)

	// one paced chunk per byte takes far longer than the settings timeout
	payload := strings.Repeat("x", 200)
	sendCommand(t, conn, "send", "r2", map[string]interface{}{"path": usb0, "cmd": payload})

	response := readFrame(t, conn)
	require.Equal(t, MessageTypeResponse, response.message.Type, string(response.raw))
	assert.JSONEq(t, `{"status":"sent"}`, string(response.raw))
	assert.Equal(t, payload+"\n\r", f.transport.Stream(usb0).Written())

	sendCommand(t, conn, "read", "r3", nil)
	response = readFrame(t, conn)
	assert.Equal(t, MessageTypeResponse, response.message.Type)
}

func TestSessionChannelReportsErrors(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial("S1")

	sendCommand(t, conn, "close", "r1", map[string]interface{}{"path": usb0})
	frame := readFrame(t, conn)
	require.Equal(t, MessageTypeError, frame.message.Type)
	assert.Equal(t, "r1", frame.message.RequestID)

	var payload CommandError
	require.NoError(t, json.Unmarshal(frame.raw, &payload))
	assert.Equal(t, "close", payload.Command)
	assert.Equal(t, "UNKNOWN_BINDING", payload.Code)
	assert.NotEmpty(t, payload.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(frame.raw, &payload))
	assert.Equal(t, "VALIDATION_ERROR", payload.Code)
}

func TestSessionChannelPing(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial("S1")

	sendCommand(t, conn, "ping", "p1", nil)
	frame := readFrame(t, conn)
	assert.Equal(t, MessageTypePong, frame.message.Type)
	assert.Equal(t, "p1", frame.message.RequestID)
}

func TestSessionChannelRejectsSecondConnection(t *testing.T) {
	f := newWSFixture(t)
	f.dial("S1")
	require.Eventually(t, func() bool {
		_, ok := f.sessions.Session("S1")
		return ok
	}, waitFor, tick)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/S1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionChannelRejectsSpySessionID(t *testing.T) {
	f := newWSFixture(t)

	for _, id := range []string{"*", "*S1"} {
		url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + id
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, id)
		require.NotNil(t, resp, id)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
	}
}

func TestSessionChannelCloseReleasesPorts(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial("S1")

	sendCommand(t, conn, "open", "r1", openOptions(usb0))
	readFrame(t, conn)
	readFrame(t, conn)
	require.True(t, f.registry.IsOpen(usb0))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		_, ok := f.sessions.Session("S1")
		return !ok && !f.registry.IsOpen(usb0)
	}, waitFor, tick)
	assert.True(t, f.transport.Stream(usb0).Closed())

	// the session id is free again
	assert.Eventually(t, func() bool {
		url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/S1"
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, waitFor, tick)
}

func TestRESTListsPortsAndSessions(t *testing.T) {
	f := newWSFixture(t)
	f.transport.SetPorts(&model.PortInfo{Path: usb0, IsUSB: true})
	conn := f.dial("S1")
	sendCommand(t, conn, "open", "r1", openOptions(usb0))
	readFrame(t, conn)
	readFrame(t, conn)

	resp, err := http.Get(f.server.URL + "/api/v1/ports")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool              `json:"success"`
		Data    []*model.PortInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.True(t, body.Data[0].Open)

	resp2, err := http.Get(f.server.URL + "/api/v1/sessions/S1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Get(f.server.URL + "/api/v1/sessions/ghost")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestRESTSettings(t *testing.T) {
	f := newWSFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/settings/commands", "application/json", strings.NewReader(`{"command":"reboot"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(f.server.URL+"/api/v1/settings/recent", "application/json", strings.NewReader(`{"path":"","options":{}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, f.server.URL+"/api/v1/settings/recent", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/api/v1/settings")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Data model.Settings `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"reboot"}, body.Data.Commands)
}
