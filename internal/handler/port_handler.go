// internal/handler/port_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/port"
	"serial-mux/internal/service"
	"serial-mux/internal/utils"
)

// PortStatsProvider exposes the live port counters
type PortStatsProvider interface {
	Stats() port.RegistryStats
}

// PortHandler handles port and session inspection requests
type PortHandler struct {
	sessions *service.SessionService
	stats    PortStatsProvider
	logger   *utils.ServiceLogger
}

// NewPortHandler creates a new port handler
func NewPortHandler(sessions *service.SessionService, stats PortStatsProvider, logger *zap.Logger) *PortHandler {
	return &PortHandler{
		sessions: sessions,
		stats:    stats,
		logger:   utils.NewServiceLogger(logger, "port-handler"),
	}
}

// RegisterRoutes registers port and session routes
func (h *PortHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
	router.GET("/ports/stats", h.GetPortStats)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:session_id", h.GetSession)
}

// ListPorts lists the serial ports present on the host
// @Summary List ports
// @Description Enumerate serial ports merged with their live state
// @Tags Ports
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.PortInfo} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /ports [get]
func (h *PortHandler) ListPorts(c *gin.Context) {
	ports, err := h.sessions.ListPorts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.DomainErrorResponse(c, "Failed to list ports", err)
		return
	}
	if ports == nil {
		ports = []*model.PortInfo{}
	}
	utils.SuccessResponse(c, http.StatusOK, "Ports listed", ports)
}

// GetPortStats returns the registry counters
// @Summary Port statistics
// @Tags Ports
// @Produce json
// @Success 200 {object} utils.APIResponse{data=port.RegistryStats} "Port statistics"
// @Router /ports/stats [get]
func (h *PortHandler) GetPortStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Port statistics", h.stats.Stats())
}

// ListSessions lists the live sessions
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]service.SessionInfo} "Sessions listed"
// @Router /sessions [get]
func (h *PortHandler) ListSessions(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Sessions listed", h.sessions.Sessions())
}

// GetSession describes one session
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=service.SessionInfo} "Session found"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{session_id} [get]
func (h *PortHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	controller, ok := h.sessions.Session(sessionID)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Session not found", nil)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session found", gin.H{
		"id":          controller.ID(),
		"owned_ports": controller.OwnedPorts(),
		"spied_ports": controller.SpiedPorts(),
		"load":        controller.Load(),
	})
}
