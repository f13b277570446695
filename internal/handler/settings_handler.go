// internal/handler/settings_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-mux/internal/model"
	"serial-mux/internal/service"
	"serial-mux/internal/utils"
)

// SettingsHandler exposes the host preferences over REST
type SettingsHandler struct {
	settings *service.SettingsService
	logger   *utils.ServiceLogger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *service.SettingsService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		logger:   utils.NewServiceLogger(logger, "settings-handler"),
	}
}

// RegisterRoutes registers settings routes. Device paths contain slashes, so
// entries are addressed by query parameters.
func (h *SettingsHandler) RegisterRoutes(router *gin.RouterGroup) {
	settings := router.Group("/settings")
	{
		settings.GET("", h.GetSettings)
		settings.POST("/recent", h.SaveRecentOptions)
		settings.DELETE("/recent", h.DeleteRecentOptions)
		settings.POST("/commands", h.AddCommand)
		settings.DELETE("/commands", h.DeleteCommand)
	}
}

// AddCommandRequest is the body of the add command request
type AddCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// GetSettings returns the stored settings
// @Summary Get settings
// @Tags Settings
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Settings} "Settings loaded"
// @Failure 500 {object} utils.APIResponse "Settings could not be loaded"
// @Router /settings [get]
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Read(c.Request.Context())
	if err != nil {
		utils.DomainErrorResponse(c, "Failed to load settings", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Settings loaded", settings)
}

// SaveRecentOptions stores the recent options of a port
// @Summary Save recent port options
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body model.PortOptions true "Port options"
// @Success 200 {object} utils.APIResponse "Options saved"
// @Failure 400 {object} utils.APIResponse "Invalid options"
// @Router /settings/recent [post]
func (h *SettingsHandler) SaveRecentOptions(c *gin.Context) {
	var options model.PortOptions
	if err := c.ShouldBindJSON(&options); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.settings.AddOptions(c.Request.Context(), &options); err != nil {
		h.logger.Warn("Failed to save recent options", zap.String("port", options.Path), zap.Error(err))
		utils.DomainErrorResponse(c, "Failed to save options", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Options saved", nil)
}

// DeleteRecentOptions forgets the recent options of a port
// @Summary Delete recent port options
// @Tags Settings
// @Produce json
// @Param path query string true "Device path"
// @Success 200 {object} utils.APIResponse "Options removed"
// @Failure 400 {object} utils.APIResponse "Missing path"
// @Router /settings/recent [delete]
func (h *SettingsHandler) DeleteRecentOptions(c *gin.Context) {
	if err := h.settings.RemoveOptions(c.Request.Context(), c.Query("path")); err != nil {
		utils.DomainErrorResponse(c, "Failed to remove options", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Options removed", nil)
}

// AddCommand appends a command to the history
// @Summary Add command to history
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body AddCommandRequest true "Command"
// @Success 200 {object} utils.APIResponse "Command saved"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Router /settings/commands [post]
func (h *SettingsHandler) AddCommand(c *gin.Context) {
	var req AddCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.settings.AddCommand(c.Request.Context(), req.Command); err != nil {
		utils.DomainErrorResponse(c, "Failed to save command", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command saved", nil)
}

// DeleteCommand removes a command from the history
// @Summary Delete command from history
// @Tags Settings
// @Produce json
// @Param command query string true "Command"
// @Success 200 {object} utils.APIResponse "Command removed"
// @Router /settings/commands [delete]
func (h *SettingsHandler) DeleteCommand(c *gin.Context) {
	if err := h.settings.RemoveCommand(c.Request.Context(), c.Query("command")); err != nil {
		utils.DomainErrorResponse(c, "Failed to remove command", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command removed", nil)
}
