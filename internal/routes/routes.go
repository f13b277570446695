// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"serial-mux/internal/config"
	"serial-mux/internal/database"
	"serial-mux/internal/handler"
	"serial-mux/internal/middleware"
	"serial-mux/internal/service"
	"serial-mux/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config          *config.Config
	logger          *zap.Logger
	db              *database.DB
	sessionService  *service.SessionService
	settingsService *service.SettingsService
	portStats       handler.PortStatsProvider
}

// NewRouter creates a new router instance. db is nil unless settings live in postgres.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	sessionService *service.SessionService,
	settingsService *service.SettingsService,
	portStats handler.PortStatsProvider,
) *Router {
	return &Router{
		config:          config,
		logger:          logger,
		db:              db,
		sessionService:  sessionService,
		settingsService: settingsService,
		portStats:       portStats,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	// Request ID first so recovery and logging can report it
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, "/live", "/ready"))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	wsHandler := handler.NewWebSocketHandler(r.sessionService, r.config.Security.AllowedOrigins, r.logger)
	healthHandler := handler.NewHealthHandler(r.db, r.portStats, wsHandler, r.config, r.logger)
	portHandler := handler.NewPortHandler(r.sessionService, r.portStats, r.logger)
	settingsHandler := handler.NewSettingsHandler(r.settingsService, r.logger)

	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	portHandler.RegisterRoutes(apiV1)
	settingsHandler.RegisterRoutes(apiV1)

	wsHandler.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
