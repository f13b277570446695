// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "serial-mux/docs"
	"serial-mux/internal/config"
	"serial-mux/internal/database"
	"serial-mux/internal/discovery/usb"
	"serial-mux/internal/port"
	"serial-mux/internal/protocol"
	"serial-mux/internal/repository"
	"serial-mux/internal/routes"
	"serial-mux/internal/service"
	"serial-mux/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Port layer
	transport protocol.Transport
	registry  *port.Registry

	// Services
	settingsService *service.SettingsService
	sessionService  *service.SessionService

	// Repositories
	settingsRepo repository.SettingsRepository
}

// @title Serial Mux API
// @version 1.0.0
// @description Serial port multiplexer for host log viewers

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8085
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	migrateDown := flag.Bool("migrate-down", false, "roll back the settings schema and exit")
	flag.Parse()

	if *migrateDown {
		if err := rollback(*configPath); err != nil {
			fmt.Printf("Failed to roll back migrations: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// rollback reverts every migration of the postgres settings store
func rollback(configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	defer db.Close()

	return database.NewMigrator(db, logger).Down()
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "serial-mux")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := app.initializePorts(); err != nil {
		return nil, fmt.Errorf("failed to initialize ports: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase connects to postgres and migrates it when settings are stored there
func (app *Application) initializeDatabase() error {
	if app.config.Settings.Backend != config.SettingsBackendPostgres {
		app.logger.Info("Database disabled", zap.String("settings_backend", app.config.Settings.Backend))
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.MigrateOnStart {
		migrator := database.NewMigrator(db, app.logger)
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
		if version, dirty, err := migrator.Version(); err == nil {
			app.logger.Info("Database schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	switch app.config.Settings.Backend {
	case config.SettingsBackendPostgres:
		app.settingsRepo = repository.NewSettingsPostgresRepository(app.database, app.logger)
	default:
		app.settingsRepo = repository.NewSettingsFileRepository(app.config.Settings.File, app.logger)
	}

	app.logger.Info("Repositories initialized successfully",
		zap.String("settings_backend", app.config.Settings.Backend),
	)
	return nil
}

// initializePorts sets up the serial transport and the port registry
func (app *Application) initializePorts() error {
	var source usb.DescriptorSource
	if app.config.Discovery.USBEnrich {
		source = usb.NewScanner(app.logger, &usb.Config{EnableDebug: app.config.App.Debug})
	}
	enricher := usb.NewEnricher(source, app.logger)

	app.transport = protocol.NewSerialTransport(app.logger, enricher)
	app.registry = port.NewRegistry(app.transport, port.RegistryOptionsFromConfig(&app.config.Serial), app.logger)

	app.logger.Info("Port registry initialized successfully",
		zap.Int("chunk_size", app.config.Serial.ChunkSize),
		zap.Duration("pacing_delay", app.config.Serial.PacingDelay),
		zap.Bool("usb_enrich", app.config.Discovery.USBEnrich),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.settingsService = service.NewSettingsService(app.settingsRepo, app.logger)
	app.sessionService = service.NewSessionService(
		app.registry,
		app.settingsService,
		app.config.Spy.ReportInterval,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.sessionService,
		app.settingsService,
		app.registry,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "serial-mux")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Hijacked WebSocket connections outlive Shutdown, so sessions are torn down here
	if err := app.sessionService.Shutdown(ctx); err != nil {
		app.logger.Error("Session shutdown error", zap.Error(err))
	} else {
		app.logger.Info("Sessions closed")
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()

	return nil
}
