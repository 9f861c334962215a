package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/asiod/pkg/client"
	"github.com/dougsko/asiod/pkg/config"
	"github.com/dougsko/asiod/pkg/driver"
	"github.com/dougsko/asiod/pkg/engine"
	"github.com/dougsko/asiod/pkg/logging"
	"github.com/dougsko/asiod/pkg/storage"
)

// ASIODaemon runs the core engine behind its Unix socket and serves the
// HTTP API on top of it
type ASIODaemon struct {
	config     *config.Config
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	coreEngine   *engine.CoreEngine
	store        *storage.EventStore
	socketClient *client.SocketClient
	router       *gin.Engine
	webServer    *http.Server

	socketPath string
}

// NewASIODaemon creates a new daemon instance
func NewASIODaemon(cfg *config.Config, configPath string) (*ASIODaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := cfg.API.UnixSocket
	if socketPath == "" {
		socketPath = "/tmp/asiod.sock"
	}

	daemon := &ASIODaemon{
		config:       cfg,
		configPath:   configPath,
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   socketPath,
		socketClient: client.NewSocketClient(socketPath),
	}

	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewEventStore(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		daemon.store = store
	}

	daemon.coreEngine = engine.NewCoreEngine(cfg, socketPath, driver.FromConfig(cfg), daemon.store)

	if err := daemon.setupWebServer(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the daemon
func (d *ASIODaemon) Start() error {
	logging.Info("daemon", "Starting asiod daemon...")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	// Wait a moment for socket to be ready
	time.Sleep(100 * time.Millisecond)

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to core engine socket")
	}

	if d.config.Web.Port > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			logging.Info("daemon", fmt.Sprintf("Starting web server on %s", d.webServer.Addr))
			if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("daemon", fmt.Sprintf("Web server error: %v", err))
			}
		}()
	}

	if d.store != nil {
		d.wg.Add(1)
		go d.journalMaintenance()
	}

	return nil
}

// Stop stops the daemon gracefully
func (d *ASIODaemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warn("daemon", fmt.Sprintf("Web server shutdown error: %v", err))
		}
	}

	if d.coreEngine != nil {
		if err := d.coreEngine.Stop(); err != nil {
			logging.Warn("daemon", fmt.Sprintf("Core engine shutdown error: %v", err))
		}
	}

	d.wg.Wait()

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logging.Warn("daemon", fmt.Sprintf("Event journal close error: %v", err))
		}
	}

	logging.Info("daemon", "Daemon stopped")
	return nil
}

// setupWebServer initializes the router and routes
func (d *ASIODaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logging.GetGlobalLogger().Writer("web")), gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/devices", d.handleGetDevices)
		api.GET("/devices/:id/geometry", d.handleGetGeometry)
		api.GET("/devices/:id/channels/:dir/:index", d.handleGetChannelName)
		api.POST("/devices/:id/panel", d.handleShowControlPanel)

		api.POST("/stream/start", d.handleStartStream)
		api.POST("/stream/stop", d.handleStopStream)
		api.POST("/stream/restart", d.handleRestartStream)
		api.PUT("/stream/samplerate", d.handleSetSampleRate)
		api.POST("/stream/inject", d.handleInject)

		api.GET("/events", d.handleGetEvents)
		api.GET("/events/stats", d.handleGetEventStats)
		api.POST("/events/cleanup", d.handleCleanupEvents)
		api.GET("/sessions", d.handleGetSessions)

		api.GET("/monitor", d.handleGetMonitor)
		api.GET("/config", d.handleGetConfig)
	}

	router.GET("/ws/events", d.handleEventsWebSocket)
	router.GET("/ws/monitor", d.handleMonitorWebSocket)

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}

	return nil
}

// journalMaintenance trims the event journal once an hour
func (d *ASIODaemon) journalMaintenance() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.CleanupOldEvents(); err != nil {
				logging.Warn("daemon", fmt.Sprintf("Event journal cleanup failed: %v", err))
			}
		}
	}
}
