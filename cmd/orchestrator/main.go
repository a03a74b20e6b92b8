// Package main is the entry point for the Orchestrator service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/audit"
	"github.com/kandev/orchestrator/internal/common/config"
	"github.com/kandev/orchestrator/internal/common/httpmw"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/dispatcher"
	"github.com/kandev/orchestrator/internal/events"
	"github.com/kandev/orchestrator/internal/hostgateway"
	"github.com/kandev/orchestrator/internal/hostregistry"
	"github.com/kandev/orchestrator/internal/kanban"
	"github.com/kandev/orchestrator/internal/runlog"
	"github.com/kandev/orchestrator/internal/taskstore"
	"github.com/kandev/orchestrator/internal/tokenauth"
	"github.com/kandev/orchestrator/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting orchestrator service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistent state (spec §6).
	auditStore, err := audit.NewStore(cfg.Data.Dir, log)
	if err != nil {
		log.Fatal("failed to open audit store", zap.Error(err))
	}

	authority, err := tokenauth.New(cfg.Data.Dir, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL(), log)
	if err != nil {
		log.Fatal("failed to load token authority", zap.Error(err))
	}
	authority.SetAuditSink(auditStore)

	kanbanStore, err := kanban.NewStore(filepath.Join(cfg.Data.Dir, "kanban.json"), log)
	if err != nil {
		log.Fatal("failed to open kanban store", zap.Error(err))
	}

	taskStore, err := taskstore.NewStore(filepath.Join(cfg.Data.Dir, "tasks.json"))
	if err != nil {
		log.Fatal("failed to open task store", zap.Error(err))
	}

	runLog := runlog.New(cfg.Data.Dir, log)

	// Event bus (spec §4.F): NATS when configured, in-process otherwise.
	providedBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer func() {
		if err := closeBus(); err != nil {
			log.Warn("failed to close event bus", zap.Error(err))
		}
	}()
	eventSink := events.NewSink(providedBus.Bus, log)

	// Live connection and routing state (spec §4.B, §4.E).
	registry := hostregistry.New(log)
	d := dispatcher.New(registry, log)
	d.SetTaskStatusSink(taskStore)
	d.SetKanbanSink(kanbanStore)
	d.SetEventSink(eventSink)
	d.SetRunLogSink(runLog)

	gateway := hostgateway.New(registry, d, authority, log, cfg.Hosts.StaleTimeout(), cfg.Hosts.HeartbeatInterval())
	go gateway.RunStaleSweep(ctx)

	dispatchHandler := dispatcher.NewHandler(d)
	authHandler := tokenauth.NewHandler(authority)
	taskHandler := taskstore.NewHandler(taskStore)
	kanbanHandler := kanban.NewHandler(kanbanStore)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.OtelTracing("orchestrator"))
	router.Use(httpmw.RequestLogger(log, "orchestrator"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	gateway.RegisterRoutes(v1)
	dispatchHandler.RegisterRoutes(v1)
	authHandler.RegisterRoutes(v1)
	taskHandler.RegisterRoutes(v1)
	kanbanHandler.RegisterRoutes(v1)

	port := cfg.Server.Port
	if port == 0 {
		port = 8082
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orchestrator service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracing shutdown error", zap.Error(err))
	}

	log.Info("orchestrator service stopped")
}
