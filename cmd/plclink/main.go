// Package main is the entry point for the PLC link service. It wires the
// configuration store, transport tiers, watchdog and HTTP surface together
// and manages the application lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexus-edge/plc-link/internal/adapter/config"
	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/adapter/mqtt"
	"github.com/nexus-edge/plc-link/internal/api"
	"github.com/nexus-edge/plc-link/internal/domain"
	"github.com/nexus-edge/plc-link/internal/health"
	"github.com/nexus-edge/plc-link/internal/metrics"
	"github.com/nexus-edge/plc-link/internal/service"
	"github.com/nexus-edge/plc-link/pkg/logging"
)

const (
	serviceName    = "plc-link"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration first so the logger honors the configured level.
	store, err := config.Load()
	if err != nil {
		bootstrap := logging.New(serviceName, serviceVersion, logging.DefaultConfig())
		bootstrap.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg := store.Snapshot()

	logger := logging.New(serviceName, serviceVersion, logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger.Info().
		Str("env", cfg.Environment).
		Bool("demo", cfg.Demo).
		Msg("Starting PLC link service")

	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// =============================================================
	// Transport tiers
	// =============================================================

	policy := domain.DefaultExceptionPolicy()

	directClient := modbus.NewDirectClient(store, policy, logger)
	manager := service.NewConnectionManager(store, policy, metricsRegistry, logger)
	facade := service.NewFacade(store, directClient, manager, cfg.Breaker, metricsRegistry, logger)

	booleanReader, err := service.NewBooleanReader(facade, func() (map[int]domain.BooleanChannel, error) {
		return config.LoadBooleanChannels(store.Snapshot().BooleanChannelsPath)
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load boolean channel map")
	}
	logger.Info().Int("channels", len(booleanReader.Channels())).Msg("Boolean channel map loaded")

	// First connect attempt is best-effort: the watchdog keeps retrying if
	// the PLC is not reachable yet.
	if err := facade.EnsureConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial PLC connection failed, watchdog will retry")
	}

	// =============================================================
	// Watchdog and state publishing
	// =============================================================

	monitor := service.NewConnectionMonitor(facade, manager, cfg.Watchdog, metricsRegistry, logger)

	var statePublisher *mqtt.StatePublisher
	if cfg.MQTT.Enabled {
		statePublisher = mqtt.NewStatePublisher(cfg.MQTT, metricsRegistry, logger)
		if err := statePublisher.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("MQTT broker unavailable, state publishing disabled until reconnect")
		}
		defer statePublisher.Disconnect()

		monitor.OnStateChange(func(change service.StateChange) {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pubCancel()
			if err := statePublisher.PublishState(pubCtx, change); err != nil {
				logger.Warn().Err(err).Msg("Failed to publish connection state")
			}
		})
	}

	if err := monitor.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start connection watchdog")
	}
	defer monitor.Stop()

	// =============================================================
	// Health checks and HTTP server
	// =============================================================

	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	// A down PLC link degrades the service rather than failing readiness:
	// the HTTP surface still works and the watchdog is reconnecting.
	healthChecker.AddCheck("plc", health.CheckFunc(func(ctx context.Context) error {
		if !facade.IsConnected() {
			return health.Degraded(domain.ErrNotConnected)
		}
		return nil
	}))
	if statePublisher != nil {
		healthChecker.AddCheck("mqtt", statePublisher)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LivenessHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler)

	apiServer := api.NewServer(manager, monitor, manager, booleanReader, logger)
	apiServer.Routes(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	logger.Info().
		Str("plc", store.ConnectionParams().Address()).
		Int("http_port", cfg.HTTP.Port).
		Bool("mqtt", cfg.MQTT.Enabled).
		Msg("PLC link service started")

	// =============================================================
	// Shutdown handling
	// =============================================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	facade.Disconnect()
	logger.Info().Msg("PLC link service shutdown complete")
}
