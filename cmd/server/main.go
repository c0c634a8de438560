// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/fleetrollout/internal/api"
	"github.com/tomtom215/fleetrollout/internal/audit"
	"github.com/tomtom215/fleetrollout/internal/config"
	"github.com/tomtom215/fleetrollout/internal/directory"
	"github.com/tomtom215/fleetrollout/internal/dispatch"
	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/rollout"
	"github.com/tomtom215/fleetrollout/internal/store"
	"github.com/tomtom215/fleetrollout/internal/supervisor"
	"github.com/tomtom215/fleetrollout/internal/supervisor/services"
	ws "github.com/tomtom215/fleetrollout/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // sequential startup wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("dispatcher", cfg.Dispatcher.Mode).
		Bool("nats_export", cfg.NATS.Enabled).
		Msg("Starting Fleet Rollout with supervisor tree")

	st, err := store.Open(storeConfig(cfg))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	dir := directory.New(st.DB())

	dispatcher, dispatcherCheck, err := buildDispatcher(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create dispatcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// === AUDIT ===
	auditStore := audit.NewMemoryStore(cfg.Audit.Retention)
	bus := audit.NewBus(int64(cfg.Audit.BufferSize), watermill.NewSlogLogger(slogLogger))
	auditLogger := audit.NewLogger(auditStore, bus, &audit.Config{BufferSize: cfg.Audit.BufferSize})
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit logger")
		}
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit bus")
		}
	}()

	export, err := initAuditExport(cfg, bus, tree, watermill.NewSlogLogger(slogLogger))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize audit export")
	}
	defer export.Close()

	// === ENGINE ===
	engine := rollout.New(engineConfig(cfg), st, dir, dispatcher, auditLogger, tree.Rollout())

	tree.AddCoreService(services.NewStoreGCService(st))

	hub := ws.NewHub()
	tree.AddAPIService(hub)

	readiness := map[string]api.ReadinessCheck{
		"store": st.Ping,
	}
	if dispatcherCheck != nil {
		readiness["dispatcher"] = dispatcherCheck
	}

	handler := api.NewHandler(api.HandlerConfig{
		Engine:         engine,
		Inventory:      dir,
		Audit:          auditStore,
		Hub:            hub,
		Heartbeat:      cfg.Server.HeartbeatInterval,
		AllowedOrigins: cfg.Security.CORSOrigins,
		Readiness:      readiness,
		Version:        version,
	})

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}
	if cfg.IsProduction() && containsWildcard(cfg.Security.CORSOrigins) {
		logging.Warn().Msg("CORS allows any origin (CORS_ORIGINS=*); set explicit origins in production")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, api.NewChiMiddleware(middlewareConfig(cfg))),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService("api-server", server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	if cfg.Engine.RecoverOnStart {
		recoverDeployments(ctx, engine)
	}

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

// recoverDeployments restarts drivers for deployments left running by a
// previous process. Failure is logged; the server keeps serving.
func recoverDeployments(ctx context.Context, engine *rollout.Engine) {
	n, err := engine.Recover(ctx)
	if err != nil {
		logging.Error().Err(err).Int("recovered", n).Msg("Deployment recovery incomplete")
		return
	}
	logging.Info().Int("recovered", n).Msg("Deployment recovery complete")
}

func storeConfig(cfg *config.Config) store.Config {
	sc := store.DefaultConfig()
	sc.Path = cfg.Store.Path
	sc.InMemory = cfg.Store.InMemory
	sc.SyncWrites = cfg.Store.SyncWrites
	sc.Compression = cfg.Store.Compression
	sc.GCInterval = cfg.Store.GCInterval
	sc.GCRatio = cfg.Store.GCRatio
	sc.CloseTimeout = cfg.Store.CloseTimeout
	return sc
}

func engineConfig(cfg *config.Config) rollout.Config {
	return rollout.Config{
		MaxConcurrency:      cfg.Engine.MaxConcurrency,
		DispatchTimeout:     cfg.Engine.DispatchTimeout,
		DelayUnit:           cfg.Engine.DelayUnit,
		ControlPollInterval: cfg.Engine.ControlPollInterval,
		LeaseTTL:            cfg.Engine.LeaseTTL,
		MinSuccessPercent:   cfg.Engine.MinSuccessPercent,
	}
}

func middlewareConfig(cfg *config.Config) *api.ChiMiddlewareConfig {
	mc := api.DefaultChiMiddlewareConfig()
	mc.CORSAllowedOrigins = cfg.Security.CORSOrigins
	mc.RateLimitRequests = cfg.Security.RateLimitReqs
	mc.RateLimitWindow = cfg.Security.RateLimitWindow
	mc.RateLimitDisabled = cfg.Security.RateLimitDisabled
	return mc
}

// buildDispatcher returns the configured dispatcher and, for the HTTP
// gateway, a readiness check that fails while its circuit breaker is open.
func buildDispatcher(cfg *config.Config) (dispatch.Dispatcher, api.ReadinessCheck, error) {
	switch cfg.Dispatcher.Mode {
	case "simulator":
		logging.Warn().
			Float64("failure_rate", cfg.Simulator.FailureRate).
			Dur("latency", cfg.Simulator.Latency).
			Msg("Using simulated dispatcher; no commands reach real devices")
		return dispatch.NewSimulator(dispatch.SimulatorConfig{
			FailureRate: cfg.Simulator.FailureRate,
			Latency:     cfg.Simulator.Latency,
			Seed:        cfg.Simulator.Seed,
		}), nil, nil

	case "http":
		d, err := dispatch.NewHTTPDispatcher(dispatch.HTTPConfig{
			BaseURL:                 cfg.Dispatcher.BaseURL,
			Token:                   cfg.Dispatcher.Token,
			RequestsPerSecond:       cfg.Dispatcher.RequestsPerSecond,
			Burst:                   cfg.Dispatcher.Burst,
			BreakerName:             "agent-gateway",
			BreakerMaxRequests:      cfg.Dispatcher.Breaker.MaxRequests,
			BreakerInterval:         cfg.Dispatcher.Breaker.Interval,
			BreakerTimeout:          cfg.Dispatcher.Breaker.Timeout,
			BreakerFailureThreshold: cfg.Dispatcher.Breaker.FailureThreshold,
		})
		if err != nil {
			return nil, nil, err
		}
		logging.Info().Str("base_url", cfg.Dispatcher.BaseURL).Msg("Using HTTP agent gateway dispatcher")
		check := func(context.Context) error {
			if state := d.State(); state == "open" {
				return fmt.Errorf("agent gateway circuit breaker is %s", state)
			}
			return nil
		}
		return d, check, nil

	default:
		return nil, nil, fmt.Errorf("unknown dispatcher mode %q", cfg.Dispatcher.Mode)
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
