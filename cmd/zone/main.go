// Command zone runs one authoritative Zone server for a single named zone.
// Config and lifecycle wiring mirror cmd/agent; the registry here carries
// the sample Message class (internal/message) as a worked example of how an
// embedding application registers its own Distributed Object classes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/pennomi/pastry/internal/bus"
	"github.com/pennomi/pastry/internal/config"
	"github.com/pennomi/pastry/internal/do"
	"github.com/pennomi/pastry/internal/logging"
	"github.com/pennomi/pastry/internal/message"
	"github.com/pennomi/pastry/internal/metrics"
	"github.com/pennomi/pastry/internal/zone"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zone: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.ZoneID == "" {
		fmt.Fprintln(os.Stderr, "zone: PASTRY_ZONE_ID must be set")
		os.Exit(1)
	}

	logger := logging.New("zone", cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(logger)

	reg := metrics.NewRegistry("zone")

	b, err := bus.Open(bus.Config{
		URL:             cfg.NATSUrl,
		MaxReconnects:   cfg.NATSMaxReconnects,
		ReconnectWait:   cfg.NATSReconnectWait,
		ReconnectJitter: cfg.NATSReconnectJitter,
		MaxPingsOut:     3,
		PingInterval:    10 * time.Second,
		InboxSize:       4096,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("zone: bus connect failed")
	}
	defer b.Close()

	registry := do.NewRegistry()
	message.Register(registry)

	hooks := zone.Hooks{
		ClientConnected: func(clientID string) {
			logger.Info().Str("client_id", clientID).Msg("zone: client connected")
		},
		ClientDisconnected: func(clientID string) {
			logger.Info().Str("client_id", clientID).Msg("zone: client disconnected")
		},
	}

	srv := zone.New(cfg.ZoneID, registry, b, hooks, logger, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("zone: startup failed")
	}

	if cfg.MetricsEnabled {
		go runMetricsServer(ctx, cfg.MetricsListenAddr, cfg.MetricsEndpoint, reg, logger)
		go reg.RunSystemSampler(ctx, cfg.SystemMetricsEvery)
	}

	runErr := srv.Run(ctx)
	_ = srv.Shutdown()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("zone: run exited with error")
		os.Exit(1)
	}
}

func runMetricsServer(ctx context.Context, addr, endpoint string, reg *metrics.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(endpoint, reg.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("zone: metrics http server starting")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("zone: metrics http server error")
	}
}
