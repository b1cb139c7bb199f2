// Command agent runs the Agent server: it terminates client TCP
// connections, authenticates them, and bridges them to the internal bus.
// Structurally grounded on go-server-3/cmd/odin-ws's main — config/logging
// wiring, a metrics HTTP server run alongside the core server, and
// signal.NotifyContext-driven shutdown — adapted to raw TCP instead of
// WebSocket and to the Agent's own Startup/Run/Shutdown lifecycle.
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
	_ "go.uber.org/automaxprocs" // rightsizes GOMAXPROCS under a container cgroup

	"github.com/pennomi/pastry/internal/agent"
	"github.com/pennomi/pastry/internal/bus"
	"github.com/pennomi/pastry/internal/config"
	"github.com/pennomi/pastry/internal/logging"
	"github.com/pennomi/pastry/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("agent", cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(logger)

	reg := metrics.NewRegistry("agent")

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
		logger.Fatal().Err(err).Msg("agent: bus connect failed")
	}
	defer b.Close()

	jwtManager := agent.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	var guestSeq uint64
	authenticator := agent.JWTAuthenticator(jwtManager, func() string {
		guestSeq++
		return fmt.Sprintf("guest-%d", guestSeq)
	})

	srv := agent.New(agent.Config{
		ListenAddr:        cfg.AgentAddr,
		MaxPacketSize:     cfg.MaxPacketSize,
		MaxConnections:    cfg.MaxConnections,
		SendQueueSize:     cfg.SendQueueSize,
		ReadTimeout:       cfg.ReadTimeout,
		InboundRatePerSec: cfg.InboundRatePerSec,
		InboundBurst:      cfg.InboundBurst,
	}, b, authenticator, logger, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("agent: startup failed")
	}

	if cfg.MetricsEnabled {
		go runMetricsServer(ctx, cfg.MetricsListenAddr, cfg.MetricsEndpoint, reg, logger, b)
		go reg.RunSystemSampler(ctx, cfg.SystemMetricsEvery)
	}

	runErr := srv.Run(ctx)
	_ = srv.Shutdown()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("agent: run exited with error")
		os.Exit(1)
	}
}

func runMetricsServer(ctx context.Context, addr, endpoint string, reg *metrics.Registry, logger zerolog.Logger, b *bus.Bus) {
	mux := http.NewServeMux()
	mux.Handle(endpoint, reg.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		reconnects, errs := b.Stats()
		writeJSON(w, map[string]any{
			"status":         "healthy",
			"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
			"bus_reconnects": reconnects,
			"bus_errors":     errs,
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

	logger.Info().Str("addr", addr).Msg("agent: metrics http server starting")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("agent: metrics http server error")
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
