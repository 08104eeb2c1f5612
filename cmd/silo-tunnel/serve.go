package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	internalhttp "github.com/EternisAI/silo-tunnel/internal/api/http"
	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/metrics"
	"github.com/EternisAI/silo-tunnel/internal/notify"
	"github.com/EternisAI/silo-tunnel/internal/provisioner"
	"github.com/EternisAI/silo-tunnel/internal/secrets"
	"github.com/EternisAI/silo-tunnel/internal/setup"
	"github.com/EternisAI/silo-tunnel/internal/sshclient"
	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local control daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config)
		},
	}
}

func runServe(ctx context.Context, cfg Config) error {
	slog.Info("Silo Tunnel daemon", "version", AppVersion, "os", runtime.GOOS)

	secretStore, err := secrets.New(cfg.Storage.Secrets)
	if err != nil {
		return fmt.Errorf("failed to open secret store: %w", err)
	}

	store, err := metadata.Open(ctx, cfg.Storage.Metadata)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close metadata store", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	broadcaster := notify.NewBroadcaster()
	notifiers := notify.Multi{broadcaster, notify.Gauge{Setter: collector}}
	if cfg.Notify.NatsURL != "" {
		publisher, err := notify.NewNATSPublisher(cfg.Notify.NatsURL, cfg.Notify.Subject)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	driver, err := tunnel.NewDriver(runtime.GOOS, cfg.Tunnel.DriverOptions, tunnel.OSExecutor{})
	if err != nil {
		return err
	}
	controller, err := tunnel.NewController(driver, secretStore, store, tunnel.Options{
		RuntimeDir: cfg.Tunnel.RuntimeDir,
		DNS:        cfg.Provision.DNS,
		Notifier:   notifiers,
		Recorder:   collector,
	})
	if err != nil {
		return err
	}

	prov, err := provisioner.New(cfg.Provision.Options)
	if err != nil {
		return err
	}
	hostKeys, err := sshclient.NewHostKeyPolicy(cfg.SSH.HostKeyConfig)
	if err != nil {
		return err
	}
	setupService := setup.NewService(prov, secretStore, store, hostKeys, setup.SSHDefaults{
		User:    cfg.SSH.User,
		Port:    cfg.SSH.Port,
		Timeout: cfg.SSH.Timeout,
	}, collector)

	if cfg.Http.AdminAPIKey == "" {
		slog.Warn("http.admin_api_key is empty; the control API accepts unauthenticated requests")
	}

	services := &internalhttp.Services{
		Tunnels: controller,
		Setup:   setupService,
		Events:  broadcaster,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"http://localhost", "http://127.0.0.1", "tauri://localhost"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, cfg.Http, services)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Http.Host, strconv.FormatUint(uint64(cfg.Http.Port), 10)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
		slog.Error("Server error", "error", serveErr)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Ends open event streams; Shutdown would otherwise wait for them.
	broadcaster.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// The active slot lives in memory only, so a tunnel left up here could not
	// be stopped by the next daemon.
	if name, ok := controller.Active(); ok {
		if err := controller.Stop(shutdownCtx); err != nil {
			slog.Error("Failed to stop active tunnel", "tunnel", name, "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return serveErr
}
