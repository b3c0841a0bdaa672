// Package app wires the service together and runs it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/relaykeys/internal/api"
	"github.com/foxzi/relaykeys/internal/config"
	"github.com/foxzi/relaykeys/internal/credential"
	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/lifecycle"
	"github.com/foxzi/relaykeys/internal/metrics"
	"github.com/foxzi/relaykeys/internal/smtpauth"
	"github.com/foxzi/relaykeys/internal/store"
	"github.com/foxzi/relaykeys/internal/verify"
)

// App is the main application
type App struct {
	config *config.Config
	db     *bolt.DB
	logger *slog.Logger

	credentials  *credential.Registry
	keys         *dkimkey.Registry
	engine       *verify.Engine
	orchestrator *lifecycle.Orchestrator
	authBackend  *smtpauth.Backend

	apiServer *api.Server
	sweeper   *cron.Cron
	metrics   *metrics.Metrics
	startTime time.Time
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	credStorage, err := credential.NewStorage(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential storage: %w", err)
	}
	keyStorage, err := dkimkey.NewStorage(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create key storage: %w", err)
	}

	credentials := credential.NewRegistry(
		credStorage,
		logger.With("component", "credentials"),
		credential.WithMaxPerAccount(cfg.Credentials.MaxPerAccount),
	)

	var keyOpts []dkimkey.RegistryOption
	if cfg.Lifecycle.KeyMaxAge > 0 {
		keyOpts = append(keyOpts, dkimkey.WithKeyMaxAge(cfg.Lifecycle.KeyMaxAge))
	}
	keys := dkimkey.NewRegistry(keyStorage, logger.With("component", "dkim"), keyOpts...)

	resolver := verify.NewDNSResolver(cfg.DNS.Server, cfg.DNS.Timeout)
	engine := verify.NewEngine(keyStorage, resolver, logger.With("component", "verify"))

	orchestrator := lifecycle.NewOrchestrator(
		keyStorage,
		logger.With("component", "lifecycle"),
		lifecycle.WithWarningWindow(cfg.Lifecycle.WarningWindow),
	)

	authBackend := smtpauth.NewBackend(credentials, logger.With("component", "smtpauth"))

	apiServer := api.NewServer(api.Deps{
		Credentials:  credentials,
		Keys:         keys,
		Engine:       engine,
		Orchestrator: orchestrator,
	}, &cfg.API, logger.With("component", "api"))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)
		apiServer.MountMetrics(m.Handler())
		logger.Info("metrics enabled")
	}

	return &App{
		config:       cfg,
		db:           db,
		logger:       logger,
		credentials:  credentials,
		keys:         keys,
		engine:       engine,
		orchestrator: orchestrator,
		authBackend:  authBackend,
		apiServer:    apiServer,
		sweeper:      cron.New(),
		metrics:      m,
		startTime:    time.Now(),
	}, nil
}

// AuthBackend returns the SASL backend for an embedding mail frontend.
func (a *App) AuthBackend() *smtpauth.Backend {
	return a.authBackend
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting relaykeys",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"sweep_schedule", a.config.Lifecycle.SweepSchedule,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := a.sweeper.AddFunc(a.config.Lifecycle.SweepSchedule, func() {
		a.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	a.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metrics != nil {
		go a.trackUptime(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// runSweep executes one expiry sweep and records its outcome.
func (a *App) runSweep(ctx context.Context) {
	start := time.Now()
	affected, err := a.orchestrator.ExpireSweep(ctx, start)
	if err != nil {
		a.logger.Error("expiry sweep failed", "error", err)
		return
	}

	transitions := map[string]int{}
	for _, tr := range affected {
		transitions[string(tr.Status)]++
	}
	if len(affected) > 0 {
		a.logger.Info("expiry sweep applied transitions", "count", len(affected))
	}
	metrics.ObserveSweep(time.Since(start).Seconds(), transitions)
}

func (a *App) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.UptimeSeconds.Set(time.Since(a.startTime).Seconds())
			if info, err := os.Stat(a.config.Storage.Path); err == nil {
				a.metrics.StorageUsedBytes.Set(float64(info.Size()))
			}
		}
	}
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sweepCtx := a.sweeper.Stop()
	select {
	case <-sweepCtx.Done():
	case <-shutdownCtx.Done():
		a.logger.Warn("timed out waiting for running sweep")
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
