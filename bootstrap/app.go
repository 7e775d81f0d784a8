// Package bootstrap wires configuration, logging, the metadata store,
// and the connection pool into a runnable application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dbbridge/config"
	"dbbridge/pool"
	"dbbridge/store"
	"dbbridge/util/goroutine"
)

const metadataFileName = "dbbridge.db"

// App holds the assembled application components.
type App struct {
	Config *config.Config
	Logger *zap.SugaredLogger
	Store  *store.Store
	Pool   *pool.Manager

	metricsSrv *http.Server
}

// resolveDataDir picks the data directory, creating it if needed.
func resolveDataDir(cfg *config.Config) (string, error) {
	dir := cfg.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".dbbridge")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// New assembles the application from its configuration.
func New(cfg *config.Config) (*App, error) {
	logger, err := InitLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	dataDir, err := resolveDataDir(cfg)
	if err != nil {
		return nil, err
	}

	metadataPath := cfg.MetadataPath
	if metadataPath == "" {
		metadataPath = filepath.Join(dataDir, metadataFileName)
	}

	st, err := store.Open(metadataPath, logger)
	if err != nil {
		return nil, err
	}

	settings := pool.Settings{
		TunnelTimeout:          time.Duration(cfg.Timeouts.TunnelSeconds) * time.Second,
		PostgresConnectTimeout: time.Duration(cfg.Timeouts.PostgresConnectSeconds) * time.Second,
		RedisDialTimeout:       time.Duration(cfg.Timeouts.RedisConnectSeconds) * time.Second,
		ScanMaxIterations:      cfg.Scan.MaxIterations,
		ScanCount:              int64(cfg.Scan.Count),
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		Store:  st,
		Pool:   pool.NewManager(st, settings, logger),
	}

	if cfg.MetricsAddr != "" {
		app.startMetricsServer(cfg.MetricsAddr)
	}

	logger.Infow("Application initialized", "data_dir", dataDir)
	return app, nil
}

func (a *App) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer goroutine.Recover("metrics-server", a.Logger)
		a.Logger.Infow("Metrics endpoint listening", "addr", addr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Errorw("Metrics server failed", "error", err)
		}
	}()
}

// Close shuts the application down: pool first so drivers and tunnels
// release cleanly, then the metadata store.
func (a *App) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		a.metricsSrv.Shutdown(ctx)
	}
	a.Pool.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warnw("Failed to close metadata store", "error", err)
	}
	a.Logger.Sync()
}
