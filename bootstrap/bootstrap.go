// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/adapters/clock"
	"github.com/artpar/agentmeter/adapters/hasher"
	apihttp "github.com/artpar/agentmeter/adapters/http"
	"github.com/artpar/agentmeter/adapters/idgen"
	"github.com/artpar/agentmeter/adapters/memory"
	"github.com/artpar/agentmeter/adapters/metrics"
	"github.com/artpar/agentmeter/adapters/redisfeed"
	"github.com/artpar/agentmeter/adapters/sqlite"
	"github.com/artpar/agentmeter/app"
	"github.com/artpar/agentmeter/config"
	"github.com/artpar/agentmeter/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	Feed       ports.Feed
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	// Services
	Ingest    *app.IngestService
	Dashboard *app.DashboardService
	Keys      *app.KeyService

	redisClient *redis.Client
}

// New creates and initializes the application from loaded configuration.
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)
	logger.Info().Str("version", version).Msg("initializing agentmeter")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.DB = db
	logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")

	// Collector always exists; cfg.Metrics.Enabled only controls
	// whether /metrics is exposed.
	a.Metrics = metrics.New()

	feed, err := a.initFeed(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.Feed = feed

	keyStore := sqlite.NewKeyStore(db)
	eventStore := sqlite.NewEventStore(db)
	clk := clock.Real{}

	a.Ingest = app.NewIngestService(app.IngestDeps{
		Keys:    keyStore,
		Events:  eventStore,
		Feed:    feed,
		Hasher:  hasher.NewBcrypt(0),
		Clock:   clk,
		IDGen:   idgen.UUID{},
		Metrics: a.Metrics,
		Logger:  logger,
	}, cfg.Auth.KeyPrefix)

	a.Dashboard = app.NewDashboardService(app.DashboardDeps{
		Events:  eventStore,
		Feed:    feed,
		Metrics: a.Metrics,
		Logger:  logger,
	}, cfg.Usage.ReconcileInterval)

	a.Keys = app.NewKeyService(keyStore, clk, cfg.Auth.KeyPrefix, logger)

	handlerCfg := apihttp.HandlerConfig{
		Ingest:  a.Ingest,
		Dash:    a.Dashboard,
		Logger:  logger,
		Version: version,
	}
	if cfg.Metrics.Enabled {
		handlerCfg.Metrics = a.Metrics
	}
	handler := apihttp.NewHandler(handlerCfg)

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) initFeed(cfg *config.Config) (ports.Feed, error) {
	switch cfg.Feed.Mode {
	case "redis":
		opts, err := redis.ParseURL(cfg.Feed.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = client
		a.Logger.Info().Msg("live feed: redis")
		return redisfeed.New(client, a.Logger), nil
	default:
		a.Logger.Info().Msg("live feed: in-process")
		return memory.NewBus(), nil
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("http server listening")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.Shutdown()
		return err
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		return a.Shutdown()
	}
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if a.Feed != nil {
		if err := a.Feed.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return firstErr
}

// SetupLogger builds the process logger from logging configuration.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
