package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/agentmeter/bootstrap"
	"github.com/artpar/agentmeter/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentmeter server",
	Long: `Start the agentmeter HTTP server.

The server will:
  - Load configuration from agentmeter.yaml (or --config)
  - Or load configuration from AGENTMETER_* environment variables
  - Open the event database and apply migrations
  - Accept usage events on POST /api/usage
  - Serve dashboard aggregates on GET /api/dashboard and /api/dashboard/stream

Environment variables (for Docker deployments):
  AGENTMETER_DATABASE_DSN     - Database path (default: agentmeter.db)
  AGENTMETER_SERVER_PORT      - Server port (default: 8080)
  AGENTMETER_AUTH_KEY_PREFIX  - API key prefix (default: am_)
  AGENTMETER_FEED_MODE        - Live feed: memory or redis
  AGENTMETER_FEED_REDIS_URL   - Redis URL when feed mode is redis
  AGENTMETER_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  agentmeter serve
  agentmeter serve --config /etc/agentmeter/config.yaml
  agentmeter serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if !hasConfigFile {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(cfg, version)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Hot reload only works with a config file. Reloadable fields apply
	// in place; the rest are logged as requiring a restart.
	if hasConfigFile && hotReload {
		holder, err := config.NewHolder(cfgFile, app.Logger)
		if err != nil {
			return fmt.Errorf("error watching config: %w", err)
		}
		holder.OnChange(func(updated *config.Config) {
			if level, err := zerolog.ParseLevel(updated.Logging.Level); err == nil {
				zerolog.SetGlobalLevel(level)
			}
			app.Metrics.ConfigReloads.Inc()
			app.Metrics.ConfigLastReload.SetToCurrentTime()
		})
		if err := holder.WatchFile(); err != nil {
			return fmt.Errorf("error watching config: %w", err)
		}
		holder.WatchSignals()
		defer holder.Stop()
	}

	// Run (blocks until shutdown)
	return app.Run()
}
