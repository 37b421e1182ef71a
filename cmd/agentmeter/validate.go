package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/agentmeter/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithFallback(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}

		fmt.Printf("%s Configuration valid\n", checkMark)
		fmt.Printf("  Listen:     %s\n", cfg.Server.Addr())
		fmt.Printf("  Database:   %s\n", cfg.Database.DSN)
		fmt.Printf("  Key prefix: %s\n", cfg.Auth.KeyPrefix)
		fmt.Printf("  Feed mode:  %s\n", cfg.Feed.Mode)
		fmt.Printf("  Log level:  %s\n", cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
