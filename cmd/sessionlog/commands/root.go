// Package commands provides the CLI commands for sessionlog.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sessionlog-ai/sessionlog/internal/config"
	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
	dbPath   string
)

var rootCmd = &cobra.Command{
	Use:   "sessionlog",
	Short: "sessionlog - event-sourced session engine for AI coding agents",
	Long: `sessionlog records agent conversations as an append-only, hash-chained
event log in SQLite, and reconstructs conversation state by replaying it.

Run 'sessionlog serve' to start the HTTP API, 'sessionlog sessions' to
inspect stored sessions, or 'sessionlog search' to query the log.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("sessionlog %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration for the current directory and applies
// global flag overrides.
func loadConfig() (*types.Config, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if logLevel != "" {
		if cfg.Log == nil {
			cfg.Log = &types.LogConfig{}
		}
		cfg.Log.Level = logLevel
	}

	if err := logging.InitFromConfig(cfg.Log); err != nil {
		return nil, err
	}

	return cfg, nil
}

// openStore opens the configured database and applies migrations.
func openStore(cfg *types.Config) (*store.Store, error) {
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return nil, err
	}
	return store.Open(cfg.DatabasePath)
}
