package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionlog-ai/sessionlog/internal/config"
	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/internal/provider"
	"github.com/sessionlog-ai/sessionlog/internal/server"
	"github.com/sessionlog-ai/sessionlog/internal/session"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

var (
	servePort int
	serveDry  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sessionlog HTTP API",
	Long: `Start the session engine as an HTTP server.

The server exposes session CRUD, prompting, forking, reconstruction,
search, and an SSE stream of engine events. Providers are wired from
configuration; --dry-run substitutes a scripted provider that needs no
network or API key.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveDry, "dry-run", false, "Use a scripted in-process provider")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var prov provider.Provider
	if serveDry {
		prov = provider.NewScripted("scripted", types.ProviderCacheSeparating,
			provider.TextTurn("Scripted response.", &types.RawTokenUsage{InputTokens: 10, OutputTokens: 5}),
		)
	}

	svc := session.NewService(st, session.Options{
		Provider:     prov,
		ContextLimit: cfg.ContextLimit,
		Compaction: session.CompactionConfig{
			ContextThreshold: cfg.CompactionThreshold,
		},
	})

	serverCfg := server.DefaultConfig()
	if cfg.Server != nil {
		if cfg.Server.Port != 0 {
			serverCfg.Port = cfg.Server.Port
		}
		serverCfg.EnableCORS = cfg.Server.EnableCORS
	}
	if servePort != 0 {
		serverCfg.Port = servePort
	}

	srv := server.New(serverCfg, cfg, svc)

	// Config hot-reload
	var watcher *config.Watcher
	if cfg.Watcher != nil && cfg.Watcher.Enabled {
		workDir, _ := os.Getwd()
		watcher, err = config.NewWatcher(workDir, cfg)
		if err != nil {
			logging.Warn().Err(err).Msg("config watcher unavailable")
		} else if watcher != nil {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Periodic store maintenance
	stopMaintenance := make(chan struct{})
	if cfg.Maintenance != nil && cfg.Maintenance.Enabled {
		interval := cfg.Maintenance.Interval
		if interval <= 0 {
			interval = time.Hour
		}
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-stopMaintenance:
					return
				case <-ticker.C:
					if err := st.RunMaintenance(cfg.Maintenance); err != nil {
						logging.Error().Err(err).Msg("maintenance cycle failed")
					}
				}
			}
		}()
	}
	defer close(stopMaintenance)

	go func() {
		logging.Info().Int("port", serverCfg.Port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
