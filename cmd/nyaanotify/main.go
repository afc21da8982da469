// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nyaanotify/nyaanotify/internal/api"
	"github.com/nyaanotify/nyaanotify/internal/api/handlers"
	"github.com/nyaanotify/nyaanotify/internal/buildinfo"
	"github.com/nyaanotify/nyaanotify/internal/config"
	"github.com/nyaanotify/nyaanotify/internal/domain"
	"github.com/nyaanotify/nyaanotify/internal/downloads"
	"github.com/nyaanotify/nyaanotify/internal/metrics"
	"github.com/nyaanotify/nyaanotify/internal/notify"
	"github.com/nyaanotify/nyaanotify/internal/nyaa"
	"github.com/nyaanotify/nyaanotify/internal/qbittorrent"
	"github.com/nyaanotify/nyaanotify/internal/releases"
	"github.com/nyaanotify/nyaanotify/internal/scheduler"
	"github.com/nyaanotify/nyaanotify/internal/shoko"
)

const httpTimeoutSeconds = 30

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "nyaanotify",
		Short: "Anime episode release tracker",
		Long: `nyaanotify - Tracks today's airing anime via Shoko, watches nyaa for
matching 1080p releases and pushes ntfy notifications with download actions.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the tracker",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/nyaanotify/ or %APPDATA%\\nyaanotify\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nyaanotify",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/nyaanotify/config.toml
- Windows: %APPDATA%\nyaanotify\config.toml

You can specify either a directory path or a direct file path:
- Directory: nyaanotify generate-config --config-dir /path/to/config/
- File: nyaanotify generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	logPath   string
}

func NewApplication(configDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.logPath != "" {
		os.Setenv("NYAANOTIFY__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting nyaanotify")

	metricsManager := metrics.NewManager()

	shokoClient := shoko.NewClient(cfg.Config.ShokoURL, cfg.Config.ShokoAPIKey, httpTimeoutSeconds)
	nyaaClient := nyaa.NewClient(cfg.Config.NyaaURL, httpTimeoutSeconds)
	fetcher := nyaa.NewFetcher(nyaaClient)

	notifier := notify.NewClient(cfg.Config.NtfyURL, cfg.Config.NtfyAuth, cfg.Config.APIBaseURL, func() string { return cfg.Config.DownloadToken }, httpTimeoutSeconds)
	if cfg.Config.NtfyURL == "" {
		log.Warn().Msg("ntfyUrl not configured - release notifications are disabled")
	}

	history := releases.NewHistory()
	processor := releases.NewProcessor(history, notifier, cfg.Config.IgnoredGroups, metricsManager)
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		processor.SetIgnoredGroups(conf.IgnoredGroups)
	})

	monitor := scheduler.NewMonitor(shokoClient, fetcher, processor, metricsManager, scheduler.Config{
		RSSInterval:      cfg.RSSInterval(),
		FinalCheckCron:   cfg.Config.FinalCheckCron,
		DailyCleanupCron: cfg.Config.DailyCleanupCron,
	})

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	if err := monitor.Start(monitorCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Download workflows are optional; without qBittorrent the /download
	// endpoint answers 502 and notifications carry no Download button.
	var (
		downloadSubmitter handlers.DownloadSubmitter
		downloadService   *downloads.Service
	)
	downloadsCtx, downloadsCancel := context.WithCancel(context.Background())
	defer downloadsCancel()
	qbtClient, err := qbittorrent.NewClient(cfg.Config.QbittorrentURL, cfg.Config.QbittorrentUsername, cfg.Config.QbittorrentPassword)
	if err != nil {
		if errors.Is(err, qbittorrent.ErrNotConfigured) {
			log.Warn().Msg("qBittorrent not configured - download workflows are disabled")
		} else {
			log.Fatal().Err(err).Msg("Failed to initialize qBittorrent client")
		}
	} else {
		downloadService = downloads.NewService(shokoClient, qbtClient, notifier, metricsManager, downloads.DefaultConfig())
		downloadService.Start(downloadsCtx)
		downloadSubmitter = downloadService
	}

	// Start server in goroutine
	httpServer := api.NewServer(&api.Dependencies{
		Config:    cfg,
		Version:   buildinfo.Version,
		Downloads: downloadSubmitter,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
		go monitor.RunDailyCheck(monitorCtx)
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if cfg.Config.MetricsEnabled {
		// Start metrics server on separate port
		go func() {
			metricsServer := metrics.NewServer(
				metricsManager,
				cfg.Config.MetricsHost,
				cfg.Config.MetricsPort,
			)

			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}

	monitor.Stop()
	downloadsCancel()

	if downloadService != nil {
		downloadService.Wait()
	}
}
