// Package main implements the orbdash command, which runs the widget control
// loop and its diagnostics server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phrazzld/orbdash/internal/config"
	"github.com/phrazzld/orbdash/internal/platform/logger"
	"github.com/phrazzld/orbdash/internal/redact"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "orbdash",
		Short:         "Dashboard widget runner with a bounded async fetch dispatcher",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (defaults to ./orbdash.yaml when present)")

	root.AddCommand(newRunCmd(&configPath), newConfigCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the control loop and diagnostics server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, *configPath)
		},
	}
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

// run loads configuration, wires the application and blocks until ctx ends.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("Configuration loaded",
		"log_level", cfg.Log.Level,
		"widgets", len(cfg.Widgets),
		"diagnostics_enabled", cfg.Diagnostics.Enabled,
		"diagnostics_port", cfg.Diagnostics.Port)

	if configPath != "" {
		watchLogLevel(configPath, log)
	}

	app, err := newApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// watchLogLevel applies log level changes made to the config file while running.
// Other settings need a restart.
func watchLogLevel(path string, log *slog.Logger) {
	err := config.Watch(path, log, func(cfg *config.Config) {
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("Ignoring log level from reloaded config", "error", err)
			return
		}
		log.Info("Log level updated", "log_level", cfg.Log.Level)
	})
	if err != nil {
		log.Warn("Config file will not be watched", "error", err)
	}
}

// printConfig writes cfg as YAML with widget URLs redacted.
func printConfig(w io.Writer, cfg *config.Config) error {
	out := *cfg
	out.Widgets = make([]config.WidgetConfig, len(cfg.Widgets))
	for i, wc := range cfg.Widgets {
		wc.URL = redact.URL(wc.URL)
		out.Widgets[i] = wc
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
