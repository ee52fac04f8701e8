package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/submarine-control/internal/config"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	name       string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "subctl",
		Short:        "Remote control for a paired submarine",
		Long:         "subctl connects to a paired submarine over Bluetooth RFCOMM, schedules dives and fetches the recorded dive data.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init-config" {
				return nil
			}
			return opts.load()
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.configPath, "config", "", "path to config file (default: ~/.config/submarine-control/config.yaml)")
	fs.StringVar(&opts.logLevel, "log-level", "", "override log_level: debug, info, warn or error")
	fs.StringVar(&opts.name, "name", "", "override submarine.name")

	cmd.AddCommand(
		newStatusCommand(opts),
		newDiveCommand(opts),
		newCancelCommand(opts),
		newDataCommand(opts),
		newWatchCommand(opts),
		newInitConfigCommand(),
	)
	return cmd
}

// load reads and validates the config, applies flag overrides and installs
// the default logger.
func (o *rootOptions) load() error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.name != "" {
		cfg.Submarine.Name = o.name
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(handler))

	o.cfg = cfg
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
}
