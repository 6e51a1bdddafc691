package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/logging"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	preset     string
	logger     *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "balancer",
		Short:         "balance a wheeled biped with model predictive control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = logging.InitLogger(logLevel)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "runs", "run data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL or info)")

	rootCmd.AddCommand(
		newRunCmd(),
		newServeSpineCmd(),
		newListCmd(),
		newPlotCmd(),
		newExportCSVCmd(),
		newExportJSONCmd(),
		newReportCmd(),
		newTuneCmd(),
		newSolversCmd(),
		newPresetsCmd(),
		newUploadCmd(),
		newSetDateCmd(),
		newPackCmd(),
		newUnpackCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// addConfigFlags registers the flags shared by commands that build a
// balancer.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "config.gin", "gin or YAML configuration file")
	cmd.Flags().StringVar(&preset, "preset", "", "start from a preset instead of the defaults")
}

// loadConfig builds the configuration from the defaults, then the config
// file, then the preset, then environment overrides. A missing default
// config file is not an error. Validation is left to the caller, after
// flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		if _, ok := config.Presets[preset]; !ok {
			return nil, fmt.Errorf("unknown preset %q (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		err := config.LoadInto(cfg, configFile)
		switch {
		case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
			logger.Debug("no configuration file", "path", configFile)
		case err != nil:
			return nil, err
		}
	}
	if preset != "" {
		fromFile := cfg.Clone()
		config.ApplyPreset(cfg, preset)
		if keys := config.Diff(fromFile, cfg); len(keys) > 0 {
			logger.Info("preset overrides configuration file", "preset", preset, "path", configFile, "keys", keys)
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
