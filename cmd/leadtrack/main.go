// Command leadtrack runs the lead tracking pipeline against real or local
// listing pages and hosts a development collector for the events it sends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/williampepple1/lead-tracker/internal/config"
	"github.com/williampepple1/lead-tracker/internal/logging"
)

var (
	debug      bool
	configFile string
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "leadtrack",
	Short: "Track visitor behavior on property listing pages",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(debug)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file (YAML)")

	rootCmd.AddCommand(trackCmd, collectCmd)
}

// loadConfig loads the configuration file, or the defaults when none is given
func loadConfig() (*config.AppConfig, error) {
	if configFile == "" {
		logger.Info("Using default configuration (no config file provided)")
		return config.CreateDefault(), nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded configuration", zap.String("path", configFile))
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
