package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/config"
	"github.com/stackinspector/teo-utils/internal/logging"
)

var (
	logger     *zap.Logger
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "teo",
	Short: "Tencent Cloud EdgeOne log archiving and certificate tools",
	Long: `teo archives the offline L7 access logs of EdgeOne zones into one
compressed file per day, and deploys TLS certificates to EdgeOne hosts.

Settings are read from the YAML file given by --config (or TEO_CONFIG);
command line flags override it. Logging is configured with TEO_LOG_LEVEL
and TEO_LOG_FORMAT.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.GetEnv("TEO_CONFIG", ""), "path to YAML config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
