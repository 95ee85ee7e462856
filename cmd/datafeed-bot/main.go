package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/config"
	"github.com/dgnsrekt/symphony-datafeed/internal/logging"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "datafeed-bot",
		Short:        "Run a bot that reads a Symphony datafeed and dispatches events to listeners",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				var err error
				logger, err = logging.New("datafeed-bot", verbose, nil)
				return err
			}

			// Load config
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			// Setup logger with config
			logger, err = logging.New("datafeed-bot", verbose, &cfg.Logging)
			if err != nil {
				return err
			}

			logger.Debug("configuration loaded",
				zap.String("pod", cfg.ServiceURL(config.ServicePod)),
				zap.String("agent", cfg.ServiceURL(config.ServiceAgent)),
				zap.String("datafeedVersion", string(cfg.Datafeed.ParsedVersion())),
			)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("BDK_CONFIG"), "config file path (or set BDK_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
