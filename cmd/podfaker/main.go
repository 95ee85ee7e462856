package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/config"
	"github.com/dgnsrekt/symphony-datafeed/internal/logging"
	"github.com/dgnsrekt/symphony-datafeed/internal/podfaker"
)

func main() {
	cfg, err := config.LoadFakerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var verbose bool

	rootCmd := &cobra.Command{
		Use:          "podfaker",
		Short:        "Serve a fake pod and agent with v1 and v2 datafeeds",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New("podfaker", verbose, nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (or set PODFAKER_ADDR)")
	flags.StringVar(&cfg.SeedFile, "seed", cfg.SeedFile, "YAML file of streams and events to publish at startup (or set PODFAKER_SEED)")
	flags.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "how long a datafeed read waits for events (or set PODFAKER_READ_TIMEOUT)")
	flags.StringVar(&cfg.BotUsername, "bot-username", cfg.BotUsername, "service account the bot authenticates as (or set PODFAKER_BOT_USERNAME)")
	flags.Int64Var(&cfg.BotUserID, "bot-user-id", cfg.BotUserID, "user id of the bot account (or set PODFAKER_BOT_USER_ID)")
	flags.StringVar(&cfg.PublicKeyFile, "public-key", cfg.PublicKeyFile, "PEM public key used to verify the bot's JWTs (or set PODFAKER_PUBLIC_KEY)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.FakerConfig, logger *zap.Logger) error {
	logger.Info("configuration loaded",
		zap.String("addr", cfg.Addr),
		zap.String("seed", cfg.SeedFile),
		zap.Duration("readTimeout", cfg.ReadTimeout),
		zap.String("botUsername", cfg.BotUsername),
		zap.Int64("botUserID", cfg.BotUserID),
	)

	srv := podfaker.NewServer(podfaker.Options{
		ReadTimeout: cfg.ReadTimeout,
		BotUsername: cfg.BotUsername,
		BotUserID:   cfg.BotUserID,
	}, logger)

	if cfg.PublicKeyFile != "" {
		key, err := podfaker.LoadPublicKeyFile(cfg.PublicKeyFile)
		if err != nil {
			return err
		}
		srv.RegisterPublicKey(cfg.BotUsername, key)
		logger.Info("verifying bot JWTs", zap.String("publicKey", cfg.PublicKeyFile))
	}

	if cfg.SeedFile != "" {
		seed, err := podfaker.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		srv.Apply(seed)
		logger.Info("seed applied",
			zap.Int("streams", len(seed.Streams)),
			zap.Int("events", len(seed.Events)),
		)
	}

	// WriteTimeout must outlast a long-polled datafeed read.
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ReadTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
