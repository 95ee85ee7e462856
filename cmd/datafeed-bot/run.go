package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
	"github.com/dgnsrekt/symphony-datafeed/internal/auth"
	"github.com/dgnsrekt/symphony-datafeed/internal/config"
	"github.com/dgnsrekt/symphony-datafeed/internal/datafeed"
	"github.com/dgnsrekt/symphony-datafeed/internal/listener"
	"github.com/dgnsrekt/symphony-datafeed/internal/notify"
	"github.com/dgnsrekt/symphony-datafeed/internal/pod"
)

func runCmd() *cobra.Command {
	var echo bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Authenticate, open the datafeed and dispatch events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), echo)
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "reply to every IM and room message with its text")

	return cmd
}

// clients holds one api client per platform service.
type clients struct {
	pod         *api.Client
	agent       *api.Client
	sessionAuth *api.Client
	keyManager  *api.Client
}

func newClients(cfg *config.Config) (*clients, error) {
	var tlsConfig *tls.Config
	if cfg.Bot.Certificate.Path != "" {
		cert, err := auth.LoadClientCertificate(cfg.Bot.Certificate.Path, cfg.Bot.Certificate.Password)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	build := func(name config.Service, withCert bool) (*api.Client, error) {
		svc := cfg.Service(name)
		opts := api.Options{
			BaseURL:        svc.BaseURL(),
			Proxy:          svc.Proxy,
			DefaultHeaders: svc.DefaultHeaders,
			RatePerSecond:  cfg.RateLimit.RequestsPerSecond,
		}
		if withCert {
			opts.TLSConfig = tlsConfig
		}
		client, err := api.NewClient(opts, logger.Named(string(name)))
		if err != nil {
			return nil, fmt.Errorf("%s client: %w", name, err)
		}
		return client, nil
	}

	var (
		c   clients
		err error
	)
	if c.pod, err = build(config.ServicePod, false); err != nil {
		return nil, err
	}
	if c.agent, err = build(config.ServiceAgent, false); err != nil {
		return nil, err
	}
	// Only the authenticate endpoints present the client certificate.
	if c.sessionAuth, err = build(config.ServiceSessionAuth, true); err != nil {
		return nil, err
	}
	if c.keyManager, err = build(config.ServiceKeyManager, true); err != nil {
		return nil, err
	}
	return &c, nil
}

func newAuthenticator(cfg *config.Config, c *clients) (auth.Authenticator, error) {
	if cfg.Bot.Certificate.Path != "" {
		return auth.NewCertificateAuthenticator(c.sessionAuth, c.keyManager)
	}
	key, err := auth.LoadPrivateKey(cfg.Bot.PrivateKey.Path, cfg.Bot.PrivateKey.Content)
	if err != nil {
		return nil, err
	}
	return auth.NewRSAAuthenticator(cfg.Bot.Username, key, c.sessionAuth, c.keyManager)
}

func newTransport(cfg *config.Config, agent api.Doer, tokens auth.TokenSource) datafeed.Transport {
	if cfg.Datafeed.ParsedVersion() == datafeed.V2 {
		return datafeed.NewV2Transport(agent, tokens, cfg.Datafeed.Tag)
	}
	return datafeed.NewV1Transport(agent, tokens)
}

func newRepository(cfg *config.Config) datafeed.Repository {
	if cfg.Datafeed.IDFilePath == "" {
		return &datafeed.MemoryRepository{}
	}
	return datafeed.NewFileRepository(cfg.Datafeed.IDFilePath)
}

func runBot(ctx context.Context, echo bool) error {
	c, err := newClients(cfg)
	if err != nil {
		return err
	}

	authenticator, err := newAuthenticator(cfg, c)
	if err != nil {
		return err
	}
	session := auth.NewSession(authenticator,
		auth.WithRetryPolicy(cfg.Auth.Retry),
		auth.WithLogger(logger.Named("auth")),
	)

	podClient := pod.NewClient(c.pod, c.agent, session, logger.Named("pod"))

	info, err := podClient.SessionInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching session info: %w", err)
	}
	logger.Info("authenticated",
		zap.String("username", info.Username),
		zap.Int64("userID", info.ID),
	)

	registry := listener.NewRegistry()
	registerLogging(registry, logger.Named("events"))
	if echo {
		registerEcho(registry, podClient, logger.Named("echo"))
	}

	loopLogger := logger.Named("datafeed")
	loop, err := datafeed.NewLoop(datafeed.Options{
		Transport:  newTransport(cfg, c.agent, session),
		Tokens:     session,
		Registry:   registry,
		Router:     listener.NewRouter(listener.DispatchMode(cfg.Datafeed.Dispatch), loopLogger),
		Repository: newRepository(cfg),
		AgentURL:   c.agent.BaseURL(),
		Identity:   podClient,
		Retry:      cfg.Datafeed.Retry,
		Logger:     loopLogger,
	})
	if err != nil {
		return err
	}

	// Stop on signal so a batch already read still finishes dispatching.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down datafeed loop...")
		loop.Stop()
	}()

	logger.Info("starting datafeed loop",
		zap.String("version", string(cfg.Datafeed.ParsedVersion())),
		zap.Int("listeners", registry.Len()),
	)

	notifier := notify.New(&cfg.Notify, logger.Named("notify"))
	started := time.Now()

	err = loop.Start(context.WithoutCancel(ctx))

	report := notify.Report{
		Bot:        info.Username,
		Version:    string(cfg.Datafeed.ParsedVersion()),
		DatafeedID: loop.DatafeedID(),
		Duration:   time.Since(started),
	}
	// The signal context is already done; give the alert its own deadline.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err != nil {
		var exhausted *datafeed.BackoffExhaustedError
		if errors.As(err, &exhausted) {
			report.Attempts = exhausted.Attempts
			logger.Error("datafeed gave up", zap.Int("attempts", exhausted.Attempts), zap.Error(exhausted.Cause))
		} else {
			logger.Error("datafeed loop failed", zap.Error(err))
		}
		if nerr := notifier.SendFailure(notifyCtx, report, err); nerr != nil {
			logger.Warn("failure notification not sent", zap.Error(nerr))
		}
		return err
	}

	logger.Info("datafeed loop stopped", zap.String("datafeedID", loop.DatafeedID()))
	if nerr := notifier.SendStopped(notifyCtx, report); nerr != nil {
		logger.Warn("stop notification not sent", zap.Error(nerr))
	}
	return nil
}
