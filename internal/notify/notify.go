// Package notify posts ntfy alerts when the bot's datafeed loop ends.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier reports how a datafeed run ended.
type Notifier interface {
	SendStopped(ctx context.Context, report Report) error
	SendFailure(ctx context.Context, report Report, err error) error
}

// Report describes one run of the datafeed loop.
type Report struct {
	Bot        string
	Version    string
	DatafeedID string
	Duration   time.Duration
	// Attempts is set when the loop gave up retrying.
	Attempts int
}

type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

func NewClient(cfg *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

func (c *Client) SendStopped(ctx context.Context, report Report) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Datafeed Stopped: %s", report.Bot)
	message := FormatStoppedMessage(report)
	tags := c.config.Tags + ",wave"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendFailure always goes out at high priority.
func (c *Client) SendFailure(ctx context.Context, report Report, err error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Datafeed Failed: %s", report.Bot)
	message := FormatFailureMessage(report, err)
	tags := c.config.Tags + ",x"

	return c.send(ctx, title, message, tags, "high")
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

type NoopNotifier struct{}

func (NoopNotifier) SendStopped(context.Context, Report) error { return nil }

func (NoopNotifier) SendFailure(context.Context, Report, error) error { return nil }

// New returns a Client when cfg is enabled and a NoopNotifier otherwise.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if cfg == nil || !cfg.Enabled {
		return NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
