// Package pod is the small slice of the pod and agent REST APIs the bot
// runtime calls outside the datafeed: who am I, and send a message.
package pod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
	"github.com/dgnsrekt/symphony-datafeed/internal/auth"
	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// Messenger sends messages into a stream. Listeners use it to reply.
type Messenger interface {
	SendMessage(ctx context.Context, streamID, messageML string) (*model.Message, error)
}

// SessionInfo is the service account behind the current session.
type SessionInfo struct {
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"displayName,omitempty"`
	EmailAddress string   `json:"emailAddress,omitempty"`
	Company      string   `json:"company,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

type Client struct {
	pod    api.Doer
	agent  api.Doer
	tokens auth.TokenSource
	logger *zap.Logger

	mu      sync.Mutex
	session *SessionInfo
}

func NewClient(pod, agent api.Doer, tokens auth.TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{pod: pod, agent: agent, tokens: tokens, logger: logger}
}

// SessionInfo fetches the session's user. The first successful answer is
// cached.
func (c *Client) SessionInfo(ctx context.Context) (*SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	resp, err := c.do(ctx, c.pod, func() api.Request {
		return api.Request{Method: http.MethodGet, Path: "/pod/v2/sessioninfo"}
	})
	if err != nil {
		return nil, fmt.Errorf("fetching session info: %w", err)
	}
	var info SessionInfo
	if err := resp.DecodeJSON(&info); err != nil {
		return nil, fmt.Errorf("fetching session info: %w", err)
	}
	if info.ID == 0 {
		return nil, errors.New("fetching session info: response has no user id")
	}
	c.session = &info
	c.logger.Info("session info loaded", zap.Int64("userID", info.ID), zap.String("username", info.Username))
	return c.session, nil
}

// BotUserID returns the id of the authenticated service account.
func (c *Client) BotUserID(ctx context.Context) (int64, error) {
	info, err := c.SessionInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.ID, nil
}

// SendMessage posts messageML to streamID as a multipart form.
func (c *Client) SendMessage(ctx context.Context, streamID, messageML string) (*model.Message, error) {
	if streamID == "" {
		return nil, errors.New("send message: stream id is required")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("message", messageML); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	payload := body.Bytes()

	resp, err := c.do(ctx, c.agent, func() api.Request {
		return api.Request{
			Method:      http.MethodPost,
			Path:        "/agent/v4/stream/" + url.PathEscape(streamID) + "/message/create",
			Body:        bytes.NewReader(payload),
			ContentType: form.FormDataContentType(),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", streamID, err)
	}
	var msg model.Message
	if err := resp.DecodeJSON(&msg); err != nil {
		return nil, fmt.Errorf("send message to %s: %w", streamID, err)
	}
	c.logger.Debug("message sent", zap.String("streamID", streamID), zap.String("messageID", msg.MessageID))
	return &msg, nil
}

// do sends the request with the session headers, refreshing the session
// and retrying once on 401. build is called per attempt so bodies can be
// replayed.
func (c *Client) do(ctx context.Context, client api.Doer, build func() api.Request) (*api.Response, error) {
	for attempt := 0; ; attempt++ {
		t, err := c.tokens.Tokens(ctx)
		if err != nil {
			return nil, err
		}
		req := build()
		req.Header = http.Header{}
		req.Header.Set("sessionToken", t.Session)
		if t.KeyManager != "" {
			req.Header.Set("keyManagerToken", t.KeyManager)
		}

		resp, err := client.Do(ctx, req)
		if err == nil {
			return resp, nil
		}
		if attempt > 0 || !errors.Is(err, api.ErrUnauthorized) {
			return nil, err
		}
		c.logger.Info("pod call unauthorized, refreshing session", zap.String("path", req.Path))
		if err := c.tokens.Refresh(ctx); err != nil {
			return nil, err
		}
	}
}

var _ Messenger = (*Client)(nil)
