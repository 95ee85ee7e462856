// Package datafeed reads a bot's real-time event queue from the agent and
// feeds it to the listener router.
package datafeed

import (
	"context"
	"net/http"
	"strings"

	"github.com/dgnsrekt/symphony-datafeed/internal/auth"
	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// Version selects the datafeed wire protocol.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// ParseVersion maps anything other than "v2" to V1.
func ParseVersion(s string) Version {
	if strings.EqualFold(strings.TrimSpace(s), string(V2)) {
		return V2
	}
	return V1
}

// ReadResult is one read. AckID is only set by v2.
type ReadResult struct {
	Events []model.Event
	AckID  string
}

// Transport speaks one version of the datafeed protocol. Failures are
// *api.APIError values classified by kind; auth failures come from the
// token source.
type Transport interface {
	Version() Version
	Create(ctx context.Context) (string, error)
	// List returns the ids of the datafeeds owned by the bot.
	List(ctx context.Context) ([]string, error)
	// Read blocks until the agent returns a batch, possibly empty.
	Read(ctx context.Context, id, ackID string) (ReadResult, error)
	Delete(ctx context.Context, id string) error
}

// authHeaders builds the token headers for one request.
func authHeaders(ctx context.Context, tokens auth.TokenSource) (http.Header, error) {
	t, err := tokens.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("sessionToken", t.Session)
	if t.KeyManager != "" {
		h.Set("keyManagerToken", t.KeyManager)
	}
	return h, nil
}
