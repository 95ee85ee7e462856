package datafeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
	"github.com/dgnsrekt/symphony-datafeed/internal/auth"
	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// V1Transport implements the legacy protocol. Reads acknowledge
// implicitly, so a crash between read and dispatch loses that batch.
type V1Transport struct {
	agent  api.Doer
	tokens auth.TokenSource
}

func NewV1Transport(agent api.Doer, tokens auth.TokenSource) *V1Transport {
	return &V1Transport{agent: agent, tokens: tokens}
}

func (t *V1Transport) Version() Version {
	return V1
}

func (t *V1Transport) Create(ctx context.Context) (string, error) {
	header, err := authHeaders(ctx, t.tokens)
	if err != nil {
		return "", err
	}
	resp, err := t.agent.Do(ctx, api.Request{
		Method: http.MethodPost,
		Path:   "/agent/v4/datafeed/create",
		Header: header,
	})
	if err != nil {
		return "", fmt.Errorf("creating datafeed: %w", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", fmt.Errorf("creating datafeed: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("creating datafeed: empty id in response")
	}
	return out.ID, nil
}

func (t *V1Transport) List(context.Context) ([]string, error) {
	return nil, fmt.Errorf("list datafeeds: %w", ErrUnsupported)
}

// Read ignores ackID. A 204 is an empty batch.
func (t *V1Transport) Read(ctx context.Context, id, _ string) (ReadResult, error) {
	header, err := authHeaders(ctx, t.tokens)
	if err != nil {
		return ReadResult{}, err
	}
	resp, err := t.agent.Do(ctx, api.Request{
		Method: http.MethodGet,
		Path:   "/agent/v4/datafeed/" + url.PathEscape(id) + "/read",
		Header: header,
	})
	if err != nil {
		return ReadResult{}, fmt.Errorf("reading datafeed %s: %w", id, err)
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return ReadResult{}, nil
	}
	var events []model.Event
	if err := resp.DecodeJSON(&events); err != nil {
		return ReadResult{}, fmt.Errorf("reading datafeed %s: %w", id, err)
	}
	return ReadResult{Events: events}, nil
}

func (t *V1Transport) Delete(context.Context, string) error {
	return fmt.Errorf("delete datafeed: %w", ErrUnsupported)
}
