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

type v2Feed struct {
	ID string `json:"id"`
}

type v2ReadRequest struct {
	AckID string `json:"ackId"`
}

type v2ReadResponse struct {
	AckID  string        `json:"ackId"`
	Events []model.Event `json:"events"`
}

// V2Transport implements the ack-id protocol. The server replays every
// event past the last acknowledged cursor.
type V2Transport struct {
	agent  api.Doer
	tokens auth.TokenSource
	tag    string
}

// NewV2Transport returns a v2 transport. tag, when set, is attached to
// created feeds and used to filter List.
func NewV2Transport(agent api.Doer, tokens auth.TokenSource, tag string) *V2Transport {
	return &V2Transport{agent: agent, tokens: tokens, tag: tag}
}

func (t *V2Transport) Version() Version {
	return V2
}

func (t *V2Transport) Create(ctx context.Context) (string, error) {
	header, err := authHeaders(ctx, t.tokens)
	if err != nil {
		return "", err
	}
	body := map[string]string{}
	if t.tag != "" {
		body["tag"] = t.tag
	}
	resp, err := t.agent.Do(ctx, api.Request{
		Method: http.MethodPost,
		Path:   "/agent/v5/datafeeds",
		Header: header,
		JSON:   body,
	})
	if err != nil {
		return "", fmt.Errorf("creating datafeed: %w", err)
	}
	var out v2Feed
	if err := resp.DecodeJSON(&out); err != nil {
		return "", fmt.Errorf("creating datafeed: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("creating datafeed: empty id in response")
	}
	return out.ID, nil
}

func (t *V2Transport) List(ctx context.Context) ([]string, error) {
	header, err := authHeaders(ctx, t.tokens)
	if err != nil {
		return nil, err
	}
	var query url.Values
	if t.tag != "" {
		query = url.Values{"tag": {t.tag}}
	}
	resp, err := t.agent.Do(ctx, api.Request{
		Method: http.MethodGet,
		Path:   "/agent/v5/datafeeds",
		Query:  query,
		Header: header,
	})
	if err != nil {
		return nil, fmt.Errorf("listing datafeeds: %w", err)
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	var feeds []v2Feed
	if err := resp.DecodeJSON(&feeds); err != nil {
		return nil, fmt.Errorf("listing datafeeds: %w", err)
	}
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}

func (t *V2Transport) Read(ctx context.Context, id, ackID string) (ReadResult, error) {
	header, err := authHeaders(ctx, t.tokens)
	if err != nil {
		return ReadResult{}, err
	}
	resp, err := t.agent.Do(ctx, api.Request{
		Method: http.MethodPost,
		Path:   "/agent/v5/datafeeds/" + url.PathEscape(id) + "/read",
		Header: header,
		JSON:   v2ReadRequest{AckID: ackID},
	})
	if err != nil {
		return ReadResult{}, fmt.Errorf("reading datafeed %s: %w", id, err)
	}
	if len(resp.Body) == 0 {
		return ReadResult{AckID: ackID}, nil
	}
	var out v2ReadResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return ReadResult{}, fmt.Errorf("reading datafeed %s: %w", id, err)
	}
	return ReadResult{Events: out.Events, AckID: out.AckID}, nil
}

func (t *V2Transport) Delete(ctx context.Context, id string) error {
	header, err := authHeaders(ctx, t.tokens)
	if err != nil {
		return err
	}
	_, err = t.agent.Do(ctx, api.Request{
		Method: http.MethodDelete,
		Path:   "/agent/v5/datafeeds/" + url.PathEscape(id),
		Header: header,
	})
	if err != nil {
		return fmt.Errorf("deleting datafeed %s: %w", id, err)
	}
	return nil
}
