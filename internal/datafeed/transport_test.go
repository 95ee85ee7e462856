package datafeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

func newAgent(t *testing.T, handler http.HandlerFunc) api.Doer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := api.NewClient(api.Options{BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func checkTokens(t *testing.T, r *http.Request) {
	t.Helper()
	if r.Header.Get("sessionToken") != "s" || r.Header.Get("keyManagerToken") != "k" {
		t.Errorf("missing token headers on %s %s", r.Method, r.URL.Path)
	}
}

func TestV1Transport(t *testing.T) {
	reads := 0
	agent := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		checkTokens(t, r)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/agent/v4/datafeed/create":
			_, _ = w.Write([]byte(`{"id":"df-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/agent/v4/datafeed/df-1/read":
			reads++
			if reads == 1 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_ = json.NewEncoder(w).Encode([]model.Event{message("e1", model.StreamRoom, 1)})
		case r.URL.Path == "/agent/v4/datafeed/df-gone/read":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":400,"message":"Could not find a datafeed with the id: df-gone"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tr := NewV1Transport(agent, &fakeTokens{})
	ctx := context.Background()

	id, err := tr.Create(ctx)
	if err != nil || id != "df-1" {
		t.Fatalf("create: %q %v", id, err)
	}

	res, err := tr.Read(ctx, id, "")
	if err != nil || len(res.Events) != 0 {
		t.Fatalf("expected empty read on 204, got %+v %v", res, err)
	}
	res, err = tr.Read(ctx, id, "")
	if err != nil || len(res.Events) != 1 || res.Events[0].ID != "e1" {
		t.Fatalf("expected one event, got %+v %v", res, err)
	}

	if _, err := tr.Read(ctx, "df-gone", ""); !errors.Is(err, api.ErrDatafeedStale) {
		t.Errorf("expected ErrDatafeedStale, got %v", err)
	}
	if _, err := tr.List(ctx); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from List, got %v", err)
	}
	if err := tr.Delete(ctx, id); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from Delete, got %v", err)
	}
}

func TestV2Transport(t *testing.T) {
	var deleted string
	agent := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		checkTokens(t, r)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/agent/v5/datafeeds":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["tag"] != "bot-a" {
				t.Errorf("expected tag in create body, got %v", body)
			}
			_, _ = w.Write([]byte(`{"id":"df-2"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/agent/v5/datafeeds":
			if r.URL.Query().Get("tag") != "bot-a" {
				t.Errorf("expected tag query, got %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`[{"id":"df-2"},{"id":"df-3"}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/agent/v5/datafeeds/df-2/read":
			var body v2ReadRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(v2ReadResponse{
				AckID:  body.AckID + "+1",
				Events: []model.Event{message("e1", model.StreamIM, 1)},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/agent/v5/datafeeds/df-2":
			deleted = "df-2"
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tr := NewV2Transport(agent, &fakeTokens{}, "bot-a")
	ctx := context.Background()

	id, err := tr.Create(ctx)
	if err != nil || id != "df-2" {
		t.Fatalf("create: %q %v", id, err)
	}
	ids, err := tr.List(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("list: %v %v", ids, err)
	}
	res, err := tr.Read(ctx, id, "a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.AckID != "a+1" || len(res.Events) != 1 {
		t.Errorf("unexpected read result %+v", res)
	}
	if err := tr.Delete(ctx, id); err != nil || deleted != "df-2" {
		t.Errorf("delete: %v (deleted %q)", err, deleted)
	}
}

func TestParseVersion(t *testing.T) {
	tests := map[string]Version{"v2": V2, "V2": V2, "v1": V1, "": V1, "v3": V1}
	for in, want := range tests {
		if got := ParseVersion(in); got != want {
			t.Errorf("ParseVersion(%q) = %s, want %s", in, got, want)
		}
	}
}
