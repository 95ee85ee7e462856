package pod

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
	"github.com/dgnsrekt/symphony-datafeed/internal/auth"
)

type fakeTokens struct {
	mu        sync.Mutex
	round     int
	refreshes int
}

func (f *fakeTokens) Tokens(context.Context) (auth.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.round == 0 {
		return auth.Tokens{Session: "old", KeyManager: "km"}, nil
	}
	return auth.Tokens{Session: "new", KeyManager: "km"}, nil
}

func (f *fakeTokens) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round++
	f.refreshes++
	return nil
}

func newServerClient(t *testing.T, handler http.HandlerFunc) api.Doer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := api.NewClient(api.Options{BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSessionInfo_Cached(t *testing.T) {
	calls := 0
	pod := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/pod/v2/sessioninfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("sessionToken") != "old" {
			t.Errorf("expected session token header, got %q", r.Header.Get("sessionToken"))
		}
		_, _ = w.Write([]byte(`{"id":456,"username":"bot"}`))
	})

	c := NewClient(pod, nil, &fakeTokens{}, zap.NewNop())
	for i := 0; i < 3; i++ {
		id, err := c.BotUserID(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if id != 456 {
			t.Errorf("expected 456, got %d", id)
		}
	}
	if calls != 1 {
		t.Errorf("expected session info fetched once, got %d", calls)
	}
}

func TestSendMessage_RefreshesOnUnauthorized(t *testing.T) {
	tokens := &fakeTokens{}
	agent := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/v4/stream/abc-123/message/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("sessionToken") != "new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.FormValue("message"); got != "<messageML>hi &amp; bye</messageML>" {
			t.Errorf("unexpected message field %q", got)
		}
		_, _ = w.Write([]byte(`{"messageId":"m-1","message":"<div>hi &amp; bye</div>"}`))
	})

	c := NewClient(nil, agent, tokens, zap.NewNop())
	msg, err := c.SendMessage(context.Background(), "abc-123", MessageML("hi & bye"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.MessageID != "m-1" {
		t.Errorf("expected m-1, got %s", msg.MessageID)
	}
	if tokens.refreshes != 1 {
		t.Errorf("expected one refresh, got %d", tokens.refreshes)
	}
}

func TestSendMessage_Forbidden(t *testing.T) {
	agent := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := NewClient(nil, agent, &fakeTokens{}, zap.NewNop())

	if _, err := c.SendMessage(context.Background(), "s", "x"); !errors.Is(err, api.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := c.SendMessage(context.Background(), "", "x"); err == nil {
		t.Error("expected error for empty stream id")
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<div data-format="PresentationML" data-version="2.0">Hello <b>there</b> &amp; welcome</div>`)
	if got != "Hello there & welcome" {
		t.Errorf("unexpected text %q", got)
	}
}
