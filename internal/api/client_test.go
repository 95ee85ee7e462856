package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := zap.NewDevelopment()
	client, err := NewClient(Options{
		BaseURL:        server.URL + "/",
		DefaultHeaders: map[string]string{"User-Agent": "bot-test"},
	}, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestDo_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/v5/datafeeds" {
			t.Errorf("expected path /agent/v5/datafeeds, got %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "bot-test" {
			t.Errorf("expected default header, got %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("sessionToken") != "abc" {
			t.Errorf("expected sessionToken header, got %q", r.Header.Get("sessionToken"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}

		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["tag"] != "bot" {
			t.Errorf("expected tag in body, got %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"df-1"}`))
	})

	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/agent/v5/datafeeds",
		Header: http.Header{"sessionToken": {"abc"}},
		JSON:   map[string]string{"tag": "bot"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != "df-1" {
		t.Errorf("expected df-1, got %s", out.ID)
	}
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"stale datafeed", 400, `{"code":400,"message":"Could not find a datafeed with the id: df-old"}`, ErrDatafeedStale},
		{"stale datafeed plain text", 400, `Could not find a datafeed with the id: df-old`, ErrDatafeedStale},
		{"bad request", 400, `{"code":400,"message":"bad ackId"}`, ErrClientError},
		{"unauthorized", 401, `{"code":401,"message":"Invalid session"}`, ErrUnauthorized},
		{"forbidden", 403, ``, ErrForbidden},
		{"method not allowed", 405, ``, ErrForbidden},
		{"not found", 404, ``, ErrClientError},
		{"rate limited", 429, ``, ErrServer},
		{"unavailable", 503, ``, ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestDo_RetryableClassification(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if !IsRetryable(err) {
		t.Errorf("503 should be retryable, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should name the status, got %v", err)
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(Options{BaseURL: url}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestDo_CancelledContextNotClassified(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(ctx, Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("cancellation must not be retryable")
	}
}

func TestNewAPIError_TruncatesBody(t *testing.T) {
	body := strings.Repeat("x", 2000)
	apiErr := newAPIError(500, []byte(body))
	if len(apiErr.Body) != maxErrorBody {
		t.Errorf("expected body truncated to %d, got %d", maxErrorBody, len(apiErr.Body))
	}
}
