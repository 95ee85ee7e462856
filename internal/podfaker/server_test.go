package podfaker

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	srv := NewServer(Options{ReadTimeout: 50 * time.Millisecond}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("sessionToken", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func signedJWT(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func (e *testEnv) login(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/login/pubkey/authenticate", "", map[string]string{"token": signedJWT(t, key, subject)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with %d", resp.StatusCode)
	}
	return decode[tokenResponse](t, resp).Token
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestAuth_VerifiesRegisteredKeys(t *testing.T) {
	env := newTestEnv(t)
	key := testKey(t)
	env.server.RegisterPublicKey("bot", &key.PublicKey)

	token := env.login(t, key, "bot")
	info := decode[sessionInfoResponse](t, env.do(t, http.MethodGet, "/pod/v2/sessioninfo", token, nil))
	if info.ID != DefaultBotUserID || info.Username != "bot" {
		t.Errorf("unexpected session info %+v", info)
	}

	other := testKey(t)
	resp := env.do(t, http.MethodPost, "/login/pubkey/authenticate", "", map[string]string{"token": signedJWT(t, other, "bot")})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong key, got %d", resp.StatusCode)
	}
}

func TestAgent_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/agent/v4/datafeed/create", "bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	token := env.login(t, testKey(t), "bot")
	env.server.RevokeSessions()
	resp = env.do(t, http.MethodGet, "/pod/v2/sessioninfo", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after revocation, got %d", resp.StatusCode)
	}
}

func TestV1_ReadDrains(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, testKey(t), "bot")

	id := decode[feedResponse](t, env.do(t, http.MethodPost, "/agent/v4/datafeed/create", token, nil)).ID

	resp := env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on empty feed, got %d", resp.StatusCode)
	}

	env.server.Publish(model.Event{ID: "e1", Type: model.EventRoomCreated, Payload: model.Payload{RoomCreated: &model.RoomCreated{}}})
	events := decode[[]model.Event](t, env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil))
	if len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("expected e1, got %+v", events)
	}

	resp = env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected feed drained, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/agent/v4/datafeed/unknown/read", token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown feed, got %d", resp.StatusCode)
	}
	if msg := decode[errorResponse](t, resp).Message; !strings.Contains(msg, "Could not find a datafeed with the id") {
		t.Errorf("unexpected stale message %q", msg)
	}
}

func TestV1_LongPollWakesOnPublish(t *testing.T) {
	logger := zap.NewNop()
	srv := NewServer(Options{ReadTimeout: 5 * time.Second}, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	env := &testEnv{server: srv, http: ts}

	token := env.login(t, testKey(t), "bot")
	id := decode[feedResponse](t, env.do(t, http.MethodPost, "/agent/v4/datafeed/create", token, nil)).ID

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Publish(model.Event{ID: "late", Type: model.EventRoomCreated})
	}()

	start := time.Now()
	events := decode[[]model.Event](t, env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil))
	if len(events) != 1 || events[0].ID != "late" {
		t.Fatalf("expected the late event, got %+v", events)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("read did not wake on publish")
	}
}

func TestV2_AckAndReplay(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, testKey(t), "bot")

	id := decode[feedResponse](t, env.do(t, http.MethodPost, "/agent/v5/datafeeds", token, map[string]string{"tag": "t1"})).ID
	env.server.Publish(model.Event{ID: "e1", Type: model.EventRoomCreated})

	read := func(ack string) v2ReadResponse {
		return decode[v2ReadResponse](t, env.do(t, http.MethodPost, "/agent/v5/datafeeds/"+id+"/read", token, v2ReadRequest{AckID: ack}))
	}

	first := read("")
	if len(first.Events) != 1 || first.AckID == "" {
		t.Fatalf("expected e1 with an ack id, got %+v", first)
	}

	// Not acknowledging replays the batch.
	again := read("")
	if len(again.Events) != 1 || again.Events[0].ID != "e1" {
		t.Fatalf("expected replay of e1, got %+v", again)
	}

	acked := read(again.AckID)
	if len(acked.Events) != 0 {
		t.Errorf("expected nothing after ack, got %+v", acked.Events)
	}

	resp := env.do(t, http.MethodPost, "/agent/v5/datafeeds/"+id+"/read", token, v2ReadRequest{AckID: "nope"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown ack id, got %d", resp.StatusCode)
	}

	feeds := decode[[]feedResponse](t, env.do(t, http.MethodGet, "/agent/v5/datafeeds?tag=t1", token, nil))
	if len(feeds) != 1 || feeds[0].ID != id {
		t.Errorf("expected list to return %s, got %+v", id, feeds)
	}
	if other := decode[[]feedResponse](t, env.do(t, http.MethodGet, "/agent/v5/datafeeds?tag=t2", token, nil)); len(other) != 0 {
		t.Errorf("expected tag filter to exclude feed, got %+v", other)
	}

	if resp := env.do(t, http.MethodDelete, "/agent/v5/datafeeds/"+id, token, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 on delete, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/agent/v5/datafeeds/"+id+"/read", token, v2ReadRequest{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected stale feed after delete, got %d", resp.StatusCode)
	}
}

func TestFaultInjection(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, testKey(t), "bot")
	id := decode[feedResponse](t, env.do(t, http.MethodPost, "/agent/v4/datafeed/create", token, nil)).ID

	resp := env.do(t, http.MethodPost, "/admin/faults", "", Fault{Status: 503, Count: 2})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		if resp := env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil); resp.StatusCode != 503 {
			t.Errorf("read %d: expected 503, got %d", i, resp.StatusCode)
		}
	}
	if resp := env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected faults consumed, got %d", resp.StatusCode)
	}
}

func TestMessageCreate_PublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	env.server.AddStream("im-1", model.StreamIM)
	token := env.login(t, testKey(t), "bot")
	id := decode[feedResponse](t, env.do(t, http.MethodPost, "/agent/v4/datafeed/create", token, nil)).ID

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("message", "<messageML>hello</messageML>")
	_ = form.Close()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, env.http.URL+"/agent/v4/stream/im-1/message/create", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("sessionToken", token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	events := decode[[]model.Event](t, env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil))
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != model.EventMessageSent || ev.StreamType() != model.StreamIM || ev.InitiatorID() != DefaultBotUserID {
		t.Errorf("unexpected event %+v", ev)
	}
	if !strings.Contains(ev.Payload.MessageSent.Message.Message, "hello") {
		t.Errorf("expected message body carried, got %q", ev.Payload.MessageSent.Message.Message)
	}
}

func TestAdminEvents(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/admin/events", "", []map[string]any{
		{"type": "ROOMCREATED", "payload": map[string]any{"roomCreated": map[string]any{}}},
		{"type": "USERJOINEDROOM", "payload": map[string]any{"userJoinedRoom": map[string]any{}}},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	// Published before any feed existed, so the first feed receives them.
	token := env.login(t, testKey(t), "bot")
	id := decode[feedResponse](t, env.do(t, http.MethodPost, "/agent/v4/datafeed/create", token, nil)).ID
	events := decode[[]model.Event](t, env.do(t, http.MethodGet, "/agent/v4/datafeed/"+id+"/read", token, nil))
	if len(events) != 2 || events[0].ID == "" {
		t.Fatalf("expected two normalized events, got %+v", events)
	}
}

func TestOBO(t *testing.T) {
	env := newTestEnv(t)
	appKey := testKey(t)
	resp := env.do(t, http.MethodPost, "/login/pubkey/app/authenticate", "", map[string]string{"token": signedJWT(t, appKey, "my-app")})
	appToken := decode[tokenResponse](t, resp).Token

	resp = env.do(t, http.MethodPost, "/login/pubkey/app/user/456/authenticate", appToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	userToken := decode[tokenResponse](t, resp).Token
	info := decode[sessionInfoResponse](t, env.do(t, http.MethodGet, "/pod/v2/sessioninfo", userToken, nil))
	if info.Username != "bot" {
		t.Errorf("expected OBO session for bot, got %+v", info)
	}

	if resp := env.do(t, http.MethodPost, "/login/pubkey/app/user/999999/authenticate", appToken, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown user, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/login/pubkey/app/username/alice/authenticate", "bad", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad app token, got %d", resp.StatusCode)
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("abcdef"); got != "abcd****" {
		t.Errorf("unexpected mask %q", got)
	}
	if got := maskToken("ab"); got != "**" {
		t.Errorf("unexpected mask %q", got)
	}
}
