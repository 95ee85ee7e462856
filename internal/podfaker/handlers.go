package podfaker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

type contextKey struct{}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type tokenResponse struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type feedResponse struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

type v2ReadRequest struct {
	AckID string `json:"ackId"`
}

type v2ReadResponse struct {
	AckID  string        `json:"ackId"`
	Events []model.Event `json:"events"`
}

type sessionInfoResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func userFrom(ctx context.Context) *user {
	u, _ := ctx.Value(contextKey{}).(*user)
	return u
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.store.session(r.Header.Get("sessionToken"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid session")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, u)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jwtSubject extracts the subject of the assertion in the request body,
// verifying the signature when a key is registered for it.
func (s *Server) jwtSubject(r *http.Request) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		return "", errors.New("missing token")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())
	unverified, _, err := parser.ParseUnverified(body.Token, &jwt.RegisteredClaims{})
	if err != nil {
		return "", fmt.Errorf("malformed jwt: %w", err)
	}
	subject, err := unverified.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("jwt has no subject")
	}

	if key, ok := s.publicKey(subject); ok {
		_, err := parser.ParseWithClaims(body.Token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			return "", fmt.Errorf("invalid jwt: %w", err)
		}
	}
	return subject, nil
}

func (s *Server) handleSessionAuth(w http.ResponseWriter, r *http.Request) {
	subject, err := s.jwtSubject(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Name: "sessionToken", Token: s.store.issueSession(subject)})
}

func (s *Server) handleKeyManagerAuth(w http.ResponseWriter, r *http.Request) {
	subject, err := s.jwtSubject(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Name: "keyManagerToken", Token: s.store.issueKeyManager(subject)})
}

// certificateUser is the common name of the client certificate, or the
// bot user when the request did not come over mutual TLS.
func (s *Server) certificateUser(r *http.Request) string {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		if cn := r.TLS.PeerCertificates[0].Subject.CommonName; cn != "" {
			return cn
		}
	}
	return s.botUsername
}

func (s *Server) handleCertSessionAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokenResponse{Name: "sessionToken", Token: s.store.issueSession(s.certificateUser(r))})
}

func (s *Server) handleCertKeyManagerAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokenResponse{Name: "keyManagerToken", Token: s.store.issueKeyManager(s.certificateUser(r))})
}

func (s *Server) handleAppAuth(w http.ResponseWriter, r *http.Request) {
	appID, err := s.jwtSubject(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Name: "appSessionToken", Token: s.store.issueApp(appID)})
}

func (s *Server) handleOBOByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.store.app(r.Header.Get("sessionToken")); !ok {
		writeError(w, http.StatusUnauthorized, "Invalid app session")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	u, ok := s.store.userByID(id)
	if !ok {
		writeError(w, http.StatusBadRequest, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Name: "sessionToken", Token: s.store.issueSession(u.Username)})
}

func (s *Server) handleOBOByUsername(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.store.app(r.Header.Get("sessionToken")); !ok {
		writeError(w, http.StatusUnauthorized, "Invalid app session")
		return
	}
	username := chi.URLParam(r, "username")
	writeJSON(w, http.StatusOK, tokenResponse{Name: "sessionToken", Token: s.store.issueSession(username)})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionInfoResponse{ID: u.UserID, Username: u.Username, DisplayName: u.DisplayName})
}

func (s *Server) handleMessageCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	messageML := r.FormValue("message")
	if messageML == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sender := userFrom(r.Context())
	streamID := chi.URLParam(r, "streamID")
	now := time.Now().UnixMilli()
	msg := model.Message{
		MessageID: uuid.NewString(),
		Timestamp: now,
		Message:   presentationML(messageML),
		User:      &sender.User,
		Stream:    &model.Stream{StreamID: streamID, StreamType: s.store.streamType(streamID)},
	}
	s.store.publish(model.Event{
		ID:        uuid.NewString(),
		MessageID: msg.MessageID,
		Timestamp: now,
		Type:      model.EventMessageSent,
		Initiator: model.Initiator{User: sender.User},
		Payload:   model.Payload{MessageSent: &model.MessageSent{Message: msg}},
	})
	writeJSON(w, http.StatusOK, msg)
}

// presentationML converts a messageML envelope into what readers receive.
func presentationML(messageML string) string {
	body := strings.TrimSpace(messageML)
	body = strings.TrimPrefix(body, "<messageML>")
	body = strings.TrimSuffix(body, "</messageML>")
	return `<div data-format="PresentationML" data-version="2.0">` + body + `</div>`
}

// readFault answers with an injected fault, if one is pending.
func (s *Server) readFault(w http.ResponseWriter, id string) bool {
	f, ok := s.store.takeFault()
	if !ok {
		return false
	}
	message := f.Message
	if message == "" && f.Status == http.StatusBadRequest {
		message = StaleMessage + id
	}
	s.logger.Debug("injecting fault", zap.Int("status", f.Status), zap.String("datafeedID", id))
	writeError(w, f.Status, message)
	return true
}

func (s *Server) handleV1Create(w http.ResponseWriter, r *http.Request) {
	id := s.store.createFeed(userFrom(r.Context()).Username, "v1", "")
	writeJSON(w, http.StatusOK, feedResponse{ID: id})
}

func (s *Server) handleV1Read(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.readFault(w, id) {
		return
	}
	events, err := s.store.readV1(r.Context(), userFrom(r.Context()).Username, id, s.readTimeout)
	switch {
	case errors.Is(err, errUnknownFeed):
		writeError(w, http.StatusBadRequest, StaleMessage+id)
	case err != nil:
		return
	case len(events) == 0:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, events)
	}
}

func (s *Server) handleV2Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tag string `json:"tag"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	id := s.store.createFeed(userFrom(r.Context()).Username, "v2", body.Tag)
	writeJSON(w, http.StatusCreated, feedResponse{ID: id, CreatedAt: time.Now().UnixMilli()})
}

func (s *Server) handleV2List(w http.ResponseWriter, r *http.Request) {
	ids := s.store.listFeeds(userFrom(r.Context()).Username, "v2", r.URL.Query().Get("tag"))
	out := make([]feedResponse, len(ids))
	for i, id := range ids {
		out[i] = feedResponse{ID: id}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleV2Read(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body v2ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if s.readFault(w, id) {
		return
	}

	events, ackID, err := s.store.readV2(r.Context(), userFrom(r.Context()).Username, id, body.AckID, s.readTimeout)
	switch {
	case errors.Is(err, errUnknownFeed):
		writeError(w, http.StatusBadRequest, StaleMessage+id)
	case errors.Is(err, errUnknownAckID):
		writeError(w, http.StatusBadRequest, "Invalid ackId: "+body.AckID)
	case err != nil:
		return
	default:
		if events == nil {
			events = []model.Event{}
		}
		writeJSON(w, http.StatusOK, v2ReadResponse{AckID: ackID, Events: events})
	}
}

func (s *Server) handleV2Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.deleteFeed(userFrom(r.Context()).Username, id); err != nil {
		writeError(w, http.StatusBadRequest, StaleMessage+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminEvents accepts one event or a list of events.
func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	raw = bytes.TrimSpace(raw)

	var events []model.Event
	if bytes.HasPrefix(raw, []byte("[")) {
		err = json.Unmarshal(raw, &events)
	} else {
		var ev model.Event
		err = json.Unmarshal(raw, &ev)
		events = []model.Event{ev}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid events: "+err.Error())
		return
	}

	normalize(events)
	s.store.publish(events...)
	s.logger.Info("events published", zap.Int("count", len(events)))
	writeJSON(w, http.StatusAccepted, map[string]int{"published": len(events)})
}

func (s *Server) handleAdminFaults(w http.ResponseWriter, r *http.Request) {
	var f Fault
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil || f.Status < 400 {
		writeError(w, http.StatusBadRequest, "expected {status, message, count} with status >= 400")
		return
	}
	s.store.injectFault(f)
	writeJSON(w, http.StatusAccepted, f)
}

func (s *Server) handleAdminRevoke(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"revoked": s.store.revokeSessions()})
}

func (s *Server) handleAdminDropFeed(w http.ResponseWriter, r *http.Request) {
	if !s.store.dropFeed(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "no such datafeed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// normalize fills ids and timestamps left out of hand-written events.
func normalize(events []model.Event) {
	now := time.Now().UnixMilli()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].Timestamp == 0 {
			events[i].Timestamp = now
		}
	}
}
