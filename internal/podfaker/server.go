// Package podfaker is an in-memory stand-in for a pod, its agent and the
// authentication endpoints. It serves the datafeed protocols well enough
// to run the bot against it locally and in tests.
package podfaker

import (
	"crypto/rsa"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

const (
	DefaultReadTimeout = 30 * time.Second
	DefaultBotUsername = "bot"
	DefaultBotUserID   = 456
)

type Options struct {
	// ReadTimeout is how long a datafeed read waits for events.
	ReadTimeout time.Duration
	BotUsername string
	BotUserID   int64
}

type Server struct {
	store       *store
	readTimeout time.Duration
	botUsername string
	logger      *zap.Logger

	keysMu sync.RWMutex
	keys   map[string]*rsa.PublicKey
}

func NewServer(opts Options, logger *zap.Logger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.BotUsername == "" {
		opts.BotUsername = DefaultBotUsername
	}
	if opts.BotUserID == 0 {
		opts.BotUserID = DefaultBotUserID
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:       newStore(),
		readTimeout: opts.ReadTimeout,
		botUsername: opts.BotUsername,
		logger:      logger,
		keys:        make(map[string]*rsa.PublicKey),
	}
	s.store.ensureUser(opts.BotUsername, opts.BotUserID)
	return s
}

// RegisterPublicKey makes JWT authentication for subject require a
// signature by key. Subjects without a key are accepted unverified.
func (s *Server) RegisterPublicKey(subject string, key *rsa.PublicKey) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	s.keys[subject] = key
}

func (s *Server) publicKey(subject string) (*rsa.PublicKey, bool) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	k, ok := s.keys[subject]
	return k, ok
}

// AddUser registers a user and returns its id.
func (s *Server) AddUser(username string) int64 {
	return s.store.ensureUser(username, 0).UserID
}

func (s *Server) AddStream(streamID string, streamType model.StreamType) {
	s.store.addStream(streamID, streamType)
}

// Publish delivers events to every datafeed.
func (s *Server) Publish(events ...model.Event) {
	s.store.publish(events...)
}

func (s *Server) InjectFault(f Fault) {
	s.store.injectFault(f)
}

// RevokeSessions invalidates all issued tokens, so the next call of every
// client gets a 401.
func (s *Server) RevokeSessions() int {
	return s.store.revokeSessions()
}

// DropDatafeed forgets a datafeed as if the agent had expired it.
func (s *Server) DropDatafeed(id string) bool {
	return s.store.dropFeed(id)
}

// Datafeeds lists the feeds of the bot user for a protocol version.
func (s *Server) Datafeeds(version string) []string {
	return s.store.listFeeds(s.botUsername, version, "")
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Post("/login/pubkey/authenticate", s.handleSessionAuth)
	r.Post("/relay/pubkey/authenticate", s.handleKeyManagerAuth)
	r.Post("/sessionauth/v1/authenticate", s.handleCertSessionAuth)
	r.Post("/keyauth/v1/authenticate", s.handleCertKeyManagerAuth)
	r.Post("/login/pubkey/app/authenticate", s.handleAppAuth)
	r.Post("/login/pubkey/app/user/{userID}/authenticate", s.handleOBOByID)
	r.Post("/login/pubkey/app/username/{username}/authenticate", s.handleOBOByUsername)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/pod/v2/sessioninfo", s.handleSessionInfo)
		r.Post("/agent/v4/stream/{streamID}/message/create", s.handleMessageCreate)

		r.Post("/agent/v4/datafeed/create", s.handleV1Create)
		r.Get("/agent/v4/datafeed/{id}/read", s.handleV1Read)

		r.Post("/agent/v5/datafeeds", s.handleV2Create)
		r.Get("/agent/v5/datafeeds", s.handleV2List)
		r.Post("/agent/v5/datafeeds/{id}/read", s.handleV2Read)
		r.Delete("/agent/v5/datafeeds/{id}", s.handleV2Delete)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/events", s.handleAdminEvents)
		r.Post("/faults", s.handleAdminFaults)
		r.Post("/revoke", s.handleAdminRevoke)
		r.Delete("/datafeeds/{id}", s.handleAdminDropFeed)
	})

	return gzhttp.GzipHandler(r)
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("sessionToken", maskToken(r.Header.Get("sessionToken"))),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// maskToken keeps the first four characters of a token.
func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "****"
}

func sortFeeds(feeds []*feed) {
	slices.SortFunc(feeds, func(a, b *feed) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
}
