// Package auth holds the bot's platform credentials: a session token and a
// key manager token, obtained together and replaced together.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/retry"
)

// DefaultMaxAttempts bounds one authentication round on transient errors.
const DefaultMaxAttempts = 5

// Tokens is one authentication round's output. KeyManager is empty for
// OBO sessions.
type Tokens struct {
	Session    string
	KeyManager string
}

// TokenSource is what the transports and services need from a session.
type TokenSource interface {
	// Tokens returns a consistent pair, authenticating on first use.
	Tokens(ctx context.Context) (Tokens, error)
	// Refresh forces a new authentication round.
	Refresh(ctx context.Context) error
}

// Session caches the token pair. Readers load it without locking; Refresh
// is serialized and swaps the whole pair at once, so a reader sees either
// the old pair or the new one.
type Session struct {
	authenticator Authenticator
	policy        retry.Policy
	sleeper       retry.Sleeper
	logger        *zap.Logger

	current atomic.Pointer[Tokens]
	mu      sync.Mutex
	rounds  atomic.Int64
}

type Option func(*Session)

// WithRetryPolicy replaces the transient-failure policy of each round.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

func WithSleeper(sl retry.Sleeper) Option {
	return func(s *Session) {
		s.sleeper = sl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func NewSession(a Authenticator, opts ...Option) *Session {
	s := &Session{
		authenticator: a,
		policy: retry.Policy{
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: retry.DefaultInitialInterval,
			Multiplier:      retry.DefaultMultiplier,
			MaxInterval:     10 * time.Second,
		},
		sleeper: retry.TimerSleeper{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Tokens(ctx context.Context) (Tokens, error) {
	if t := s.current.Load(); t != nil {
		return *t, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have authenticated while we waited.
	if t := s.current.Load(); t != nil {
		return *t, nil
	}
	t, err := s.authenticate(ctx)
	if err != nil {
		return Tokens{}, err
	}
	s.current.Store(&t)
	return t, nil
}

func (s *Session) SessionToken(ctx context.Context) (string, error) {
	t, err := s.Tokens(ctx)
	return t.Session, err
}

func (s *Session) KeyManagerToken(ctx context.Context) (string, error) {
	t, err := s.Tokens(ctx)
	return t.KeyManager, err
}

// Refresh runs a new authentication round. On failure the previous pair,
// if any, stays in place.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.authenticate(ctx)
	if err != nil {
		return err
	}
	s.current.Store(&t)
	s.logger.Info("session tokens refreshed", zap.Int64("round", s.rounds.Load()))
	return nil
}

// Rounds counts successful authentication rounds.
func (s *Session) Rounds() int64 {
	return s.rounds.Load()
}

// authenticate must be called with s.mu held.
func (s *Session) authenticate(ctx context.Context) (Tokens, error) {
	backoff := retry.NewBackoff(s.policy)
	for {
		t, err := s.authenticateOnce(ctx)
		if err == nil {
			s.rounds.Add(1)
			return t, nil
		}
		if !errors.Is(err, ErrAuthTransient) {
			return Tokens{}, err
		}

		delay, ok := backoff.Next()
		if !ok {
			return Tokens{}, fmt.Errorf("authentication gave up after %d attempts: %w", backoff.Attempts()+1, err)
		}
		s.logger.Warn("authentication failed, retrying",
			zap.Error(err),
			zap.Int("attempt", backoff.Attempts()),
			zap.Duration("delay", delay),
		)
		if err := s.sleeper.Sleep(ctx, delay); err != nil {
			return Tokens{}, err
		}
	}
}

func (s *Session) authenticateOnce(ctx context.Context) (Tokens, error) {
	session, err := s.authenticator.AuthenticateSession(ctx)
	if err != nil {
		return Tokens{}, err
	}
	km, err := s.authenticator.AuthenticateKeyManager(ctx)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Session: session, KeyManager: km}, nil
}

// oboAuthenticator adapts an AppAuthenticator to a single-user session.
type oboAuthenticator struct {
	app      AppAuthenticator
	userID   int64
	username string
}

func (o *oboAuthenticator) AuthenticateSession(ctx context.Context) (string, error) {
	appToken, err := o.app.AuthenticateApp(ctx)
	if err != nil {
		return "", err
	}
	if o.userID != 0 {
		return o.app.AuthenticateUserByID(ctx, appToken, o.userID)
	}
	return o.app.AuthenticateUserByUsername(ctx, appToken, o.username)
}

func (o *oboAuthenticator) AuthenticateKeyManager(context.Context) (string, error) {
	return "", nil
}

// NewOBOSession returns a session acting on behalf of one user, given by
// id or by username but not both. Its key manager token is always empty.
func NewOBOSession(app AppAuthenticator, userID int64, username string, opts ...Option) (*Session, error) {
	if (userID == 0) == (username == "") {
		return nil, ErrOBOIdentity
	}
	return NewSession(&oboAuthenticator{app: app, userID: userID, username: username}, opts...), nil
}
