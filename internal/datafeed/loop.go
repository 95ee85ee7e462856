package datafeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/api"
	"github.com/dgnsrekt/symphony-datafeed/internal/auth"
	"github.com/dgnsrekt/symphony-datafeed/internal/listener"
	"github.com/dgnsrekt/symphony-datafeed/internal/model"
	"github.com/dgnsrekt/symphony-datafeed/internal/retry"
)

// DefaultMaxUnauthorized bounds refresh-then-401 cycles without a
// successful call in between.
const DefaultMaxUnauthorized = 5

// State is the loop's position in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateReading     State = "reading"
	StateDispatching State = "dispatching"
	StateBackoff     State = "backoff"
	StateRecreating  State = "recreating"
	StateStopped     State = "stopped"
)

// BotIdentity resolves the bot's own user id, used to drop events the bot
// initiated itself.
type BotIdentity interface {
	BotUserID(ctx context.Context) (int64, error)
}

type Options struct {
	Transport Transport
	Tokens    auth.TokenSource
	Registry  *listener.Registry
	Router    *listener.Router
	// Repository persists v1 ids. Defaults to a MemoryRepository.
	Repository Repository
	// AgentURL is stored next to the v1 id.
	AgentURL string
	// Identity is optional; without it no events are filtered.
	Identity        BotIdentity
	Retry           retry.Policy
	Sleeper         retry.Sleeper
	MaxUnauthorized int
	Logger          *zap.Logger
}

// Loop drives one datafeed: prepare, then read and dispatch until stopped
// or a fatal error.
type Loop struct {
	transport       Transport
	tokens          auth.TokenSource
	registry        *listener.Registry
	router          *listener.Router
	repo            Repository
	agentURL        string
	identity        BotIdentity
	policy          retry.Policy
	sleeper         retry.Sleeper
	maxUnauthorized int
	logger          *zap.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	state      State
	datafeedID string
	ackID      string
	botID      int64
}

func NewLoop(opts Options) (*Loop, error) {
	if opts.Transport == nil {
		return nil, errors.New("datafeed loop: transport is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("datafeed loop: token source is required")
	}
	if opts.Registry == nil {
		opts.Registry = listener.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Router == nil {
		opts.Router = listener.NewRouter(listener.Sequential, opts.Logger)
	}
	if opts.Repository == nil {
		opts.Repository = &MemoryRepository{}
	}
	if opts.Sleeper == nil {
		opts.Sleeper = retry.TimerSleeper{}
	}
	if opts.MaxUnauthorized <= 0 {
		opts.MaxUnauthorized = DefaultMaxUnauthorized
	}

	return &Loop{
		transport:       opts.Transport,
		tokens:          opts.Tokens,
		registry:        opts.Registry,
		router:          opts.Router,
		repo:            opts.Repository,
		agentURL:        opts.AgentURL,
		identity:        opts.Identity,
		policy:          opts.Retry.WithDefaults(),
		sleeper:         opts.Sleeper,
		maxUnauthorized: opts.MaxUnauthorized,
		logger:          opts.Logger.With(zap.String("version", string(opts.Transport.Version()))),
		stopCh:          make(chan struct{}),
		state:           StateIdle,
	}, nil
}

func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loop) DatafeedID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.datafeedID
}

// AckID is the cursor the next v2 read will send.
func (l *Loop) AckID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ackID
}

func (l *Loop) Registry() *listener.Registry {
	return l.registry
}

// Stop asks the loop to exit. It cancels an in-flight read or backoff
// sleep; a batch already being dispatched is finished first. Safe to call
// more than once and from any goroutine. A stopped loop cannot restart.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Start runs the loop until Stop, cancellation of ctx, or a fatal error.
// Stop and cancellation return nil.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	select {
	case <-l.stopCh:
		l.setState(StateStopped)
		return nil
	default:
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := l.run(runCtx, ctx)
	l.setState(StateStopped)

	if err != nil && runCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}
	if err != nil {
		l.logger.Error("datafeed loop failed", zap.String("datafeedID", l.DatafeedID()), zap.Error(err))
		return err
	}
	l.logger.Info("datafeed loop stopped", zap.String("datafeedID", l.DatafeedID()))
	return nil
}

// run reads with ctx; dispatchCtx outlives Stop so a batch already read
// is delivered in full.
func (l *Loop) run(ctx, dispatchCtx context.Context) error {
	l.setState(StatePreparing)
	if err := l.resolveBotID(ctx); err != nil {
		return err
	}
	if err := l.prepare(ctx); err != nil {
		return err
	}

	backoff := retry.NewBackoff(l.policy)
	unauthorized := 0

	for {
		if l.stopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		l.setState(StateReading)
		id := l.DatafeedID()
		res, err := l.transport.Read(ctx, id, l.AckID())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch {
			case isAuthFailure(err):
				return err
			case errors.Is(err, api.ErrUnauthorized):
				unauthorized++
				if unauthorized > l.maxUnauthorized {
					return fmt.Errorf("still unauthorized after %d session refreshes: %w", l.maxUnauthorized, err)
				}
				l.logger.Info("datafeed read unauthorized, refreshing session", zap.String("datafeedID", id))
				if err := l.tokens.Refresh(ctx); err != nil {
					return fmt.Errorf("refreshing session: %w", err)
				}
			case errors.Is(err, api.ErrDatafeedStale):
				l.logger.Warn("datafeed no longer exists, recreating", zap.String("datafeedID", id), zap.Error(err))
				l.setState(StateRecreating)
				if err := l.recreate(ctx, id); err != nil {
					return err
				}
			case api.IsRetryable(err):
				if err := l.pause(ctx, backoff, "read", err); err != nil {
					return err
				}
			default:
				return err
			}
			continue
		}

		unauthorized = 0
		backoff.Reset()
		l.handle(dispatchCtx, res)
	}
}

// handle filters and dispatches one batch, then advances the v2 cursor
// unless a listener asked for a replay.
func (l *Loop) handle(ctx context.Context, res ReadResult) {
	events := l.withoutSelf(res.Events)

	var result listener.Result
	if len(events) > 0 {
		l.setState(StateDispatching)
		result = l.router.Dispatch(ctx, l.registry.Snapshot(), events)
		l.logger.Debug("batch dispatched",
			zap.Int("events", len(events)),
			zap.Int("calls", result.Calls),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}

	if l.transport.Version() != V2 {
		return
	}
	if result.SkipAck {
		l.logger.Warn("listener requested replay, batch not acknowledged",
			zap.String("ackID", l.AckID()),
			zap.Error(result.Err),
		)
		return
	}
	if res.AckID == "" {
		l.logger.Warn("read returned no ack id, keeping cursor", zap.String("ackID", l.AckID()))
		return
	}
	l.mu.Lock()
	l.ackID = res.AckID
	l.mu.Unlock()
}

func (l *Loop) withoutSelf(events []model.Event) []model.Event {
	l.mu.RLock()
	botID := l.botID
	l.mu.RUnlock()
	if botID == 0 || len(events) == 0 {
		return events
	}
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.InitiatorID() == botID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (l *Loop) resolveBotID(ctx context.Context) error {
	if l.identity == nil {
		return nil
	}
	return l.withRetry(ctx, "resolving bot identity", func(ctx context.Context) error {
		id, err := l.identity.BotUserID(ctx)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.botID = id
		l.mu.Unlock()
		return nil
	})
}

func (l *Loop) prepare(ctx context.Context) error {
	if l.transport.Version() == V2 {
		var ids []string
		err := l.withRetry(ctx, "listing datafeeds", func(ctx context.Context) error {
			var err error
			ids, err = l.transport.List(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			l.setFeed(ids[0])
			l.logger.Info("reusing existing datafeed", zap.String("datafeedID", ids[0]))
			return nil
		}
		return l.create(ctx)
	}

	if id, ok := l.repo.Read(); ok {
		l.setFeed(id)
		l.logger.Info("reusing persisted datafeed", zap.String("datafeedID", id))
		return nil
	}
	return l.create(ctx)
}

// recreate replaces a datafeed the agent no longer knows. The v2 delete
// is best-effort.
func (l *Loop) recreate(ctx context.Context, staleID string) error {
	if l.transport.Version() == V2 {
		if err := l.transport.Delete(ctx, staleID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Debug("deleting stale datafeed failed", zap.String("datafeedID", staleID), zap.Error(err))
		}
	}
	return l.create(ctx)
}

func (l *Loop) create(ctx context.Context) error {
	var id string
	err := l.withRetry(ctx, "creating datafeed", func(ctx context.Context) error {
		var err error
		id, err = l.transport.Create(ctx)
		return err
	})
	if err != nil {
		return err
	}
	l.setFeed(id)
	l.logger.Info("datafeed created", zap.String("datafeedID", id))

	if l.transport.Version() == V1 {
		if err := l.repo.Write(id, l.agentURL); err != nil {
			l.logger.Warn("persisting datafeed id failed", zap.String("datafeedID", id), zap.Error(err))
		}
	}
	return nil
}

// withRetry runs fn under the read path's error policy: refresh on 401,
// back off on transient errors, fail on anything else.
func (l *Loop) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.NewBackoff(l.policy)
	unauthorized := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case isAuthFailure(err):
			return fmt.Errorf("%s: %w", op, err)
		case errors.Is(err, api.ErrUnauthorized):
			unauthorized++
			if unauthorized > l.maxUnauthorized {
				return fmt.Errorf("%s: still unauthorized after %d session refreshes: %w", op, l.maxUnauthorized, err)
			}
			if err := l.tokens.Refresh(ctx); err != nil {
				return fmt.Errorf("%s: refreshing session: %w", op, err)
			}
		case api.IsRetryable(err):
			if err := l.pause(ctx, backoff, op, err); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

// pause sleeps for the current backoff, or fails once it has grown past
// the ceiling.
func (l *Loop) pause(ctx context.Context, backoff *retry.Backoff, op string, cause error) error {
	delay, ok := backoff.Next()
	if !ok {
		return &BackoffExhaustedError{Attempts: backoff.Attempts() + 1, Cause: cause}
	}
	l.setState(StateBackoff)
	l.logger.Warn("datafeed call failed, backing off",
		zap.String("op", op),
		zap.Int("attempt", backoff.Attempts()),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return l.sleeper.Sleep(ctx, delay)
}

// stopped is checked between iterations; the goroutine that cancels the
// read context may not have run yet.
func (l *Loop) stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// isAuthFailure matches session errors that already went through their own
// retry budget, or were rejected outright. They also wrap the *api.APIError
// of the last attempt and must not be retried again here.
func isAuthFailure(err error) bool {
	return errors.Is(err, auth.ErrAuthInvalid) || errors.Is(err, auth.ErrAuthTransient)
}

func (l *Loop) setFeed(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.datafeedID = id
	l.ackID = ""
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}
