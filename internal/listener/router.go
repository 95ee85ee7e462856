package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

var (
	errUnknownType    = errors.New("unknown event type")
	errMissingPayload = errors.New("event payload missing")
)

// DispatchMode selects how a batch is spread over listeners.
type DispatchMode string

const (
	// Sequential runs every call in the loop's goroutine, in batch order.
	Sequential DispatchMode = "sequential"
	// Concurrent runs one goroutine per category. Calls inside a category
	// keep batch order; there is no ordering between categories.
	Concurrent DispatchMode = "concurrent"
)

// Result summarizes one Dispatch.
type Result struct {
	Calls   int
	Failed  int
	Skipped int // events with an unknown type or a missing payload
	// SkipAck is set when any listener returned an *EventError.
	SkipAck bool
	// Err aggregates every *ListenerFailure of the batch.
	Err error
}

// Router maps each event's discriminator to listener callbacks and runs
// them. It holds no listener state of its own.
type Router struct {
	mode   DispatchMode
	logger *zap.Logger
}

func NewRouter(mode DispatchMode, logger *zap.Logger) *Router {
	if mode != Concurrent {
		mode = Sequential
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{mode: mode, logger: logger}
}

func (r *Router) Mode() DispatchMode {
	return r.mode
}

type call struct {
	event    model.Event
	category Category
	listener string
	run      func(ctx context.Context) error
}

// Dispatch delivers events to the listeners in snap and waits for every
// call to finish. Listener errors and panics are caught here.
func (r *Router) Dispatch(ctx context.Context, snap Snapshot, events []model.Event) Result {
	var res Result
	var calls []call

	for _, ev := range events {
		if !ev.Type.IsKnown() {
			res.Skipped++
			r.logger.Warn("skipping unknown event type",
				zap.String("eventID", ev.ID),
				zap.String("type", string(ev.Type)),
			)
			continue
		}
		planned, err := plan(snap, ev)
		if err != nil {
			res.Skipped++
			r.logger.Warn("skipping event",
				zap.String("eventID", ev.ID),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
			continue
		}
		calls = append(calls, planned...)
	}

	if len(calls) == 0 {
		return res
	}

	var failures []*ListenerFailure
	if r.mode == Concurrent {
		failures = r.runConcurrent(ctx, calls)
	} else {
		for _, c := range calls {
			if f := r.invoke(ctx, c); f != nil {
				failures = append(failures, f)
			}
		}
	}

	res.Calls = len(calls)
	res.Failed = len(failures)
	for _, f := range failures {
		res.Err = multierr.Append(res.Err, f)
		if IsEventError(f) {
			res.SkipAck = true
		}
	}
	return res
}

func (r *Router) runConcurrent(ctx context.Context, calls []call) []*ListenerFailure {
	byCategory := make(map[Category][]call)
	var order []Category
	for _, c := range calls {
		if _, ok := byCategory[c.category]; !ok {
			order = append(order, c.category)
		}
		byCategory[c.category] = append(byCategory[c.category], c)
	}

	var (
		mu       sync.Mutex
		failures []*ListenerFailure
		g        errgroup.Group
	)
	for _, cat := range order {
		queue := byCategory[cat]
		g.Go(func() error {
			for _, c := range queue {
				if f := r.invoke(ctx, c); f != nil {
					mu.Lock()
					failures = append(failures, f)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (r *Router) invoke(ctx context.Context, c call) (failure *ListenerFailure) {
	defer func() {
		if rec := recover(); rec != nil {
			failure = &ListenerFailure{
				EventID:   c.event.ID,
				EventType: c.event.Type,
				Listener:  c.listener,
				Err:       fmt.Errorf("panic: %v", rec),
			}
			r.logFailure(failure)
		}
	}()

	if err := c.run(ctx); err != nil {
		failure = &ListenerFailure{
			EventID:   c.event.ID,
			EventType: c.event.Type,
			Listener:  c.listener,
			Err:       err,
		}
		r.logFailure(failure)
	}
	return failure
}

func (r *Router) logFailure(f *ListenerFailure) {
	r.logger.Error("listener failed",
		zap.String("eventID", f.EventID),
		zap.String("type", string(f.EventType)),
		zap.String("listener", f.Listener),
		zap.Bool("eventError", IsEventError(f.Err)),
		zap.Error(f.Err),
	)
}

// plan resolves the calls an event produces, in registration order.
func plan(snap Snapshot, ev model.Event) ([]call, error) {
	p := ev.Payload
	switch ev.Type {
	case model.EventMessageSent:
		if p.MessageSent == nil {
			return nil, errMissingPayload
		}
		switch ev.StreamType() {
		case model.StreamRoom:
			return bind(snap.Room, CategoryRoom, ev, p.MessageSent, func(l *RoomListener) Handler[model.MessageSent] { return l.OnRoomMessage })
		case model.StreamPost:
			return bind(snap.WallPost, CategoryWallPost, ev, p.MessageSent, func(l *WallPostListener) Handler[model.MessageSent] { return l.OnWallPostMessage })
		default:
			// IM, MIM, and anything missing or unrecognized.
			return bind(snap.IM, CategoryIM, ev, p.MessageSent, func(l *IMListener) Handler[model.MessageSent] { return l.OnIMMessage })
		}
	case model.EventMessageSuppressed:
		return bind(snap.Suppression, CategorySuppression, ev, p.MessageSuppressed, func(l *SuppressionListener) Handler[model.MessageSuppressed] { return l.OnMessageSuppression })
	case model.EventInstantMessageCreated:
		return bind(snap.IM, CategoryIM, ev, p.InstantMessageCreated, func(l *IMListener) Handler[model.InstantMessageCreated] { return l.OnIMCreated })
	case model.EventRoomCreated:
		return bind(snap.Room, CategoryRoom, ev, p.RoomCreated, func(l *RoomListener) Handler[model.RoomCreated] { return l.OnRoomCreated })
	case model.EventRoomUpdated:
		return bind(snap.Room, CategoryRoom, ev, p.RoomUpdated, func(l *RoomListener) Handler[model.RoomUpdated] { return l.OnRoomUpdated })
	case model.EventRoomDeactivated:
		return bind(snap.Room, CategoryRoom, ev, p.RoomDeactivated, func(l *RoomListener) Handler[model.RoomDeactivated] { return l.OnRoomDeactivated })
	case model.EventRoomReactivated:
		return bind(snap.Room, CategoryRoom, ev, p.RoomReactivated, func(l *RoomListener) Handler[model.RoomReactivated] { return l.OnRoomReactivated })
	case model.EventUserJoinedRoom:
		return bind(snap.Room, CategoryRoom, ev, p.UserJoinedRoom, func(l *RoomListener) Handler[model.RoomMembership] { return l.OnUserJoinedRoom })
	case model.EventUserLeftRoom:
		return bind(snap.Room, CategoryRoom, ev, p.UserLeftRoom, func(l *RoomListener) Handler[model.RoomMembership] { return l.OnUserLeftRoom })
	case model.EventRoomMemberPromotedToOwner:
		return bind(snap.Room, CategoryRoom, ev, p.RoomMemberPromotedToOwner, func(l *RoomListener) Handler[model.RoomMembership] { return l.OnRoomMemberPromotedToOwner })
	case model.EventRoomMemberDemotedFromOwner:
		return bind(snap.Room, CategoryRoom, ev, p.RoomMemberDemotedFromOwner, func(l *RoomListener) Handler[model.RoomMembership] { return l.OnRoomMemberDemotedFromOwner })
	case model.EventConnectionRequested:
		return bind(snap.Connection, CategoryConnection, ev, p.ConnectionRequested, func(l *ConnectionListener) Handler[model.ConnectionRequested] { return l.OnConnectionRequested })
	case model.EventConnectionAccepted:
		return bind(snap.Connection, CategoryConnection, ev, p.ConnectionAccepted, func(l *ConnectionListener) Handler[model.ConnectionAccepted] { return l.OnConnectionAccepted })
	case model.EventElementsAction:
		return bind(snap.Elements, CategoryElements, ev, p.SymphonyElementsAction, func(l *ElementsListener) Handler[model.ElementsAction] { return l.OnElementsAction })
	case model.EventSharedPost:
		return bind(snap.WallPost, CategoryWallPost, ev, p.SharedPost, func(l *WallPostListener) Handler[model.SharedPost] { return l.OnSharedPost })
	default:
		// Unreachable while the cases match model.KnownEventTypes.
		return nil, errUnknownType
	}
}

type named interface {
	ListenerName() string
}

func bind[L named, T any](listeners []L, cat Category, ev model.Event, payload *T, pick func(L) Handler[T]) ([]call, error) {
	if payload == nil {
		return nil, errMissingPayload
	}
	var out []call
	for _, l := range listeners {
		h := pick(l)
		if h == nil {
			continue
		}
		p := *payload
		out = append(out, call{
			event:    ev,
			category: cat,
			listener: l.ListenerName(),
			run: func(ctx context.Context) error {
				return h(ctx, ev, p)
			},
		})
	}
	return out, nil
}
