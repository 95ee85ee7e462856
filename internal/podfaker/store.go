package podfaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// StaleMessage is the agent's answer for an id it does not know.
const StaleMessage = "Could not find a datafeed with the id: "

var (
	errUnknownFeed  = errors.New("unknown datafeed")
	errUnknownAckID = errors.New("unknown ackId")
)

// Fault makes the next Count datafeed reads fail with Status and Message.
type Fault struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count"`
}

type user struct {
	model.User
}

type feed struct {
	id      string
	owner   string
	tag     string
	version string
	created time.Time

	// v1 drains pending; v2 keeps log and replays from acked.
	pending []model.Event
	log     []model.Event
	acked   int
	cursors map[string]int
}

// store is the faker's in-memory pod and agent state.
type store struct {
	mu sync.Mutex

	users      map[string]*user
	nextUserID int64
	sessions   map[string]string // session token -> username
	keyManager map[string]string // key manager token -> username
	apps       map[string]string // app session token -> app id
	streams    map[string]model.StreamType
	feeds      map[string]*feed
	backlog    []model.Event
	faults     []Fault

	// changed is closed and replaced whenever events are published.
	changed chan struct{}
}

func newStore() *store {
	return &store{
		users:      make(map[string]*user),
		nextUserID: 10000,
		sessions:   make(map[string]string),
		keyManager: make(map[string]string),
		apps:       make(map[string]string),
		streams:    make(map[string]model.StreamType),
		feeds:      make(map[string]*feed),
		changed:    make(chan struct{}),
	}
}

func (s *store) ensureUser(username string, id int64) *user {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureUserLocked(username, id)
}

func (s *store) ensureUserLocked(username string, id int64) *user {
	if u, ok := s.users[username]; ok {
		return u
	}
	if id == 0 {
		s.nextUserID++
		id = s.nextUserID
	}
	u := &user{User: model.User{UserID: id, Username: username, DisplayName: username}}
	s.users[username] = u
	return u
}

func (s *store) userByID(id int64) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.UserID == id {
			return u, true
		}
	}
	return nil, false
}

func (s *store) issueSession(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureUserLocked(username, 0)
	token := uuid.NewString()
	s.sessions[token] = username
	return token
}

func (s *store) issueKeyManager(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.keyManager[token] = username
	return token
}

func (s *store) issueApp(appID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.apps[token] = appID
	return token
}

func (s *store) app(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.apps[token]
	return id, ok
}

// session resolves a session token to its user.
func (s *store) session(token string) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.sessions[token]
	if !ok {
		return nil, false
	}
	return s.users[name], true
}

// revokeSessions invalidates every issued session and key manager token.
func (s *store) revokeSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions)
	s.sessions = make(map[string]string)
	s.keyManager = make(map[string]string)
	return n
}

func (s *store) addStream(id string, st model.StreamType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = st
}

func (s *store) streamType(id string) model.StreamType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[id]; ok {
		return st
	}
	return model.StreamRoom
}

func (s *store) createFeed(owner, version, tag string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &feed{
		id:      uuid.NewString(),
		owner:   owner,
		tag:     tag,
		version: version,
		created: time.Now(),
		cursors: make(map[string]int),
	}
	// Events published before any feed existed go to the first one.
	if len(s.backlog) > 0 {
		f.pending = append(f.pending, s.backlog...)
		f.log = append(f.log, s.backlog...)
		s.backlog = nil
	}
	s.feeds[f.id] = f
	return f.id
}

func (s *store) listFeeds(owner, version, tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*feed
	for _, f := range s.feeds {
		if f.owner != owner || f.version != version {
			continue
		}
		if tag != "" && f.tag != tag {
			continue
		}
		out = append(out, f)
	}
	sortFeeds(out)
	ids := make([]string, len(out))
	for i, f := range out {
		ids[i] = f.id
	}
	return ids
}

func (s *store) deleteFeed(owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[id]
	if !ok || f.owner != owner {
		return errUnknownFeed
	}
	delete(s.feeds, id)
	return nil
}

// dropFeed forgets a feed regardless of owner, so the next read of it
// answers with the stale-datafeed error.
func (s *store) dropFeed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeds[id]
	delete(s.feeds, id)
	return ok
}

// publish appends events to every feed and wakes waiting readers.
func (s *store) publish(events ...model.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.feeds) == 0 {
		s.backlog = append(s.backlog, events...)
	}
	for _, f := range s.feeds {
		if f.version == "v1" {
			f.pending = append(f.pending, events...)
		} else {
			f.log = append(f.log, events...)
		}
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *store) injectFault(f Fault) {
	if f.Count <= 0 {
		f.Count = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// takeFault consumes one pending fault, if any.
func (s *store) takeFault() (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) == 0 {
		return Fault{}, false
	}
	f := s.faults[0]
	f.Count--
	if f.Count <= 0 {
		s.faults = s.faults[1:]
	} else {
		s.faults[0] = f
	}
	return f, true
}

// readV1 drains the feed, waiting up to timeout for events.
func (s *store) readV1(ctx context.Context, owner, id string, timeout time.Duration) ([]model.Event, error) {
	var events []model.Event
	err := s.wait(ctx, timeout, func() (bool, error) {
		f, ok := s.feeds[id]
		if !ok || f.owner != owner || f.version != "v1" {
			return false, errUnknownFeed
		}
		if len(f.pending) == 0 {
			return false, nil
		}
		events = f.pending
		f.pending = nil
		return true, nil
	})
	return events, err
}

// readV2 acknowledges ackID, then returns everything past the last
// acknowledged position with a fresh ack id.
func (s *store) readV2(ctx context.Context, owner, id, ackID string, timeout time.Duration) ([]model.Event, string, error) {
	var (
		events []model.Event
		next   string
		first  = true
	)
	err := s.wait(ctx, timeout, func() (bool, error) {
		f, ok := s.feeds[id]
		if !ok || f.owner != owner || f.version != "v2" {
			return false, errUnknownFeed
		}
		if first {
			first = false
			if ackID != "" {
				pos, ok := f.cursors[ackID]
				if !ok {
					return false, errUnknownAckID
				}
				if pos > f.acked {
					f.acked = pos
				}
			}
		}
		events = append([]model.Event(nil), f.log[f.acked:]...)
		next = uuid.NewString()
		f.cursors[next] = len(f.log)
		return len(events) > 0, nil
	})
	return events, next, err
}

// wait runs check under the lock until it reports ready, fails, or the
// timeout passes. A timeout is not an error.
func (s *store) wait(ctx context.Context, timeout time.Duration, check func() (bool, error)) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		ready, err := check()
		changed := s.changed
		s.mu.Unlock()
		if err != nil || ready {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-changed:
		}
	}
}
