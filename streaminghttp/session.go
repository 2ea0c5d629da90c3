package streaminghttp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/mcp-host-go/server"
)

// ErrSessionNotFound indicates a presented session id is not in the live
// table (expired, terminated, or never minted).
var ErrSessionNotFound = errors.New("session not found")

const defaultSessionTTL = 30 * time.Minute

// session is one logical client connection over the HTTP transport: the
// protocol state, the replay buffer, and the set of live SSE subscribers.
type session struct {
	id   string
	conn *server.Conn

	buffer *eventBuffer

	mu           sync.Mutex
	lastActivity time.Time
	createdAt    time.Time
	subscribers  map[chan bufferedEvent]struct{}

	stopWatch context.CancelFunc
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// publish buffers the event for replay and fans it out to live streams.
// Slow subscribers are skipped; they catch up from the buffer on reconnect.
func (s *session) publish(event bufferedEvent) {
	s.buffer.add(event)
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// subscribe registers a live stream. The returned cancel must be called when
// the stream ends.
func (s *session) subscribe() (<-chan bufferedEvent, func()) {
	ch := make(chan bufferedEvent, 32)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

// sessionTable owns every live session: minting, lookup with TTL refresh,
// termination, and the periodic idle sweep.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration

	bufferSize int
	bufferAge  time.Duration
}

func newSessionTable(ttl time.Duration, bufferSize int, bufferAge time.Duration) *sessionTable {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &sessionTable{
		sessions:   make(map[string]*session),
		ttl:        ttl,
		bufferSize: bufferSize,
		bufferAge:  bufferAge,
	}
}

// mint creates and registers a session around a fresh connection.
func (t *sessionTable) mint(ctx context.Context, srv *server.Server) *session {
	now := time.Now()
	sess := &session{
		id:           uuid.NewString(),
		conn:         srv.NewConn(),
		buffer:       newEventBuffer(t.bufferSize, t.bufferAge),
		createdAt:    now,
		lastActivity: now,
		subscribers:  make(map[chan bufferedEvent]struct{}),
	}
	sess.conn.SetSessionID(sess.id)
	sess.conn.SetNotifier(func(ctx context.Context, msg []byte) {
		sess.publish(bufferedEvent{ID: uuid.NewString(), Payload: msg, AddedAt: time.Now()})
	})

	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	sess.stopWatch = stop
	go sess.conn.WatchListChanged(watchCtx)

	t.mu.Lock()
	t.sessions[sess.id] = sess
	t.mu.Unlock()
	return sess
}

// load returns the session and refreshes its activity clock.
func (t *sessionTable) load(id string) (*session, error) {
	t.mu.Lock()
	sess, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch()
	return sess, nil
}

// delete removes the session and tears down its watcher and event history.
func (t *sessionTable) delete(id string) error {
	t.mu.Lock()
	sess, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if sess.stopWatch != nil {
		sess.stopWatch()
	}
	return nil
}

// sweep removes every session idle past the TTL and reports how many went.
func (t *sessionTable) sweep() int {
	cutoff := time.Now().Add(-t.ttl)
	t.mu.Lock()
	var expired []*session
	for id, sess := range t.sessions {
		if sess.idleSince().Before(cutoff) {
			delete(t.sessions, id)
			expired = append(expired, sess)
		}
	}
	t.mu.Unlock()
	for _, sess := range expired {
		if sess.stopWatch != nil {
			sess.stopWatch()
		}
	}
	return len(expired)
}

func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
