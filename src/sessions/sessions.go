// Package sessions holds the in-memory registry of in-flight test runs.
//
// Concurrency contract: the registry's mutex makes each operation atomic,
// and mutation follows an ownership handoff — a handler Removes the
// session, works on it outside the lock, and Inserts the replacement.
// While held, the session is simply absent, so a second concurrent webhook
// for the same id gets "unknown id" instead of interleaved state. Session
// values are never written after insertion; updates insert a fresh value.
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/results-wang/pluslife-notifier/src/logging"
	"github.com/results-wang/pluslife-notifier/src/state"
	"github.com/results-wang/pluslife-notifier/src/websockets"
)

// Session is one in-flight or just-completed test run.
type Session struct {
	ID            uuid.UUID
	State         state.State
	Created       time.Time
	EmailToNotify string
	Viewers       *websockets.SessionSockets
}

// WithState returns a copy of the session carrying the new state.
func (s *Session) WithState(st state.State) *Session {
	return &Session{
		ID:            s.ID,
		State:         st,
		Created:       s.Created,
		EmailToNotify: s.EmailToNotify,
		Viewers:       s.Viewers,
	}
}

// Registry maps session ids to sessions. All operations are safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	expiry   time.Duration
}

// NewRegistry returns a registry whose sessions expire after the given
// duration with no completion.
func NewRegistry(expiry time.Duration) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		expiry:   expiry,
	}
}

// Create stores a fresh session in the initial state and schedules its
// expiry. The timer fires off the request path; removing an already-gone
// session is a no-op.
func (r *Registry) Create(emailToNotify string) uuid.UUID {
	id := uuid.New()
	session := &Session{
		ID:            id,
		State:         state.Started(),
		Created:       time.Now(),
		EmailToNotify: emailToNotify,
		Viewers:       websockets.New(),
	}
	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	time.AfterFunc(r.expiry, func() {
		if removed := r.Remove(id); removed != nil {
			logging.Infof("expired session %s", removed.ID)
		}
	})
	return id
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove takes the session out of the registry and returns it, or nil if
// absent. The caller owns the returned session until it is reinserted.
func (r *Registry) Remove(id uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return session
}

// Insert stores the session under id, replacing any existing entry. A
// session whose expiry deadline passed while a handler held it is dropped
// instead: its one-shot timer already fired against the absent entry, so
// reinserting it would keep it alive forever.
func (r *Registry) Insert(id uuid.UUID, session *Session) {
	if time.Since(session.Created) >= r.expiry {
		logging.Infof("expired session %s", session.ID)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = session
}

// Count returns the number of in-flight sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
