//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_registry.go -package=mocks
package presence

import (
	"sync"
	"time"

	"dm-engine/contract"
	"dm-engine/domain"
)

// Registry maps a user identity to its set of live sessions.
// It mirrors live connections only: no persistence, process lifetime,
// rebuilt naturally as clients reconnect after a restart.
//
// Invariant: a userID key exists iff it has at least one session. The
// entry is removed together with its last session, never left empty,
// since "key present" is exactly what IsOnline reports.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string][]contract.SessionHandle
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string][]contract.SessionHandle)}
}

// Register adds a session under userID and returns its new SessionID.
// It never fails; each call creates one distinct session.
func (r *Registry) Register(userID string, sink contract.EventSink) domain.SessionID {
	session := domain.Session{
		ID:          domain.NewSessionID(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = append(r.sessions[userID], contract.SessionHandle{
		Session: session,
		Sink:    sink,
	})
	return session.ID
}

// Unregister removes one session. A no-op when the user or session is
// already gone, so disconnect races never error. When the last session
// of a user goes, the whole entry goes with it.
func (r *Registry) Unregister(userID string, sessionID domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.sessions[userID]
	if !ok {
		return
	}
	for i, h := range handles {
		if h.Session.ID == sessionID {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(r.sessions, userID)
		return
	}
	r.sessions[userID] = handles
}

// SessionsFor returns the live sessions of a user in connection order,
// empty if offline. The returned slice is a copy: callers push to sinks
// outside the lock, per the no-I/O-under-lock rule.
func (r *Registry) SessionsFor(userID string) []contract.SessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles, ok := r.sessions[userID]
	if !ok {
		return nil
	}
	out := make([]contract.SessionHandle, len(handles))
	copy(out, handles)
	return out
}

// IsOnline reports whether the user has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}
