package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals an unknown or already-finalized session. Callers treat
// it as "already ended", not as a failure.
var ErrNotFound = errors.New("session not found")

// Registry is the single source of truth for session lifecycle. A session is
// reachable here only between creation and finalization.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    time.Now,
	}
}

// Create registers a new session with a fresh id.
func (r *Registry) Create(ownerID string, mode Mode, sourceLanguage, targetLanguage string) *Session {
	s := &Session{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Mode:           mode,
		StartedAt:      r.clock().UTC(),
		sourceLanguage: sourceLanguage,
		targetLanguage: targetLanguage,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Attach validates that the session id exists.
func (r *Registry) Attach(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	return nil
}

// Get returns the session for the given id.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops the session unconditionally. Removing twice is a no-op, which
// is what makes racing end paths converge: whichever runs second finds nothing.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Take removes and returns the session in one step so exactly one caller can
// win the finalization race.
func (r *Registry) Take(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.sessions, sessionID)
	return s, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
