package transcribe

import (
	"context"
	"errors"
)

// Update is one recognition result pushed to the session's subscriber.
type Update struct {
	Text  string
	Final bool
}

// UpdateFunc receives updates asynchronously, zero or more times per session.
type UpdateFunc func(Update)

// ErrSessionNotFound signals that the adapter holds no state for the session.
// After EndSession it is the expected outcome, not a failure.
var ErrSessionNotFound = errors.New("transcribe: session not found")

// Adapter converts a stream of audio chunks into text. Implementations key
// all state by the caller-supplied session id and guarantee that no two
// recognize calls are in flight for the same session at once.
type Adapter interface {
	// StartSession allocates backend state for the session and registers the
	// update callback for its lifetime.
	StartSession(ctx context.Context, sessionID, language string, onUpdate UpdateFunc) error

	// ProcessChunk feeds one audio chunk. Returns ErrSessionNotFound for
	// unknown sessions; backend hiccups are absorbed, not returned.
	ProcessChunk(sessionID string, data []byte, finalHint bool) error

	// EndSession releases all per-session state and returns the settled text
	// accumulated so far. Ending an already-ended session returns
	// ErrSessionNotFound; state can never be resurrected by late events.
	EndSession(sessionID string) (string, error)
}
