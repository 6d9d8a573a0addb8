package session

import (
	"sync"
	"time"
)

// Mode selects the transcription strategy and feature set for a session.
type Mode string

const (
	// ModeOffline buffers audio and recognizes it in short windows.
	ModeOffline Mode = "offline"
	// ModeOnline streams audio over a duplex recognition channel.
	ModeOnline Mode = "online"
)

// AnonymousOwner marks sessions without an authenticated user. Such sessions
// skip quota checks and never record usage.
const AnonymousOwner = ""

// Session is one live audio-to-text interaction, from join to finalization.
// Identity, owner, and start time are fixed at creation; the language pair may
// change mid-session.
type Session struct {
	ID        string
	OwnerID   string
	Mode      Mode
	StartedAt time.Time

	mu             sync.Mutex
	sourceLanguage string
	targetLanguage string
}

func (s *Session) Anonymous() bool {
	return s.OwnerID == AnonymousOwner
}

// SetLanguages replaces the session's language pair.
func (s *Session) SetLanguages(source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceLanguage = source
	s.targetLanguage = target
}

// Languages returns the current language pair.
func (s *Session) Languages() (source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceLanguage, s.targetLanguage
}

// TranslationEnabled reports whether the pair warrants translation. Equal
// values (including both empty) disable it.
func (s *Session) TranslationEnabled() bool {
	source, target := s.Languages()
	return source != target && target != ""
}

// Elapsed returns wall-clock time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
