package protocol

import "time"

// JoinRequest opens or attaches a live transcription session. Supplying a
// session id attaches to an existing session; omitting it creates a new one.
type JoinRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	ConnID         string `json:"conn_id"`
	Mode           string `json:"mode"`
	OwnerID        string `json:"owner_id,omitempty"`
	SourceLanguage string `json:"source_language,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
}

// JoinResponse answers a join request on its reply subject.
type JoinResponse struct {
	SessionID string        `json:"session_id,omitempty"`
	Status    string        `json:"status,omitempty"`
	Error     *ErrorMessage `json:"error,omitempty"`
}

// AudioChunk carries one opaque audio payload for a session.
type AudioChunk struct {
	SessionID string `json:"session_id"`
	ConnID    string `json:"conn_id"`
	Data      []byte `json:"data"`
	Final     bool   `json:"final,omitempty"`
}

// EndRequest asks for explicit session termination.
type EndRequest struct {
	SessionID string `json:"session_id"`
	ConnID    string `json:"conn_id"`
}

// EndResponse answers an end request on its reply subject.
type EndResponse struct {
	SessionID string        `json:"session_id,omitempty"`
	Error     *ErrorMessage `json:"error,omitempty"`
}

// LanguageUpdate changes the active session's language pair.
type LanguageUpdate struct {
	ConnID         string `json:"conn_id"`
	SessionID      string `json:"session_id,omitempty"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// ConnClosed is published by the gateway when a client connection drops.
type ConnClosed struct {
	ConnID    string    `json:"conn_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptUpdate is broadcast to session listeners for interim and final text.
type TranscriptUpdate struct {
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	FullText    string    `json:"full_text"`
	Translation string    `json:"translation,omitempty"`
	Final       bool      `json:"final"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionStatus signals lifecycle transitions to session listeners.
type SessionStatus struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Ready tells the sender it may send the next audio chunk.
type Ready struct {
	ConnID    string    `json:"conn_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage is published on the connection's error subject.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// LanguagesUpdated confirms a language-pair change to session listeners.
type LanguagesUpdated struct {
	SessionID      string `json:"session_id"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

const (
	SubjectJoin            = "session.join"
	SubjectEnd             = "session.end"
	SubjectLanguageUpdate  = "session.languages.update"
	SubjectAudioPrefix     = "session.audio"
	SubjectConnClosed      = "conn.closed"
	SubjectTranscriptPre   = "session.transcript"
	SubjectStatusPrefix    = "session.status"
	SubjectReadyPrefix     = "session.ready"
	SubjectErrorPrefix     = "session.error"
	SubjectLanguagesNotify = "session.languages.updated"
)

const (
	StatusActive        = "active"
	StatusCompleted     = "completed"
	StatusLimitExceeded = "limit_exceeded"
)

const (
	ErrBadRequest       = "BAD_REQUEST"
	ErrPayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrSessionNotFound  = "SESSION_NOT_FOUND"
	ErrNoSession        = "NO_SESSION"
	ErrPremiumRequired  = "PREMIUM_REQUIRED"
	ErrStreamingLimit   = "REALTIME_STREAMING_LIMIT_EXCEEDED"
	ErrUsageCheckFailed = "USAGE_CHECK_ERROR"
	ErrProcessing       = "PROCESSING_ERROR"
	ErrEndFailed        = "END_ERROR"
)

func SubjectAudio(sessionID string) string {
	return SubjectAudioPrefix + "." + sessionID
}

func SubjectTranscript(sessionID string) string {
	return SubjectTranscriptPre + "." + sessionID
}

func SubjectStatus(sessionID string) string {
	return SubjectStatusPrefix + "." + sessionID
}

func SubjectReady(connID string) string {
	return SubjectReadyPrefix + "." + connID
}

func SubjectError(connID string) string {
	return SubjectErrorPrefix + "." + connID
}

func SubjectLanguagesUpdated(sessionID string) string {
	return SubjectLanguagesNotify + "." + sessionID
}

func SubjectConnClosedFor(connID string) string {
	return SubjectConnClosed + "." + connID
}
