package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streamscribe/streamscribe/internal/bus"
	"github.com/streamscribe/streamscribe/internal/config"
	"github.com/streamscribe/streamscribe/internal/protocol"
	"github.com/streamscribe/streamscribe/internal/quota"
	"github.com/streamscribe/streamscribe/internal/reconcile"
	"github.com/streamscribe/streamscribe/internal/session"
	"github.com/streamscribe/streamscribe/internal/transcribe"
	"github.com/streamscribe/streamscribe/internal/transcripts"
	"github.com/streamscribe/streamscribe/internal/translate"
)

const translateTimeout = 10 * time.Second

// TranscriptArchive persists finished transcripts.
type TranscriptArchive interface {
	Create(ctx context.Context, rec transcripts.Record) error
}

// Deps bundles the collaborators the session manager drives. Bus may be nil in
// tests; Ledger and Archive may be nil when the matching feature is disabled.
type Deps struct {
	Bus        *bus.Client
	Registry   *session.Registry
	Batch      transcribe.Adapter
	Streaming  transcribe.Adapter
	Translator translate.Translator
	Ledger     quota.Ledger
	Archive    TranscriptArchive
	Logger     *slog.Logger
}

// Service is the session manager: it admits sessions, gates audio flow,
// reconciles recognition updates into transcripts, enforces usage quotas, and
// finalizes sessions exactly once no matter which path ends them.
type Service struct {
	cfg        config.Config
	bus        *bus.Client
	registry   *session.Registry
	batch      transcribe.Adapter
	streaming  transcribe.Adapter
	translator translate.Translator
	ledger     quota.Ledger
	archive    TranscriptArchive
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	ready  bool

	mu     sync.Mutex
	states map[string]*sessionState
	conns  map[string]string

	publish func(subject string, data []byte) error
	clock   func() time.Time
	metrics serviceMetrics
}

type sessionState struct {
	sess       *session.Session
	adapter    transcribe.Adapter
	rec        *reconcile.Reconciler
	ready      bool
	pollCancel context.CancelFunc
}

func NewService(parent context.Context, cfg config.Config, deps Deps) *Service {
	ctx, cancel := context.WithCancel(parent)
	logger := deps.Logger.With(slog.String("component", "stream"))
	s := &Service{
		cfg:        cfg,
		bus:        deps.Bus,
		registry:   deps.Registry,
		batch:      deps.Batch,
		streaming:  deps.Streaming,
		translator: deps.Translator,
		ledger:     deps.Ledger,
		archive:    deps.Archive,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		states:     make(map[string]*sessionState),
		conns:      make(map[string]string),
		clock:      time.Now,
		metrics:    newServiceMetrics(logger),
	}
	if deps.Bus != nil {
		s.publish = deps.Bus.Conn().Publish
	} else {
		s.publish = func(string, []byte) error { return nil }
	}
	return s
}

func (s *Service) Start() error {
	if s.bus == nil {
		s.ready = true
		return nil
	}
	conn := s.bus.Conn()

	sub, err := conn.Subscribe(protocol.SubjectJoin, s.handleJoinMsg)
	if err != nil {
		return fmt.Errorf("subscribe join: %w", err)
	}
	s.subs = append(s.subs, sub)

	sub, err = conn.Subscribe(protocol.SubjectAudio("*"), s.handleAudioMsg)
	if err != nil {
		return fmt.Errorf("subscribe audio: %w", err)
	}
	s.subs = append(s.subs, sub)

	sub, err = conn.Subscribe(protocol.SubjectEnd, s.handleEndMsg)
	if err != nil {
		return fmt.Errorf("subscribe end: %w", err)
	}
	s.subs = append(s.subs, sub)

	sub, err = conn.Subscribe(protocol.SubjectLanguageUpdate, s.handleLanguagesMsg)
	if err != nil {
		return fmt.Errorf("subscribe language updates: %w", err)
	}
	s.subs = append(s.subs, sub)

	sub, err = conn.Subscribe(protocol.SubjectConnClosedFor("*"), s.handleConnClosedMsg)
	if err != nil {
		return fmt.Errorf("subscribe connection closures: %w", err)
	}
	s.subs = append(s.subs, sub)

	s.ready = true
	return nil
}

// Close finalizes live sessions so their transcripts persist, then tears down
// subscriptions and waits for in-flight work.
func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.finalize(id)
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleJoinMsg(msg *nats.Msg) {
	var req protocol.JoinRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode join request", slogError(err))
		return
	}
	resp := s.join(req)
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal join response", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond to join", slogError(err))
	}
}

// join admits a connection into a new or existing session.
func (s *Service) join(req protocol.JoinRequest) protocol.JoinResponse {
	if req.ConnID == "" {
		return joinError(protocol.ErrBadRequest, "conn_id is required")
	}

	if req.SessionID != "" {
		return s.attach(req)
	}

	mode := session.ModeOffline
	switch req.Mode {
	case "", string(session.ModeOffline):
	case string(session.ModeOnline):
		mode = session.ModeOnline
	default:
		return joinError(protocol.ErrBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
	}

	if resp, ok := s.admit(req.OwnerID, mode); !ok {
		return resp
	}

	sess := s.registry.Create(req.OwnerID, mode, req.SourceLanguage, req.TargetLanguage)
	adapter := s.batch
	if mode == session.ModeOnline {
		adapter = s.streaming
	}

	interim := time.Duration(s.cfg.Stream.InterimIntervalMS) * time.Millisecond
	state := &sessionState{
		sess:    sess,
		adapter: adapter,
		rec:     reconcile.New(interim),
		ready:   true,
	}

	if err := adapter.StartSession(s.ctx, sess.ID, req.SourceLanguage, s.updateSink(sess.ID)); err != nil {
		s.registry.Remove(sess.ID)
		s.logger.Error("failed to start recognition session",
			slog.String("session_id", sess.ID), slogError(err))
		return joinError(protocol.ErrProcessing, "failed to start transcription")
	}

	s.mu.Lock()
	s.states[sess.ID] = state
	s.conns[req.ConnID] = sess.ID
	s.mu.Unlock()

	if s.ledger != nil && !sess.Anonymous() {
		pollCtx, pollCancel := context.WithCancel(s.ctx)
		state.pollCancel = pollCancel
		s.wg.Add(1)
		go s.pollQuota(pollCtx, sess)
	}

	count(s.ctx, s.metrics.sessionsStarted)
	s.logger.Info("session started",
		slog.String("session_id", sess.ID),
		slog.String("mode", string(mode)),
		slog.Bool("anonymous", sess.Anonymous()))

	s.publishStatus(sess.ID, protocol.StatusActive)
	s.publishReady(req.ConnID, sess.ID)
	return protocol.JoinResponse{SessionID: sess.ID, Status: protocol.StatusActive}
}

// admit runs the plan and quota gates that precede session creation.
func (s *Service) admit(ownerID string, mode session.Mode) (protocol.JoinResponse, bool) {
	if s.ledger == nil || ownerID == session.AnonymousOwner {
		if mode == session.ModeOnline && s.ledger != nil {
			return joinError(protocol.ErrPremiumRequired, "online mode requires a premium plan"), false
		}
		return protocol.JoinResponse{}, true
	}

	if mode == session.ModeOnline {
		premium, err := s.ledger.PremiumStreaming(s.ctx, ownerID)
		if err != nil {
			s.logger.Error("plan lookup failed", slog.String("owner_id", ownerID), slogError(err))
			return joinError(protocol.ErrUsageCheckFailed, "could not verify plan"), false
		}
		if !premium {
			return joinError(protocol.ErrPremiumRequired, "online mode requires a premium plan"), false
		}
	}

	allowance, err := s.ledger.CheckRealTimeStreamingUsage(s.ctx, ownerID, s.cfg.Quota.ProbeMinutes)
	if err != nil {
		s.logger.Error("usage check failed", slog.String("owner_id", ownerID), slogError(err))
		return joinError(protocol.ErrUsageCheckFailed, "could not verify usage"), false
	}
	if !allowance.Allowed {
		return joinError(protocol.ErrStreamingLimit, allowance.Reason), false
	}
	return protocol.JoinResponse{}, true
}

func (s *Service) attach(req protocol.JoinRequest) protocol.JoinResponse {
	if err := s.registry.Attach(req.SessionID); err != nil {
		return joinError(protocol.ErrSessionNotFound, "session not found")
	}
	s.mu.Lock()
	s.conns[req.ConnID] = req.SessionID
	s.mu.Unlock()
	s.publishReady(req.ConnID, req.SessionID)
	return protocol.JoinResponse{SessionID: req.SessionID, Status: protocol.StatusActive}
}

func joinError(code, message string) protocol.JoinResponse {
	return protocol.JoinResponse{Error: &protocol.ErrorMessage{Code: code, Message: message}}
}

func (s *Service) handleAudioMsg(msg *nats.Msg) {
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		s.logger.Warn("failed to decode audio chunk", slogError(err))
		return
	}
	s.handleAudio(chunk)
}

// handleAudio enforces the one-outstanding-chunk contract: a chunk arriving
// while the previous one is still processing is dropped without protest, and
// the sender only hears "ready" once the session can take more. Audio for an
// unknown or already-finalized session is swallowed the same way, since an
// end or disconnect can race chunks still in flight.
func (s *Service) handleAudio(chunk protocol.AudioChunk) {
	s.mu.Lock()
	state := s.states[chunk.SessionID]
	if state == nil || !state.ready {
		s.mu.Unlock()
		count(s.ctx, s.metrics.chunksDropped)
		return
	}
	if len(chunk.Data) > s.cfg.Stream.MaxChunkBytes {
		s.mu.Unlock()
		count(s.ctx, s.metrics.chunksRejected)
		s.publishError(chunk.ConnID, protocol.ErrPayloadTooLarge,
			fmt.Sprintf("chunk exceeds %d bytes", s.cfg.Stream.MaxChunkBytes))
		return
	}
	state.ready = false
	s.mu.Unlock()

	err := state.adapter.ProcessChunk(chunk.SessionID, chunk.Data, chunk.Final)

	s.mu.Lock()
	if current := s.states[chunk.SessionID]; current != nil {
		current.ready = true
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, transcribe.ErrSessionNotFound) {
			count(s.ctx, s.metrics.chunksDropped)
		} else {
			s.logger.Warn("chunk processing failed",
				slog.String("session_id", chunk.SessionID), slogError(err))
			s.publishError(chunk.ConnID, protocol.ErrProcessing, "failed to process audio")
		}
		return
	}
	s.publishReady(chunk.ConnID, chunk.SessionID)
}

// updateSink returns the adapter callback that folds recognition updates into
// the session transcript and broadcasts the survivors.
func (s *Service) updateSink(sessionID string) transcribe.UpdateFunc {
	return func(u transcribe.Update) {
		s.mu.Lock()
		state := s.states[sessionID]
		s.mu.Unlock()
		if state == nil {
			return
		}

		b, ok := state.rec.Apply(u.Text, u.Final)
		if !ok {
			if !u.Final {
				count(s.ctx, s.metrics.interimsSuppressed)
			}
			return
		}

		s.publishJSON(protocol.SubjectTranscript(sessionID), protocol.TranscriptUpdate{
			SessionID:   sessionID,
			Text:        b.SegmentText,
			FullText:    b.FullText,
			Translation: s.translateSegment(state.sess, b.SegmentText),
			Final:       b.Final,
			Timestamp:   s.clock().UTC(),
		})
	}
}

// translateSegment decorates a settled segment, best effort. A failed or
// disabled translation yields an empty string, never an error to the caller.
func (s *Service) translateSegment(sess *session.Session, text string) string {
	if s.translator == nil || text == "" || !sess.TranslationEnabled() {
		return ""
	}
	source, target := sess.Languages()
	ctx, cancel := context.WithTimeout(s.ctx, translateTimeout)
	defer cancel()
	translated, err := s.translator.Translate(ctx, text, source, target)
	if err != nil {
		s.logger.Warn("translation failed",
			slog.String("session_id", sess.ID), slogError(err))
		return ""
	}
	return translated
}

func (s *Service) handleEndMsg(msg *nats.Msg) {
	var req protocol.EndRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode end request", slogError(err))
		return
	}
	resp := s.end(req)
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal end response", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond to end", slogError(err))
	}
}

func (s *Service) end(req protocol.EndRequest) protocol.EndResponse {
	sessionID := req.SessionID
	if sessionID == "" {
		s.mu.Lock()
		sessionID = s.conns[req.ConnID]
		s.mu.Unlock()
	}
	if sessionID == "" {
		return protocol.EndResponse{
			Error: &protocol.ErrorMessage{Code: protocol.ErrNoSession, Message: "no active session"},
		}
	}
	if err := s.finalize(sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return protocol.EndResponse{
				SessionID: sessionID,
				Error:     &protocol.ErrorMessage{Code: protocol.ErrSessionNotFound, Message: "session not found"},
			}
		}
		// the session is torn down regardless; the reply reports the degraded end
		return protocol.EndResponse{
			SessionID: sessionID,
			Error:     &protocol.ErrorMessage{Code: protocol.ErrEndFailed, Message: "failed to stop transcription cleanly"},
		}
	}
	return protocol.EndResponse{SessionID: sessionID}
}

func (s *Service) handleLanguagesMsg(msg *nats.Msg) {
	var upd protocol.LanguageUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		s.logger.Warn("failed to decode language update", slogError(err))
		return
	}
	s.updateLanguages(upd)
}

func (s *Service) updateLanguages(upd protocol.LanguageUpdate) {
	sessionID := upd.SessionID
	if sessionID == "" {
		s.mu.Lock()
		sessionID = s.conns[upd.ConnID]
		s.mu.Unlock()
	}
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		s.publishError(upd.ConnID, protocol.ErrNoSession, "no active session")
		return
	}
	sess.SetLanguages(upd.SourceLanguage, upd.TargetLanguage)
	s.publishJSON(protocol.SubjectLanguagesUpdated(sessionID), protocol.LanguagesUpdated{
		SessionID:      sessionID,
		SourceLanguage: upd.SourceLanguage,
		TargetLanguage: upd.TargetLanguage,
	})
}

func (s *Service) handleConnClosedMsg(msg *nats.Msg) {
	var closed protocol.ConnClosed
	if err := json.Unmarshal(msg.Data, &closed); err != nil {
		s.logger.Warn("failed to decode connection closure", slogError(err))
		return
	}
	s.connClosed(closed.ConnID)
}

// connClosed is the implicit finalization path. Unknown connections are
// ignored: the gateway reports every closure, session or not.
func (s *Service) connClosed(connID string) {
	s.mu.Lock()
	sessionID, ok := s.conns[connID]
	delete(s.conns, connID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Info("connection closed, finalizing session",
		slog.String("conn_id", connID), slog.String("session_id", sessionID))
	if err := s.finalize(sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("finalize after disconnect failed",
			slog.String("session_id", sessionID), slogError(err))
	}
}

// finalize ends a session exactly once. The registry Take is the arbiter:
// whichever path claims the session first runs the whole sequence, the loser
// gets ErrNotFound and walks away.
func (s *Service) finalize(sessionID string) error {
	sess, err := s.registry.Take(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state := s.states[sessionID]
	delete(s.states, sessionID)
	for connID, id := range s.conns {
		if id == sessionID {
			delete(s.conns, connID)
		}
	}
	s.mu.Unlock()

	if state == nil {
		return nil
	}
	if state.pollCancel != nil {
		state.pollCancel()
	}

	tail, endErr := state.adapter.EndSession(sessionID)
	alreadyEnded := errors.Is(endErr, transcribe.ErrSessionNotFound)
	if endErr != nil && !alreadyEnded {
		s.logger.Warn("recognition shutdown failed",
			slog.String("session_id", sessionID), slogError(endErr))
	}
	full := state.rec.MergeFinal(tail)

	// the adapter holding no state means a final broadcast already went out
	// (or never will); only the bookkeeping steps below remain
	if !alreadyEnded {
		update := protocol.TranscriptUpdate{
			SessionID: sessionID,
			Text:      tail,
			FullText:  full,
			Final:     true,
			Timestamp: s.clock().UTC(),
		}
		update.Translation = s.translateSegment(sess, tail)
		s.publishJSON(protocol.SubjectTranscript(sessionID), update)
		s.publishStatus(sessionID, protocol.StatusCompleted)
	}

	elapsed := sess.Elapsed(s.clock())
	if s.ledger != nil && !sess.Anonymous() {
		if err := s.ledger.RecordRealTimeStreamingUsage(s.ctx, sess.OwnerID, elapsed.Minutes()); err != nil {
			s.logger.Error("failed to record usage",
				slog.String("session_id", sessionID),
				slog.String("owner_id", sess.OwnerID), slogError(err))
		}
	}

	if s.archive != nil {
		source, target := sess.Languages()
		rec := transcripts.Record{
			SessionID:       sessionID,
			OwnerID:         sess.OwnerID,
			Content:         full,
			DurationSeconds: elapsed.Seconds(),
			SourceLanguage:  source,
			TargetLanguage:  target,
			Synced:          !sess.Anonymous(),
		}
		if err := s.archive.Create(s.ctx, rec); err != nil {
			s.logger.Error("failed to archive transcript",
				slog.String("session_id", sessionID), slogError(err))
		}
	}

	count(s.ctx, s.metrics.sessionsFinalized)
	s.logger.Info("session finalized",
		slog.String("session_id", sessionID),
		slog.Duration("elapsed", elapsed),
		slog.Int("transcript_chars", len(full)))
	if endErr != nil && !alreadyEnded {
		return fmt.Errorf("end recognition session: %w", endErr)
	}
	return nil
}

// pollQuota watches the owner's allowance while the session runs. The check
// includes time already streamed in this session, since that time is only
// written to the ledger at finalization.
func (s *Service) pollQuota(ctx context.Context, sess *session.Session) {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.Quota.PollIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := sess.Elapsed(s.clock()).Minutes()
			allowance, err := s.ledger.CheckRealTimeStreamingUsage(ctx, sess.OwnerID, elapsed+s.cfg.Quota.ProbeMinutes)
			if err != nil {
				s.logger.Warn("usage poll failed",
					slog.String("session_id", sess.ID), slogError(err))
				continue
			}
			if allowance.Allowed {
				continue
			}
			s.logger.Info("usage limit reached, terminating session",
				slog.String("session_id", sess.ID),
				slog.Float64("remaining_minutes", allowance.RemainingMinutes))
			count(s.ctx, s.metrics.quotaTerminations)
			s.publishStatus(sess.ID, protocol.StatusLimitExceeded)
			if err := s.finalize(sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
				s.logger.Warn("finalize after limit failed",
					slog.String("session_id", sess.ID), slogError(err))
			}
			return
		}
	}
}

func (s *Service) publishReady(connID, sessionID string) {
	s.publishJSON(protocol.SubjectReady(connID), protocol.Ready{
		ConnID:    connID,
		SessionID: sessionID,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) publishStatus(sessionID, status string) {
	s.publishJSON(protocol.SubjectStatus(sessionID), protocol.SessionStatus{
		SessionID: sessionID,
		Status:    status,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) publishError(connID, code, message string) {
	if connID == "" {
		return
	}
	s.publishJSON(protocol.SubjectError(connID), protocol.ErrorMessage{Code: code, Message: message})
}

func (s *Service) publishJSON(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal message", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.publish(subject, data); err != nil {
		s.logger.Warn("failed to publish message", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
