package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/streamscribe/streamscribe/internal/config"
)

const recognizeTimeout = 45 * time.Second

// BatchAdapter implements the batched aggregation strategy: chunks are
// buffered for a fixed window, then recognized with one request/response call
// whose result is emitted as a fresh interim segment. It exists for backends
// that only support non-streaming recognition.
type BatchAdapter struct {
	recognizer Recognizer
	window     time.Duration
	sampleRate int
	channels   int
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*batchSession
}

type batchSession struct {
	language string
	onUpdate UpdateFunc
	buffer   []byte
	timer    *time.Timer
	inflight bool
	pending  bool
	segments []string
}

func NewBatchAdapter(parent context.Context, cfg config.TranscribeConfig, recognizer Recognizer, logger *slog.Logger) *BatchAdapter {
	ctx, cancel := context.WithCancel(parent)
	return &BatchAdapter{
		recognizer: recognizer,
		window:     time.Duration(cfg.Batch.WindowMS) * time.Millisecond,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		logger:     logger.With(slog.String("component", "batch-adapter")),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*batchSession),
	}
}

func (a *BatchAdapter) StartSession(_ context.Context, sessionID, language string, onUpdate UpdateFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[sessionID]; ok {
		return fmt.Errorf("session %s already started", sessionID)
	}
	a.sessions[sessionID] = &batchSession{
		language: language,
		onUpdate: onUpdate,
	}
	return nil
}

func (a *BatchAdapter) ProcessChunk(sessionID string, data []byte, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	state.buffer = append(state.buffer, data...)
	if state.timer == nil {
		state.timer = time.AfterFunc(a.window, func() {
			a.flushWindow(sessionID)
		})
	}
	return nil
}

// flushWindow recognizes the buffered audio when the window elapses. Only one
// recognize call may be outstanding per session; a window elapsing while one
// is in flight is deferred until it completes.
func (a *BatchAdapter) flushWindow(sessionID string) {
	a.mu.Lock()
	state, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return
	}
	state.timer = nil
	if state.inflight {
		state.pending = true
		a.mu.Unlock()
		return
	}
	pcm := state.buffer
	state.buffer = nil
	if len(pcm) == 0 {
		a.mu.Unlock()
		return
	}
	state.inflight = true
	language := state.language
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(a.ctx, recognizeTimeout)
		defer cancel()

		result, err := a.recognizer.Transcribe(ctx, pcm, a.sampleRate, a.channels, language)
		if err != nil {
			a.logger.Warn("window recognition failed",
				slog.String("session_id", sessionID), slogError(err))
		}

		a.mu.Lock()
		state, ok := a.sessions[sessionID]
		if !ok {
			// ended mid-flight; the result is dropped, never resurrected
			a.mu.Unlock()
			return
		}
		state.inflight = false
		var onUpdate UpdateFunc
		if err == nil && result.Text != "" {
			state.segments = append(state.segments, result.Text)
			onUpdate = state.onUpdate
		}
		reschedule := state.pending && len(state.buffer) > 0
		state.pending = false
		if reschedule && state.timer == nil {
			state.timer = time.AfterFunc(a.window, func() {
				a.flushWindow(sessionID)
			})
		}
		a.mu.Unlock()

		if onUpdate != nil {
			onUpdate(Update{Text: result.Text, Final: false})
		}
	}()
}

func (a *BatchAdapter) EndSession(sessionID string) (string, error) {
	a.mu.Lock()
	state, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return "", ErrSessionNotFound
	}
	delete(a.sessions, sessionID)
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	text := strings.TrimSpace(strings.Join(state.segments, " "))
	a.mu.Unlock()
	return text, nil
}

// Close waits for outstanding recognize calls to drain.
func (a *BatchAdapter) Close() {
	a.cancel()
	a.wg.Wait()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
