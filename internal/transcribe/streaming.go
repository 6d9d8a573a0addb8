package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/streamscribe/streamscribe/internal/config"
)

// StreamingAdapter implements the direct streaming strategy: one long-lived
// duplex WebSocket per session, chunks forwarded immediately, interim and
// final results read asynchronously. Channel errors are absorbed so a single
// glitch does not kill the session; they are logged and counted instead.
type StreamingAdapter struct {
	cfg        config.StreamingSTTConfig
	sampleRate int
	channels   int
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*streamSession
	wg       sync.WaitGroup

	channelErrors metric.Int64Counter
}

type streamSession struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	onUpdate UpdateFunc

	writeMu sync.Mutex

	mu       sync.Mutex
	segments []string
}

// streamResult is the result frame emitted by the recognition endpoint.
type streamResult struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func NewStreamingAdapter(cfg config.TranscribeConfig, logger *slog.Logger) *StreamingAdapter {
	a := &StreamingAdapter{
		cfg:        cfg.Streaming,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		logger:     logger.With(slog.String("component", "streaming-adapter")),
		sessions:   make(map[string]*streamSession),
	}
	meter := otel.Meter("github.com/streamscribe/streamscribe/transcribe")
	counter, err := meter.Int64Counter("scribe.transcribe.channel_errors",
		metric.WithDescription("Recognition channel errors absorbed at the adapter"))
	if err != nil {
		a.logger.Warn("failed to initialize channel error counter", slogError(err))
	} else {
		a.channelErrors = counter
	}
	return a
}

func (a *StreamingAdapter) StartSession(ctx context.Context, sessionID, language string, onUpdate UpdateFunc) error {
	a.mu.Lock()
	if _, ok := a.sessions[sessionID]; ok {
		a.mu.Unlock()
		return fmt.Errorf("session %s already started", sessionID)
	}
	a.mu.Unlock()

	wsURL, err := a.buildURL(language)
	if err != nil {
		return err
	}

	headers := http.Header{}
	if a.cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+a.cfg.APIKey)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	conn, resp, err := websocket.DefaultDialer.DialContext(sessionCtx, wsURL, headers)
	if err != nil {
		cancel()
		if resp != nil {
			return fmt.Errorf("recognition dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("recognition dial: %w", err)
	}

	state := &streamSession{
		conn:     conn,
		cancel:   cancel,
		onUpdate: onUpdate,
	}

	a.mu.Lock()
	a.sessions[sessionID] = state
	a.mu.Unlock()

	a.wg.Add(1)
	go a.readLoop(sessionCtx, sessionID, state)

	a.logger.Info("recognition channel opened",
		slog.String("session_id", sessionID), slog.String("language", language))
	return nil
}

func (a *StreamingAdapter) buildURL(language string) (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse recognition url: %w", err)
	}
	q := u.Query()
	q.Set("model", a.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(a.sampleRate))
	q.Set("channels", strconv.Itoa(a.channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if language == "" {
		language = a.cfg.Language
	}
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop consumes result frames until the channel closes. Errors end the
// loop without ending the session: listeners notice the absence of updates.
func (a *StreamingAdapter) readLoop(ctx context.Context, sessionID string, state *streamSession) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := state.conn.ReadMessage()
		if err != nil {
			if a.stillActive(sessionID) {
				a.logger.Warn("recognition channel read failed",
					slog.String("session_id", sessionID), slogError(err))
				a.countChannelError(ctx)
			}
			return
		}

		var result streamResult
		if err := json.Unmarshal(data, &result); err != nil {
			a.logger.Warn("failed to decode recognition frame",
				slog.String("session_id", sessionID), slogError(err))
			a.countChannelError(ctx)
			continue
		}
		if result.Text == "" {
			continue
		}
		if result.Final {
			state.mu.Lock()
			state.segments = append(state.segments, result.Text)
			state.mu.Unlock()
		}
		if a.stillActive(sessionID) {
			state.onUpdate(Update{Text: result.Text, Final: result.Final})
		}
	}
}

func (a *StreamingAdapter) stillActive(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[sessionID]
	return ok
}

func (a *StreamingAdapter) countChannelError(ctx context.Context) {
	if a.channelErrors != nil {
		a.channelErrors.Add(ctx, 1)
	}
}

func (a *StreamingAdapter) ProcessChunk(sessionID string, data []byte, finalHint bool) error {
	a.mu.Lock()
	state, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	if err := state.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		// absorbed: the session stays alive through transient channel faults
		a.logger.Warn("recognition channel write failed",
			slog.String("session_id", sessionID), slogError(err))
		a.countChannelError(context.Background())
		return nil
	}
	if finalHint {
		if err := state.conn.WriteJSON(map[string]string{"type": "finalize"}); err != nil {
			a.logger.Warn("recognition finalize hint failed",
				slog.String("session_id", sessionID), slogError(err))
		}
	}
	return nil
}

func (a *StreamingAdapter) EndSession(sessionID string) (string, error) {
	a.mu.Lock()
	state, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return "", ErrSessionNotFound
	}
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	state.writeMu.Lock()
	_ = state.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	state.writeMu.Unlock()
	state.cancel()
	_ = state.conn.Close()

	state.mu.Lock()
	text := strings.TrimSpace(strings.Join(state.segments, " "))
	state.mu.Unlock()
	return text, nil
}

// Close tears down any sessions that were never explicitly ended.
func (a *StreamingAdapter) Close() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		_, _ = a.EndSession(id)
	}
	a.wg.Wait()
}
