package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamscribe/streamscribe/internal/config"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// fakeRecognitionServer upgrades connections and replies to every binary
// frame with the next scripted result.
func fakeRecognitionServer(t *testing.T, results []streamResult) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		i := 0
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			if i < len(results) {
				if err := conn.WriteJSON(results[i]); err != nil {
					return
				}
				i++
			}
		}
	}))
}

func streamingConfig(serverURL string) config.TranscribeConfig {
	return config.TranscribeConfig{
		SampleRate: 16000,
		Channels:   1,
		Streaming: config.StreamingSTTConfig{
			URL:    "ws" + strings.TrimPrefix(serverURL, "http"),
			APIKey: "test-key",
			Model:  "general",
		},
	}
}

func TestStreamingInterimAndFinalFlow(t *testing.T) {
	srv := fakeRecognitionServer(t, []streamResult{
		{Text: "sannu", Final: false},
		{Text: "sannu da zuwa", Final: true},
	})
	defer srv.Close()

	a := NewStreamingAdapter(streamingConfig(srv.URL), newLogger())
	defer a.Close()

	updates := make(chan Update, 8)
	if err := a.StartSession(context.Background(), "s1", "ha-NG", func(u Update) { updates <- u }); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := a.ProcessChunk("s1", []byte{1, 2}, false); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := a.ProcessChunk("s1", []byte{3, 4}, false); err != nil {
		t.Fatalf("chunk: %v", err)
	}

	var got []Update
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case u := <-updates:
			got = append(got, u)
		case <-deadline:
			t.Fatalf("timed out, received %v", got)
		}
	}
	if got[0].Final || got[0].Text != "sannu" {
		t.Fatalf("unexpected interim %+v", got[0])
	}
	if !got[1].Final || got[1].Text != "sannu da zuwa" {
		t.Fatalf("unexpected final %+v", got[1])
	}

	text, err := a.EndSession("s1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if text != "sannu da zuwa" {
		t.Fatalf("expected accumulated finals, got %q", text)
	}
}

func TestStreamingBuildURL(t *testing.T) {
	cfg := config.TranscribeConfig{
		SampleRate: 16000,
		Channels:   1,
		Streaming: config.StreamingSTTConfig{
			URL:   "wss://listen.example.com/v1/listen",
			Model: "general",
		},
	}
	a := NewStreamingAdapter(cfg, newLogger())

	u, err := a.buildURL("ha-NG")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	for _, want := range []string{"model=general", "encoding=linear16", "sample_rate=16000", "channels=1", "interim_results=true", "language=ha-NG"} {
		if !strings.Contains(u, want) {
			t.Fatalf("url %q missing %q", u, want)
		}
	}
}

func TestStreamingUnknownSession(t *testing.T) {
	srv := fakeRecognitionServer(t, nil)
	defer srv.Close()

	a := NewStreamingAdapter(streamingConfig(srv.URL), newLogger())
	defer a.Close()

	if err := a.ProcessChunk("ghost", []byte{1}, false); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := a.EndSession("ghost"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStreamingEndIsIdempotent(t *testing.T) {
	srv := fakeRecognitionServer(t, nil)
	defer srv.Close()

	a := NewStreamingAdapter(streamingConfig(srv.URL), newLogger())
	defer a.Close()

	if err := a.StartSession(context.Background(), "s1", "", func(Update) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := a.EndSession("s1"); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if _, err := a.EndSession("s1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound on second end, got %v", err)
	}
}
