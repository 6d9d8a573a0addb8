package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamscribe/streamscribe/internal/config"
)

func TestMockTranslatorTagsTarget(t *testing.T) {
	tr := NewMockTranslator()

	out, err := tr.Translate(context.Background(), "sannu", "ha-NG", "en-US")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "[en-US] sannu" {
		t.Fatalf("unexpected translation %q", out)
	}

	out, err = tr.Translate(context.Background(), "", "ha-NG", "en-US")
	if err != nil {
		t.Fatalf("translate empty: %v", err)
	}
	if out != "" {
		t.Fatalf("empty input must yield empty output, got %q", out)
	}
}

func TestOpenAITranslatorParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  hello  "}}]}`))
	}))
	defer srv.Close()

	tr := NewOpenAITranslator(config.TranslateConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	})

	out, err := tr.Translate(context.Background(), "sannu", "ha-NG", "en-US")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected trimmed translation, got %q", out)
	}
}

func TestOpenAITranslatorEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	tr := NewOpenAITranslator(config.TranslateConfig{APIKey: "test-key", BaseURL: srv.URL})
	if _, err := tr.Translate(context.Background(), "sannu", "ha-NG", "en-US"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
