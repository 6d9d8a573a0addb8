package transcripts

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/streamscribe/streamscribe/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCreateAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptsConfig{Path: filepath.Join(tmp, "transcripts.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	rec := Record{
		SessionID:       "session-123",
		OwnerID:         "user-1",
		Content:         "sannu da zuwa",
		DurationSeconds: 42.5,
		SourceLanguage:  "ha-NG",
		TargetLanguage:  "en-US",
		Synced:          true,
	}
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	records, err := s.ListByOwner(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Content != "sannu da zuwa" {
		t.Fatalf("unexpected content %q", got.Content)
	}
	if got.DurationSeconds != 42.5 {
		t.Fatalf("unexpected duration %v", got.DurationSeconds)
	}
	if !got.Synced {
		t.Fatal("expected synced record")
	}
}

func TestListOtherOwnerEmpty(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptsConfig{Path: filepath.Join(tmp, "transcripts.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Create(context.Background(), Record{SessionID: "s1", OwnerID: "user-1", Content: "hello"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	records, err := s.ListByOwner(context.Background(), "user-2", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records for other owner, got %d", len(records))
	}
}

func TestPruneByRetention(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptsConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionDays: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Create(context.Background(), Record{SessionID: "old", OwnerID: "user-1", Content: "old"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Create(context.Background(), Record{SessionID: "new", OwnerID: "user-1", Content: "new"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := s.ListByOwner(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected old transcript pruned, got %d records", len(records))
	}
	if records[0].SessionID != "new" {
		t.Fatalf("expected surviving record to be the new one, got %s", records[0].SessionID)
	}
}
