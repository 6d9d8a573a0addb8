package session

import (
	"sync"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()
	s := r.Create("user-1", ModeOnline, "ha-NG", "en-US")
	if s.ID == "" {
		t.Fatal("expected generated session id")
	}
	if s.StartedAt.IsZero() {
		t.Fatal("expected start time to be set")
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != s {
		t.Fatal("expected identical session instance")
	}

	other := r.Create("user-1", ModeOnline, "", "")
	if other.ID == s.ID {
		t.Fatal("expected unique session ids")
	}
}

func TestAttachUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Attach("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTakeWinsOnce(t *testing.T) {
	r := NewRegistry()
	s := r.Create("user-1", ModeOffline, "", "")

	if _, err := r.Take(s.ID); err != nil {
		t.Fatalf("first take: %v", err)
	}
	if _, err := r.Take(s.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second take, got %v", err)
	}
	if _, err := r.Get(s.ID); err != ErrNotFound {
		t.Fatalf("expected session removed, got %v", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	s := r.Create("", ModeOffline, "", "")
	r.Remove(s.ID)
	r.Remove(s.ID)
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestLanguagesAndTranslationGate(t *testing.T) {
	r := NewRegistry()
	s := r.Create("user-1", ModeOnline, "en-US", "en-US")
	if s.TranslationEnabled() {
		t.Fatal("equal languages must disable translation")
	}
	s.SetLanguages("ha-NG", "en-US")
	source, target := s.Languages()
	if source != "ha-NG" || target != "en-US" {
		t.Fatalf("unexpected language pair %s/%s", source, target)
	}
	if !s.TranslationEnabled() {
		t.Fatal("distinct languages must enable translation")
	}
}

func TestAnonymous(t *testing.T) {
	r := NewRegistry()
	anon := r.Create(AnonymousOwner, ModeOffline, "", "")
	if !anon.Anonymous() {
		t.Fatal("expected anonymous session")
	}
	owned := r.Create("user-2", ModeOffline, "", "")
	if owned.Anonymous() {
		t.Fatal("expected owned session")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Create("user", ModeOffline, "", "")
			if _, err := r.Get(s.ID); err != nil {
				t.Errorf("get: %v", err)
			}
			r.Remove(s.ID)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestElapsed(t *testing.T) {
	s := &Session{StartedAt: time.Now().Add(-90 * time.Second)}
	if e := s.Elapsed(time.Now()); e < 89*time.Second || e > 91*time.Second {
		t.Fatalf("unexpected elapsed %v", e)
	}
	var zero Session
	if zero.Elapsed(time.Now()) != 0 {
		t.Fatal("expected zero elapsed for unset start time")
	}
}
