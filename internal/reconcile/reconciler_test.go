package reconcile

import (
	"testing"
	"time"
)

func newTestReconciler(interval time.Duration) (*Reconciler, *time.Time) {
	r := New(interval)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now }
	return r, &now
}

func TestInterimDedup(t *testing.T) {
	r, now := newTestReconciler(300 * time.Millisecond)

	b, ok := r.Apply("sannu", false)
	if !ok {
		t.Fatal("first interim must broadcast")
	}
	if b.SegmentText != "sannu" || b.Final {
		t.Fatalf("unexpected broadcast %+v", b)
	}

	*now = now.Add(time.Second)
	if _, ok := r.Apply("sannu", false); ok {
		t.Fatal("identical interim must be suppressed even after the interval")
	}
}

func TestInterimThrottle(t *testing.T) {
	r, now := newTestReconciler(300 * time.Millisecond)

	if _, ok := r.Apply("sa", false); !ok {
		t.Fatal("first interim must broadcast")
	}

	*now = now.Add(100 * time.Millisecond)
	if _, ok := r.Apply("sann", false); ok {
		t.Fatal("interim inside throttle window must be suppressed")
	}

	*now = now.Add(250 * time.Millisecond)
	b, ok := r.Apply("sannu", false)
	if !ok {
		t.Fatal("interim past throttle window must broadcast")
	}
	if b.FullText != "sannu" {
		t.Fatalf("unexpected full text %q", b.FullText)
	}
}

func TestFinalBypassesThrottleAndAppends(t *testing.T) {
	r, now := newTestReconciler(300 * time.Millisecond)

	if _, ok := r.Apply("sannu", false); !ok {
		t.Fatal("interim must broadcast")
	}

	*now = now.Add(10 * time.Millisecond)
	b, ok := r.Apply("sannu", true)
	if !ok {
		t.Fatal("final must broadcast regardless of throttle")
	}
	if !b.Final || b.FullText != "sannu" {
		t.Fatalf("unexpected final broadcast %+v", b)
	}

	*now = now.Add(time.Second)
	b, ok = r.Apply("da zuwa", true)
	if !ok {
		t.Fatal("second final must broadcast")
	}
	if b.FullText != "sannu da zuwa" {
		t.Fatalf("finals must accumulate, got %q", b.FullText)
	}
	if r.StableText() != "sannu da zuwa" {
		t.Fatalf("stable text mismatch: %q", r.StableText())
	}
}

func TestFinalClearsPendingInterim(t *testing.T) {
	r, now := newTestReconciler(300 * time.Millisecond)

	r.Apply("sannu", false)
	r.Apply("sannu", true)

	// After a final, an interim with the same text is a fresh hypothesis
	// for the next segment, not a duplicate of the settled one.
	*now = now.Add(time.Second)
	b, ok := r.Apply("sannu", false)
	if !ok {
		t.Fatal("interim after final must broadcast")
	}
	if b.FullText != "sannu sannu" {
		t.Fatalf("unexpected full text %q", b.FullText)
	}
}

func TestInterimOverlaysStable(t *testing.T) {
	r, now := newTestReconciler(0)

	r.Apply("sannu", true)
	*now = now.Add(time.Second)

	b, ok := r.Apply("da", false)
	if !ok {
		t.Fatal("interim must broadcast")
	}
	if b.FullText != "sannu da" {
		t.Fatalf("interim must overlay stable text, got %q", b.FullText)
	}
	if r.StableText() != "sannu" {
		t.Fatalf("interim must not mutate stable text, got %q", r.StableText())
	}
}

func TestMergeFinalSkipsAlreadyMergedTail(t *testing.T) {
	r, _ := newTestReconciler(0)

	r.Apply("sannu da zuwa", true)
	if got := r.MergeFinal("da zuwa"); got != "sannu da zuwa" {
		t.Fatalf("tail already settled, got %q", got)
	}
	if got := r.MergeFinal("lafiya"); got != "sannu da zuwa lafiya" {
		t.Fatalf("new tail must append, got %q", got)
	}
	if got := r.MergeFinal(""); got != "sannu da zuwa lafiya" {
		t.Fatalf("empty merge must be a no-op, got %q", got)
	}
}

func TestEmptyAndWhitespaceUpdatesIgnored(t *testing.T) {
	r, _ := newTestReconciler(0)

	if _, ok := r.Apply("   ", false); ok {
		t.Fatal("whitespace interim must be suppressed")
	}
	if _, ok := r.Apply("", true); ok {
		t.Fatal("empty final must be suppressed")
	}
	if r.StableText() != "" {
		t.Fatalf("stable text must stay empty, got %q", r.StableText())
	}
}
