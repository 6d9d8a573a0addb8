package reconcile

import (
	"strings"
	"sync"
	"time"
)

// Broadcast is a reconciled update worth delivering to session listeners.
type Broadcast struct {
	SegmentText string
	FullText    string
	Final       bool
}

// Reconciler merges interim and final recognition results for one session.
// It owns the authoritative stable text: finals are appended permanently,
// interims replace each other and are deduplicated and throttled, since
// recognition backends emit many near-duplicate hypotheses per second.
type Reconciler struct {
	interval time.Duration
	clock    func() time.Time

	mu          sync.Mutex
	stable      string
	lastPartial string
	lastEmit    time.Time
}

func New(interval time.Duration) *Reconciler {
	return &Reconciler{
		interval: interval,
		clock:    time.Now,
	}
}

// Apply folds one recognition update into the session state and reports
// whether it should be broadcast. Finals bypass throttling entirely.
func (r *Reconciler) Apply(text string, final bool) (Broadcast, bool) {
	text = strings.TrimSpace(text)

	r.mu.Lock()
	defer r.mu.Unlock()

	if final {
		if text == "" {
			return Broadcast{}, false
		}
		r.stable = joinSegments(r.stable, text)
		r.lastPartial = ""
		return Broadcast{
			SegmentText: text,
			FullText:    r.stable,
			Final:       true,
		}, true
	}

	if text == "" || text == r.lastPartial {
		return Broadcast{}, false
	}
	now := r.clock()
	if !r.lastEmit.IsZero() && now.Sub(r.lastEmit) < r.interval {
		return Broadcast{}, false
	}
	r.lastPartial = text
	r.lastEmit = now
	return Broadcast{
		SegmentText: text,
		FullText:    joinSegments(r.stable, text),
		Final:       false,
	}, true
}

// MergeFinal folds the adapter's end-of-session text into the stable
// transcript unless a prior final already carried it, and returns the result.
func (r *Reconciler) MergeFinal(text string) string {
	text = strings.TrimSpace(text)

	r.mu.Lock()
	defer r.mu.Unlock()

	if text != "" && !strings.HasSuffix(r.stable, text) {
		r.stable = joinSegments(r.stable, text)
	}
	r.lastPartial = ""
	return r.stable
}

// StableText returns the settled transcript accumulated so far.
func (r *Reconciler) StableText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stable
}

func joinSegments(stable, segment string) string {
	if stable == "" {
		return segment
	}
	if segment == "" {
		return stable
	}
	return stable + " " + segment
}
