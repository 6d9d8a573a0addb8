package quota

import (
	"context"
)

// Allowance is the result of a real-time streaming usage check.
type Allowance struct {
	Allowed          bool
	RemainingMinutes float64
	Reason           string
}

// Ledger is the usage accounting surface consulted before a session is
// admitted and polled while it runs. Minutes are fractional.
type Ledger interface {
	// CheckRealTimeStreamingUsage reports whether the user may stream for the
	// requested number of minutes in the current period.
	CheckRealTimeStreamingUsage(ctx context.Context, userID string, minutes float64) (Allowance, error)

	// RecordRealTimeStreamingUsage adds consumed minutes to the user's
	// counter. Called exactly once per session, at finalization.
	RecordRealTimeStreamingUsage(ctx context.Context, userID string, minutes float64) error

	// PremiumStreaming reports whether the user's plan includes the premium
	// online processing mode.
	PremiumStreaming(ctx context.Context, userID string) (bool, error)
}
