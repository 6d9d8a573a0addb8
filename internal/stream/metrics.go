package stream

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type serviceMetrics struct {
	sessionsStarted    metric.Int64Counter
	sessionsFinalized  metric.Int64Counter
	chunksRejected     metric.Int64Counter
	chunksDropped      metric.Int64Counter
	interimsSuppressed metric.Int64Counter
	quotaTerminations  metric.Int64Counter
}

func newServiceMetrics(logger *slog.Logger) serviceMetrics {
	meter := otel.Meter("github.com/streamscribe/streamscribe/stream")
	var m serviceMetrics
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.sessionsStarted, "scribe.sessions.started", "Sessions admitted and started"},
		{&m.sessionsFinalized, "scribe.sessions.finalized", "Sessions finalized, by either path"},
		{&m.chunksRejected, "scribe.audio.chunks_rejected", "Audio chunks rejected as oversized"},
		{&m.chunksDropped, "scribe.audio.chunks_dropped", "Audio chunks dropped by flow control or arriving after finalization"},
		{&m.interimsSuppressed, "scribe.transcript.interims_suppressed", "Interim updates suppressed by dedup or throttling"},
		{&m.quotaTerminations, "scribe.sessions.quota_terminations", "Sessions terminated because the usage limit was reached"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			logger.Warn("failed to initialize counter", slog.String("name", c.name), slogError(err))
			continue
		}
		*c.target = counter
	}
	return m
}

func count(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}
