package transcribe

import (
	"context"
)

// Result captures recognizer output for one audio window.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts request/response STT backends used by the batched
// aggregation strategy.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, language string) (Result, error)
}
