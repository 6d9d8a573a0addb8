package translate

import (
	"context"
)

// Translator converts one text segment between languages. Calls are
// best-effort from the caller's perspective: a failed translation never
// blocks or fails the transcription update it decorates.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
