package translate

import (
	"context"
	"fmt"
)

type mockTranslator struct{}

// NewMockTranslator tags segments with the target language instead of calling
// a backend. Used in development and tests.
func NewMockTranslator() Translator {
	return &mockTranslator{}
}

func (m *mockTranslator) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	if text == "" {
		return "", nil
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}
