package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/streamscribe/streamscribe/internal/config"
)

type openaiTranslator struct {
	client *openai.Client
	model  string
}

// NewOpenAITranslator translates segments through a chat-completion model, or
// any API-compatible server via base_url.
func NewOpenAITranslator(cfg config.TranslateConfig) Translator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openaiTranslator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (t *openaiTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"Translate the user's text from %s to %s. Reply with the translation only.",
					sourceLang, targetLang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate segment: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate segment: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
