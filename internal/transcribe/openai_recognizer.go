package transcribe

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/streamscribe/streamscribe/internal/config"
)

type openaiRecognizer struct {
	client *openai.Client
	model  string
}

// NewOpenAIRecognizer recognizes audio windows through the Whisper
// transcription endpoint, or any API-compatible server via base_url.
func NewOpenAIRecognizer(cfg config.BatchSTTConfig) Recognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openaiRecognizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (r *openaiRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, language string) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, nil
	}

	file, err := os.CreateTemp(os.TempDir(), "scribe_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return Result{}, err
	}

	req := openai.AudioRequest{
		Model:    r.model,
		FilePath: file.Name(),
		Language: language,
	}
	resp, err := r.client.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("whisper transcription: %w", err)
	}
	return Result{Text: resp.Text}, nil
}
