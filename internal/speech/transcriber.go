// Package speech wraps the external speech services: transcription of
// user audio and synthesis of coach replies.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// ErrAudioTooSmall reports an upload below MinAudioBytes.
var ErrAudioTooSmall = errors.New("audio too small")

// MinAudioBytes is the smallest upload accepted for transcription.
// Anything below this is clicks or silence; the ASR would hallucinate.
const MinAudioBytes = 1024

// primaryTimeout bounds the primary ASR model before falling back.
const primaryTimeout = 30 * time.Second

// Transcriber converts recorded audio to text.
type Transcriber interface {
	// Transcribe returns the recognised text, or an error when the audio
	// is too small or every configured model failed.
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// OpenAITranscriber implements Transcriber with a primary model and a
// fallback model over the OpenAI audio API.
type OpenAITranscriber struct {
	client        *openai.Client
	primaryModel  string
	fallbackModel string
}

// NewOpenAITranscriber creates a transcriber. Empty model names select
// gpt-4o-mini-transcribe with a whisper-1 fallback.
func NewOpenAITranscriber(apiKey, baseURL, primaryModel, fallbackModel string) *OpenAITranscriber {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if primaryModel == "" {
		primaryModel = "gpt-4o-mini-transcribe"
	}
	if fallbackModel == "" {
		fallbackModel = openai.Whisper1
	}

	return &OpenAITranscriber{
		client:        openai.NewClientWithConfig(config),
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
	}
}

// Transcribe runs the primary model, then the fallback model when the
// primary fails or times out. The size gate runs before any network call.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) < MinAudioBytes {
		return "", fmt.Errorf("%w: %d bytes (minimum %d)", ErrAudioTooSmall, len(audio), MinAudioBytes)
	}

	text, err := t.transcribeWith(ctx, t.primaryModel, audio, filename, primaryTimeout)
	if err == nil {
		return text, nil
	}
	log.Printf("primary transcription model %s failed: %v (falling back to %s)", t.primaryModel, err, t.fallbackModel)

	text, fallbackErr := t.transcribeWith(ctx, t.fallbackModel, audio, filename, 0)
	if fallbackErr != nil {
		return "", fmt.Errorf("transcription failed on both models: primary: %v; fallback: %w", err, fallbackErr)
	}
	return text, nil
}

func (t *OpenAITranscriber) transcribeWith(ctx context.Context, model string, audio []byte, filename string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcription returned empty text")
	}
	return text, nil
}
