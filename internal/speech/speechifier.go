package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// Speechifier renders coach replies to audio files.
type Speechifier interface {
	// Synthesize writes spoken audio for text to outPath. A failure is
	// non-fatal to the conversation; callers simply omit the audio URL.
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// OpenAISpeechifier implements Speechifier over the OpenAI speech API.
type OpenAISpeechifier struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISpeechifier creates a speechifier. An empty model selects tts-1.
func NewOpenAISpeechifier(apiKey, baseURL, model string) *OpenAISpeechifier {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}

	return &OpenAISpeechifier{
		client: openai.NewClientWithConfig(config),
		model:  openai.SpeechModel(model),
	}
}

// Synthesize streams MP3 audio for text into outPath.
func (s *OpenAISpeechifier) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if text == "" {
		return fmt.Errorf("cannot synthesize empty text")
	}
	if voice == "" {
		voice = string(openai.VoiceNova)
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp); err != nil {
		// Remove the partial file so a broken URL is never served.
		os.Remove(outPath)
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	return nil
}
