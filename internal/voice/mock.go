package voice

import (
	"context"
	"strings"

	"github.com/ent0n29/voicepipeline/internal/audio"
)

// samplesPerChar sizes mock speech at roughly 60ms of audio per character.
const samplesPerChar = audio.DefaultSampleRate * 60 / 1000

// MockProvider is a local fallback used when no real backend is configured.
// It implements Transcriber, Responder and Synthesizer.
type MockProvider struct {
	Transcript string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Transcript: "simulated voice input"}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Transcribe(ctx context.Context, audioBytes []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audioBytes) == 0 {
		return "", ErrEmptyResult
	}
	return p.Transcript, nil
}

func (p *MockProvider) Generate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResult
	}
	return "I heard you: " + text, nil
}

func (p *MockProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResult
	}
	return audio.Silence(audio.DefaultSampleRate, len([]rune(text))*samplesPerChar)
}
