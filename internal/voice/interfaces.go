package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stage names one step of a voice turn.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
)

// Transcriber converts an audio payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Responder generates a reply for a user utterance.
type Responder interface {
	Generate(ctx context.Context, text string) (string, error)
}

// Synthesizer renders reply text as a single audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Providers is the set of collaborators bound to a turn.
type Providers struct {
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
}

func (p Providers) Validate() error {
	var missing []string
	if p.Transcriber == nil {
		missing = append(missing, "transcriber")
	}
	if p.Responder == nil {
		missing = append(missing, "responder")
	}
	if p.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing providers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Named is implemented by providers that report a stable label for logs and metrics.
type Named interface {
	Name() string
}

// NameOf returns the provider label, or "unknown".
func NameOf(p any) string {
	if n, ok := p.(Named); ok {
		if name := strings.TrimSpace(n.Name()); name != "" {
			return name
		}
	}
	return "unknown"
}

// ErrEmptyResult is returned when a provider succeeds without producing output.
var ErrEmptyResult = errors.New("provider returned empty result")

// ProviderError reports a failed or timed-out provider call.
type ProviderError struct {
	Stage    Stage
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the underlying failure is transient.
func (e *ProviderError) Retryable() bool {
	var r interface{ Retryable() bool }
	if errors.As(e.Err, &r) {
		return r.Retryable()
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type languageKey struct{}

// WithLanguage attaches a per-request synthesis language.
func WithLanguage(ctx context.Context, language string) context.Context {
	language = strings.TrimSpace(language)
	if language == "" {
		return ctx
	}
	return context.WithValue(ctx, languageKey{}, language)
}

// LanguageFrom returns the language attached by WithLanguage, or fallback.
func LanguageFrom(ctx context.Context, fallback string) string {
	if v, ok := ctx.Value(languageKey{}).(string); ok && v != "" {
		return v
	}
	return fallback
}
