package turn

import (
	"context"

	"github.com/ent0n29/voicepipeline/internal/voice"
)

type transcribeFunc func(context.Context, []byte) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

type generateFunc func(context.Context, string) (string, error)

func (f generateFunc) Generate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

type synthesizeFunc func(context.Context, string) ([]byte, error)

func (f synthesizeFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// fixedProviders returns providers answering "hello", "hi there" and audio.
func fixedProviders(audio []byte) voice.Providers {
	return voice.Providers{
		Transcriber: transcribeFunc(func(context.Context, []byte) (string, error) { return "hello", nil }),
		Responder:   generateFunc(func(context.Context, string) (string, error) { return "hi there", nil }),
		Synthesizer: synthesizeFunc(func(context.Context, string) ([]byte, error) { return audio, nil }),
	}
}

// blockingTranscriber blocks until release is closed, ignoring ctx, so tests
// can check that the controller stops waiting on its own.
func blockingTranscriber(started chan<- struct{}, release <-chan struct{}) voice.Transcriber {
	return transcribeFunc(func(context.Context, []byte) (string, error) {
		close(started)
		<-release
		return "late transcript", nil
	})
}

type recorder struct {
	events []Event
}

func (r *recorder) emit(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
