package turn

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/voicepipeline/internal/voice"
)

// Facade runs single turns for request/response callers. Mode transitions
// happen internally and are never exposed; only the final result or the
// first failure is returned.
type Facade struct {
	controller *Controller
}

func NewFacade(c *Controller) *Facade {
	return &Facade{controller: c}
}

// Run assembles a one-shot session around audio and drives it to completion.
func (f *Facade) Run(ctx context.Context, audio []byte) (Result, error) {
	if len(audio) == 0 {
		return Result{}, &ValidationError{Field: "audio", Reason: "empty audio payload"}
	}

	var (
		machine Machine
		buf     Buffer
	)
	if _, err := machine.Fire(TriggerStreamStart); err != nil {
		return Result{}, err
	}
	if err := buf.Open(); err != nil {
		return Result{}, err
	}
	if err := buf.Append(audio); err != nil {
		return Result{}, err
	}
	assembled, err := buf.Close()
	if err != nil {
		return Result{}, err
	}
	if _, err := machine.Fire(TriggerStreamEnd); err != nil {
		return Result{}, err
	}

	res, runErr := f.controller.Run(ctx, uuid.NewString(), assembled, nil)
	if _, err := machine.Fire(TriggerTurnDone); err != nil {
		return Result{}, err
	}
	if runErr != nil {
		return Result{}, runErr
	}
	return res, nil
}

// Transcribe is the transcription-only slice of the pipeline.
func (f *Facade) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", &ValidationError{Field: "audio", Reason: "empty audio payload"}
	}
	return f.controller.Transcribe(ctx, audio)
}

// Synthesize is the synthesis-only slice of the pipeline. An empty language
// keeps the synthesizer default.
func (f *Facade) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "text", Reason: "text is required"}
	}
	return f.controller.Synthesize(voice.WithLanguage(ctx, language), text)
}
