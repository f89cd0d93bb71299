package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ent0n29/voicepipeline/internal/voice"
)

const defaultStageTimeout = 60 * time.Second

// StageResult describes one finished provider call.
type StageResult struct {
	Stage    voice.Stage
	Provider string
	Duration time.Duration
	Err      error
}

type Options struct {
	// StageTimeout bounds each provider call. Zero means 60s; negative disables the bound.
	StageTimeout time.Duration
	Logger       *zap.Logger
	// OnStage is called synchronously after every provider call, including cancelled ones.
	OnStage func(StageResult)
}

// Timings holds per-stage wall time of a turn.
type Timings struct {
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
}

// Result aggregates everything a turn produced.
type Result struct {
	TurnID     string
	Transcript string
	Reply      string
	Audio      []byte
	Timings    Timings
}

// Controller drives one turn through transcribe, generate and synthesize.
// It holds no per-turn state and may be shared.
type Controller struct {
	providers    voice.Providers
	stageTimeout time.Duration
	logger       *zap.Logger
	onStage      func(StageResult)
}

func NewController(providers voice.Providers, opts Options) (*Controller, error) {
	if err := providers.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.StageTimeout
	if timeout == 0 {
		timeout = defaultStageTimeout
	}
	return &Controller{
		providers:    providers,
		stageTimeout: timeout,
		logger:       logger.With(zap.String("component", "turn_controller")),
		onStage:      opts.OnStage,
	}, nil
}

// Run executes the stages strictly in sequence and reports progress through
// emit: transcript, then reply text (before synthesis starts), then audio.
// A provider failure emits one error event and ends the turn. When ctx is
// cancelled Run stops waiting on the outstanding call, emits nothing more and
// returns ErrCancelled.
func (c *Controller) Run(ctx context.Context, turnID string, audio []byte, emit Emitter) (Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	ctx, span := tracer.Start(ctx, "turn.run", trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.Int("turn.audio_in_bytes", len(audio)),
	))
	defer span.End()

	res := Result{TurnID: turnID}
	if len(audio) == 0 {
		return res, c.fail(ctx, span, emit, turnID, voice.StageTranscribe,
			&ValidationError{Field: "audio", Reason: "empty audio stream"})
	}

	start := time.Now()
	text, err := c.Transcribe(ctx, audio)
	res.Timings.Transcribe = time.Since(start)
	if err != nil {
		return res, c.fail(ctx, span, emit, turnID, voice.StageTranscribe, err)
	}
	res.Transcript = text
	if !emitLive(ctx, emit, TranscriptReady(turnID, text)) {
		return res, ErrCancelled
	}

	start = time.Now()
	reply, err := c.Generate(ctx, text)
	res.Timings.Generate = time.Since(start)
	if err != nil {
		return res, c.fail(ctx, span, emit, turnID, voice.StageGenerate, err)
	}
	res.Reply = reply
	if !emitLive(ctx, emit, ReplyTextReady(turnID, reply)) {
		return res, ErrCancelled
	}

	start = time.Now()
	out, err := c.Synthesize(ctx, reply)
	res.Timings.Synthesize = time.Since(start)
	if err != nil {
		return res, c.fail(ctx, span, emit, turnID, voice.StageSynthesize, err)
	}
	res.Audio = out
	if !emitLive(ctx, emit, SynthesisReady(turnID, out)) {
		return res, ErrCancelled
	}

	span.SetAttributes(attribute.Int("turn.audio_out_bytes", len(out)))
	return res, nil
}

// Transcribe runs only the transcription stage.
func (c *Controller) Transcribe(ctx context.Context, audio []byte) (string, error) {
	p := c.providers.Transcriber
	return runStage(c, ctx, voice.StageTranscribe, voice.NameOf(p),
		func(ctx context.Context) (string, error) { return p.Transcribe(ctx, audio) },
		func(s string) bool { return strings.TrimSpace(s) == "" },
	)
}

// Generate runs only the reply stage.
func (c *Controller) Generate(ctx context.Context, text string) (string, error) {
	p := c.providers.Responder
	return runStage(c, ctx, voice.StageGenerate, voice.NameOf(p),
		func(ctx context.Context) (string, error) { return p.Generate(ctx, text) },
		func(s string) bool { return strings.TrimSpace(s) == "" },
	)
}

// Synthesize runs only the synthesis stage.
func (c *Controller) Synthesize(ctx context.Context, text string) ([]byte, error) {
	p := c.providers.Synthesizer
	return runStage(c, ctx, voice.StageSynthesize, voice.NameOf(p),
		func(ctx context.Context) ([]byte, error) { return p.Synthesize(ctx, text) },
		func(b []byte) bool { return len(b) == 0 },
	)
}

func (c *Controller) fail(ctx context.Context, span trace.Span, emit Emitter, turnID string, stage voice.Stage, err error) error {
	if errors.Is(err, ErrCancelled) {
		span.AddEvent("cancelled", trace.WithAttributes(attribute.String("turn.stage", string(stage))))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn("turn failed",
		zap.String("turn_id", turnID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	if !emitLive(ctx, emit, Failure(turnID, stage, err)) {
		return ErrCancelled
	}
	return err
}

func emitLive(ctx context.Context, emit Emitter, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	emit(ev)
	return true
}

func runStage[T any](
	c *Controller,
	ctx context.Context,
	stage voice.Stage,
	provider string,
	call func(context.Context) (T, error),
	empty func(T) bool,
) (T, error) {
	var zero T
	start := time.Now()

	stageCtx, span := tracer.Start(ctx, "turn."+string(stage), trace.WithAttributes(
		attribute.String("voice.provider", provider),
	))
	defer span.End()
	if c.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(stageCtx, c.stageTimeout)
		defer cancel()
	}

	v, err := await(stageCtx, call)
	if err == nil && empty(v) {
		err = voice.ErrEmptyResult
	}

	if ctx.Err() != nil {
		// Interrupted: whatever the provider produced is discarded.
		span.AddEvent("cancelled")
		c.observe(StageResult{Stage: stage, Provider: provider, Duration: time.Since(start), Err: ErrCancelled})
		return zero, ErrCancelled
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.stageTimeout, err)
		}
		var perr *voice.ProviderError
		if !errors.As(err, &perr) {
			perr = &voice.ProviderError{Stage: stage, Provider: provider, Err: err}
		}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		c.observe(StageResult{Stage: stage, Provider: provider, Duration: time.Since(start), Err: perr})
		return zero, perr
	}

	c.observe(StageResult{Stage: stage, Provider: provider, Duration: time.Since(start)})
	return v, nil
}

func (c *Controller) observe(r StageResult) {
	if c.onStage != nil {
		c.onStage(r)
	}
}

// await runs call in its own goroutine and returns as soon as either the call
// finishes or ctx is done. A call that outlives ctx keeps running; its result
// is dropped into a buffered channel and collected by the garbage collector.
func await[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
