package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/voicepipeline/internal/voice"
)

func newTestController(t *testing.T, p voice.Providers, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	c, err := NewController(p, opts)
	require.NoError(t, err)
	return c
}

func TestControllerRunEmitsStagesInOrder(t *testing.T) {
	var synthInput string
	p := fixedProviders([]byte("B"))
	p.Synthesizer = synthesizeFunc(func(_ context.Context, text string) ([]byte, error) {
		synthInput = text
		return []byte("B"), nil
	})
	c := newTestController(t, p, Options{})

	var rec recorder
	res, err := c.Run(context.Background(), "turn-1", []byte("A"), rec.emit)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{KindTranscriptReady, KindReplyTextReady, KindSynthesisReady}, rec.kinds())
	assert.Equal(t, "hello", rec.events[0].Text)
	assert.Equal(t, "hi there", rec.events[1].Text)
	assert.Equal(t, []byte("B"), rec.events[2].Audio)
	assert.True(t, rec.events[2].Final)
	for _, ev := range rec.events {
		assert.Equal(t, "turn-1", ev.TurnID)
	}

	assert.Equal(t, "hi there", synthInput)
	assert.Equal(t, "hello", res.Transcript)
	assert.Equal(t, "hi there", res.Reply)
	assert.Equal(t, []byte("B"), res.Audio)
}

func TestControllerReplyTextPrecedesSynthesisCall(t *testing.T) {
	var rec recorder
	p := fixedProviders(nil)
	p.Synthesizer = synthesizeFunc(func(context.Context, string) ([]byte, error) {
		// The reply must already be visible when synthesis starts.
		assert.Equal(t, []EventKind{KindTranscriptReady, KindReplyTextReady}, rec.kinds())
		return []byte("B"), nil
	})
	c := newTestController(t, p, Options{})

	_, err := c.Run(context.Background(), "t", []byte("A"), rec.emit)
	require.NoError(t, err)
}

func TestControllerTranscriberFailureStopsTurn(t *testing.T) {
	boom := errors.New("asr down")
	p := fixedProviders([]byte("B"))
	p.Transcriber = transcribeFunc(func(context.Context, []byte) (string, error) { return "", boom })
	generated := false
	p.Responder = generateFunc(func(context.Context, string) (string, error) {
		generated = true
		return "x", nil
	})
	c := newTestController(t, p, Options{})

	var rec recorder
	_, err := c.Run(context.Background(), "t", []byte("A"), rec.emit)

	var perr *voice.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, voice.StageTranscribe, perr.Stage)
	assert.ErrorIs(t, err, boom)
	assert.False(t, generated)
	require.Equal(t, []EventKind{KindError}, rec.kinds())
	assert.Equal(t, voice.StageTranscribe, rec.events[0].Stage)
}

func TestControllerGenerateAndSynthesizeFailuresCarryStage(t *testing.T) {
	boom := errors.New("upstream 500")

	p := fixedProviders([]byte("B"))
	p.Responder = generateFunc(func(context.Context, string) (string, error) { return "", boom })
	var rec recorder
	_, err := newTestController(t, p, Options{}).Run(context.Background(), "t", []byte("A"), rec.emit)
	var perr *voice.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, voice.StageGenerate, perr.Stage)
	assert.Equal(t, []EventKind{KindTranscriptReady, KindError}, rec.kinds())

	p = fixedProviders(nil)
	p.Synthesizer = synthesizeFunc(func(context.Context, string) ([]byte, error) { return nil, boom })
	rec = recorder{}
	_, err = newTestController(t, p, Options{}).Run(context.Background(), "t", []byte("A"), rec.emit)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, voice.StageSynthesize, perr.Stage)
	assert.Equal(t, []EventKind{KindTranscriptReady, KindReplyTextReady, KindError}, rec.kinds())
}

func TestControllerEmptyResultIsProviderError(t *testing.T) {
	p := fixedProviders([]byte("B"))
	p.Transcriber = transcribeFunc(func(context.Context, []byte) (string, error) { return "   ", nil })
	c := newTestController(t, p, Options{})

	var rec recorder
	_, err := c.Run(context.Background(), "t", []byte("A"), rec.emit)
	require.ErrorIs(t, err, voice.ErrEmptyResult)
	assert.Equal(t, []EventKind{KindError}, rec.kinds())
}

func TestControllerEmptyAudioIsValidationError(t *testing.T) {
	called := false
	p := fixedProviders([]byte("B"))
	p.Transcriber = transcribeFunc(func(context.Context, []byte) (string, error) {
		called = true
		return "x", nil
	})
	c := newTestController(t, p, Options{})

	var rec recorder
	_, err := c.Run(context.Background(), "t", nil, rec.emit)
	assert.True(t, IsValidationError(err))
	assert.False(t, called)
	assert.Equal(t, []EventKind{KindError}, rec.kinds())
}

func TestControllerCancelStopsWaitingOnProvider(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	p := fixedProviders([]byte("B"))
	p.Transcriber = blockingTranscriber(started, release)
	c := newTestController(t, p, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu  sync.Mutex
		rec recorder
	)
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, "t", []byte("A"), func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			rec.emit(ev)
		})
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, rec.events)
}

func TestControllerStageTimeoutIsProviderError(t *testing.T) {
	p := fixedProviders([]byte("B"))
	p.Responder = generateFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := newTestController(t, p, Options{StageTimeout: 20 * time.Millisecond})

	var rec recorder
	_, err := c.Run(context.Background(), "t", []byte("A"), rec.emit)

	var perr *voice.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, voice.StageGenerate, perr.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, perr.Retryable())
	assert.Equal(t, []EventKind{KindTranscriptReady, KindError}, rec.kinds())
}

func TestControllerReportsStageResults(t *testing.T) {
	var stages []voice.Stage
	c := newTestController(t, fixedProviders([]byte("B")), Options{
		OnStage: func(r StageResult) {
			assert.NoError(t, r.Err)
			stages = append(stages, r.Stage)
		},
	})

	_, err := c.Run(context.Background(), "t", []byte("A"), nil)
	require.NoError(t, err)
	assert.Equal(t, []voice.Stage{voice.StageTranscribe, voice.StageGenerate, voice.StageSynthesize}, stages)
}

func TestNewControllerRequiresProviders(t *testing.T) {
	_, err := NewController(voice.Providers{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcriber")
}
