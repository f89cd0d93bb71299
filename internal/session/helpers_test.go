package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/turn"
	"github.com/ent0n29/voicepipeline/internal/voice"
)

type transcribeFunc func(context.Context, []byte) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

// echoProviders transcribes audio to its own bytes and replies with a prefix.
func echoProviders() voice.Providers {
	mock := voice.NewMockProvider()
	return voice.Providers{
		Transcriber: transcribeFunc(func(_ context.Context, audio []byte) (string, error) {
			return string(audio), nil
		}),
		Responder:   mock,
		Synthesizer: mock,
	}
}

func newTestManager(t *testing.T, p voice.Providers, opts Options) *Manager {
	t.Helper()
	c, err := turn.NewController(p, turn.Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	opts.Controller = c
	m := NewManager(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func nextEvent(t *testing.T, ch <-chan turn.Event) turn.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "outbound channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return turn.Event{}
}

func expectMode(t *testing.T, ch <-chan turn.Event, want turn.Mode) {
	t.Helper()
	ev := nextEvent(t, ch)
	require.Equal(t, turn.KindModeChanged, ev.Kind, "event %+v", ev)
	require.Equal(t, want, ev.Mode)
}

func expectQuiet(t *testing.T, ch <-chan turn.Event, d time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(d):
	}
}

func send(t *testing.T, s *Session, typ protocol.MessageType, audio ...byte) {
	t.Helper()
	require.NoError(t, s.Dispatch(context.Background(), protocol.ClientMessage{Type: typ, Audio: audio}))
}

type summaries struct {
	mu  sync.Mutex
	all []TurnSummary
}

func (s *summaries) add(ts TurnSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, ts)
}

func (s *summaries) snapshot() []TurnSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TurnSummary(nil), s.all...)
}
