package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/turn"
)

func TestManagerCreateGetDestroy(t *testing.T) {
	created := make(chan string, 1)
	m := newTestManager(t, echoProviders(), Options{Hooks: Hooks{
		OnSessionCreated: func(s *Session) { created <- s.ID() },
	}})
	events := make(chan turn.Event, 8)
	s := m.Create("s1", events)
	assert.Equal(t, "s1", <-created)
	assert.NotEmpty(t, s.Key())

	got, err := m.Get(s.Key())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.ActiveCount())

	info := s.Info()
	assert.Equal(t, "s1", info.SessionID)
	assert.Equal(t, s.Key(), info.SessionKey)
	assert.Equal(t, turn.ModeIdle, info.Mode)

	require.NoError(t, m.Destroy(s.Key()))
	assert.Zero(t, m.ActiveCount())
	assert.Empty(t, m.Lookup("s1"))
	assert.ErrorIs(t, m.Destroy(s.Key()), ErrNotFound)
}

func TestManagerDispatchUnknownKey(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	err := m.Dispatch(context.Background(), "missing", protocol.ClientMessage{Type: protocol.TypeInterrupt})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerDispatchRoutesByKey(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 8)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	require.NoError(t, m.Dispatch(context.Background(), s.Key(), protocol.ClientMessage{Type: protocol.TypeStreamStart}))
	expectMode(t, events, turn.ModeListening)
}

func TestManagerDestroyCancelsActiveTurn(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var recorded summaries
	p := echoProviders()
	p.Transcriber = transcribeFunc(func(context.Context, []byte) (string, error) {
		close(started)
		<-release
		return "late", nil
	})
	m := newTestManager(t, p, Options{Hooks: Hooks{OnTurnFinished: recorded.add}})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)

	send(t, s, protocol.TypeStreamStart)
	send(t, s, protocol.TypeAudioChunk, 'x')
	send(t, s, protocol.TypeStreamEnd)
	<-started

	require.NoError(t, m.Destroy(s.Key()))
	summaries := recorded.snapshot()
	require.Len(t, summaries, 1)
	assert.Equal(t, OutcomeInterrupted, summaries[0].Outcome)

	var kinds []turn.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.NotContains(t, kinds, turn.KindTranscriptReady)
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{InactivityTimeout: 30 * time.Millisecond})
	events := make(chan turn.Event, 8)
	s := m.Create("s1", events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("inactive session was not expired")
	}
	assert.Zero(t, m.ActiveCount())
}

func TestManagerShutdownStopsAllSessions(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	var sessions []*Session
	for i := 0; i < 3; i++ {
		sessions = append(sessions, m.Create(fmt.Sprintf("s%d", i), make(chan turn.Event, 8)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	for _, s := range sessions {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s still running", s.ID())
		}
	}
	assert.Zero(t, m.ActiveCount())
}

func TestManagerConcurrentSessionsDoNotInterfere(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("session-%d", i)
		g.Go(func() error {
			events := make(chan turn.Event, 32)
			s := m.Create(id, events)
			ctx := context.Background()
			for _, msg := range []protocol.ClientMessage{
				{Type: protocol.TypeStreamStart},
				{Type: protocol.TypeAudioChunk, Audio: []byte(id)},
				{Type: protocol.TypeStreamEnd},
			} {
				if err := s.Dispatch(ctx, msg); err != nil {
					return err
				}
			}
			timeout := time.After(2 * time.Second)
			for {
				select {
				case ev := <-events:
					if ev.Kind == turn.KindTranscriptReady {
						if ev.Text != id {
							return fmt.Errorf("session %s heard %q", id, ev.Text)
						}
						return nil
					}
					if ev.Kind == turn.KindError {
						return fmt.Errorf("session %s: %v", id, ev.Err)
					}
				case <-timeout:
					return fmt.Errorf("session %s timed out", id)
				}
			}
		})
	}
	require.NoError(t, g.Wait())
}
