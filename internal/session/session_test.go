package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/turn"
	"github.com/ent0n29/voicepipeline/internal/voice"
)

func TestSessionFullTurn(t *testing.T) {
	var recorded summaries
	m := newTestManager(t, echoProviders(), Options{Hooks: Hooks{OnTurnFinished: recorded.add}})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)

	expectMode(t, events, turn.ModeIdle)
	send(t, s, protocol.TypeStreamStart)
	expectMode(t, events, turn.ModeListening)
	send(t, s, protocol.TypeAudioChunk, 'h', 'e')
	send(t, s, protocol.TypeAudioChunk, 'y')
	send(t, s, protocol.TypeStreamEnd)
	expectMode(t, events, turn.ModeSpeaking)

	transcript := nextEvent(t, events)
	require.Equal(t, turn.KindTranscriptReady, transcript.Kind)
	assert.Equal(t, "hey", transcript.Text)

	reply := nextEvent(t, events)
	require.Equal(t, turn.KindReplyTextReady, reply.Kind)
	assert.Equal(t, "I heard you: hey", reply.Text)

	audio := nextEvent(t, events)
	require.Equal(t, turn.KindSynthesisReady, audio.Kind)
	assert.True(t, audio.Final)
	assert.NotEmpty(t, audio.Audio)
	assert.Equal(t, transcript.TurnID, audio.TurnID)

	expectMode(t, events, turn.ModeIdle)
	assert.Equal(t, turn.ModeIdle, s.Mode())

	require.Eventually(t, func() bool { return len(recorded.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	sum := recorded.snapshot()[0]
	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, "s1", sum.SessionID)
	assert.Equal(t, s.Key(), sum.SessionKey)
	assert.Equal(t, 3, sum.AudioInBytes)
	assert.Equal(t, len(audio.Audio), sum.AudioOutBytes)
}

func TestSessionChunkBeforeStartIsProtocolError(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeAudioChunk, 'x')
	ev := nextEvent(t, events)
	require.Equal(t, turn.KindError, ev.Kind)
	assert.True(t, turn.IsProtocolError(ev.Err))

	send(t, s, protocol.TypeStreamEnd)
	ev = nextEvent(t, events)
	require.Equal(t, turn.KindError, ev.Kind)
	assert.True(t, turn.IsProtocolError(ev.Err))

	// Still idle: a stream start is accepted.
	send(t, s, protocol.TypeStreamStart)
	expectMode(t, events, turn.ModeListening)
}

func TestSessionDoubleStartKeepsBuffer(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	expectMode(t, events, turn.ModeListening)
	send(t, s, protocol.TypeAudioChunk, 'a', 'b')
	send(t, s, protocol.TypeStreamStart)
	ev := nextEvent(t, events)
	require.Equal(t, turn.KindError, ev.Kind)
	assert.True(t, turn.IsProtocolError(ev.Err))

	send(t, s, protocol.TypeAudioChunk, 'c', 'd')
	send(t, s, protocol.TypeStreamEnd)
	expectMode(t, events, turn.ModeSpeaking)
	ev = nextEvent(t, events)
	require.Equal(t, turn.KindTranscriptReady, ev.Kind)
	assert.Equal(t, "abcd", ev.Text)
}

func TestSessionTranscriberFailureReturnsToIdle(t *testing.T) {
	var recorded summaries
	p := echoProviders()
	p.Transcriber = transcribeFunc(func(context.Context, []byte) (string, error) {
		return "", errors.New("asr down")
	})
	m := newTestManager(t, p, Options{Hooks: Hooks{OnTurnFinished: recorded.add}})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	send(t, s, protocol.TypeAudioChunk, 'x')
	send(t, s, protocol.TypeStreamEnd)
	expectMode(t, events, turn.ModeListening)
	expectMode(t, events, turn.ModeSpeaking)

	ev := nextEvent(t, events)
	require.Equal(t, turn.KindError, ev.Kind)
	assert.Equal(t, voice.StageTranscribe, ev.Stage)
	expectMode(t, events, turn.ModeIdle)
	expectQuiet(t, events, 50*time.Millisecond)

	require.Eventually(t, func() bool { return len(recorded.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeFailed, recorded.snapshot()[0].Outcome)
	assert.Equal(t, voice.StageTranscribe, recorded.snapshot()[0].FailedStage)

	// The session stays usable.
	send(t, s, protocol.TypeStreamStart)
	expectMode(t, events, turn.ModeListening)
}

func TestSessionEmptyStreamReportsValidationError(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	send(t, s, protocol.TypeStreamEnd)
	expectMode(t, events, turn.ModeListening)
	expectMode(t, events, turn.ModeSpeaking)
	ev := nextEvent(t, events)
	require.Equal(t, turn.KindError, ev.Kind)
	assert.True(t, turn.IsValidationError(ev.Err))
	expectMode(t, events, turn.ModeIdle)
}

func TestSessionInterruptWhileSpeaking(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var recorded summaries
	p := echoProviders()
	p.Transcriber = transcribeFunc(func(context.Context, []byte) (string, error) {
		close(started)
		<-release
		return "too late", nil
	})
	m := newTestManager(t, p, Options{Hooks: Hooks{OnTurnFinished: recorded.add}})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	send(t, s, protocol.TypeAudioChunk, 'x')
	send(t, s, protocol.TypeStreamEnd)
	expectMode(t, events, turn.ModeListening)
	expectMode(t, events, turn.ModeSpeaking)

	<-started
	send(t, s, protocol.TypeInterrupt)
	expectMode(t, events, turn.ModeIdle)
	expectQuiet(t, events, 100*time.Millisecond)

	require.Eventually(t, func() bool { return len(recorded.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeInterrupted, recorded.snapshot()[0].Outcome)
}

func TestSessionInterruptWhileIdleEmitsIdle(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeInterrupt)
	expectMode(t, events, turn.ModeIdle)
	send(t, s, protocol.TypeInterrupt)
	expectMode(t, events, turn.ModeIdle)
	expectQuiet(t, events, 30*time.Millisecond)
}

func TestSessionInterruptWhileListeningDiscardsBuffer(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	send(t, s, protocol.TypeAudioChunk, 'o', 'l', 'd')
	send(t, s, protocol.TypeInterrupt)
	send(t, s, protocol.TypeStreamStart)
	send(t, s, protocol.TypeAudioChunk, 'n', 'e', 'w')
	send(t, s, protocol.TypeStreamEnd)

	expectMode(t, events, turn.ModeListening)
	expectMode(t, events, turn.ModeIdle)
	expectMode(t, events, turn.ModeListening)
	expectMode(t, events, turn.ModeSpeaking)
	ev := nextEvent(t, events)
	require.Equal(t, turn.KindTranscriptReady, ev.Kind)
	assert.Equal(t, "new", ev.Text)
}

func TestSessionRejectKeepsMode(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	expectMode(t, events, turn.ModeListening)

	_, perr := protocol.ParseClientMessage([]byte(`{"type":"nope"}`))
	require.Error(t, perr)
	require.NoError(t, s.Reject(context.Background(), perr))
	ev := nextEvent(t, events)
	require.Equal(t, turn.KindError, ev.Kind)
	assert.ErrorIs(t, ev.Err, protocol.ErrInvalidMessage)
	assert.Equal(t, turn.ModeListening, s.Mode())
}

func TestSessionDisconnectEndsSession(t *testing.T) {
	ended := make(chan string, 1)
	m := newTestManager(t, echoProviders(), Options{Hooks: Hooks{
		OnSessionEnded: func(s *Session) { ended <- s.Key() },
	}})
	events := make(chan turn.Event, 32)
	s := m.Create("s1", events)
	expectMode(t, events, turn.ModeIdle)

	send(t, s, protocol.TypeStreamStart)
	expectMode(t, events, turn.ModeListening)
	send(t, s, protocol.TypeDisconnect)
	expectMode(t, events, turn.ModeIdle)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	_, ok := <-events
	assert.False(t, ok, "outbound should be closed")
	assert.Equal(t, s.Key(), <-ended)

	_, err := m.Get(s.Key())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Dispatch(context.Background(), protocol.ClientMessage{Type: protocol.TypeInterrupt}), ErrClosed)
}

func TestSessionsWithSameIDAreIndependent(t *testing.T) {
	m := newTestManager(t, echoProviders(), Options{})
	a := make(chan turn.Event, 32)
	b := make(chan turn.Event, 32)
	sa := m.Create("shared", a)
	sb := m.Create("shared", b)
	require.NotEqual(t, sa.Key(), sb.Key())
	assert.Len(t, m.Lookup("shared"), 2)

	expectMode(t, a, turn.ModeIdle)
	expectMode(t, b, turn.ModeIdle)

	for i, s := range []*Session{sa, sb} {
		send(t, s, protocol.TypeStreamStart)
		send(t, s, protocol.TypeAudioChunk, []byte(fmt.Sprintf("audio-%d", i))...)
	}
	send(t, sa, protocol.TypeStreamEnd)

	expectMode(t, a, turn.ModeListening)
	expectMode(t, a, turn.ModeSpeaking)
	ev := nextEvent(t, a)
	require.Equal(t, turn.KindTranscriptReady, ev.Kind)
	assert.Equal(t, "audio-0", ev.Text)

	// b is still listening and saw none of a's turn.
	expectMode(t, b, turn.ModeListening)
	expectQuiet(t, b, 50*time.Millisecond)
	assert.Equal(t, turn.ModeListening, sb.Mode())
}
