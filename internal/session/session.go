package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/turn"
	"github.com/ent0n29/voicepipeline/internal/voice"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session closed")
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
)

// TurnSummary describes a finished turn without its text content.
type TurnSummary struct {
	SessionID     string
	SessionKey    string
	TurnID        string
	Outcome       Outcome
	FailedStage   voice.Stage
	AudioInBytes  int
	AudioOutBytes int
	Timings       turn.Timings
	StartedAt     time.Time
	FinishedAt    time.Time
}

type inboundMessage struct {
	msg    protocol.ClientMessage
	reject error
}

type turnMessage struct {
	token  uint64
	event  turn.Event
	done   bool
	result turn.Result
	err    error
}

type activeTurn struct {
	token   uint64
	id      string
	cancel  context.CancelFunc
	audioIn int
	started time.Time
}

// Session is one conversational context bound to a connection. All mutable
// turn state lives inside the run goroutine; other goroutines only talk to
// it through channels.
type Session struct {
	id        string
	key       string
	createdAt time.Time

	controller *turn.Controller
	logger     *zap.Logger
	onTurn     func(TurnSummary)
	onExit     func(*Session)

	inbound  chan inboundMessage
	turns    chan turnMessage
	outbound chan<- turn.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	lastActivity atomic.Int64
	mode         atomic.Value
	closeOnce    sync.Once
}

type sessionConfig struct {
	id         string
	controller *turn.Controller
	logger     *zap.Logger
	outbound   chan<- turn.Event
	onTurn     func(TurnSummary)
	onExit     func(*Session)
	queueSize  int
}

func newSession(parent context.Context, cfg sessionConfig) *Session {
	ctx, cancel := context.WithCancel(parent)
	key := uuid.NewString()
	s := &Session{
		id:         cfg.id,
		key:        key,
		createdAt:  time.Now().UTC(),
		controller: cfg.controller,
		logger:     cfg.logger.With(zap.String("session_id", cfg.id), zap.String("session_key", key)),
		onTurn:     cfg.onTurn,
		onExit:     cfg.onExit,
		inbound:    make(chan inboundMessage, cfg.queueSize),
		turns:      make(chan turnMessage, 8),
		outbound:   cfg.outbound,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.mode.Store(turn.ModeIdle)
	s.touch()
	return s
}

// ID is the client-supplied identifier. Several sessions may share it.
func (s *Session) ID() string { return s.id }

// Key uniquely identifies this session within its manager.
func (s *Session) Key() string { return s.key }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity is the time of the last inbound or outbound message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

// Mode reports the most recently emitted mode.
func (s *Session) Mode() turn.Mode {
	return s.mode.Load().(turn.Mode)
}

// Done is closed once the session goroutine has exited and the outbound
// channel has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dispatch queues one inbound message. Messages are handled strictly in the
// order they are dispatched.
func (s *Session) Dispatch(ctx context.Context, msg protocol.ClientMessage) error {
	return s.enqueue(ctx, inboundMessage{msg: msg})
}

// Reject reports an inbound frame that could not be decoded. It is emitted
// as an error event in order with the other messages and leaves the mode
// unchanged.
func (s *Session) Reject(ctx context.Context, err error) error {
	return s.enqueue(ctx, inboundMessage{reject: err})
}

// Close cancels any in-flight turn and stops the session. It does not wait;
// use Done for that.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *Session) enqueue(ctx context.Context, m inboundMessage) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbound <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// loop owns the mode machine, the audio buffer and the active turn.
type loop struct {
	s       *Session
	machine turn.Machine
	buf     turn.Buffer
	active  *activeTurn
	tokens  uint64
}

func (s *Session) run() {
	l := &loop{s: s}
	defer func() {
		l.abandon()
		s.Close()
		if s.onExit != nil {
			s.onExit(s)
		}
		close(s.outbound)
		close(s.done)
	}()

	l.emit(turn.ModeChanged(turn.ModeIdle))
	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.inbound:
			s.touch()
			if !l.handle(in) {
				return
			}
		case tm := <-s.turns:
			l.handleTurn(tm)
		}
	}
}

// handle processes one inbound message and reports whether the session
// should keep running.
func (l *loop) handle(in inboundMessage) bool {
	if in.reject != nil {
		l.s.logger.Debug("rejected inbound frame", zap.Error(in.reject))
		l.emit(turn.Failure("", "", in.reject))
		return true
	}

	switch in.msg.Type {
	case protocol.TypeStreamStart:
		if err := l.machine.Can(turn.TriggerStreamStart); err != nil {
			l.protocolError(err)
			return true
		}
		if err := l.buf.Open(); err != nil {
			l.protocolError(err)
			return true
		}
		l.fire(turn.TriggerStreamStart)
	case protocol.TypeAudioChunk:
		if l.machine.Mode() != turn.ModeListening {
			l.protocolError(&turn.ProtocolError{Event: string(in.msg.Type), Mode: l.machine.Mode()})
			return true
		}
		if err := l.buf.Append(in.msg.Audio); err != nil {
			l.protocolError(err)
		}
	case protocol.TypeStreamEnd:
		if err := l.machine.Can(turn.TriggerStreamEnd); err != nil {
			l.protocolError(err)
			return true
		}
		audio, err := l.buf.Close()
		if err != nil {
			l.protocolError(err)
			return true
		}
		l.fire(turn.TriggerStreamEnd)
		l.start(audio)
	case protocol.TypeInterrupt:
		l.interrupt()
	case protocol.TypeDisconnect:
		l.interrupt()
		l.s.logger.Info("session disconnect requested")
		return false
	default:
		l.protocolError(&turn.ProtocolError{Event: string(in.msg.Type), Reason: "unsupported event"})
	}
	return true
}

func (l *loop) start(audio []byte) {
	s := l.s
	l.tokens++
	ctx, cancel := context.WithCancel(s.ctx)
	at := &activeTurn{
		token:   l.tokens,
		id:      uuid.NewString(),
		cancel:  cancel,
		audioIn: len(audio),
		started: time.Now().UTC(),
	}
	l.active = at

	go func() {
		post := func(m turnMessage) bool {
			select {
			case s.turns <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}
		res, err := s.controller.Run(ctx, at.id, audio, func(ev turn.Event) {
			post(turnMessage{token: at.token, event: ev})
		})
		if !post(turnMessage{token: at.token, done: true, result: res, err: err}) && err == nil {
			s.logger.Debug("discarding turn result after cancellation", zap.String("turn_id", at.id))
		}
	}()
}

func (l *loop) handleTurn(tm turnMessage) {
	if l.active == nil || tm.token != l.active.token {
		// Late output from a turn that was interrupted.
		return
	}
	if !tm.done {
		l.emit(tm.event)
		return
	}

	at := l.active
	l.active = nil
	at.cancel()

	summary := l.summary(at, OutcomeCompleted)
	summary.Timings = tm.result.Timings
	summary.AudioOutBytes = len(tm.result.Audio)
	if tm.err != nil {
		summary.Outcome = OutcomeFailed
		summary.FailedStage = failedStage(tm.err)
		l.s.logger.Warn("turn failed", zap.String("turn_id", at.id), zap.Error(tm.err))
	}
	l.fire(turn.TriggerTurnDone)
	l.report(summary)
}

func (l *loop) interrupt() {
	l.abandon()
	l.buf.Discard()
	l.fire(turn.TriggerInterrupt)
}

// abandon cancels the active turn, if any, and records it as interrupted.
func (l *loop) abandon() {
	if l.active == nil {
		return
	}
	at := l.active
	l.active = nil
	at.cancel()
	l.s.logger.Debug("turn interrupted", zap.String("turn_id", at.id))
	l.report(l.summary(at, OutcomeInterrupted))
}

func (l *loop) summary(at *activeTurn, outcome Outcome) TurnSummary {
	return TurnSummary{
		SessionID:    l.s.id,
		SessionKey:   l.s.key,
		TurnID:       at.id,
		Outcome:      outcome,
		AudioInBytes: at.audioIn,
		StartedAt:    at.started,
		FinishedAt:   time.Now().UTC(),
	}
}

func (l *loop) report(summary TurnSummary) {
	if l.s.onTurn != nil {
		l.s.onTurn(summary)
	}
}

func (l *loop) fire(t turn.Trigger) {
	mode, err := l.machine.Fire(t)
	if err != nil {
		l.protocolError(err)
		return
	}
	l.s.mode.Store(mode)
	l.emit(turn.ModeChanged(mode))
}

func (l *loop) protocolError(err error) {
	l.s.logger.Debug("protocol error", zap.String("mode", string(l.machine.Mode())), zap.Error(err))
	l.emit(turn.Failure("", "", err))
}

func (l *loop) emit(ev turn.Event) {
	select {
	case l.s.outbound <- ev:
		l.s.touch()
	case <-l.s.ctx.Done():
	}
}

func failedStage(err error) voice.Stage {
	var perr *voice.ProviderError
	if errors.As(err, &perr) {
		return perr.Stage
	}
	if turn.IsValidationError(err) {
		return voice.StageTranscribe
	}
	return ""
}
