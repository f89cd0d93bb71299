package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicepipeline/internal/protocol"
	"github.com/ent0n29/voicepipeline/internal/turn"
)

const defaultInboundQueue = 64

// Hooks observe session lifecycle. They run on session goroutines and must
// not block.
type Hooks struct {
	OnSessionCreated func(*Session)
	OnSessionEnded   func(*Session)
	OnTurnFinished   func(TurnSummary)
}

type Options struct {
	Controller        *turn.Controller
	Logger            *zap.Logger
	InactivityTimeout time.Duration
	// InboundQueue is the number of inbound messages buffered per session.
	InboundQueue int
	Hooks        Hooks
}

// Manager is the registry of live sessions. It routes messages and tears
// sessions down but never touches their turn state.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	byID              map[string]map[string]*Session
	controller        *turn.Controller
	logger            *zap.Logger
	inactivityTimeout time.Duration
	queueSize         int
	hooks             Hooks

	base   context.Context
	cancel context.CancelFunc
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.InactivityTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	queue := opts.InboundQueue
	if queue <= 0 {
		queue = defaultInboundQueue
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:          make(map[string]*Session),
		byID:              make(map[string]map[string]*Session),
		controller:        opts.Controller,
		logger:            logger.With(zap.String("component", "session_manager")),
		inactivityTimeout: timeout,
		queueSize:         queue,
		hooks:             opts.Hooks,
		base:              base,
		cancel:            cancel,
	}
}

// Create starts a new session. A second Create with the same id yields an
// independent session; use Key to tell them apart. The session owns
// outbound and closes it when it ends.
func (m *Manager) Create(id string, outbound chan<- turn.Event) *Session {
	s := newSession(m.base, sessionConfig{
		id:         id,
		controller: m.controller,
		logger:     m.logger,
		outbound:   outbound,
		onTurn:     m.hooks.OnTurnFinished,
		onExit:     m.remove,
		queueSize:  m.queueSize,
	})

	m.mu.Lock()
	m.sessions[s.key] = s
	peers, ok := m.byID[id]
	if !ok {
		peers = make(map[string]*Session)
		m.byID[id] = peers
	}
	peers[s.key] = s
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", id), zap.String("session_key", s.key))
	if m.hooks.OnSessionCreated != nil {
		m.hooks.OnSessionCreated(s)
	}
	go s.run()
	return s
}

func (m *Manager) Get(key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Lookup returns every live session created with id.
func (m *Manager) Lookup(id string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := m.byID[id]
	out := make([]*Session, 0, len(peers))
	for _, s := range peers {
		out = append(out, s)
	}
	return out
}

func (m *Manager) Dispatch(ctx context.Context, key string, msg protocol.ClientMessage) error {
	s, err := m.Get(key)
	if err != nil {
		return err
	}
	return s.Dispatch(ctx, msg)
}

// Destroy cancels the session's in-flight turn, stops it and waits for its
// goroutine to exit.
func (m *Manager) Destroy(key string) error {
	s, err := m.Get(key)
	if err != nil {
		return err
	}
	s.Close()
	<-s.Done()
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// Shutdown stops every session and waits for them until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) expireInactive() {
	cutoff := time.Now().Add(-m.inactivityTimeout)
	var expired []*Session

	m.mu.RLock()
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		m.logger.Info("session expired", zap.String("session_id", s.id), zap.String("session_key", s.key))
		s.Close()
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.key]
	delete(m.sessions, s.key)
	if peers := m.byID[s.id]; peers != nil {
		delete(peers, s.key)
		if len(peers) == 0 {
			delete(m.byID, s.id)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.logger.Info("session ended", zap.String("session_id", s.id), zap.String("session_key", s.key))
	if m.hooks.OnSessionEnded != nil {
		m.hooks.OnSessionEnded(s)
	}
}
