package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the latest records per session for local/dev use.
type InMemoryStore struct {
	mu         sync.RWMutex
	perSession int
	records    map[string][]Record
}

// NewInMemoryStore retains at most perSession records for each session;
// zero means 256.
func NewInMemoryStore(perSession int) *InMemoryStore {
	if perSession <= 0 {
		perSession = 256
	}
	return &InMemoryStore{perSession: perSession, records: make(map[string][]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[rec.SessionID], rec)
	if over := len(arr) - s.perSession; over > 0 {
		arr = append([]Record(nil), arr[over:]...)
	}
	s.records[rec.SessionID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Record, 0, limit)
	for i := len(arr) - 1; i >= len(arr)-limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
