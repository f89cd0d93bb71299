package journal

import (
	"context"
	"time"
)

// Record is the outcome of one finished turn. It holds timings and sizes
// only; transcript and reply text are never stored.
type Record struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	TurnID        string    `json:"turn_id"`
	Outcome       string    `json:"outcome"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	AudioInBytes  int       `json:"audio_in_bytes"`
	AudioOutBytes int       `json:"audio_out_bytes"`
	TranscribeMS  int64     `json:"transcribe_ms"`
	GenerateMS    int64     `json:"generate_ms"`
	SynthesizeMS  int64     `json:"synthesize_ms"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Store persists turn records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	// Recent returns up to limit records for a session, newest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}

const defaultRecentLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}
