package session

import (
	"time"

	"github.com/ent0n29/voicepipeline/internal/turn"
)

// Info is a point-in-time view of a session for listing endpoints.
type Info struct {
	SessionID      string    `json:"session_id"`
	SessionKey     string    `json:"session_key"`
	Mode           turn.Mode `json:"mode"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *Session) Info() Info {
	return Info{
		SessionID:      s.id,
		SessionKey:     s.key,
		Mode:           s.Mode(),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.LastActivity(),
	}
}
