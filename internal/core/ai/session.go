package ai

import (
	"time"

	"github.com/google/uuid"
)

// Session is the run-scoped correlation context threaded through every AI
// call in a collection run. A stateful provider may use it to reuse
// server-side context across calls; stateless providers ignore it with no
// behavioral difference.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	// lastResponseID chains Responses API calls within one run when the
	// provider stores context server-side.
	lastResponseID string
}

func NewSession() *Session {
	return &Session{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
	}
}
