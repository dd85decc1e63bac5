package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentloop-dev/agentloop/internal/llm"
)

// Session is one persisted conversation.
type Session struct {
	ID        string
	Name      string
	Provider  string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Accumulated turn metrics.
	Rounds       int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// New creates a session with a fresh id.
func New(name, provider, model string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Message is one stored conversation entry.
type Message struct {
	Role      llm.Role
	Parts     []llm.Part
	CreatedAt time.Time
}

// Summary is a session row without its messages, for listings.
type Summary struct {
	ID        string
	Name      string
	Provider  string
	Model     string
	UpdatedAt time.Time
	Rounds    int
}
