// Package memory provides the bounded per-conversation window of prior
// exchanges that is rendered into every prompt.
package memory

import (
	"context"
	"time"
)

// DefaultWindow is the number of exchanges kept per conversation when
// no explicit size is configured.
const DefaultWindow = 5

// ConversationID partitions all memory state.
type ConversationID string

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Stats describes a single conversation's memory.
type Stats struct {
	Turns     int       `json:"turns"`     // turns currently retained
	Exchanges int       `json:"exchanges"` // exchanges currently retained
	Total     int       `json:"total"`     // exchanges appended since the last clear
	Window    int       `json:"window"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Store is the contract shared by the memory backends. Operations on
// one conversation are serialized; different conversations never
// block each other. History of an unknown id is empty, not an error.
type Store interface {
	Append(ctx context.Context, id ConversationID, turns ...Turn) error
	History(ctx context.Context, id ConversationID) ([]Turn, error)
	Clear(ctx context.Context, id ConversationID) error
	Stats(ctx context.Context, id ConversationID) (Stats, error)
}

// Exchange returns the two turns recorded for one answered question.
func Exchange(question, answer string) []Turn {
	return []Turn{
		{Role: RoleUser, Content: question},
		{Role: RoleAssistant, Content: answer},
	}
}

// startsExchange reports whether t opens a new exchange given whether
// any exchange is already open.
func startsExchange(t Turn, open bool) bool {
	return t.Role == RoleUser || !open
}
