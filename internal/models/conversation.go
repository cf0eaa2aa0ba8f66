package models

import "time"

// Conversation is one chat thread owned by a user. Stored in the
// relational message store.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one raw conversation turn in the message store. Messages for
// a conversation are strictly ordered by CreatedAt.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnRequest is the inbound payload for a new chat turn.
type TurnRequest struct {
	Content      string `json:"content"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// TurnState tracks where a turn is in the per-turn pipeline.
type TurnState string

// Turn pipeline states. FAILED is reachable only from GENERATING;
// persistence and extraction failures never fail a delivered turn.
const (
	TurnReceived         TurnState = "RECEIVED"
	TurnContextBuilt     TurnState = "CONTEXT_BUILT"
	TurnGenerating       TurnState = "GENERATING"
	TurnPersisted        TurnState = "PERSISTED"
	TurnExtractionQueued TurnState = "EXTRACTION_QUEUED"
	TurnDone             TurnState = "DONE"
	TurnFailed           TurnState = "FAILED"
)
