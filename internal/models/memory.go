package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryUnit represents one stored conversational turn with its embedding.
// Units are immutable once created; the embedding is computed asynchronously
// and attached exactly once.
type MemoryUnit struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"userId" json:"user_id"`
	ConversationID string             `bson:"conversationId" json:"conversation_id"`

	Role string `bson:"role" json:"role"` // "user" or "assistant"
	Text string `bson:"text" json:"text"`

	// Embedding vector, attached asynchronously. Nil until the embedding
	// service has processed the unit (or while the service is unavailable).
	Embedding []float64 `bson:"embedding,omitempty" json:"-"`

	// Optional short summary used in place of Text when the turn is long
	Summary string `bson:"summary,omitempty" json:"summary,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// MemoryUnit roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextFragment is one ranked piece of the context window handed to the
// generation call, tagged with the source it came from.
type ContextFragment struct {
	Source string  `json:"source"` // "recency", "graph", "semantic"
	Role   string  `json:"role,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score,omitempty"` // similarity score for semantic fragments
	Tokens int     `json:"tokens"`
}

// Context fragment sources, in priority order (highest first)
const (
	ContextSourceRecency  = "recency"
	ContextSourceGraph    = "graph"
	ContextSourceSemantic = "semantic"
)

// ContextBundle is the ordered set of context fragments assembled for one
// generation call. TotalTokens never exceeds the budget it was built with.
type ContextBundle struct {
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	Fragments      []ContextFragment `json:"fragments"`
	TotalTokens    int               `json:"total_tokens"`
	BudgetTokens   int               `json:"budget_tokens"`

	// Degraded is set when the embedding index was unavailable and the
	// bundle was built from recency + graph sources only.
	Degraded bool `json:"degraded,omitempty"`
}

// SimilarMemory pairs a memory unit with its cosine similarity to a query.
type SimilarMemory struct {
	Unit  MemoryUnit `json:"unit"`
	Score float64    `json:"score"`
}
