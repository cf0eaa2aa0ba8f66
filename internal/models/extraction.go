package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ExtractionJob is one queued knowledge extraction for a (user message,
// assistant message) turn pair. Jobs for the same user are processed in
// enqueue order so graph merges stay deterministic.
type ExtractionJob struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"userId" json:"user_id"`
	ConversationID string             `bson:"conversationId" json:"conversation_id"`

	UserText      string `bson:"userText" json:"-"`
	AssistantText string `bson:"assistantText" json:"-"`

	Status       string `bson:"status" json:"status"` // "pending", "processing", "completed", "failed"
	AttemptCount int    `bson:"attemptCount" json:"attempt_count"`
	ErrorMessage string `bson:"errorMessage,omitempty" json:"error_message,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt" json:"created_at"`
	ProcessedAt *time.Time `bson:"processedAt,omitempty" json:"processed_at,omitempty"`
}

// Extraction job statuses
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// MaxExtractionAttempts bounds retries for a single extraction job.
const MaxExtractionAttempts = 3

// ExtractedDeltaFromLLM is the structured output contract for the
// extraction call. It is validated against the node/edge vocabulary
// before any persistence; malformed output is retried once with a
// stricter instruction, then dropped.
type ExtractedDeltaFromLLM struct {
	Nodes []struct {
		Type       string            `json:"type"`
		Label      string            `json:"label"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"nodes"`
	Edges []struct {
		SourceLabel string  `json:"source_label"`
		SourceType  string  `json:"source_type"`
		TargetLabel string  `json:"target_label"`
		TargetType  string  `json:"target_type"`
		Relation    string  `json:"relation"`
		Weight      float64 `json:"weight,omitempty"`
		Evidence    string  `json:"evidence,omitempty"`
	} `json:"edges"`
}

// InsightFromLLM is the structured output contract for one cluster
// summarization call in the insight synthesizer.
type InsightFromLLM struct {
	Content  string `json:"content"`
	Evidence string `json:"evidence"`
}

// OppositionFromLLM is the structured output contract for the
// model-assisted contradiction check between two beliefs/values.
type OppositionFromLLM struct {
	Contradicts bool   `json:"contradicts"`
	Reasoning   string `json:"reasoning"`
}
