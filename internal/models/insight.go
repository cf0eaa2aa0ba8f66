package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Insight is a synthesized, confidence-scored natural-language statement
// about the user derived from graph evidence. Insight text is immutable
// once created; a later insight covering the same node cluster marks this
// one superseded rather than deleting it.
type Insight struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"userId" json:"user_id"`

	Type     string `bson:"type" json:"type"` // "belief", "value", "pattern", "trait", "goal", "challenge"
	Content  string `bson:"content" json:"content"`
	Evidence string `bson:"evidence,omitempty" json:"evidence,omitempty"`

	Confidence        float64              `bson:"confidence" json:"confidence"` // 0.0 - 1.0
	SupportingNodeIDs []primitive.ObjectID `bson:"supportingNodeIds" json:"supporting_node_ids"`

	// Fingerprint of the evidence this insight was synthesized from. A
	// cluster whose fingerprint matches an active insight is skipped on
	// later synthesis passes.
	EvidenceKey string `bson:"evidenceKey,omitempty" json:"-"`

	CreatedAt    time.Time           `bson:"createdAt" json:"created_at"`
	SupersededBy *primitive.ObjectID `bson:"supersededBy,omitempty" json:"superseded_by,omitempty"`
}

// Insight types
const (
	InsightTypeBelief    = "belief"
	InsightTypeValue     = "value"
	InsightTypePattern   = "pattern"
	InsightTypeTrait     = "trait"
	InsightTypeGoal      = "goal"
	InsightTypeChallenge = "challenge"
)

// UserSummary is a generated overview of a user built from their
// accumulated insights, organized into named sections.
type UserSummary struct {
	Summary    string            `json:"summary"`
	Categories map[string]string `json:"categories"`
}

// InsightGraphNode is a node in the insight visualization payload.
type InsightGraphNode struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Content string `json:"content,omitempty"`
}

// InsightGraphLink is a link in the insight visualization payload.
type InsightGraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
	Type   string `json:"type"`
}

// InsightGraph is the nodes/links payload consumed by graph views.
type InsightGraph struct {
	Nodes []InsightGraphNode `json:"nodes"`
	Links []InsightGraphLink `json:"links"`
}
