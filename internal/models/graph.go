package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GraphNode is a typed node in the per-user knowledge graph. Identity is
// per-user: a node is unique by (userId, type, canonicalKey), where
// canonicalKey is the lower-cased, whitespace-normalized label. Nodes are
// never deleted; superseded nodes are flagged instead.
type GraphNode struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"userId" json:"user_id"`

	Type           string `bson:"type" json:"type"`
	CanonicalLabel string `bson:"canonicalLabel" json:"canonical_label"`
	CanonicalKey   string `bson:"canonicalKey" json:"-"` // normalized dedup key

	Attributes map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`

	MentionCount     int64     `bson:"mentionCount" json:"mention_count"`
	FirstSeenAt      time.Time `bson:"firstSeenAt" json:"first_seen_at"`
	LastReinforcedAt time.Time `bson:"lastReinforcedAt" json:"last_reinforced_at"`

	Superseded bool `bson:"superseded,omitempty" json:"superseded,omitempty"`
}

// Graph node types
const (
	NodeTypeEntity  = "Entity"
	NodeTypeConcept = "Concept"
	NodeTypeBelief  = "Belief"
	NodeTypeValue   = "Value"
	NodeTypePattern = "Pattern"
	NodeTypeTrait   = "Trait"
	NodeTypeGoal    = "Goal"
)

// NodeTypes lists all valid graph node types.
var NodeTypes = []string{
	NodeTypeEntity,
	NodeTypeConcept,
	NodeTypeBelief,
	NodeTypeValue,
	NodeTypePattern,
	NodeTypeTrait,
	NodeTypeGoal,
}

// IsValidNodeType reports whether t is a known graph node type.
func IsValidNodeType(t string) bool {
	for _, nt := range NodeTypes {
		if nt == t {
			return true
		}
	}
	return false
}

// GraphEdge is a typed relation between two nodes of the same user's graph.
// An edge is unique by (sourceId, targetId, relation); repeated evidence
// increases Weight rather than creating duplicate edges.
type GraphEdge struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID   string             `bson:"userId" json:"user_id"`
	SourceID primitive.ObjectID `bson:"sourceId" json:"source_id"`
	TargetID primitive.ObjectID `bson:"targetId" json:"target_id"`

	Relation    string  `bson:"relation" json:"relation"`
	Weight      float64 `bson:"weight" json:"weight"`
	EvidenceRef string  `bson:"evidenceRef,omitempty" json:"evidence_ref,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// Graph edge relations
const (
	RelationKnowsAbout  = "KNOWS_ABOUT"
	RelationHasBelief   = "HAS_BELIEF"
	RelationHasValue    = "HAS_VALUE"
	RelationHasPattern  = "HAS_PATTERN"
	RelationHasTrait    = "HAS_TRAIT"
	RelationRelatedTo   = "RELATED_TO"
	RelationContradicts = "CONTRADICTS"
	RelationSupports    = "SUPPORTS"
)

// EdgeRelations lists all valid graph edge relations.
var EdgeRelations = []string{
	RelationKnowsAbout,
	RelationHasBelief,
	RelationHasValue,
	RelationHasPattern,
	RelationHasTrait,
	RelationRelatedTo,
	RelationContradicts,
	RelationSupports,
}

// IsValidRelation reports whether r is a known edge relation.
func IsValidRelation(r string) bool {
	for _, er := range EdgeRelations {
		if er == r {
			return true
		}
	}
	return false
}

// CandidateNode is one node proposed by an extraction pass, before merge.
type CandidateNode struct {
	Type       string            `json:"type"`
	Label      string            `json:"label"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CandidateEdge is one edge proposed by an extraction pass. Source and
// target reference candidate nodes by label (resolved during merge).
type CandidateEdge struct {
	SourceLabel string  `json:"source_label"`
	SourceType  string  `json:"source_type"`
	TargetLabel string  `json:"target_label"`
	TargetType  string  `json:"target_type"`
	Relation    string  `json:"relation"`
	Weight      float64 `json:"weight,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
}

// GraphDelta is the batch of candidate node/edge merges produced by one
// extraction pass. Deltas are applied atomically per user: either every
// merge succeeds or none are persisted.
type GraphDelta struct {
	Nodes []CandidateNode `json:"nodes"`
	Edges []CandidateEdge `json:"edges"`
}

// Subgraph is the result of a neighborhood query.
type Subgraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
