package services

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"introspect/internal/models"
)

func rawDelta() models.ExtractedDeltaFromLLM {
	var raw models.ExtractedDeltaFromLLM
	raw.Nodes = append(raw.Nodes, struct {
		Type       string            `json:"type"`
		Label      string            `json:"label"`
		Attributes map[string]string `json:"attributes,omitempty"`
	}{Type: models.NodeTypeEntity, Label: "rust"})
	raw.Edges = append(raw.Edges, struct {
		SourceLabel string  `json:"source_label"`
		SourceType  string  `json:"source_type"`
		TargetLabel string  `json:"target_label"`
		TargetType  string  `json:"target_type"`
		Relation    string  `json:"relation"`
		Weight      float64 `json:"weight,omitempty"`
		Evidence    string  `json:"evidence,omitempty"`
	}{SourceLabel: "rust", SourceType: models.NodeTypeEntity, TargetLabel: "rust", TargetType: models.NodeTypeEntity, Relation: models.RelationRelatedTo})
	return raw
}

func TestValidateExtractionAccepts(t *testing.T) {
	raw := rawDelta()

	delta, valid := validateExtraction(raw)
	if !valid {
		t.Fatal("well-formed output should validate")
	}
	if len(delta.Nodes) != 1 || len(delta.Edges) != 1 {
		t.Errorf("delta sizes = %d nodes, %d edges; want 1, 1", len(delta.Nodes), len(delta.Edges))
	}
}

func TestValidateExtractionRejects(t *testing.T) {
	t.Run("unknown node type", func(t *testing.T) {
		raw := rawDelta()
		raw.Nodes[0].Type = "Feeling"
		if _, valid := validateExtraction(raw); valid {
			t.Error("unknown node type must invalidate the whole delta")
		}
	})

	t.Run("blank label", func(t *testing.T) {
		raw := rawDelta()
		raw.Nodes[0].Label = "  "
		if _, valid := validateExtraction(raw); valid {
			t.Error("blank label must invalidate the delta")
		}
	})

	t.Run("unknown relation", func(t *testing.T) {
		raw := rawDelta()
		raw.Edges[0].Relation = "ENJOYS"
		if _, valid := validateExtraction(raw); valid {
			t.Error("unknown relation must invalidate the delta")
		}
	})

	t.Run("dangling edge endpoint", func(t *testing.T) {
		raw := rawDelta()
		raw.Edges[0].TargetLabel = "haskell"
		if _, valid := validateExtraction(raw); valid {
			t.Error("edge referencing an unextracted node must invalidate the delta")
		}
	})

	t.Run("label matching is canonical", func(t *testing.T) {
		raw := rawDelta()
		raw.Edges[0].TargetLabel = "  RUST "
		if _, valid := validateExtraction(raw); !valid {
			t.Error("edge labels should match nodes after canonicalization")
		}
	})
}

func TestValidateExtractionEmpty(t *testing.T) {
	delta, valid := validateExtraction(models.ExtractedDeltaFromLLM{})
	if !valid {
		t.Fatal("empty output is valid (nothing durable in the turn)")
	}
	if len(delta.Nodes) != 0 || len(delta.Edges) != 0 {
		t.Error("empty output should produce an empty delta")
	}
}

func TestLabelsShareTopic(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{name: "shared noun", a: "likes working alone", b: "dislikes working in teams", want: true},
		{name: "only stopwords shared", a: "likes the sea", b: "hates the mountains", want: false},
		{name: "no overlap", a: "plays chess", b: "runs marathons", want: false},
		{name: "same topic different verbs", a: "values honesty", b: "avoids honesty debates", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := labelsShareTopic(tt.a, tt.b); got != tt.want {
				t.Errorf("labelsShareTopic(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestClaimableFilter(t *testing.T) {
	t.Run("no exclusions", func(t *testing.T) {
		filter := claimableFilter(nil)
		if filter["status"] != models.JobStatusPending {
			t.Errorf("status filter = %v, want %q", filter["status"], models.JobStatusPending)
		}
		if _, ok := filter["userId"]; ok {
			t.Error("empty exclusion list must not constrain userId")
		}
	})

	t.Run("excludes in-flight users", func(t *testing.T) {
		filter := claimableFilter([]string{"u1", "u2"})
		clause, ok := filter["userId"].(bson.M)
		if !ok {
			t.Fatalf("userId clause missing: %v", filter)
		}
		excluded, ok := clause["$nin"].([]string)
		if !ok || len(excluded) != 2 {
			t.Fatalf("$nin = %v, want the two excluded users", clause["$nin"])
		}
	})
}
