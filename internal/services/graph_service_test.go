package services

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"introspect/internal/models"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  string
	}{
		{name: "lowercases", label: "Rock Climbing", want: "rock climbing"},
		{name: "collapses whitespace", label: "  rock   climbing \t", want: "rock climbing"},
		{name: "already canonical", label: "rust", want: "rust"},
		{name: "mixed", label: " Values  HONESTY ", want: "values honesty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalKey(tt.label); got != tt.want {
				t.Errorf("CanonicalKey(%q) = %q, want %q", tt.label, got, tt.want)
			}
		})
	}
}

func existingNode(userID, nodeType, label string) models.GraphNode {
	return models.GraphNode{
		ID:             primitive.NewObjectID(),
		UserID:         userID,
		Type:           nodeType,
		CanonicalLabel: label,
		CanonicalKey:   CanonicalKey(label),
		MentionCount:   2,
	}
}

func snapshotOf(nodes ...models.GraphNode) map[string]models.GraphNode {
	m := make(map[string]models.GraphNode)
	for _, n := range nodes {
		m[nodeKey(n.Type, n.CanonicalKey)] = n
	}
	return m
}

func TestPlanDeltaNewNodes(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "Rust"},
			{Type: models.NodeTypeConcept, Label: "systems programming"},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf())

	if len(plan.insertNodes) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(plan.insertNodes))
	}
	if len(plan.reinforce) != 0 {
		t.Errorf("expected no reinforcements, got %d", len(plan.reinforce))
	}
	if plan.insertNodes[0].CanonicalKey != "rust" {
		t.Errorf("expected canonical key %q, got %q", "rust", plan.insertNodes[0].CanonicalKey)
	}
	if plan.insertNodes[0].MentionCount != 1 {
		t.Errorf("new node mention count = %d, want 1", plan.insertNodes[0].MentionCount)
	}
}

func TestPlanDeltaReinforcesExisting(t *testing.T) {
	rust := existingNode("u1", models.NodeTypeEntity, "rust")
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			// Same canonical identity, different surface form
			{Type: models.NodeTypeEntity, Label: "  RUST "},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(rust))

	if len(plan.insertNodes) != 0 {
		t.Fatalf("expected no inserts, got %d", len(plan.insertNodes))
	}
	if len(plan.reinforce) != 1 || plan.reinforce[0].id != rust.ID {
		t.Fatalf("expected reinforcement of %s, got %v", rust.ID.Hex(), plan.reinforce)
	}
}

func TestPlanDeltaUnionsAttributesOnReinforce(t *testing.T) {
	hiking := existingNode("u1", models.NodeTypeEntity, "hiking")
	hiking.Attributes = map[string]string{"location": "alps"}

	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "hiking", Attributes: map[string]string{"frequency": "weekly"}},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(hiking))

	if len(plan.reinforce) != 1 {
		t.Fatalf("expected 1 reinforcement, got %d", len(plan.reinforce))
	}
	got := plan.reinforce[0].attributes
	if got == nil {
		t.Fatal("candidate attributes were dropped from the reinforcement")
	}
	if got["location"] != "alps" || got["frequency"] != "weekly" {
		t.Errorf("attribute union = %v, want location=alps frequency=weekly", got)
	}
	if hiking.Attributes["frequency"] != "" {
		t.Error("union must not mutate the snapshot node")
	}
}

func TestPlanDeltaAttributeUnionCandidateWins(t *testing.T) {
	hiking := existingNode("u1", models.NodeTypeEntity, "hiking")
	hiking.Attributes = map[string]string{"frequency": "monthly"}

	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "hiking", Attributes: map[string]string{"frequency": "weekly"}},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(hiking))

	if got := plan.reinforce[0].attributes; got["frequency"] != "weekly" {
		t.Errorf("colliding key = %q, want the candidate value %q", got["frequency"], "weekly")
	}
}

func TestPlanDeltaNoAttributeWriteWhenUnchanged(t *testing.T) {
	hiking := existingNode("u1", models.NodeTypeEntity, "hiking")
	hiking.Attributes = map[string]string{"location": "alps"}

	tests := []struct {
		name  string
		attrs map[string]string
	}{
		{name: "no candidate attributes", attrs: nil},
		{name: "identical candidate attributes", attrs: map[string]string{"location": "alps"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := models.GraphDelta{
				Nodes: []models.CandidateNode{
					{Type: models.NodeTypeEntity, Label: "hiking", Attributes: tt.attrs},
				},
			}
			plan := planDelta("u1", time.Now(), delta, snapshotOf(hiking))
			if plan.reinforce[0].attributes != nil {
				t.Errorf("expected nil attributes (no write), got %v", plan.reinforce[0].attributes)
			}
		})
	}
}

func TestPlanDeltaDuplicateCandidateAttributesFold(t *testing.T) {
	hiking := existingNode("u1", models.NodeTypeEntity, "hiking")
	hiking.Attributes = map[string]string{"location": "alps"}

	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "hiking", Attributes: map[string]string{"frequency": "weekly"}},
			{Type: models.NodeTypeEntity, Label: "Hiking", Attributes: map[string]string{"season": "summer"}},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(hiking))

	if len(plan.reinforce) != 1 {
		t.Fatalf("expected duplicates to collapse to 1 reinforcement, got %d", len(plan.reinforce))
	}
	got := plan.reinforce[0].attributes
	for k, want := range map[string]string{"location": "alps", "frequency": "weekly", "season": "summer"} {
		if got[k] != want {
			t.Errorf("attributes[%q] = %q, want %q", k, got[k], want)
		}
	}
}

func TestPlanDeltaIsIdempotentOnIdentity(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "chess"},
		},
	}

	first := planDelta("u1", time.Now(), delta, snapshotOf())
	if len(first.insertNodes) != 1 {
		t.Fatalf("first apply: expected 1 insert, got %d", len(first.insertNodes))
	}

	// Re-planning against a snapshot containing the result must not insert again
	second := planDelta("u1", time.Now(), delta, snapshotOf(first.insertNodes[0]))
	if len(second.insertNodes) != 0 {
		t.Errorf("second apply: expected 0 inserts, got %d", len(second.insertNodes))
	}
	if len(second.reinforce) != 1 {
		t.Errorf("second apply: expected 1 reinforcement, got %d", len(second.reinforce))
	}
}

func TestPlanDeltaCollapsesDuplicateCandidates(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "Go"},
			{Type: models.NodeTypeEntity, Label: "go"},
			{Type: models.NodeTypeEntity, Label: " GO "},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf())
	if len(plan.insertNodes) != 1 {
		t.Fatalf("expected duplicates to collapse to 1 insert, got %d", len(plan.insertNodes))
	}
}

func TestPlanDeltaSameLabelDifferentTypes(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "running"},
			{Type: models.NodeTypePattern, Label: "running"},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf())
	if len(plan.insertNodes) != 2 {
		t.Fatalf("same label under different types must stay distinct, got %d inserts", len(plan.insertNodes))
	}
}

func TestPlanDeltaEdgeResolution(t *testing.T) {
	user := existingNode("u1", models.NodeTypeEntity, "user")
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "rust"},
		},
		Edges: []models.CandidateEdge{
			{
				SourceLabel: "user", SourceType: models.NodeTypeEntity,
				TargetLabel: "rust", TargetType: models.NodeTypeEntity,
				Relation: models.RelationKnowsAbout,
			},
			{
				// Target never extracted and not in the graph
				SourceLabel: "user", SourceType: models.NodeTypeEntity,
				TargetLabel: "haskell", TargetType: models.NodeTypeEntity,
				Relation: models.RelationKnowsAbout,
			},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(user))

	if len(plan.edges) != 1 {
		t.Fatalf("expected 1 resolved edge, got %d", len(plan.edges))
	}
	if plan.skipped != 1 {
		t.Errorf("expected 1 skipped edge, got %d", plan.skipped)
	}
	edge := plan.edges[0]
	if edge.SourceID != user.ID {
		t.Errorf("edge source should resolve to the existing node")
	}
	if edge.TargetID != plan.insertNodes[0].ID {
		t.Errorf("edge target should resolve to the freshly planned node")
	}
	if edge.Weight != 1 {
		t.Errorf("default edge weight = %v, want 1", edge.Weight)
	}
}

func TestPlanDeltaDeduplicatesEdges(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "user"},
			{Type: models.NodeTypeEntity, Label: "chess"},
		},
		Edges: []models.CandidateEdge{
			{SourceLabel: "user", SourceType: models.NodeTypeEntity, TargetLabel: "chess", TargetType: models.NodeTypeEntity, Relation: models.RelationKnowsAbout, Weight: 1},
			{SourceLabel: "user", SourceType: models.NodeTypeEntity, TargetLabel: "chess", TargetType: models.NodeTypeEntity, Relation: models.RelationKnowsAbout, Weight: 2},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf())
	if len(plan.edges) != 1 {
		t.Fatalf("expected duplicate edges to merge, got %d", len(plan.edges))
	}
	if plan.edges[0].Weight != 3 {
		t.Errorf("merged edge weight = %v, want 3", plan.edges[0].Weight)
	}
}

func TestPlanDeltaDropsSelfEdges(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "chess"},
		},
		Edges: []models.CandidateEdge{
			{SourceLabel: "chess", SourceType: models.NodeTypeEntity, TargetLabel: "CHESS", TargetType: models.NodeTypeEntity, Relation: models.RelationRelatedTo},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf())
	if len(plan.edges) != 0 {
		t.Fatalf("self-referential edge must be dropped, got %d edges", len(plan.edges))
	}
}

func TestPlanDeltaContradictionEdge(t *testing.T) {
	existing := existingNode("u1", models.NodeTypeBelief, "likes crowds")
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeBelief, Label: "dislikes crowds"},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(existing))

	if len(plan.edges) != 1 {
		t.Fatalf("expected a contradiction edge, got %d edges", len(plan.edges))
	}
	if plan.edges[0].Relation != models.RelationContradicts {
		t.Errorf("edge relation = %s, want %s", plan.edges[0].Relation, models.RelationContradicts)
	}
	if plan.edges[0].SourceID != plan.insertNodes[0].ID || plan.edges[0].TargetID != existing.ID {
		t.Errorf("contradiction edge should link the new belief to the opposing one")
	}
}

func TestPlanDeltaNoContradictionAcrossTypes(t *testing.T) {
	// Opposing labels but one is an Entity - no contradiction applies
	existing := existingNode("u1", models.NodeTypeEntity, "likes crowds")
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeBelief, Label: "dislikes crowds"},
		},
	}

	plan := planDelta("u1", time.Now(), delta, snapshotOf(existing))
	if len(plan.edges) != 0 {
		t.Fatalf("expected no contradiction across node types, got %d edges", len(plan.edges))
	}
}

func TestLabelsOppose(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{name: "negation prefix", a: "likes hiking", b: "does not like hiking", want: false}, // different verb forms don't align
		{name: "not prefix", a: "trusts people", b: "not trusts people", want: true},
		{name: "never prefix", a: "never eats meat", b: "eats meat", want: true},
		{name: "antonym verbs", a: "likes crowds", b: "dislikes crowds", want: true},
		{name: "loves hates", a: "loves winter", b: "hates winter", want: true},
		{name: "double negation cancels", a: "never not trusts people", b: "trusts people", want: false},
		{name: "identical", a: "likes hiking", b: "likes hiking", want: false},
		{name: "different topics", a: "likes hiking", b: "dislikes swimming", want: false},
		{name: "unrelated", a: "works remotely", b: "plays chess", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LabelsOppose(tt.a, tt.b); got != tt.want {
				t.Errorf("LabelsOppose(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRenderFact(t *testing.T) {
	got := RenderFact("user", models.RelationKnowsAbout, "rust")
	if got != "user knows about rust" {
		t.Errorf("RenderFact = %q, want %q", got, "user knows about rust")
	}
}

func TestSanitizeDelta(t *testing.T) {
	delta := models.GraphDelta{
		Nodes: []models.CandidateNode{
			{Type: models.NodeTypeEntity, Label: "chess"},
			{Type: "Gadget", Label: "bad type"},
			{Type: models.NodeTypeEntity, Label: "   "},
		},
		Edges: []models.CandidateEdge{
			{SourceLabel: "a", SourceType: models.NodeTypeEntity, TargetLabel: "b", TargetType: models.NodeTypeEntity, Relation: "LIKES"},
			{SourceLabel: "a", SourceType: models.NodeTypeEntity, TargetLabel: "b", TargetType: models.NodeTypeEntity, Relation: models.RelationRelatedTo},
		},
	}

	clean := sanitizeDelta(delta)
	if len(clean.Nodes) != 1 {
		t.Errorf("expected 1 node after sanitize, got %d", len(clean.Nodes))
	}
	if len(clean.Edges) != 1 {
		t.Errorf("expected 1 edge after sanitize, got %d", len(clean.Edges))
	}
}

func TestMentionedNodes(t *testing.T) {
	nodes := []models.GraphNode{
		{CanonicalKey: "rust"},
		{CanonicalKey: "likes hiking"},
		{CanonicalKey: "sister"},
	}

	tests := []struct {
		name string
		turn string
		want []string
	}{
		{name: "single word", turn: "I spent the weekend learning Rust.", want: []string{"rust"}},
		{name: "multi word phrase", turn: "She still likes hiking on Sundays", want: []string{"likes hiking"}},
		{name: "word boundary", turn: "My sister-in-law visited", want: []string{"sister"}},
		{name: "no substring match", turn: "I feel rusty today", want: nil},
		{name: "multiple mentions", turn: "Told my sister about Rust", want: []string{"rust", "sister"}},
		{name: "empty turn", turn: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := MentionedNodes(tt.turn, nodes)
			var keys []string
			for _, n := range matched {
				keys = append(keys, n.CanonicalKey)
			}
			if len(keys) != len(tt.want) {
				t.Fatalf("MentionedNodes(%q) = %v, want %v", tt.turn, keys, tt.want)
			}
			for i := range keys {
				if keys[i] != tt.want[i] {
					t.Errorf("MentionedNodes(%q)[%d] = %q, want %q", tt.turn, i, keys[i], tt.want[i])
				}
			}
		})
	}
}

func TestTopMentionedNodes(t *testing.T) {
	nodes := []models.GraphNode{
		{CanonicalKey: "c", MentionCount: 1},
		{CanonicalKey: "a", MentionCount: 5},
		{CanonicalKey: "b", MentionCount: 5},
		{CanonicalKey: "d", MentionCount: 3},
	}

	capped := topMentionedNodes(nodes, 3)
	if len(capped) != 3 {
		t.Fatalf("expected 3 nodes after cap, got %d", len(capped))
	}
	want := []string{"a", "b", "d"}
	for i, w := range want {
		if capped[i].CanonicalKey != w {
			t.Errorf("capped[%d] = %q, want %q", i, capped[i].CanonicalKey, w)
		}
	}
}
