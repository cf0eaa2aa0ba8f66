package services

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"introspect/internal/models"
)

func seedNode(nodeType string, mentions int64) models.GraphNode {
	return models.GraphNode{
		ID:           primitive.NewObjectID(),
		Type:         nodeType,
		MentionCount: mentions,
	}
}

func edgeBetween(a, b models.GraphNode, relation string) models.GraphEdge {
	return models.GraphEdge{
		ID:       primitive.NewObjectID(),
		SourceID: a.ID,
		TargetID: b.ID,
		Relation: relation,
		Weight:   1,
	}
}

func TestClusterByAdjacency(t *testing.T) {
	a := seedNode(models.NodeTypeBelief, 3)
	b := seedNode(models.NodeTypeValue, 4)
	c := seedNode(models.NodeTypePattern, 5)
	lone := seedNode(models.NodeTypeTrait, 3)

	edges := []models.GraphEdge{
		edgeBetween(a, b, models.RelationRelatedTo),
		edgeBetween(b, c, models.RelationSupports),
	}

	clusters := clusterByAdjacency([]models.GraphNode{a, b, c, lone}, edges)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	sizes := map[int]int{}
	for _, cl := range clusters {
		sizes[len(cl.Nodes)]++
	}
	if sizes[3] != 1 || sizes[1] != 1 {
		t.Errorf("expected one cluster of 3 and one singleton, got sizes %v", sizes)
	}

	for _, cl := range clusters {
		if len(cl.Nodes) == 3 && len(cl.Edges) != 2 {
			t.Errorf("connected cluster should carry its 2 edges, got %d", len(cl.Edges))
		}
		if len(cl.Nodes) == 1 && len(cl.Edges) != 0 {
			t.Errorf("singleton cluster should have no edges, got %d", len(cl.Edges))
		}
	}
}

func TestClusterByAdjacencyIgnoresForeignEdges(t *testing.T) {
	a := seedNode(models.NodeTypeBelief, 3)
	b := seedNode(models.NodeTypeBelief, 3)
	outsider := seedNode(models.NodeTypeEntity, 1)

	// Edge to a node not in the seed set must not merge anything
	edges := []models.GraphEdge{edgeBetween(a, outsider, models.RelationRelatedTo)}

	clusters := clusterByAdjacency([]models.GraphNode{a, b}, edges)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 singleton clusters, got %d", len(clusters))
	}
}

func TestClusterInsightType(t *testing.T) {
	belief := seedNode(models.NodeTypeBelief, 10)
	value := seedNode(models.NodeTypeValue, 3)

	tests := []struct {
		name    string
		cluster nodeCluster
		want    string
	}{
		{
			name:    "dominant type wins",
			cluster: nodeCluster{Nodes: []models.GraphNode{belief, value}},
			want:    models.InsightTypeBelief,
		},
		{
			name: "contradiction forces challenge",
			cluster: nodeCluster{
				Nodes: []models.GraphNode{belief, value},
				Edges: []models.GraphEdge{edgeBetween(belief, value, models.RelationContradicts)},
			},
			want: models.InsightTypeChallenge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clusterInsightType(tt.cluster); got != tt.want {
				t.Errorf("clusterInsightType = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeConfidence(t *testing.T) {
	t.Run("bounded", func(t *testing.T) {
		if got := computeConfidence(0, 0, 1); got < 0.1 || got > 0.95 {
			t.Errorf("confidence %v out of bounds", got)
		}
		if got := computeConfidence(1000, 500, 50); got != 0.95 {
			t.Errorf("huge evidence should clamp to 0.95, got %v", got)
		}
	})

	t.Run("monotonic in mentions", func(t *testing.T) {
		low := computeConfidence(3, 1, 2)
		high := computeConfidence(8, 1, 2)
		if high <= low {
			t.Errorf("more mentions should not lower confidence: %v <= %v", high, low)
		}
	})

	t.Run("monotonic in cluster size", func(t *testing.T) {
		small := computeConfidence(3, 1, 1)
		large := computeConfidence(3, 1, 4)
		if large <= small {
			t.Errorf("larger cluster should not lower confidence: %v <= %v", large, small)
		}
	})
}

func TestJaccardOverlap(t *testing.T) {
	a := primitive.NewObjectID()
	b := primitive.NewObjectID()
	c := primitive.NewObjectID()

	tests := []struct {
		name string
		x    []primitive.ObjectID
		y    []primitive.ObjectID
		want float64
	}{
		{name: "identical", x: []primitive.ObjectID{a, b}, y: []primitive.ObjectID{a, b}, want: 1},
		{name: "disjoint", x: []primitive.ObjectID{a}, y: []primitive.ObjectID{b}, want: 0},
		{name: "partial", x: []primitive.ObjectID{a, b}, y: []primitive.ObjectID{b, c}, want: 1.0 / 3.0},
		{name: "empty", x: nil, y: []primitive.ObjectID{a}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jaccardOverlap(tt.x, tt.y); got != tt.want {
				t.Errorf("jaccardOverlap = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClusterEvidenceKeyStable(t *testing.T) {
	a := seedNode(models.NodeTypeBelief, 3)
	b := seedNode(models.NodeTypeBelief, 5)
	edge := models.GraphEdge{SourceID: a.ID, TargetID: b.ID, Relation: models.RelationRelatedTo, Weight: 2}

	key := clusterEvidenceKey(nodeCluster{Nodes: []models.GraphNode{a, b}, Edges: []models.GraphEdge{edge}})
	reordered := clusterEvidenceKey(nodeCluster{Nodes: []models.GraphNode{b, a}, Edges: []models.GraphEdge{edge}})
	if key != reordered {
		t.Errorf("evidence key depends on node order: %q vs %q", key, reordered)
	}

	a.MentionCount++
	bumped := clusterEvidenceKey(nodeCluster{Nodes: []models.GraphNode{a, b}, Edges: []models.GraphEdge{edge}})
	if key == bumped {
		t.Error("evidence key must change when a mention count grows")
	}
}

func TestHasCurrentInsight(t *testing.T) {
	cluster := nodeCluster{Nodes: []models.GraphNode{seedNode(models.NodeTypeBelief, 3)}}
	key := clusterEvidenceKey(cluster)

	active := []models.Insight{
		{Type: models.InsightTypeBelief, EvidenceKey: key},
	}

	if !hasCurrentInsight(active, models.InsightTypeBelief, key) {
		t.Error("unchanged evidence must be skipped")
	}
	if hasCurrentInsight(active, models.InsightTypeValue, key) {
		t.Error("a different insight type is not a match")
	}

	cluster.Nodes[0].MentionCount++
	if hasCurrentInsight(active, models.InsightTypeBelief, clusterEvidenceKey(cluster)) {
		t.Error("grown evidence must re-synthesize")
	}
	if hasCurrentInsight(nil, models.InsightTypeBelief, key) {
		t.Error("no active insights means nothing to skip")
	}
	if hasCurrentInsight(active, models.InsightTypeBelief, "") {
		t.Error("empty evidence key never matches")
	}
}
