package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"introspect/internal/config"
	"introspect/internal/database"
	"introspect/internal/models"
)

// InsightService synthesizes confidence-scored insights from the knowledge
// graph. Nodes with enough accumulated evidence are clustered by adjacency,
// each cluster is summarized by the model, and new insights supersede older
// ones covering the same evidence instead of duplicating them.
type InsightService struct {
	mongodb *database.MongoDB
	graph   *GraphService
	llm     *LLMService
	redis   *RedisService
	cfg     *config.Config
}

// Heaviest clusters are synthesized first; the rest wait for the next run.
const maxClustersPerRun = 10

// NewInsightService creates a new insight service
func NewInsightService(mongodb *database.MongoDB, graph *GraphService, llm *LLMService, redis *RedisService, cfg *config.Config) *InsightService {
	return &InsightService{
		mongodb: mongodb,
		graph:   graph,
		llm:     llm,
		redis:   redis,
		cfg:     cfg,
	}
}

// Node types that can seed an insight, and the insight type each maps to.
var seedTypeToInsight = map[string]string{
	models.NodeTypeBelief:  models.InsightTypeBelief,
	models.NodeTypeValue:   models.InsightTypeValue,
	models.NodeTypePattern: models.InsightTypePattern,
	models.NodeTypeTrait:   models.InsightTypeTrait,
	models.NodeTypeGoal:    models.InsightTypeGoal,
}

// nodeCluster is one connected group of evidence nodes plus the edges
// among them.
type nodeCluster struct {
	Nodes []models.GraphNode
	Edges []models.GraphEdge
}

// SynthesizeForUser runs one synthesis pass for a user and returns how
// many new insights were created.
func (s *InsightService) SynthesizeForUser(ctx context.Context, userID string) (int, error) {
	seeds, err := s.collectSeeds(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(seeds) == 0 {
		return 0, nil
	}

	ids := make([]primitive.ObjectID, len(seeds))
	for i, n := range seeds {
		ids[i] = n.ID
	}
	edges, err := s.graph.EdgesAmong(ctx, userID, ids)
	if err != nil {
		return 0, err
	}

	clusters := clusterByAdjacency(seeds, edges)

	// Heaviest evidence first
	sort.Slice(clusters, func(i, j int) bool {
		return clusterMentions(clusters[i]) > clusterMentions(clusters[j])
	})
	if len(clusters) > maxClustersPerRun {
		clusters = clusters[:maxClustersPerRun]
	}

	existing, err := s.activeInsights(ctx, userID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, cluster := range clusters {
		// Unchanged evidence means the active insight still stands;
		// re-synthesizing would supersede it with a near-identical statement
		if hasCurrentInsight(existing, clusterInsightType(cluster), clusterEvidenceKey(cluster)) {
			continue
		}

		insight, err := s.synthesizeCluster(ctx, userID, cluster)
		if err != nil {
			log.Printf("⚠️ [INSIGHT] Cluster synthesis failed for user %s: %v", userID, err)
			continue
		}
		if insight == nil {
			continue
		}

		if err := s.storeWithSupersede(ctx, insight, existing); err != nil {
			log.Printf("⚠️ [INSIGHT] Failed to store insight: %v", err)
			continue
		}
		existing = append(existing, *insight)
		created++
	}

	if created > 0 {
		insightsCreated.Add(float64(created))
		log.Printf("✅ [INSIGHT] Synthesized %d insights for user %s", created, userID)
		s.redis.PublishInsightEvent(ctx, userID, created)
	}
	return created, nil
}

// collectSeeds gathers the nodes with enough evidence to ground an insight.
func (s *InsightService) collectSeeds(ctx context.Context, userID string) ([]models.GraphNode, error) {
	var seeds []models.GraphNode
	for nodeType := range seedTypeToInsight {
		nodes, err := s.graph.NodesByType(ctx, userID, nodeType, s.cfg.MinMentionCount)
		if err != nil {
			return nil, fmt.Errorf("failed to collect seed nodes: %w", err)
		}
		seeds = append(seeds, nodes...)
	}
	return seeds, nil
}

// clusterByAdjacency groups nodes into connected components over the given
// edges. Nodes with no edges among the seeds form singleton clusters.
func clusterByAdjacency(nodes []models.GraphNode, edges []models.GraphEdge) []nodeCluster {
	index := make(map[primitive.ObjectID]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	parent := make([]int, len(nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, e := range edges {
		a, okA := index[e.SourceID]
		b, okB := index[e.TargetID]
		if okA && okB {
			union(a, b)
		}
	}

	groups := make(map[int]*nodeCluster)
	var order []int
	for i, n := range nodes {
		root := find(i)
		if _, ok := groups[root]; !ok {
			groups[root] = &nodeCluster{}
			order = append(order, root)
		}
		groups[root].Nodes = append(groups[root].Nodes, n)
	}
	for _, e := range edges {
		a, okA := index[e.SourceID]
		if _, okB := index[e.TargetID]; okA && okB {
			groups[find(a)].Edges = append(groups[find(a)].Edges, e)
		}
	}

	clusters := make([]nodeCluster, 0, len(order))
	for _, root := range order {
		clusters = append(clusters, *groups[root])
	}
	return clusters
}

func clusterMentions(c nodeCluster) int64 {
	var total int64
	for _, n := range c.Nodes {
		total += n.MentionCount
	}
	return total
}

// clusterEvidenceKey fingerprints a cluster's evidence: its node IDs with
// their mention counts plus its edges with their weights, order-independent.
// Two passes over an unchanged graph produce the same key.
func clusterEvidenceKey(c nodeCluster) string {
	parts := make([]string, 0, len(c.Nodes)+len(c.Edges))
	for _, n := range c.Nodes {
		parts = append(parts, fmt.Sprintf("n:%s:%d", n.ID.Hex(), n.MentionCount))
	}
	for _, e := range c.Edges {
		parts = append(parts, fmt.Sprintf("e:%s:%s:%s:%g", e.SourceID.Hex(), e.TargetID.Hex(), e.Relation, e.Weight))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// hasCurrentInsight reports whether an active insight of this type already
// covers exactly this evidence.
func hasCurrentInsight(active []models.Insight, insightType, evidenceKey string) bool {
	if evidenceKey == "" {
		return false
	}
	for _, ins := range active {
		if ins.Type == insightType && ins.EvidenceKey == evidenceKey {
			return true
		}
	}
	return false
}

// clusterInsightType picks the insight type for a cluster: challenge when
// the cluster carries a contradiction, otherwise the type of its most
// mentioned seed node.
func clusterInsightType(c nodeCluster) string {
	for _, e := range c.Edges {
		if e.Relation == models.RelationContradicts {
			return models.InsightTypeChallenge
		}
	}

	best := ""
	var bestMentions int64 = -1
	for _, n := range c.Nodes {
		if t, ok := seedTypeToInsight[n.Type]; ok && n.MentionCount > bestMentions {
			best = t
			bestMentions = n.MentionCount
		}
	}
	if best == "" {
		best = models.InsightTypePattern
	}
	return best
}

// computeConfidence scores an insight from its evidence: more mentions,
// heavier edges and larger clusters all raise confidence, with diminishing
// returns. Always within [0.1, 0.95] - synthesized statements are never
// presented as certain.
func computeConfidence(totalMentions int64, totalEdgeWeight float64, clusterSize int) float64 {
	conf := 0.3
	conf += 0.05 * float64(totalMentions)
	conf += 0.02 * totalEdgeWeight
	conf += 0.05 * float64(clusterSize-1)

	if conf > 0.95 {
		conf = 0.95
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

var insightSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"content":  map[string]interface{}{"type": "string"},
		"evidence": map[string]interface{}{"type": "string"},
	},
	"required":             []string{"content", "evidence"},
	"additionalProperties": false,
}

// synthesizeCluster asks the model to turn one evidence cluster into an
// insight statement.
func (s *InsightService) synthesizeCluster(ctx context.Context, userID string, cluster nodeCluster) (*models.Insight, error) {
	insightType := clusterInsightType(cluster)

	labels := make(map[primitive.ObjectID]string, len(cluster.Nodes))
	var lines []string
	for _, n := range cluster.Nodes {
		labels[n.ID] = n.CanonicalLabel
		lines = append(lines, fmt.Sprintf("- [%s] %s (mentioned %d times)", n.Type, n.CanonicalLabel, n.MentionCount))
	}
	var totalWeight float64
	for _, e := range cluster.Edges {
		totalWeight += e.Weight
		src, okS := labels[e.SourceID]
		tgt, okT := labels[e.TargetID]
		if okS && okT {
			lines = append(lines, "- "+RenderFact(src, e.Relation, tgt))
		}
	}

	systemPrompt := fmt.Sprintf(`You synthesize one insight about a person from accumulated evidence. The insight type is %q.

Write a single second-person statement ("You tend to...", "You seem to value...") that a reflective person would find accurate and worth sitting with. For a "challenge" insight, name the tension between the opposing statements without judging it. The evidence field should briefly say what the statement rests on, in plain language.`, insightType)

	userPrompt := "Evidence:\n" + strings.Join(lines, "\n")

	var out models.InsightFromLLM
	if err := s.llm.GenerateStructured(ctx, systemPrompt, userPrompt, "insight", insightSchema, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, nil
	}

	supporting := make([]primitive.ObjectID, len(cluster.Nodes))
	for i, n := range cluster.Nodes {
		supporting[i] = n.ID
	}

	return &models.Insight{
		ID:                primitive.NewObjectID(),
		UserID:            userID,
		Type:              insightType,
		Content:           out.Content,
		Evidence:          out.Evidence,
		Confidence:        computeConfidence(clusterMentions(cluster), totalWeight, len(cluster.Nodes)),
		SupportingNodeIDs: supporting,
		EvidenceKey:       clusterEvidenceKey(cluster),
		CreatedAt:         time.Now(),
	}, nil
}

// jaccardOverlap computes the Jaccard index of two ID sets.
func jaccardOverlap(a, b []primitive.ObjectID) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[primitive.ObjectID]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	intersection := 0
	for _, id := range b {
		if set[id] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// storeWithSupersede inserts a new insight and marks any same-type insight
// whose supporting evidence substantially overlaps as superseded by it.
func (s *InsightService) storeWithSupersede(ctx context.Context, insight *models.Insight, existing []models.Insight) error {
	collection := s.mongodb.Collection(database.CollectionInsights)

	if _, err := collection.InsertOne(ctx, insight); err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}

	for _, old := range existing {
		if old.Type != insight.Type || old.SupersededBy != nil {
			continue
		}
		if jaccardOverlap(old.SupportingNodeIDs, insight.SupportingNodeIDs) < s.cfg.InsightOverlapMin {
			continue
		}
		_, err := collection.UpdateOne(ctx,
			bson.M{"_id": old.ID, "supersededBy": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"supersededBy": insight.ID}})
		if err != nil {
			log.Printf("⚠️ [INSIGHT] Failed to supersede insight %s: %v", old.ID.Hex(), err)
			continue
		}
		log.Printf("🔄 [INSIGHT] Insight %s supersedes %s (type %s)", insight.ID.Hex(), old.ID.Hex(), insight.Type)
	}
	return nil
}

// activeInsights returns a user's non-superseded insights.
func (s *InsightService) activeInsights(ctx context.Context, userID string) ([]models.Insight, error) {
	collection := s.mongodb.Collection(database.CollectionInsights)

	cursor, err := collection.Find(ctx, bson.M{
		"userId":       userID,
		"supersededBy": bson.M{"$exists": false},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}
	defer cursor.Close(ctx)

	insights := []models.Insight{}
	if err := cursor.All(ctx, &insights); err != nil {
		return nil, fmt.Errorf("failed to decode insights: %w", err)
	}
	return insights, nil
}

// ListInsights returns a user's insights, newest first. Superseded
// insights are included only when requested; typeFilter narrows by
// insight type when non-empty.
func (s *InsightService) ListInsights(ctx context.Context, userID string, includeSuperseded bool, typeFilter string) ([]models.Insight, error) {
	filter := bson.M{"userId": userID}
	if !includeSuperseded {
		filter["supersededBy"] = bson.M{"$exists": false}
	}
	if typeFilter != "" {
		filter["type"] = typeFilter
	}

	collection := s.mongodb.Collection(database.CollectionInsights)
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer cursor.Close(ctx)

	insights := []models.Insight{}
	if err := cursor.All(ctx, &insights); err != nil {
		return nil, fmt.Errorf("failed to decode insights: %w", err)
	}
	return insights, nil
}

// BuildUserSummary composes an overview of the user from their active
// insights, with a generated narrative and the raw insights grouped by type.
func (s *InsightService) BuildUserSummary(ctx context.Context, userID string) (*models.UserSummary, error) {
	insights, err := s.activeInsights(ctx, userID)
	if err != nil {
		return nil, err
	}

	categories := make(map[string]string)
	if len(insights) == 0 {
		return &models.UserSummary{
			Summary:    "Not enough is known about you yet. Keep the conversation going.",
			Categories: categories,
		}, nil
	}

	byType := make(map[string][]string)
	for _, ins := range insights {
		byType[ins.Type] = append(byType[ins.Type], ins.Content)
	}
	var lines []string
	for insightType, contents := range byType {
		categories[insightType] = strings.Join(contents, " ")
		for _, c := range contents {
			lines = append(lines, fmt.Sprintf("- (%s) %s", insightType, c))
		}
	}
	sort.Strings(lines)

	summary, err := s.llm.GenerateText(ctx,
		"Compose a short, warm second-person overview of a person from the insights below. Two or three sentences, no lists, no flattery.",
		strings.Join(lines, "\n"))
	if err != nil {
		// The grouped insights still have value without the narrative
		log.Printf("⚠️ [INSIGHT] Summary narrative generation failed for user %s: %v", userID, err)
		summary = ""
	}

	return &models.UserSummary{Summary: summary, Categories: categories}, nil
}

// BuildInsightGraph assembles the visualization payload: insight nodes
// linked to the graph nodes that support them.
func (s *InsightService) BuildInsightGraph(ctx context.Context, userID string) (*models.InsightGraph, error) {
	insights, err := s.activeInsights(ctx, userID)
	if err != nil {
		return nil, err
	}

	graph := &models.InsightGraph{
		Nodes: []models.InsightGraphNode{},
		Links: []models.InsightGraphLink{},
	}

	supportSet := make(map[primitive.ObjectID]bool)
	var supportIDs []primitive.ObjectID
	for _, ins := range insights {
		graph.Nodes = append(graph.Nodes, models.InsightGraphNode{
			ID:      ins.ID.Hex(),
			Label:   ins.Type,
			Type:    "insight",
			Size:    len(ins.SupportingNodeIDs) + 1,
			Content: ins.Content,
		})
		for _, id := range ins.SupportingNodeIDs {
			if !supportSet[id] {
				supportSet[id] = true
				supportIDs = append(supportIDs, id)
			}
			graph.Links = append(graph.Links, models.InsightGraphLink{
				Source: ins.ID.Hex(),
				Target: id.Hex(),
				Label:  "supported by",
				Type:   "evidence",
			})
		}
	}

	nodes, err := s.graph.NodesByIDs(ctx, userID, supportIDs)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		graph.Nodes = append(graph.Nodes, models.InsightGraphNode{
			ID:    n.ID.Hex(),
			Label: n.CanonicalLabel,
			Type:  n.Type,
			Size:  int(n.MentionCount),
		})
	}

	edges, err := s.graph.EdgesAmong(ctx, userID, supportIDs)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		graph.Links = append(graph.Links, models.InsightGraphLink{
			Source: e.SourceID.Hex(),
			Target: e.TargetID.Hex(),
			Label:  strings.ToLower(strings.ReplaceAll(e.Relation, "_", " ")),
			Type:   "relation",
		})
	}

	return graph, nil
}

// SynthesizeAll runs synthesis for every user with eligible evidence, used
// by the nightly schedule. Returns users processed and insights created.
func (s *InsightService) SynthesizeAll(ctx context.Context) (int, int, error) {
	collection := s.mongodb.Collection(database.CollectionGraphNodes)

	userIDs, err := collection.Distinct(ctx, "userId", bson.M{
		"mentionCount": bson.M{"$gte": s.cfg.MinMentionCount},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list users for synthesis: %w", err)
	}

	usersProcessed := 0
	totalCreated := 0
	for _, raw := range userIDs {
		userID, ok := raw.(string)
		if !ok {
			continue
		}
		created, err := s.SynthesizeForUser(ctx, userID)
		if err != nil {
			log.Printf("⚠️ [INSIGHT] Nightly synthesis failed for user %s: %v", userID, err)
			continue
		}
		usersProcessed++
		totalCreated += created
	}
	return usersProcessed, totalCreated, nil
}
