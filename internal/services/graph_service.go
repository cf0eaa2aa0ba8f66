package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"introspect/internal/database"
	"introspect/internal/models"
)

// GraphService owns the per-user knowledge graph. All writes for one user
// are serialized: an in-process mutex guards merges within this instance
// and a Redis advisory lock guards them across instances. Each delta is
// applied in a single MongoDB transaction.
type GraphService struct {
	mongodb *database.MongoDB
	redis   *RedisService
	locks   *userLocks
}

// NewGraphService creates a new graph service
func NewGraphService(mongodb *database.MongoDB, redis *RedisService) *GraphService {
	return &GraphService{
		mongodb: mongodb,
		redis:   redis,
		locks:   newUserLocks(),
	}
}

// CanonicalKey normalizes a label into the dedup key: lower-cased with
// runs of whitespace collapsed to single spaces.
func CanonicalKey(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// nodeKey identifies a node within one user's graph.
func nodeKey(nodeType, canonicalKey string) string {
	return nodeType + "\x00" + canonicalKey
}

// mergePlan is the resolved set of writes one delta produces. Plans are
// computed purely from a graph snapshot so merge semantics can be tested
// without a database.
type mergePlan struct {
	insertNodes []models.GraphNode
	reinforce   []nodeReinforcement
	edges       []models.GraphEdge
	skipped     int // candidate edges dropped for unresolvable endpoints
}

// nodeReinforcement records one merge into an existing node: the mention
// bump plus the post-union attribute map. attributes is nil when the
// candidate added nothing new.
type nodeReinforcement struct {
	id         primitive.ObjectID
	attributes map[string]string
}

// unionAttributes merges candidate attributes over existing ones. Candidate
// values win on key collisions: a later observation refreshes an earlier
// one. changed is false when the candidate adds nothing.
func unionAttributes(existing, candidate map[string]string) (map[string]string, bool) {
	changed := false
	for k, v := range candidate {
		if ev, ok := existing[k]; !ok || ev != v {
			changed = true
			break
		}
	}
	if !changed {
		return existing, false
	}
	merged := make(map[string]string, len(existing)+len(candidate))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range candidate {
		merged[k] = v
	}
	return merged, true
}

// ApplyResult summarizes what one delta changed.
type ApplyResult struct {
	NodesCreated    int `json:"nodes_created"`
	NodesReinforced int `json:"nodes_reinforced"`
	EdgesMerged     int `json:"edges_merged"`
	EdgesSkipped    int `json:"edges_skipped"`
}

// ApplyDelta merges one extraction delta into a user's graph. The whole
// delta lands atomically: if any write fails the transaction rolls back
// and no partial merge is visible.
func (s *GraphService) ApplyDelta(ctx context.Context, userID string, delta models.GraphDelta) (*ApplyResult, error) {
	delta = sanitizeDelta(delta)
	if len(delta.Nodes) == 0 && len(delta.Edges) == 0 {
		return &ApplyResult{}, nil
	}

	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.redis.AcquireGraphLock(ctx, userID); err != nil {
		return nil, err
	}
	defer s.redis.ReleaseGraphLock(ctx, userID)

	existing, err := s.snapshotNodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan := planDelta(userID, time.Now(), delta, existing)

	nodes := s.mongodb.Collection(database.CollectionGraphNodes)
	edges := s.mongodb.Collection(database.CollectionGraphEdges)

	err = s.mongodb.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if len(plan.insertNodes) > 0 {
			docs := make([]interface{}, len(plan.insertNodes))
			for i, n := range plan.insertNodes {
				docs[i] = n
			}
			if _, err := nodes.InsertMany(sessCtx, docs); err != nil {
				return fmt.Errorf("failed to insert nodes: %w", err)
			}
		}

		now := time.Now()
		for _, r := range plan.reinforce {
			set := bson.M{"lastReinforcedAt": now}
			if r.attributes != nil {
				set["attributes"] = r.attributes
			}
			_, err := nodes.UpdateOne(sessCtx,
				bson.M{"_id": r.id},
				bson.M{
					"$inc": bson.M{"mentionCount": 1},
					"$set": set,
				})
			if err != nil {
				return fmt.Errorf("failed to reinforce node %s: %w", r.id.Hex(), err)
			}
		}

		for _, e := range plan.edges {
			update := bson.M{
				"$inc": bson.M{"weight": e.Weight},
				"$setOnInsert": bson.M{
					"userId":    e.UserID,
					"createdAt": e.CreatedAt,
				},
			}
			if e.EvidenceRef != "" {
				update["$set"] = bson.M{"evidenceRef": e.EvidenceRef}
			}
			_, err := edges.UpdateOne(sessCtx,
				bson.M{"sourceId": e.SourceID, "targetId": e.TargetID, "relation": e.Relation},
				update,
				options.Update().SetUpsert(true))
			if err != nil {
				return fmt.Errorf("failed to merge edge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph merge transaction failed: %w", err)
	}

	result := &ApplyResult{
		NodesCreated:    len(plan.insertNodes),
		NodesReinforced: len(plan.reinforce),
		EdgesMerged:     len(plan.edges),
		EdgesSkipped:    plan.skipped,
	}
	graphNodesCreated.Add(float64(result.NodesCreated))
	graphEdgesMerged.Add(float64(result.EdgesMerged))
	log.Printf("🧠 [GRAPH] Merged delta for user %s: +%d nodes, %d reinforced, %d edges (%d skipped)",
		userID, result.NodesCreated, result.NodesReinforced, result.EdgesMerged, result.EdgesSkipped)
	return result, nil
}

// sanitizeDelta drops candidates with unknown types or relations. The
// extractor validates its own output first, so anything dropped here is
// logged as unexpected.
func sanitizeDelta(delta models.GraphDelta) models.GraphDelta {
	clean := models.GraphDelta{}
	for _, n := range delta.Nodes {
		if !models.IsValidNodeType(n.Type) || strings.TrimSpace(n.Label) == "" {
			log.Printf("⚠️ [GRAPH] Dropping candidate node with type=%q label=%q", n.Type, n.Label)
			continue
		}
		clean.Nodes = append(clean.Nodes, n)
	}
	for _, e := range delta.Edges {
		if !models.IsValidRelation(e.Relation) {
			log.Printf("⚠️ [GRAPH] Dropping candidate edge with relation=%q", e.Relation)
			continue
		}
		clean.Edges = append(clean.Edges, e)
	}
	return clean
}

// planDelta resolves a delta against a snapshot of the user's existing
// nodes (keyed by type + canonical key). Pure function:
//   - new canonical labels become node inserts with fresh IDs
//   - known labels become mention-count reinforcements with attribute union
//   - duplicate candidates within one delta collapse to a single node
//   - edges resolve label references to node IDs; unresolvable edges are skipped
//   - opposed Belief/Value labels produce CONTRADICTS edges
func planDelta(userID string, now time.Time, delta models.GraphDelta, existing map[string]models.GraphNode) mergePlan {
	plan := mergePlan{}

	// Resolve candidate nodes to IDs
	resolved := make(map[string]primitive.ObjectID)
	insertIdx := make(map[primitive.ObjectID]int)
	reinforceIdx := make(map[primitive.ObjectID]int)
	baseAttrs := make(map[primitive.ObjectID]map[string]string)

	for _, cand := range delta.Nodes {
		key := nodeKey(cand.Type, CanonicalKey(cand.Label))
		if id, done := resolved[key]; done {
			// Duplicate within the delta: collapse to one write, but fold
			// the duplicate's attributes into it
			if idx, ok := insertIdx[id]; ok {
				if merged, changed := unionAttributes(plan.insertNodes[idx].Attributes, cand.Attributes); changed {
					plan.insertNodes[idx].Attributes = merged
				}
			} else if idx, ok := reinforceIdx[id]; ok {
				current := plan.reinforce[idx].attributes
				if current == nil {
					current = baseAttrs[id]
				}
				if merged, changed := unionAttributes(current, cand.Attributes); changed {
					plan.reinforce[idx].attributes = merged
				}
			}
			continue
		}

		if node, ok := existing[key]; ok {
			resolved[key] = node.ID
			reinforceIdx[node.ID] = len(plan.reinforce)
			baseAttrs[node.ID] = node.Attributes

			r := nodeReinforcement{id: node.ID}
			if merged, changed := unionAttributes(node.Attributes, cand.Attributes); changed {
				r.attributes = merged
			}
			plan.reinforce = append(plan.reinforce, r)
			continue
		}

		node := models.GraphNode{
			ID:               primitive.NewObjectID(),
			UserID:           userID,
			Type:             cand.Type,
			CanonicalLabel:   strings.Join(strings.Fields(cand.Label), " "),
			CanonicalKey:     CanonicalKey(cand.Label),
			Attributes:       cand.Attributes,
			MentionCount:     1,
			FirstSeenAt:      now,
			LastReinforcedAt: now,
		}
		resolved[key] = node.ID
		insertIdx[node.ID] = len(plan.insertNodes)
		plan.insertNodes = append(plan.insertNodes, node)
	}

	// Resolve candidate edges. An endpoint may be a node from this delta or
	// a pre-existing node the extractor referenced without re-proposing.
	lookup := func(nodeType, label string) (primitive.ObjectID, bool) {
		key := nodeKey(nodeType, CanonicalKey(label))
		if id, ok := resolved[key]; ok {
			return id, true
		}
		if node, ok := existing[key]; ok {
			return node.ID, true
		}
		return primitive.NilObjectID, false
	}

	edgeSeen := make(map[string]int) // dedup within the delta; index into plan.edges

	addEdge := func(sourceID, targetID primitive.ObjectID, relation, evidence string, weight float64) {
		if sourceID == targetID {
			return
		}
		key := sourceID.Hex() + "\x00" + targetID.Hex() + "\x00" + relation
		if idx, ok := edgeSeen[key]; ok {
			plan.edges[idx].Weight += weight
			return
		}
		edgeSeen[key] = len(plan.edges)
		plan.edges = append(plan.edges, models.GraphEdge{
			UserID:      userID,
			SourceID:    sourceID,
			TargetID:    targetID,
			Relation:    relation,
			Weight:      weight,
			EvidenceRef: evidence,
			CreatedAt:   now,
		})
	}

	for _, cand := range delta.Edges {
		sourceID, ok := lookup(cand.SourceType, cand.SourceLabel)
		if !ok {
			plan.skipped++
			continue
		}
		targetID, ok := lookup(cand.TargetType, cand.TargetLabel)
		if !ok {
			plan.skipped++
			continue
		}
		weight := cand.Weight
		if weight <= 0 {
			weight = 1
		}
		addEdge(sourceID, targetID, cand.Relation, cand.Evidence, weight)
	}

	// Contradiction pass: new Belief/Value nodes against everything already
	// in the graph of the same type.
	for _, fresh := range plan.insertNodes {
		if fresh.Type != models.NodeTypeBelief && fresh.Type != models.NodeTypeValue {
			continue
		}
		for _, node := range existing {
			if node.Type != fresh.Type || node.Superseded {
				continue
			}
			if LabelsOppose(fresh.CanonicalKey, node.CanonicalKey) {
				addEdge(fresh.ID, node.ID, models.RelationContradicts, "", 1)
			}
		}
	}

	return plan
}

// Negation markers stripped (and toggled) off the front of a statement.
var negators = []string{
	"does not ", "doesn't ", "do not ", "don't ",
	"is not ", "isn't ", "not ", "never ", "no longer ",
}

// Antonym verb pairs mapped onto a shared positive form.
var antonymVerbs = map[string]struct {
	form     string
	negative bool
}{
	"likes":     {"likes", false},
	"dislikes":  {"likes", true},
	"loves":     {"loves", false},
	"hates":     {"loves", true},
	"enjoys":    {"enjoys", false},
	"trusts":    {"trusts", false},
	"distrusts": {"trusts", true},
	"wants":     {"wants", false},
	"avoids":    {"wants", true},
	"believes":  {"believes", false},
	"doubts":    {"believes", true},
}

// oppositionSignature reduces a canonical label to a polarity-free form
// plus its polarity. Two labels with the same form and opposite polarity
// state opposing things.
func oppositionSignature(canonicalKey string) (string, bool) {
	s := canonicalKey
	negative := false

	for stripped := true; stripped; {
		stripped = false
		for _, neg := range negators {
			if strings.HasPrefix(s, neg) {
				s = strings.TrimPrefix(s, neg)
				negative = !negative
				stripped = true
			}
		}
	}

	fields := strings.Fields(s)
	if len(fields) > 0 {
		if mapped, ok := antonymVerbs[fields[0]]; ok {
			fields[0] = mapped.form
			if mapped.negative {
				negative = !negative
			}
			s = strings.Join(fields, " ")
		}
	}

	return s, negative
}

// LabelsOppose reports whether two canonical labels state opposing things
// ("likes hiking" vs "dislikes hiking", "trusts people" vs "does not trust
// people"). Heuristic only; the extractor escalates ambiguous pairs to a
// model-assisted check.
func LabelsOppose(a, b string) bool {
	if a == b {
		return false
	}
	sigA, negA := oppositionSignature(a)
	sigB, negB := oppositionSignature(b)
	return sigA == sigB && negA != negB
}

// snapshotNodes loads every node of a user's graph keyed by type + canonical
// key. Personal graphs stay small enough that a full snapshot per merge is
// cheaper than per-label round trips.
func (s *GraphService) snapshotNodes(ctx context.Context, userID string) (map[string]models.GraphNode, error) {
	collection := s.mongodb.Collection(database.CollectionGraphNodes)

	cursor, err := collection.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to load graph snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	snapshot := make(map[string]models.GraphNode)
	for cursor.Next(ctx) {
		var node models.GraphNode
		if err := cursor.Decode(&node); err != nil {
			continue
		}
		snapshot[nodeKey(node.Type, node.CanonicalKey)] = node
	}
	return snapshot, cursor.Err()
}

// NodesByType returns a user's non-superseded nodes of one type, most
// mentioned first.
func (s *GraphService) NodesByType(ctx context.Context, userID, nodeType string, minMentions int) ([]models.GraphNode, error) {
	collection := s.mongodb.Collection(database.CollectionGraphNodes)

	filter := bson.M{
		"userId":     userID,
		"type":       nodeType,
		"superseded": bson.M{"$ne": true},
	}
	if minMentions > 0 {
		filter["mentionCount"] = bson.M{"$gte": minMentions}
	}

	opts := options.Find().SetSort(bson.D{{Key: "mentionCount", Value: -1}})
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer cursor.Close(ctx)

	var nodes []models.GraphNode
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}
	return nodes, nil
}

// Neighborhood returns the subgraph within `hops` edges of the seed nodes.
func (s *GraphService) Neighborhood(ctx context.Context, userID string, seedIDs []primitive.ObjectID, hops int) (*models.Subgraph, error) {
	if hops < 1 {
		hops = 1
	}

	edgesColl := s.mongodb.Collection(database.CollectionGraphEdges)

	frontier := seedIDs
	visited := make(map[primitive.ObjectID]bool, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
	}

	edgeIDs := make(map[primitive.ObjectID]bool)
	var allEdges []models.GraphEdge

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		cursor, err := edgesColl.Find(ctx, bson.M{
			"userId": userID,
			"$or": []bson.M{
				{"sourceId": bson.M{"$in": frontier}},
				{"targetId": bson.M{"$in": frontier}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query edges: %w", err)
		}

		var next []primitive.ObjectID
		for cursor.Next(ctx) {
			var edge models.GraphEdge
			if err := cursor.Decode(&edge); err != nil {
				continue
			}
			if edgeIDs[edge.ID] {
				continue
			}
			edgeIDs[edge.ID] = true
			allEdges = append(allEdges, edge)

			for _, id := range []primitive.ObjectID{edge.SourceID, edge.TargetID} {
				if !visited[id] {
					visited[id] = true
					next = append(next, id)
				}
			}
		}
		if err := cursor.Err(); err != nil {
			cursor.Close(ctx)
			return nil, fmt.Errorf("edge scan failed: %w", err)
		}
		cursor.Close(ctx)
		frontier = next
	}

	nodeIDs := make([]primitive.ObjectID, 0, len(visited))
	for id := range visited {
		nodeIDs = append(nodeIDs, id)
	}

	nodes, err := s.NodesByIDs(ctx, userID, nodeIDs)
	if err != nil {
		return nil, err
	}

	if allEdges == nil {
		allEdges = []models.GraphEdge{}
	}
	return &models.Subgraph{Nodes: nodes, Edges: allEdges}, nil
}

// NodesByIDs fetches a set of nodes belonging to a user.
func (s *GraphService) NodesByIDs(ctx context.Context, userID string, ids []primitive.ObjectID) ([]models.GraphNode, error) {
	if len(ids) == 0 {
		return []models.GraphNode{}, nil
	}

	collection := s.mongodb.Collection(database.CollectionGraphNodes)
	cursor, err := collection.Find(ctx, bson.M{"userId": userID, "_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nodes: %w", err)
	}
	defer cursor.Close(ctx)

	nodes := []models.GraphNode{}
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}
	return nodes, nil
}

// EdgesAmong returns every edge whose both endpoints are in the given set.
func (s *GraphService) EdgesAmong(ctx context.Context, userID string, ids []primitive.ObjectID) ([]models.GraphEdge, error) {
	if len(ids) == 0 {
		return []models.GraphEdge{}, nil
	}

	collection := s.mongodb.Collection(database.CollectionGraphEdges)
	cursor, err := collection.Find(ctx, bson.M{
		"userId":   userID,
		"sourceId": bson.M{"$in": ids},
		"targetId": bson.M{"$in": ids},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch edges: %w", err)
	}
	defer cursor.Close(ctx)

	edges := []models.GraphEdge{}
	if err := cursor.All(ctx, &edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges: %w", err)
	}
	return edges, nil
}

// normalizeForMatch reduces text to lower-cased words for mention matching.
func normalizeForMatch(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// MentionedNodes returns the nodes whose canonical labels occur in the turn
// text, on word boundaries.
func MentionedNodes(turn string, nodes []models.GraphNode) []models.GraphNode {
	haystack := " " + normalizeForMatch(turn) + " "

	var matched []models.GraphNode
	for _, n := range nodes {
		key := normalizeForMatch(n.CanonicalKey)
		if key == "" {
			continue
		}
		if strings.Contains(haystack, " "+key+" ") {
			matched = append(matched, n)
		}
	}
	return matched
}

// FactsForTurn renders the graph facts most relevant to one turn: the 1-hop
// neighborhood of nodes the turn mentions, heaviest edges first. When the
// turn mentions nothing from the graph, the user's overall strongest facts
// are used instead.
func (s *GraphService) FactsForTurn(ctx context.Context, userID, turn string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	snapshot, err := s.snapshotNodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	all := make([]models.GraphNode, 0, len(snapshot))
	for _, n := range snapshot {
		if !n.Superseded {
			all = append(all, n)
		}
	}

	mentioned := MentionedNodes(turn, all)
	if len(mentioned) == 0 {
		return s.FactsForContext(ctx, userID, limit)
	}

	seedIDs := make([]primitive.ObjectID, len(mentioned))
	for i, n := range mentioned {
		seedIDs[i] = n.ID
	}

	subgraph, err := s.Neighborhood(ctx, userID, seedIDs, 1)
	if err != nil {
		return nil, err
	}

	labels := make(map[primitive.ObjectID]string, len(subgraph.Nodes))
	for _, n := range subgraph.Nodes {
		labels[n.ID] = n.CanonicalLabel
	}

	edges := subgraph.Edges
	sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })

	facts := []string{}
	for _, e := range edges {
		if len(facts) >= limit {
			break
		}
		source, ok := labels[e.SourceID]
		if !ok {
			continue
		}
		target, ok := labels[e.TargetID]
		if !ok {
			continue
		}
		facts = append(facts, RenderFact(source, e.Relation, target))
	}
	return facts, nil
}

// Cap on nodes returned by the full-graph export.
const fullGraphNodeCap = 500

// topMentionedNodes sorts nodes by mention count (canonical key breaks
// ties) and truncates to at most max nodes.
func topMentionedNodes(nodes []models.GraphNode, max int) []models.GraphNode {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].MentionCount != nodes[j].MentionCount {
			return nodes[i].MentionCount > nodes[j].MentionCount
		}
		return nodes[i].CanonicalKey < nodes[j].CanonicalKey
	})
	if len(nodes) > max {
		nodes = nodes[:max]
	}
	return nodes
}

// FullGraph returns a user's graph for the API surface, keeping the most
// mentioned nodes when the graph exceeds the cap.
func (s *GraphService) FullGraph(ctx context.Context, userID string) (*models.Subgraph, error) {
	snapshot, err := s.snapshotNodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	nodes := make([]models.GraphNode, 0, len(snapshot))
	for _, n := range snapshot {
		nodes = append(nodes, n)
	}
	nodes = topMentionedNodes(nodes, fullGraphNodeCap)

	ids := make([]primitive.ObjectID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	edges, err := s.EdgesAmong(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	return &models.Subgraph{Nodes: nodes, Edges: edges}, nil
}

// FactsForContext renders a user's strongest graph facts as short
// sentences for the context window, heaviest edges first.
func (s *GraphService) FactsForContext(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	edgesColl := s.mongodb.Collection(database.CollectionGraphEdges)
	opts := options.Find().
		SetSort(bson.D{{Key: "weight", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := edgesColl.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query top edges: %w", err)
	}
	defer cursor.Close(ctx)

	var edges []models.GraphEdge
	if err := cursor.All(ctx, &edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges: %w", err)
	}

	idSet := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, e := range edges {
		for _, id := range []primitive.ObjectID{e.SourceID, e.TargetID} {
			if !idSet[id] {
				idSet[id] = true
				ids = append(ids, id)
			}
		}
	}

	nodes, err := s.NodesByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	labels := make(map[primitive.ObjectID]string, len(nodes))
	for _, n := range nodes {
		labels[n.ID] = n.CanonicalLabel
	}

	facts := []string{}
	for _, e := range edges {
		source, ok := labels[e.SourceID]
		if !ok {
			continue
		}
		target, ok := labels[e.TargetID]
		if !ok {
			continue
		}
		facts = append(facts, RenderFact(source, e.Relation, target))
	}
	return facts, nil
}

// RenderFact turns an edge into a readable sentence fragment:
// ("user", "KNOWS_ABOUT", "rust") -> "user knows about rust".
func RenderFact(source, relation, target string) string {
	rel := strings.ToLower(strings.ReplaceAll(relation, "_", " "))
	return fmt.Sprintf("%s %s %s", source, rel, target)
}

// ContradictionPairs returns the belief/value node pairs connected by a
// CONTRADICTS edge, for surfacing in insight synthesis.
func (s *GraphService) ContradictionPairs(ctx context.Context, userID string) ([][2]models.GraphNode, error) {
	edgesColl := s.mongodb.Collection(database.CollectionGraphEdges)
	cursor, err := edgesColl.Find(ctx, bson.M{"userId": userID, "relation": models.RelationContradicts})
	if err != nil {
		return nil, fmt.Errorf("failed to query contradiction edges: %w", err)
	}
	defer cursor.Close(ctx)

	var edges []models.GraphEdge
	if err := cursor.All(ctx, &edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges: %w", err)
	}

	idSet := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, e := range edges {
		for _, id := range []primitive.ObjectID{e.SourceID, e.TargetID} {
			if !idSet[id] {
				idSet[id] = true
				ids = append(ids, id)
			}
		}
	}

	nodes, err := s.NodesByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]models.GraphNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	pairs := [][2]models.GraphNode{}
	for _, e := range edges {
		a, okA := byID[e.SourceID]
		b, okB := byID[e.TargetID]
		if okA && okB {
			pairs = append(pairs, [2]models.GraphNode{a, b})
		}
	}
	return pairs, nil
}

// AddContradiction records a model-confirmed contradiction between two
// existing nodes. Used by the extractor when the negation heuristic was
// inconclusive but the model confirmed opposition.
func (s *GraphService) AddContradiction(ctx context.Context, userID string, a, b primitive.ObjectID, evidence string) error {
	if a == b {
		return fmt.Errorf("cannot contradict a node with itself")
	}

	edges := s.mongodb.Collection(database.CollectionGraphEdges)
	_, err := edges.UpdateOne(ctx,
		bson.M{"sourceId": a, "targetId": b, "relation": models.RelationContradicts},
		bson.M{
			"$inc": bson.M{"weight": 1},
			"$set": bson.M{"evidenceRef": evidence},
			"$setOnInsert": bson.M{
				"userId":    userID,
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record contradiction: %w", err)
	}
	return nil
}

// Stats returns node and edge counts for a user's graph.
func (s *GraphService) Stats(ctx context.Context, userID string) (nodeCount, edgeCount int64, err error) {
	nodes := s.mongodb.Collection(database.CollectionGraphNodes)
	edges := s.mongodb.Collection(database.CollectionGraphEdges)

	nodeCount, err = nodes.CountDocuments(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	edgeCount, err = edges.CountDocuments(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return nodeCount, edgeCount, nil
}
