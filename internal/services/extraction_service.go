package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"introspect/internal/database"
	"introspect/internal/models"
)

// ExtractionService turns raw conversation turns into graph deltas. Turns
// are queued as jobs and processed off the request path; jobs for one user
// are handled strictly in enqueue order so merges stay deterministic.
type ExtractionService struct {
	mongodb *database.MongoDB
	llm     *LLMService
	graph   *GraphService
}

const (
	// Jobs stuck in processing longer than this are reclaimed - the worker
	// that claimed them died mid-extraction.
	staleProcessingAfter = 5 * time.Minute

	// Cap on model-assisted contradiction checks per job.
	maxOppositionChecks = 3

	extractionBatchSize = 20
)

// NewExtractionService creates a new extraction service
func NewExtractionService(mongodb *database.MongoDB, llm *LLMService, graph *GraphService) *ExtractionService {
	return &ExtractionService{
		mongodb: mongodb,
		llm:     llm,
		graph:   graph,
	}
}

// Enqueue queues a (user turn, assistant turn) pair for knowledge
// extraction. Cheap insert; the caller never waits on extraction itself.
func (s *ExtractionService) Enqueue(ctx context.Context, userID, conversationID, userText, assistantText string) error {
	job := models.ExtractionJob{
		ID:             primitive.NewObjectID(),
		UserID:         userID,
		ConversationID: conversationID,
		UserText:       userText,
		AssistantText:  assistantText,
		Status:         models.JobStatusPending,
		CreatedAt:      time.Now(),
	}

	collection := s.mongodb.Collection(database.CollectionExtractionJobs)
	if _, err := collection.InsertOne(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue extraction job: %w", err)
	}
	return nil
}

// ProcessPending drains the extraction queue. Jobs are claimed oldest-first
// with at most one job per user in flight across all instances, so a user's
// merges apply in enqueue order. Returns how many jobs were completed.
func (s *ExtractionService) ProcessPending(ctx context.Context) (int, error) {
	s.reclaimStaleJobs(ctx)

	processed := 0
	for i := 0; i < extractionBatchSize; i++ {
		job, err := s.claimNextJob(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break // queue empty
		}

		if err := s.processJob(ctx, job); err != nil {
			s.failJob(ctx, job, err)
			extractionJobsProcessed.WithLabelValues("failed").Inc()
			continue
		}
		s.completeJob(ctx, job)
		extractionJobsProcessed.WithLabelValues("completed").Inc()
		processed++
	}

	if processed > 0 {
		log.Printf("✅ [EXTRACTION] Processed %d extraction jobs", processed)
	}
	return processed, nil
}

// claimableFilter selects pending jobs whose user is not in excludeUsers.
func claimableFilter(excludeUsers []string) bson.M {
	filter := bson.M{"status": models.JobStatusPending}
	if len(excludeUsers) > 0 {
		filter["userId"] = bson.M{"$nin": excludeUsers}
	}
	return filter
}

// claimNextJob atomically flips the oldest claimable pending job to
// processing. A user with a job already in flight is skipped entirely:
// with several instances draining the same queue, claiming that user's
// next job would let its merge race the earlier one and land out of
// enqueue order.
func (s *ExtractionService) claimNextJob(ctx context.Context) (*models.ExtractionJob, error) {
	collection := s.mongodb.Collection(database.CollectionExtractionJobs)

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	skip := make(map[string]bool)
	for {
		busy, err := collection.Distinct(ctx, "userId", bson.M{"status": models.JobStatusProcessing})
		if err != nil {
			return nil, fmt.Errorf("failed to list in-flight users: %w", err)
		}
		exclude := make([]string, 0, len(busy)+len(skip))
		for _, raw := range busy {
			if id, ok := raw.(string); ok {
				exclude = append(exclude, id)
			}
		}
		for id := range skip {
			exclude = append(exclude, id)
		}

		var job models.ExtractionJob
		err = collection.FindOneAndUpdate(ctx,
			claimableFilter(exclude),
			bson.M{
				"$set": bson.M{"status": models.JobStatusProcessing, "claimedAt": time.Now()},
				"$inc": bson.M{"attemptCount": 1},
			},
			opts).Decode(&job)
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim extraction job: %w", err)
		}

		// Two instances can pass the in-flight check at the same moment and
		// claim two jobs for one user. Whoever holds the later job yields.
		earlier, err := collection.CountDocuments(ctx, bson.M{
			"userId":    job.UserID,
			"status":    bson.M{"$in": []string{models.JobStatusPending, models.JobStatusProcessing}},
			"createdAt": bson.M{"$lt": job.CreatedAt},
			"_id":       bson.M{"$ne": job.ID},
		})
		if err != nil {
			s.requeueJob(ctx, &job)
			return nil, fmt.Errorf("claim ordering check failed: %w", err)
		}
		if earlier > 0 {
			s.requeueJob(ctx, &job)
			skip[job.UserID] = true
			continue
		}
		return &job, nil
	}
}

// requeueJob returns a yielded job to the queue as if it was never claimed.
func (s *ExtractionService) requeueJob(ctx context.Context, job *models.ExtractionJob) {
	collection := s.mongodb.Collection(database.CollectionExtractionJobs)

	_, err := collection.UpdateOne(ctx,
		bson.M{"_id": job.ID},
		bson.M{
			"$set":   bson.M{"status": models.JobStatusPending},
			"$unset": bson.M{"claimedAt": ""},
			"$inc":   bson.M{"attemptCount": -1},
		})
	if err != nil {
		log.Printf("⚠️ [EXTRACTION] Failed to requeue job %s: %v", job.ID.Hex(), err)
	}
}

// reclaimStaleJobs returns long-running processing jobs to the pending queue.
func (s *ExtractionService) reclaimStaleJobs(ctx context.Context) {
	collection := s.mongodb.Collection(database.CollectionExtractionJobs)

	cutoff := time.Now().Add(-staleProcessingAfter)
	result, err := collection.UpdateMany(ctx,
		bson.M{
			"status":    models.JobStatusProcessing,
			"claimedAt": bson.M{"$lt": cutoff},
		},
		bson.M{"$set": bson.M{"status": models.JobStatusPending}})
	if err != nil {
		log.Printf("⚠️ [EXTRACTION] Failed to reclaim stale jobs: %v", err)
		return
	}
	if result.ModifiedCount > 0 {
		log.Printf("🔄 [EXTRACTION] Reclaimed %d stale extraction jobs", result.ModifiedCount)
	}
}

// processJob runs one extraction: structured LLM call, validation, graph
// merge, then the model-assisted contradiction pass.
func (s *ExtractionService) processJob(ctx context.Context, job *models.ExtractionJob) error {
	delta, err := s.extractDelta(ctx, job)
	if err != nil {
		return err
	}
	if delta == nil {
		// Extractor produced nothing usable after the strict retry. The
		// turn is dropped from the graph, never retried.
		log.Printf("⚠️ [EXTRACTION] Job %s yielded no valid delta, dropping turn", job.ID.Hex())
		return nil
	}
	if len(delta.Nodes) == 0 && len(delta.Edges) == 0 {
		return nil // small talk, nothing worth remembering
	}

	if _, err := s.graph.ApplyDelta(ctx, job.UserID, *delta); err != nil {
		return fmt.Errorf("graph merge failed: %w", err)
	}

	s.checkContradictions(ctx, job, delta)
	return nil
}

const extractorSystemPrompt = `You analyze one exchange between a user and an assistant and extract durable knowledge about the USER as a small graph.

Extract only things worth remembering long-term: entities and concepts the user engages with, beliefs and values they express, behavioral patterns, character traits, and goals. Ignore pleasantries, the assistant's own opinions, and one-off logistics.

Node types: Entity, Concept, Belief, Value, Pattern, Trait, Goal.
Belief, Value, Pattern and Trait labels must be short declarative phrases from the user's perspective (e.g. "dislikes crowded places", "values honesty over comfort").

Edge relations: KNOWS_ABOUT, HAS_BELIEF, HAS_VALUE, HAS_PATTERN, HAS_TRAIT, RELATED_TO, CONTRADICTS, SUPPORTS.
Every edge endpoint must reference a node you extracted, by its exact label and type.

Return empty arrays when the exchange contains nothing durable.`

const extractorStrictSuffix = `

STRICT MODE: your previous output was invalid. Use ONLY the listed node types and edge relations, exactly as spelled. Every edge's source_label/target_label must exactly match a label in your nodes array. Return empty arrays if unsure.`

// extractionSchema is the JSON-schema response contract for the extractor.
var extractionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"nodes": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"type":  map[string]interface{}{"type": "string", "enum": models.NodeTypes},
					"label": map[string]interface{}{"type": "string"},
					"attributes": map[string]interface{}{
						"type":                 "object",
						"additionalProperties": map[string]interface{}{"type": "string"},
					},
				},
				"required":             []string{"type", "label"},
				"additionalProperties": false,
			},
		},
		"edges": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"source_label": map[string]interface{}{"type": "string"},
					"source_type":  map[string]interface{}{"type": "string", "enum": models.NodeTypes},
					"target_label": map[string]interface{}{"type": "string"},
					"target_type":  map[string]interface{}{"type": "string", "enum": models.NodeTypes},
					"relation":     map[string]interface{}{"type": "string", "enum": models.EdgeRelations},
					"weight":       map[string]interface{}{"type": "number"},
					"evidence":     map[string]interface{}{"type": "string"},
				},
				"required":             []string{"source_label", "source_type", "target_label", "target_type", "relation"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"nodes", "edges"},
	"additionalProperties": false,
}

// extractDelta calls the extractor model and validates its output. Invalid
// output gets exactly one stricter retry; a second failure drops the turn
// (nil delta, no error) rather than poisoning the queue.
func (s *ExtractionService) extractDelta(ctx context.Context, job *models.ExtractionJob) (*models.GraphDelta, error) {
	userPrompt := fmt.Sprintf("User: %s\n\nAssistant: %s", job.UserText, job.AssistantText)

	for _, strict := range []bool{false, true} {
		systemPrompt := extractorSystemPrompt
		if strict {
			systemPrompt += extractorStrictSuffix
		}

		var raw models.ExtractedDeltaFromLLM
		if err := s.llm.GenerateStructured(ctx, systemPrompt, userPrompt, "knowledge_delta", extractionSchema, &raw); err != nil {
			return nil, fmt.Errorf("extractor call failed: %w", err)
		}

		delta, valid := validateExtraction(raw)
		if valid {
			return delta, nil
		}
		log.Printf("⚠️ [EXTRACTION] Job %s produced invalid delta (strict=%v)", job.ID.Hex(), strict)
	}

	return nil, nil
}

// validateExtraction converts raw model output into a delta, checking the
// type/relation vocabulary and edge label references. A delta is invalid
// when anything falls outside the contract - partial acceptance would make
// merges depend on which half of a bad response happened to parse.
func validateExtraction(raw models.ExtractedDeltaFromLLM) (*models.GraphDelta, bool) {
	delta := &models.GraphDelta{}

	labels := make(map[string]bool)
	for _, n := range raw.Nodes {
		if !models.IsValidNodeType(n.Type) || strings.TrimSpace(n.Label) == "" {
			return nil, false
		}
		labels[nodeKey(n.Type, CanonicalKey(n.Label))] = true
		delta.Nodes = append(delta.Nodes, models.CandidateNode{
			Type:       n.Type,
			Label:      n.Label,
			Attributes: n.Attributes,
		})
	}

	for _, e := range raw.Edges {
		if !models.IsValidRelation(e.Relation) {
			return nil, false
		}
		if !labels[nodeKey(e.SourceType, CanonicalKey(e.SourceLabel))] {
			return nil, false
		}
		if !labels[nodeKey(e.TargetType, CanonicalKey(e.TargetLabel))] {
			return nil, false
		}
		delta.Edges = append(delta.Edges, models.CandidateEdge{
			SourceLabel: e.SourceLabel,
			SourceType:  e.SourceType,
			TargetLabel: e.TargetLabel,
			TargetType:  e.TargetType,
			Relation:    e.Relation,
			Weight:      e.Weight,
			Evidence:    e.Evidence,
		})
	}

	return delta, true
}

var oppositionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"contradicts": map[string]interface{}{"type": "boolean"},
		"reasoning":   map[string]interface{}{"type": "string"},
	},
	"required":             []string{"contradicts", "reasoning"},
	"additionalProperties": false,
}

// checkContradictions escalates ambiguous belief/value pairs to the model.
// The negation heuristic already handled clear-cut opposites during the
// merge; this pass covers pairs that overlap topically without a literal
// negation. Failures here are logged and swallowed - contradiction edges
// are enrichment, never worth failing a job over.
func (s *ExtractionService) checkContradictions(ctx context.Context, job *models.ExtractionJob, delta *models.GraphDelta) {
	checks := 0

	for _, nodeType := range []string{models.NodeTypeBelief, models.NodeTypeValue} {
		var fresh []models.CandidateNode
		for _, n := range delta.Nodes {
			if n.Type == nodeType {
				fresh = append(fresh, n)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		existing, err := s.graph.NodesByType(ctx, job.UserID, nodeType, 0)
		if err != nil {
			log.Printf("⚠️ [EXTRACTION] Contradiction scan skipped: %v", err)
			return
		}

		byKey := make(map[string]models.GraphNode, len(existing))
		for _, n := range existing {
			byKey[n.CanonicalKey] = n
		}

		for _, cand := range fresh {
			candKey := CanonicalKey(cand.Label)
			candNode, ok := byKey[candKey]
			if !ok {
				continue // merge should have created it; skip rather than guess
			}

			for _, other := range existing {
				if checks >= maxOppositionChecks {
					return
				}
				if other.CanonicalKey == candKey || other.Superseded {
					continue
				}
				// Heuristic hits were already recorded as edges in the merge
				if LabelsOppose(candKey, other.CanonicalKey) {
					continue
				}
				if !labelsShareTopic(candKey, other.CanonicalKey) {
					continue
				}

				checks++
				var verdict models.OppositionFromLLM
				prompt := fmt.Sprintf("Statement A: %q\nStatement B: %q\n\nDo these two statements about the same person genuinely contradict each other?", cand.Label, other.CanonicalLabel)
				if err := s.llm.GenerateStructured(ctx,
					"You judge whether two statements about a person contradict each other. Different preferences about different things do not contradict. Only a genuine logical or practical opposition counts.",
					prompt, "opposition_check", oppositionSchema, &verdict); err != nil {
					log.Printf("⚠️ [EXTRACTION] Opposition check failed: %v", err)
					continue
				}

				if verdict.Contradicts {
					if err := s.graph.AddContradiction(ctx, job.UserID, candNode.ID, other.ID, verdict.Reasoning); err != nil {
						log.Printf("⚠️ [EXTRACTION] Failed to record contradiction: %v", err)
						continue
					}
					log.Printf("🔍 [EXTRACTION] Contradiction confirmed for user %s: %q vs %q",
						job.UserID, cand.Label, other.CanonicalLabel)
				}
			}
		}
	}
}

// Words too common to indicate topical overlap between two labels.
var topicStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "to": true,
	"of": true, "in": true, "on": true, "for": true, "and": true, "or": true,
	"not": true, "never": true, "no": true, "does": true, "do": true,
	"doesn't": true, "don't": true, "likes": true, "dislikes": true,
	"loves": true, "hates": true, "wants": true, "values": true,
	"believes": true, "that": true, "with": true, "about": true,
}

// labelsShareTopic reports whether two canonical labels share at least one
// meaningful word, making them worth a model-assisted contradiction check.
func labelsShareTopic(a, b string) bool {
	wordsA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		if !topicStopwords[w] {
			wordsA[w] = true
		}
	}
	for _, w := range strings.Fields(b) {
		if !topicStopwords[w] && wordsA[w] {
			return true
		}
	}
	return false
}

// completeJob marks a job done and strips the raw turn text, which has no
// value once extraction succeeded.
func (s *ExtractionService) completeJob(ctx context.Context, job *models.ExtractionJob) {
	collection := s.mongodb.Collection(database.CollectionExtractionJobs)
	now := time.Now()

	_, err := collection.UpdateOne(ctx,
		bson.M{"_id": job.ID},
		bson.M{
			"$set":   bson.M{"status": models.JobStatusCompleted, "processedAt": now},
			"$unset": bson.M{"userText": "", "assistantText": ""},
		})
	if err != nil {
		log.Printf("⚠️ [EXTRACTION] Failed to mark job %s completed: %v", job.ID.Hex(), err)
	}
}

// failJob returns a job to the queue for retry, or marks it failed once
// its attempts are exhausted.
func (s *ExtractionService) failJob(ctx context.Context, job *models.ExtractionJob, cause error) {
	collection := s.mongodb.Collection(database.CollectionExtractionJobs)

	status := models.JobStatusPending
	if job.AttemptCount >= models.MaxExtractionAttempts {
		status = models.JobStatusFailed
		log.Printf("❌ [EXTRACTION] Job %s failed permanently after %d attempts: %v", job.ID.Hex(), job.AttemptCount, cause)
	} else {
		log.Printf("⚠️ [EXTRACTION] Job %s attempt %d failed, will retry: %v", job.ID.Hex(), job.AttemptCount, cause)
	}

	_, err := collection.UpdateOne(ctx,
		bson.M{"_id": job.ID},
		bson.M{"$set": bson.M{"status": status, "errorMessage": cause.Error()}})
	if err != nil {
		log.Printf("⚠️ [EXTRACTION] Failed to update job %s status: %v", job.ID.Hex(), err)
	}
}

// QueueDepth returns how many jobs are waiting or in flight.
func (s *ExtractionService) QueueDepth(ctx context.Context) (pending, processing int64, err error) {
	collection := s.mongodb.Collection(database.CollectionExtractionJobs)

	pending, err = collection.CountDocuments(ctx, bson.M{"status": models.JobStatusPending})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	processing, err = collection.CountDocuments(ctx, bson.M{"status": models.JobStatusProcessing})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count processing jobs: %w", err)
	}
	return pending, processing, nil
}
