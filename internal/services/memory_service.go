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

	"introspect/internal/database"
	"introspect/internal/models"
)

// MemoryService owns the long-term memory units: one unit per stored turn,
// with an embedding attached asynchronously. Units are immutable once
// created; only the embedding field is filled in later, exactly once.
type MemoryService struct {
	mongodb   *database.MongoDB
	embedding *EmbeddingService
	llm       *LLMService
}

const (
	// Units longer than this get a generated summary which is embedded and
	// retrieved in place of the full text.
	summaryThresholdTokens = 400

	// Cap on how many units one brute-force similarity scan will consider.
	// Most recent units win - older memories age out of the scan window.
	maxScanUnits = 2000
)

// NewMemoryService creates a new memory service
func NewMemoryService(mongodb *database.MongoDB, embedding *EmbeddingService, llm *LLMService) *MemoryService {
	return &MemoryService{
		mongodb:   mongodb,
		embedding: embedding,
		llm:       llm,
	}
}

// StoreTurn persists one conversational turn as a memory unit and kicks off
// embedding attachment in the background. The write itself never waits on
// the embedding provider.
func (s *MemoryService) StoreTurn(ctx context.Context, userID, conversationID, role, text string) (*models.MemoryUnit, error) {
	unit := &models.MemoryUnit{
		ID:             primitive.NewObjectID(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		CreatedAt:      time.Now(),
	}

	collection := s.mongodb.Collection(database.CollectionMemoryUnits)
	if _, err := collection.InsertOne(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to store memory unit: %w", err)
	}

	go s.attachEmbedding(unit.ID, userID, text)

	return unit, nil
}

// attachEmbedding computes and attaches the embedding for a unit. Long turns
// are summarized first so the vector captures the gist rather than noise.
// The update filter guarantees the embedding is attached at most once.
func (s *MemoryService) attachEmbedding(unitID primitive.ObjectID, userID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	embedText := text
	summary := ""
	if EstimateTokens(text) > summaryThresholdTokens {
		generated, err := s.llm.GenerateText(ctx,
			"Condense the following conversational turn into 1-2 sentences preserving the concrete facts, preferences and feelings it expresses. Respond with the summary only.",
			text)
		if err != nil {
			log.Printf("⚠️ [MEMORY] Summary generation failed for unit %s, embedding full text: %v", unitID.Hex(), err)
		} else if generated != "" {
			summary = generated
			embedText = generated
		}
	}

	vector, err := s.embedding.Embed(ctx, embedText)
	if err != nil {
		// Leave the unit without an embedding; the backfill job will retry.
		log.Printf("⚠️ [MEMORY] Embedding failed for unit %s (user %s): %v", unitID.Hex(), userID, err)
		return
	}

	update := bson.M{"embedding": vector}
	if summary != "" {
		update["summary"] = summary
	}

	collection := s.mongodb.Collection(database.CollectionMemoryUnits)
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": unitID, "embedding": bson.M{"$exists": false}},
		bson.M{"$set": update})
	if err != nil {
		log.Printf("⚠️ [MEMORY] Failed to attach embedding to unit %s: %v", unitID.Hex(), err)
		return
	}
	if result.ModifiedCount == 0 {
		// Already attached by a concurrent backfill pass
		return
	}
}

// SearchSimilar finds the topK memory units most similar to the query text
// across all of a user's conversations. Units from excludeConversationID
// created at or after excludeAfter are skipped - those are already present
// verbatim in the recency window.
func (s *MemoryService) SearchSimilar(ctx context.Context, userID, query string, topK int, excludeConversationID string, excludeAfter time.Time) ([]models.SimilarMemory, error) {
	if topK <= 0 {
		return []models.SimilarMemory{}, nil
	}

	queryVector, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	collection := s.mongodb.Collection(database.CollectionMemoryUnits)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(maxScanUnits)

	cursor, err := collection.Find(ctx, bson.M{
		"userId":    userID,
		"embedding": bson.M{"$exists": true},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory units: %w", err)
	}
	defer cursor.Close(ctx)

	scored := []models.SimilarMemory{}
	for cursor.Next(ctx) {
		var unit models.MemoryUnit
		if err := cursor.Decode(&unit); err != nil {
			continue
		}
		if unit.ConversationID == excludeConversationID && !unit.CreatedAt.Before(excludeAfter) {
			continue
		}
		score := CosineSimilarity(queryVector, unit.Embedding)
		if score <= 0 {
			continue
		}
		scored = append(scored, models.SimilarMemory{Unit: unit, Score: score})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("memory scan failed: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// BackfillEmbeddings attaches embeddings to units that are still missing
// one (embedding provider was down when they were stored). Returns how many
// units were backfilled.
func (s *MemoryService) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	collection := s.mongodb.Collection(database.CollectionMemoryUnits)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, bson.M{"embedding": bson.M{"$exists": false}}, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to find units without embeddings: %w", err)
	}
	defer cursor.Close(ctx)

	var pending []models.MemoryUnit
	if err := cursor.All(ctx, &pending); err != nil {
		return 0, fmt.Errorf("failed to decode units: %w", err)
	}

	backfilled := 0
	for _, unit := range pending {
		embedText := unit.Text
		if unit.Summary != "" {
			embedText = unit.Summary
		}
		vector, err := s.embedding.Embed(ctx, embedText)
		if err != nil {
			// Provider still unavailable; stop and retry next run
			return backfilled, fmt.Errorf("embedding backfill stopped: %w", err)
		}

		result, err := collection.UpdateOne(ctx,
			bson.M{"_id": unit.ID, "embedding": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"embedding": vector}})
		if err != nil {
			return backfilled, fmt.Errorf("failed to attach backfilled embedding: %w", err)
		}
		if result.ModifiedCount > 0 {
			backfilled++
		}
	}

	if backfilled > 0 {
		log.Printf("🔄 [MEMORY] Backfilled embeddings for %d memory units", backfilled)
	}
	return backfilled, nil
}

// SummarizeConversation produces a short summary of a whole conversation.
func (s *MemoryService) SummarizeConversation(ctx context.Context, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	summary, err := s.llm.GenerateText(ctx,
		"Summarize this conversation in 2-4 sentences. Focus on what the user shared and worked through, not on the assistant's replies.",
		b.String())
	if err != nil {
		return "", fmt.Errorf("conversation summary failed: %w", err)
	}
	return summary, nil
}

// RetrievalText returns the text a unit contributes to a context window:
// the summary when one exists, otherwise the full turn.
func RetrievalText(unit models.MemoryUnit) string {
	if unit.Summary != "" {
		return unit.Summary
	}
	return unit.Text
}

// CountPendingEmbeddings reports how many units still lack an embedding.
func (s *MemoryService) CountPendingEmbeddings(ctx context.Context) (int64, error) {
	collection := s.mongodb.Collection(database.CollectionMemoryUnits)
	return collection.CountDocuments(ctx, bson.M{"embedding": bson.M{"$exists": false}})
}
