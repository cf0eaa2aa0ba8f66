package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"introspect/internal/config"
	"introspect/internal/models"
)

// RetrievalService assembles the context window for a generation call from
// three sources, in priority order: the recent turns of the current
// conversation, the user's strongest graph facts, and semantically similar
// memories from past conversations. The bundle never exceeds its token
// budget; lower-priority sources are truncated first.
type RetrievalService struct {
	conversations *ConversationService
	memory        *MemoryService
	graph         *GraphService
	cfg           *config.Config
}

// How many graph facts are considered before the budget cut.
const graphFactLimit = 12

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(conversations *ConversationService, memory *MemoryService, graph *GraphService, cfg *config.Config) *RetrievalService {
	return &RetrievalService{
		conversations: conversations,
		memory:        memory,
		graph:         graph,
		cfg:           cfg,
	}
}

// BuildContext assembles the context bundle for one turn. The query is the
// user's new message. If the embedding index is unavailable the bundle is
// built from recency + graph only and flagged degraded; retrieval never
// fails a turn outright unless even the message store is down.
func (s *RetrievalService) BuildContext(ctx context.Context, userID, conversationID, query string, budget int) (*models.ContextBundle, error) {
	if budget <= 0 {
		budget = s.cfg.ContextBudgetTokens
	}

	recent, err := s.conversations.RecentMessages(ctx, conversationID, s.cfg.RecencyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent turns: %w", err)
	}

	recency := make([]models.ContextFragment, 0, len(recent))
	for _, msg := range recent {
		f := models.ContextFragment{
			Source: models.ContextSourceRecency,
			Role:   msg.Role,
			Text:   msg.Content,
		}
		f.Tokens = EstimateFragmentTokens(f)
		recency = append(recency, f)
	}

	var graphFrags []models.ContextFragment
	facts, err := s.graph.FactsForTurn(ctx, userID, query, graphFactLimit)
	if err != nil {
		// Graph facts are enrichment; a turn can proceed without them
		log.Printf("⚠️ [RETRIEVAL] Graph facts unavailable for user %s: %v", userID, err)
	} else {
		for _, fact := range facts {
			f := models.ContextFragment{
				Source: models.ContextSourceGraph,
				Text:   fact,
			}
			f.Tokens = EstimateFragmentTokens(f)
			graphFrags = append(graphFrags, f)
		}
	}

	// Semantic retrieval excludes anything already covered by the recency
	// window of this conversation.
	excludeAfter := time.Now()
	if len(recent) > 0 {
		excludeAfter = recent[0].CreatedAt
	}

	degraded := false
	var semantic []models.ContextFragment
	similar, err := s.memory.SearchSimilar(ctx, userID, query, s.cfg.SemanticTopK, conversationID, excludeAfter)
	if err != nil {
		degraded = true
		log.Printf("⚠️ [RETRIEVAL] Semantic retrieval degraded for user %s: %v", userID, err)
	} else {
		for _, sm := range similar {
			f := models.ContextFragment{
				Source: models.ContextSourceSemantic,
				Role:   sm.Unit.Role,
				Text:   RetrievalText(sm.Unit),
				Score:  sm.Score,
			}
			f.Tokens = EstimateFragmentTokens(f)
			semantic = append(semantic, f)
		}
	}

	fragments, total := assembleBundle(budget, recency, graphFrags, semantic)

	return &models.ContextBundle{
		UserID:         userID,
		ConversationID: conversationID,
		Fragments:      fragments,
		TotalTokens:    total,
		BudgetTokens:   budget,
		Degraded:       degraded,
	}, nil
}

// assembleBundle fills the budget by source priority. Recency fragments are
// admitted newest-first (the oldest turns drop when the budget is tight)
// but emitted in chronological order; graph facts and semantic hits are
// already ordered strongest-first and are admitted greedily.
func assembleBundle(budget int, recency, graph, semantic []models.ContextFragment) ([]models.ContextFragment, int) {
	total := 0
	fragments := []models.ContextFragment{}

	// Recency: walk backwards from the newest turn
	firstKept := len(recency)
	for i := len(recency) - 1; i >= 0; i-- {
		if total+recency[i].Tokens > budget {
			break
		}
		total += recency[i].Tokens
		firstKept = i
	}
	fragments = append(fragments, recency[firstKept:]...)

	for _, f := range graph {
		if total+f.Tokens > budget {
			continue
		}
		total += f.Tokens
		fragments = append(fragments, f)
	}

	for _, f := range semantic {
		if total+f.Tokens > budget {
			continue
		}
		total += f.Tokens
		fragments = append(fragments, f)
	}

	return fragments, total
}

// RenderSystemPrompt turns a context bundle into the system prompt for the
// generation call. Sections appear only when they have content.
func RenderSystemPrompt(bundle *models.ContextBundle) string {
	var graphFacts, memories []string
	for _, f := range bundle.Fragments {
		switch f.Source {
		case models.ContextSourceGraph:
			graphFacts = append(graphFacts, "- "+f.Text)
		case models.ContextSourceSemantic:
			memories = append(memories, "- "+f.Text)
		}
	}

	var b strings.Builder
	b.WriteString("You are a thoughtful companion for self-reflection. You remember what the user has shared across conversations and use it to ask better questions and notice patterns they might miss.")

	if len(graphFacts) > 0 {
		b.WriteString("\n\nWhat you know about the user:\n")
		b.WriteString(strings.Join(graphFacts, "\n"))
	}
	if len(memories) > 0 {
		b.WriteString("\n\nRelevant moments from past conversations:\n")
		b.WriteString(strings.Join(memories, "\n"))
	}
	if bundle.Degraded {
		b.WriteString("\n\n(Long-term memory retrieval is temporarily limited.)")
	}

	return b.String()
}

// RecencyMessages extracts the recency fragments of a bundle as chat
// messages, preserving roles and order.
func RecencyMessages(bundle *models.ContextBundle) []ChatMessage {
	var messages []ChatMessage
	for _, f := range bundle.Fragments {
		if f.Source != models.ContextSourceRecency {
			continue
		}
		messages = append(messages, ChatMessage{Role: f.Role, Content: f.Text})
	}
	return messages
}
