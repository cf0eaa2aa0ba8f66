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

// OrchestratorService runs the per-turn pipeline:
//
//	RECEIVED -> CONTEXT_BUILT -> GENERATING -> PERSISTED -> EXTRACTION_QUEUED -> DONE
//
// A turn fails only while generating. Once the reply has been delivered,
// persistence or extraction problems are logged and absorbed - the user
// already has their answer.
type OrchestratorService struct {
	conversations turnStore
	memory        memoryWriter
	retrieval     contextBuilder
	extraction    extractionQueuer
	insights      insightSynthesizer
	llm           replyStreamer
	cfg           *config.Config
}

// Narrow views of the collaborating services. The orchestrator only ever
// makes these calls, and tests substitute them.
type contextBuilder interface {
	BuildContext(ctx context.Context, userID, conversationID, query string, budget int) (*models.ContextBundle, error)
}

type replyStreamer interface {
	StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(string)) (string, error)
}

type turnStore interface {
	AddMessage(ctx context.Context, conversationID, role, content string) (*models.Message, error)
	CountUserMessages(ctx context.Context, userID string) (int64, error)
}

type memoryWriter interface {
	StoreTurn(ctx context.Context, userID, conversationID, role, text string) (*models.MemoryUnit, error)
}

type extractionQueuer interface {
	Enqueue(ctx context.Context, userID, conversationID, userText, assistantText string) error
}

type insightSynthesizer interface {
	SynthesizeForUser(ctx context.Context, userID string) (int, error)
}

// NewOrchestratorService creates a new orchestrator service
func NewOrchestratorService(
	conversations *ConversationService,
	memory *MemoryService,
	retrieval *RetrievalService,
	extraction *ExtractionService,
	insights *InsightService,
	llm *LLMService,
	cfg *config.Config,
) *OrchestratorService {
	return &OrchestratorService{
		conversations: conversations,
		memory:        memory,
		retrieval:     retrieval,
		extraction:    extraction,
		insights:      insights,
		llm:           llm,
		cfg:           cfg,
	}
}

// TurnResult reports how far a turn got and what it produced.
type TurnResult struct {
	State          models.TurnState      `json:"state"`
	ConversationID string                `json:"conversation_id"`
	Reply          string                `json:"reply"`
	Context        *models.ContextBundle `json:"context,omitempty"`
}

// ProcessTurn handles one user message end to end. onChunk receives reply
// deltas as they stream from the model; the first chunk reaches the caller
// before generation finishes.
func (s *OrchestratorService) ProcessTurn(ctx context.Context, userID, conversationID string, req models.TurnRequest, onChunk func(string)) (*TurnResult, error) {
	result := &TurnResult{State: models.TurnReceived, ConversationID: conversationID}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return result, fmt.Errorf("empty message")
	}

	bundle, err := s.retrieval.BuildContext(ctx, userID, conversationID, content, req.BudgetTokens)
	if err != nil {
		// Context construction failing outright means even the message
		// store is unreachable; generating without any history would
		// silently break conversation continuity.
		return result, fmt.Errorf("context construction failed: %w", err)
	}
	result.State = models.TurnContextBuilt
	result.Context = bundle
	if bundle.Degraded {
		contextDegraded.Inc()
	}

	messages := []ChatMessage{{Role: "system", Content: RenderSystemPrompt(bundle)}}
	messages = append(messages, RecencyMessages(bundle)...)
	messages = append(messages, ChatMessage{Role: models.RoleUser, Content: content})

	result.State = models.TurnGenerating
	reply, err := s.llm.StreamChat(ctx, messages, onChunk)
	if err != nil {
		result.State = models.TurnFailed
		turnsCompleted.WithLabelValues(string(result.State)).Inc()
		return result, fmt.Errorf("generation failed: %w", err)
	}
	result.Reply = reply

	// The reply is delivered. Everything below is best-effort.
	s.persistTurn(userID, conversationID, content, reply, result)
	turnsCompleted.WithLabelValues(string(result.State)).Inc()
	return result, nil
}

// persistTurn stores both sides of the exchange, queues extraction and
// checks the synthesis trigger. Runs with its own timeout so a cancelled
// request context cannot lose a delivered turn.
func (s *OrchestratorService) persistTurn(userID, conversationID, userText, reply string, result *TurnResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.conversations.AddMessage(ctx, conversationID, models.RoleUser, userText); err != nil {
		log.Printf("❌ [TURN] Failed to persist user turn (conversation %s): %v", conversationID, err)
		return
	}
	if _, err := s.conversations.AddMessage(ctx, conversationID, models.RoleAssistant, reply); err != nil {
		log.Printf("❌ [TURN] Failed to persist assistant turn (conversation %s): %v", conversationID, err)
		return
	}
	result.State = models.TurnPersisted

	if _, err := s.memory.StoreTurn(ctx, userID, conversationID, models.RoleUser, userText); err != nil {
		log.Printf("⚠️ [TURN] Failed to store user memory unit: %v", err)
	}
	if _, err := s.memory.StoreTurn(ctx, userID, conversationID, models.RoleAssistant, reply); err != nil {
		log.Printf("⚠️ [TURN] Failed to store assistant memory unit: %v", err)
	}

	if err := s.extraction.Enqueue(ctx, userID, conversationID, userText, reply); err != nil {
		log.Printf("⚠️ [TURN] Failed to queue extraction: %v", err)
	} else {
		result.State = models.TurnExtractionQueued
	}

	s.maybeTriggerSynthesis(ctx, userID)
	result.State = models.TurnDone
}

// maybeTriggerSynthesis kicks off insight synthesis in the background once
// a user has accumulated another batch of turns. The nightly schedule
// covers users who stop mid-batch.
func (s *OrchestratorService) maybeTriggerSynthesis(ctx context.Context, userID string) {
	if s.cfg.SynthesisTurns <= 0 {
		return
	}

	count, err := s.conversations.CountUserMessages(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [TURN] Synthesis trigger check failed: %v", err)
		return
	}

	// Two messages per turn
	turns := count / 2
	if turns == 0 || turns%int64(s.cfg.SynthesisTurns) != 0 {
		return
	}

	log.Printf("🎯 [TURN] User %s reached %d turns, triggering insight synthesis", userID, turns)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.insights.SynthesizeForUser(bgCtx, userID); err != nil {
			log.Printf("⚠️ [TURN] Background synthesis failed for user %s: %v", userID, err)
		}
	}()
}
