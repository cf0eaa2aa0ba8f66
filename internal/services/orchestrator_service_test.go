package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"introspect/internal/config"
	"introspect/internal/models"
)

type stubContextBuilder struct {
	bundle *models.ContextBundle
	err    error
}

func (s stubContextBuilder) BuildContext(ctx context.Context, userID, conversationID, query string, budget int) (*models.ContextBundle, error) {
	return s.bundle, s.err
}

type stubStreamer struct {
	chunks []string
	err    error
}

func (s stubStreamer) StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(string)) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	var b strings.Builder
	for _, c := range s.chunks {
		onChunk(c)
		b.WriteString(c)
	}
	return b.String(), nil
}

type stubTurnStore struct{}

func (stubTurnStore) AddMessage(ctx context.Context, conversationID, role, content string) (*models.Message, error) {
	return &models.Message{ConversationID: conversationID, Role: role, Content: content}, nil
}

func (stubTurnStore) CountUserMessages(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

type stubMemoryWriter struct{}

func (stubMemoryWriter) StoreTurn(ctx context.Context, userID, conversationID, role, text string) (*models.MemoryUnit, error) {
	return &models.MemoryUnit{}, nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) SynthesizeForUser(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

// blockingQueue stalls Enqueue until released, signalling when it is entered.
type blockingQueue struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingQueue() *blockingQueue {
	return &blockingQueue{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (q *blockingQueue) Enqueue(ctx context.Context, userID, conversationID, userText, assistantText string) error {
	select {
	case q.entered <- struct{}{}:
	default:
	}
	select {
	case <-q.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testOrchestrator(queue extractionQueuer, llm replyStreamer) *OrchestratorService {
	return &OrchestratorService{
		conversations: stubTurnStore{},
		memory:        stubMemoryWriter{},
		retrieval:     stubContextBuilder{bundle: &models.ContextBundle{BudgetTokens: 1000}},
		extraction:    queue,
		insights:      stubSynthesizer{},
		llm:           llm,
		cfg:           &config.Config{ContextBudgetTokens: 1000},
	}
}

func TestProcessTurnStreamsBeforeExtraction(t *testing.T) {
	queue := newBlockingQueue()
	orch := testOrchestrator(queue, stubStreamer{chunks: []string{"Hel", "lo"}})

	var chunks []string
	done := make(chan *TurnResult, 1)
	go func() {
		result, err := orch.ProcessTurn(context.Background(), "u1", "c1", models.TurnRequest{Content: "hi"}, func(chunk string) {
			chunks = append(chunks, chunk)
		})
		if err != nil {
			t.Errorf("ProcessTurn failed: %v", err)
		}
		done <- result
	}()

	select {
	case <-queue.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("extraction enqueue was never reached")
	}

	// Enqueue is still blocked; the whole reply must already be out.
	if got := strings.Join(chunks, ""); got != "Hello" {
		t.Fatalf("streamed %q before extraction enqueue, want the full reply", got)
	}

	close(queue.release)
	result := <-done
	if result.State != models.TurnDone {
		t.Errorf("final state = %s, want %s", result.State, models.TurnDone)
	}
	if result.Reply != "Hello" {
		t.Errorf("reply = %q, want %q", result.Reply, "Hello")
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, userID, conversationID, userText, assistantText string) error {
	return fmt.Errorf("queue unavailable")
}

func TestProcessTurnSurvivesEnqueueFailure(t *testing.T) {
	orch := testOrchestrator(failingQueue{}, stubStreamer{chunks: []string{"ok"}})

	result, err := orch.ProcessTurn(context.Background(), "u1", "c1", models.TurnRequest{Content: "hi"}, func(string) {})
	if err != nil {
		t.Fatalf("delivered turn must not fail on enqueue error: %v", err)
	}
	if result.State != models.TurnDone {
		t.Errorf("final state = %s, want %s", result.State, models.TurnDone)
	}
}

func TestProcessTurnFailsOnlyWhileGenerating(t *testing.T) {
	orch := testOrchestrator(newBlockingQueue(), stubStreamer{err: fmt.Errorf("model down")})

	result, err := orch.ProcessTurn(context.Background(), "u1", "c1", models.TurnRequest{Content: "hi"}, func(string) {})
	if err == nil {
		t.Fatal("expected generation error")
	}
	if result.State != models.TurnFailed {
		t.Errorf("state = %s, want %s", result.State, models.TurnFailed)
	}
}

func TestProcessTurnRejectsEmptyMessage(t *testing.T) {
	orch := testOrchestrator(newBlockingQueue(), stubStreamer{})

	result, err := orch.ProcessTurn(context.Background(), "u1", "c1", models.TurnRequest{Content: "   "}, func(string) {})
	if err == nil {
		t.Fatal("expected error for empty message")
	}
	if result.State != models.TurnReceived {
		t.Errorf("state = %s, want %s", result.State, models.TurnReceived)
	}
}
