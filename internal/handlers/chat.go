package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"introspect/internal/middleware"
	"introspect/internal/models"
	"introspect/internal/services"
)

// ChatHandler streams chat turns over SSE.
type ChatHandler struct {
	orchestrator  *services.OrchestratorService
	conversations *services.ConversationService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(orchestrator *services.OrchestratorService, conversations *services.ConversationService) *ChatHandler {
	return &ChatHandler{
		orchestrator:  orchestrator,
		conversations: conversations,
	}
}

// sseEvent is one event on the chat stream.
type sseEvent struct {
	Type    string `json:"type"` // "chunk", "done", "error"
	Content string `json:"content,omitempty"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`

	Degraded bool `json:"degraded,omitempty"`
	Tokens   int  `json:"context_tokens,omitempty"`
}

// SendMessage handles POST /api/conversations/:id/messages. The reply
// streams back as SSE events; the first chunk is flushed as soon as the
// model produces it.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	conversationID := c.Params("id")

	var req models.TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message content is required",
		})
	}

	if !h.conversations.IsConversationOwner(c.Context(), conversationID, userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The fiber request context is gone once streaming starts
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		writeEvent := func(event sseEvent) {
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if err := w.Flush(); err != nil {
				cancel() // client went away, stop generating
			}
		}

		result, err := h.orchestrator.ProcessTurn(ctx, userID, conversationID, req, func(chunk string) {
			writeEvent(sseEvent{Type: "chunk", Content: chunk})
		})
		if err != nil {
			log.Printf("❌ [CHAT] Turn failed for conversation %s: %v", conversationID, err)
			writeEvent(sseEvent{Type: "error", State: string(result.State), Error: "Generation failed. Please try again."})
			return
		}

		done := sseEvent{Type: "done", State: string(result.State)}
		if result.Context != nil {
			done.Degraded = result.Context.Degraded
			done.Tokens = result.Context.TotalTokens
		}
		writeEvent(done)
	}))

	return nil
}
