package handlers

import (
	"github.com/gofiber/fiber/v2"

	"introspect/internal/middleware"
	"introspect/internal/services"
)

// ConversationHandler manages conversation CRUD plus the per-conversation
// summary and extraction triggers.
type ConversationHandler struct {
	conversations *services.ConversationService
	memory        *services.MemoryService
	extraction    *services.ExtractionService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *services.ConversationService, memory *services.MemoryService, extraction *services.ExtractionService) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		memory:        memory,
		extraction:    extraction,
	}
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conv, err := h.conversations.CreateConversation(c.Context(), userID, req.Title)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create conversation",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	conversations, err := h.conversations.ListConversations(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list conversations",
		})
	}
	return c.JSON(fiber.Map{"conversations": conversations})
}

// Messages handles GET /api/conversations/:id/messages
func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	conversationID := c.Params("id")

	if !h.conversations.IsConversationOwner(c.Context(), conversationID, userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	messages, err := h.conversations.GetMessages(c.Context(), conversationID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// Summary handles GET /api/conversations/:id/summary
func (h *ConversationHandler) Summary(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	conversationID := c.Params("id")

	if !h.conversations.IsConversationOwner(c.Context(), conversationID, userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	messages, err := h.conversations.GetMessages(c.Context(), conversationID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}
	if len(messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation has no messages yet",
		})
	}

	summary, err := h.memory.SummarizeConversation(c.Context(), messages)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate summary",
		})
	}
	return c.JSON(fiber.Map{"summary": summary})
}

// Extract handles POST /api/conversations/:id/extract - re-queues the most
// recent turn pair of a conversation for knowledge extraction.
func (h *ConversationHandler) Extract(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	conversationID := c.Params("id")

	if !h.conversations.IsConversationOwner(c.Context(), conversationID, userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	recent, err := h.conversations.RecentMessages(c.Context(), conversationID, 2)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load messages",
		})
	}

	var userText, assistantText string
	for _, msg := range recent {
		switch msg.Role {
		case "user":
			userText = msg.Content
		case "assistant":
			assistantText = msg.Content
		}
	}
	if userText == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation has no user turn to extract from",
		})
	}

	if err := h.extraction.Enqueue(c.Context(), userID, conversationID, userText, assistantText); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue extraction",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}
