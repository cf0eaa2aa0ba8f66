package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"introspect/internal/database"
	"introspect/internal/models"
)

// ConversationService is the relational message store: conversations and
// their raw turns. Turn ordering is creation time, which the pipeline
// relies on for recency windows and extraction determinism.
type ConversationService struct {
	db *database.DB
}

// NewConversationService creates a new conversation service
func NewConversationService(db *database.DB) *ConversationService {
	return &ConversationService{db: db}
}

// CreateConversation creates a new conversation for a user
func (s *ConversationService) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	if title == "" {
		title = fmt.Sprintf("Conversation %s", time.Now().Format("2006-01-02 15:04"))
	}

	conv := &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, title) VALUES (?, ?, ?)",
		conv.ID, conv.UserID, conv.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	log.Printf("💬 [CONVERSATION] Created conversation %s for user %s", conv.ID, userID)
	return conv, nil
}

// GetConversation fetches a conversation by ID
func (s *ConversationService) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?",
		conversationID).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// IsConversationOwner reports whether userID owns the conversation
func (s *ConversationService) IsConversationOwner(ctx context.Context, conversationID, userID string) bool {
	var owner string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM conversations WHERE id = ?", conversationID).Scan(&owner)
	return err == nil && owner == userID
}

// ListConversations returns a user's conversations, most recent first
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// AddMessage appends a message to a conversation and bumps its timestamp
func (s *ConversationService) AddMessage(ctx context.Context, conversationID, role, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content) VALUES (?, ?, ?, ?)",
		msg.ID, msg.ConversationID, msg.Role, msg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", conversationID)
	if err != nil {
		log.Printf("⚠️ [CONVERSATION] Failed to bump conversation timestamp: %v", err)
	}

	return msg, nil
}

// GetMessages returns all messages of a conversation in creation order
func (s *ConversationService) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecentMessages returns the last n messages of a conversation in
// creation order (oldest of the window first).
func (s *ConversationService) RecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?",
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountUserMessages returns the total number of turns stored for a user,
// used to trigger insight synthesis after every M new turns.
func (s *ConversationService) CountUserMessages(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE c.user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
