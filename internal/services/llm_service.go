package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// LLMService talks to an OpenAI-compatible chat completions API. It covers
// the two generation contracts the pipeline needs: streamed text generation
// for the user-facing turn and structured (JSON-schema) generation for
// extraction and synthesis calls.
type LLMService struct {
	baseURL        string
	apiKey         string
	chatModel      string
	extractorModel string
	client         *http.Client
}

// Transient upstream errors are retried with backoff before surfacing.
const (
	llmMaxRetries     = 2
	llmRetryBaseDelay = 500 * time.Millisecond
)

// NewLLMService creates a new LLM service
func NewLLMService(baseURL, apiKey, chatModel, extractorModel string) *LLMService {
	return &LLMService{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		chatModel:      chatModel,
		extractorModel: extractorModel,
		client:         &http.Client{Timeout: 120 * time.Second},
	}
}

// ChatMessage is one message in a chat completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChat sends a streaming chat completion request and invokes onChunk
// for every content delta as it arrives. The first chunk reaches the caller
// before generation completes; nothing is buffered. Returns the full
// response text.
func (s *LLMService) StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(string)) (string, error) {
	requestBody := map[string]interface{}{
		"model":    s.chatModel,
		"messages": messages,
		"stream":   true,
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return s.processStream(resp.Body, onChunk)
}

// processStream parses the SSE stream from the provider and forwards
// content deltas to onChunk.
func (s *LLMService) processStream(reader io.Reader, onChunk func(string)) (string, error) {
	scanner := bufio.NewScanner(reader)

	// Increase buffer to 1MB for large SSE chunks (default is 64KB)
	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	var fullContent strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if content := chunk.Choices[0].Delta.Content; content != "" {
			fullContent.WriteString(content)
			onChunk(content)
		}
	}

	if err := scanner.Err(); err != nil {
		return fullContent.String(), fmt.Errorf("stream read failed: %w", err)
	}

	return fullContent.String(), nil
}

// GenerateStructured sends a non-streaming request with a JSON-schema
// response format and unmarshals the result into out. Transient upstream
// errors are retried with backoff.
func (s *LLMService) GenerateStructured(
	ctx context.Context,
	systemPrompt string,
	userPrompt string,
	schemaName string,
	schema map[string]interface{},
	out interface{},
) error {
	requestBody := map[string]interface{}{
		"model": s.extractorModel,
		"messages": []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		"stream":      false,
		"temperature": 0.2, // Low temp for consistency
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   schemaName,
				"strict": true,
				"schema": schema,
			},
		},
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= llmMaxRetries; attempt++ {
		if attempt > 0 {
			delay := llmRetryBaseDelay * time.Duration(1<<(attempt-1))
			log.Printf("🔄 [LLM] Retrying %s call in %v (attempt %d/%d)", schemaName, delay, attempt+1, llmMaxRetries+1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		content, retryable, err := s.doStructuredRequest(ctx, reqBody)
		if err != nil {
			lastErr = err
			if retryable {
				continue
			}
			return err
		}

		if err := json.Unmarshal([]byte(content), out); err != nil {
			// Don't log model output verbatim - only the length
			log.Printf("⚠️ [LLM] Failed to parse %s response: %v (response length: %d bytes)", schemaName, err, len(content))
			return fmt.Errorf("failed to parse structured response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("structured call failed after %d attempts: %w", llmMaxRetries+1, lastErr)
}

// doStructuredRequest performs one request and reports whether a failure is
// worth retrying (5xx / transport errors) or not (4xx).
func (s *LLMService) doStructuredRequest(ctx context.Context, reqBody []byte) (content string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode >= 500, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", false, fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return "", true, fmt.Errorf("no choices in response")
	}

	return apiResponse.Choices[0].Message.Content, false, nil
}

// GenerateText sends a plain non-streaming chat completion (used for
// conversation summaries).
func (s *LLMService) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	requestBody := map[string]interface{}{
		"model": s.chatModel,
		"messages": []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		"stream":      false,
		"temperature": 0.3,
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	content, _, err := s.doStructuredRequest(ctx, reqBody)
	return content, err
}
