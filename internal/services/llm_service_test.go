package services

import (
	"strings"
	"testing"
)

func TestProcessStream(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	s := &LLMService{}
	var chunks []string
	full, err := s.processStream(strings.NewReader(stream), func(chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("processStream returned error: %v", err)
	}

	if full != "Hello" {
		t.Errorf("full content = %q, want %q", full, "Hello")
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestProcessStreamStopsAtDone(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"before"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after"}}]}`,
	}, "\n")

	s := &LLMService{}
	full, err := s.processStream(strings.NewReader(stream), func(string) {})
	if err != nil {
		t.Fatalf("processStream returned error: %v", err)
	}
	if full != "before" {
		t.Errorf("content after [DONE] must be ignored, got %q", full)
	}
}

func TestProcessStreamIgnoresMalformedChunks(t *testing.T) {
	stream := strings.Join([]string{
		`data: {not json`,
		`data: {"choices":[]}`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	}, "\n")

	s := &LLMService{}
	full, err := s.processStream(strings.NewReader(stream), func(string) {})
	if err != nil {
		t.Fatalf("processStream returned error: %v", err)
	}
	if full != "ok" {
		t.Errorf("full content = %q, want %q", full, "ok")
	}
}
