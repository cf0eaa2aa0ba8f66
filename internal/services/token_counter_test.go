package services

import (
	"testing"

	"introspect/internal/models"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "single char", text: "a", want: 1},
		{name: "exactly four chars", text: "abcd", want: 1},
		{name: "five chars rounds up", text: "abcde", want: 2},
		{name: "short sentence", text: "hello world!", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateFragmentTokens(t *testing.T) {
	f := models.ContextFragment{Text: "abcdefgh"} // 2 tokens of text
	if got := EstimateFragmentTokens(f); got != 6 {
		t.Errorf("EstimateFragmentTokens = %d, want 6 (text + overhead)", got)
	}
}

func TestBundleTokens(t *testing.T) {
	fragments := []models.ContextFragment{
		{Tokens: 10},
		{Tokens: 25},
		{Tokens: 5},
	}
	if got := BundleTokens(fragments); got != 40 {
		t.Errorf("BundleTokens = %d, want 40", got)
	}
	if got := BundleTokens(nil); got != 0 {
		t.Errorf("BundleTokens(nil) = %d, want 0", got)
	}
}
