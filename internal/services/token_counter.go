package services

import "introspect/internal/models"

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateFragmentTokens estimates the token cost of a context fragment,
// including role/separator overhead.
func EstimateFragmentTokens(f models.ContextFragment) int {
	return EstimateTokens(f.Text) + 4 // role + separators overhead
}

// BundleTokens sums the token counts of every fragment in a bundle.
func BundleTokens(fragments []models.ContextFragment) int {
	total := 0
	for _, f := range fragments {
		total += f.Tokens
	}
	return total
}
