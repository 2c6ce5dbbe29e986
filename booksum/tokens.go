package booksum

import (
	"strings"
)

// modelCharsPerToken maps model family prefixes to an average characters-per-
// token divisor. Estimates are advisory: they steer chunk boundaries and
// target summary lengths, never correctness.
var modelCharsPerToken = []struct {
	prefix string
	chars  float64
}{
	{"gpt-5", 3.9},
	{"gpt-4o", 3.8},
	{"gpt-4", 3.8},
	{"o1", 3.9},
	{"o3", 3.9},
}

const genericCharsPerToken = 4.0

// EstimateTokens returns a deterministic token count estimate for text under
// the given model. Unknown models fall back to the generic characters/4
// divisor rather than failing.
func EstimateTokens(text, model string) int {
	if text == "" {
		return 0
	}
	n := float64(len(text)) / charsPerToken(model)
	tokens := int(n)
	if float64(tokens) < n {
		tokens++
	}
	return tokens
}

func charsPerToken(model string) float64 {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, m := range modelCharsPerToken {
		if strings.HasPrefix(model, m.prefix) {
			return m.chars
		}
	}
	return genericCharsPerToken
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
