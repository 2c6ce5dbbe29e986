package booksum

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	if got := EstimateTokens("", "gpt-5-mini"); got != 0 {
		t.Fatalf("empty text: got %d", got)
	}

	// 39 chars at 3.9 chars/token is exactly 10 tokens.
	text := strings.Repeat("a", 39)
	if got := EstimateTokens(text, "gpt-5-mini"); got != 10 {
		t.Fatalf("gpt-5: got %d, want 10", got)
	}

	// Partial tokens round up.
	if got := EstimateTokens("abcde", "unknown-model"); got != 2 {
		t.Fatalf("round up: got %d, want 2", got)
	}

	// Unknown models use the generic 4 chars/token divisor.
	text = strings.Repeat("a", 400)
	if got := EstimateTokens(text, "some-future-model"); got != 100 {
		t.Fatalf("generic: got %d, want 100", got)
	}
}

func TestEstimateTokens_ModelPrefixMatch(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 380)
	if got := EstimateTokens(text, "gpt-4o-mini"); got != 100 {
		t.Fatalf("gpt-4o prefix: got %d, want 100", got)
	}
	if EstimateTokens(text, "GPT-4O") != EstimateTokens(text, "gpt-4o") {
		t.Fatalf("model matching should be case-insensitive")
	}
}

func TestCountWords(t *testing.T) {
	t.Parallel()

	if got := CountWords(""); got != 0 {
		t.Fatalf("empty: got %d", got)
	}
	if got := CountWords("  one   two\nthree\t four "); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
}
