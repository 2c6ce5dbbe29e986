package booksum

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is a token-budget-respecting slice of one chapter's text.
// Chunk order within a chapter is sequential and must be preserved.
type Chunk struct {
	ChapterID string
	Index     int
	Text      string
	Final     bool
}

// SplitChapter splits a chapter into chunks that fit maxTokens. A chapter
// within budget comes back as a single chunk equal to the whole text.
// Splits happen on paragraph boundaries; a paragraph that alone exceeds the
// budget is split on sentence boundaries, and a single over-budget sentence
// is hard-cut. Concatenating chunk texts (ignoring the paragraph separators
// dropped at chunk boundaries) reconstructs the chapter.
func SplitChapter(ch Chapter, maxTokens int, model string) []Chunk {
	if maxTokens <= 0 || ch.EstimatedTokens <= maxTokens {
		return []Chunk{{ChapterID: ch.ID, Index: 0, Text: ch.Text, Final: true}}
	}

	paragraphs := strings.Split(ch.Text, "\n\n")
	sepTokens := EstimateTokens("\n\n", model)

	var texts []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		texts = append(texts, strings.Join(current, "\n\n"))
		current = nil
		currentTokens = 0
	}

	for _, para := range paragraphs {
		paraTokens := EstimateTokens(para, model)

		if paraTokens > maxTokens {
			// Force-split: the paragraph alone exceeds the budget.
			flush()
			texts = append(texts, splitParagraph(para, maxTokens, model)...)
			continue
		}

		// Joining costs the separator too, or a packed chunk can land
		// just over budget.
		cost := paraTokens
		if len(current) > 0 {
			cost += sepTokens
		}
		if currentTokens+cost > maxTokens && len(current) > 0 {
			flush()
			cost = paraTokens
		}
		current = append(current, para)
		currentTokens += cost
	}
	flush()

	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, Chunk{
			ChapterID: ch.ID,
			Index:     i,
			Text:      text,
			Final:     i == len(texts)-1,
		})
	}
	return chunks
}

// splitParagraph packs sentences into pieces under the budget. Sentences keep
// their trailing whitespace so concatenation reproduces the paragraph exactly.
func splitParagraph(para string, maxTokens int, model string) []string {
	sentences := splitSentences(para)

	var pieces []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		pieces = append(pieces, current.String())
		current.Reset()
		currentTokens = 0
	}

	for _, s := range sentences {
		sTokens := EstimateTokens(s, model)
		if sTokens > maxTokens {
			flush()
			pieces = append(pieces, hardSplit(s, maxTokens, model)...)
			continue
		}
		if currentTokens+sTokens > maxTokens && current.Len() > 0 {
			flush()
		}
		current.WriteString(s)
		currentTokens += sTokens
	}
	flush()
	return pieces
}

// splitSentences cuts text after terminal punctuation followed by whitespace.
// The whitespace run belongs to the preceding sentence, so joining the parts
// with no separator reconstructs the input.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Consume the whitespace run after the terminator, if any.
		j := i
		sawSpace := false
		for j < len(text) {
			r2, size2 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r2) {
				break
			}
			sawSpace = true
			j += size2
		}
		if sawSpace {
			sentences = append(sentences, text[start:j])
			start = j
			i = j
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

// hardSplit cuts text into rune-aligned slices of roughly the byte budget
// implied by maxTokens. Last resort for a single over-budget sentence.
func hardSplit(text string, maxTokens int, model string) []string {
	budget := int(float64(maxTokens) * charsPerToken(model))
	if budget < 1 {
		budget = 1
	}

	var parts []string
	start := 0
	for start < len(text) {
		end := start + budget
		if end >= len(text) {
			parts = append(parts, text[start:])
			break
		}
		// Back up to a rune boundary.
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == start {
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}
		parts = append(parts, text[start:end])
		start = end
	}
	return parts
}
