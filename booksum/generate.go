package booksum

import (
	"context"
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/book-summarizer/booksum/fileutils"
	"github.com/theimaginaryfoundation/book-summarizer/booksum/provider"
)

var (
	fictionElementsSchema    = provider.GenerateSchema[FictionElements]()
	nonfictionElementsSchema = provider.GenerateSchema[NonfictionElements]()
)

// Generator runs the per-chunk and per-chapter model calls. It holds no
// per-book state; the pipeline threads book and context through each call.
type Generator struct {
	completer provider.Completer
	model     string
}

// NewGenerator wires a generator over any Completer implementation.
func NewGenerator(completer provider.Completer, model string) Generator {
	return Generator{completer: completer, model: model}
}

// Elements extracts the type-appropriate element set from one chunk.
func (g Generator) Elements(ctx context.Context, book Book, chapterTitle, chunkText, priorContext string) (ElementSet, error) {
	instructions := extractFictionInstructions
	schemaName := "FictionElements"
	schema := fictionElementsSchema
	if book.Type == Nonfiction {
		instructions = extractNonfictionInstructions
		schemaName = "NonfictionElements"
		schema = nonfictionElementsSchema
	}

	out, err := g.completer.Complete(ctx, provider.Request{
		Model:           g.model,
		Instructions:    instructions,
		Input:           buildExtractInput(book, chapterTitle, chunkText, priorContext),
		SchemaName:      schemaName,
		Schema:          schema,
		MaxOutputTokens: 3000,
	})
	if err != nil {
		return ElementSet{}, err
	}

	set := ElementSet{Type: book.Type}
	if book.Type == Nonfiction {
		var elems NonfictionElements
		if err := fileutils.DecodeModelJSON(out, &elems); err != nil {
			return ElementSet{}, &provider.CompletionError{Kind: provider.InvalidResponse, Err: err}
		}
		set.Nonfiction = &elems
		return set, nil
	}
	var elems FictionElements
	if err := fileutils.DecodeModelJSON(out, &elems); err != nil {
		return ElementSet{}, &provider.CompletionError{Kind: provider.InvalidResponse, Err: err}
	}
	set.Fiction = &elems
	return set, nil
}

// Summary writes the prose summary for one chunk, guided by the chunk's
// extracted elements and the story-so-far context.
func (g Generator) Summary(ctx context.Context, book Book, chapterTitle, chunkText string, elems ElementSet, storySoFar string, targetWords int) (string, error) {
	instructions := summaryFictionInstructions
	if book.Type == Nonfiction {
		instructions = summaryNonfictionInstructions
	}

	out, err := g.completer.Complete(ctx, provider.Request{
		Model:           g.model,
		Instructions:    instructions,
		Input:           buildSummaryInput(book, chapterTitle, chunkText, elems, storySoFar, targetWords),
		MaxOutputTokens: summaryTokenBudget(targetWords),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &provider.CompletionError{Kind: provider.InvalidResponse, Err: fmt.Errorf("empty summary")}
	}
	return out, nil
}

// CombineSummaries merges the per-chunk summaries of a multi-chunk chapter
// into one cohesive chapter summary.
func (g Generator) CombineSummaries(ctx context.Context, book Book, chapterTitle string, parts []string, targetWords int) (string, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}

	out, err := g.completer.Complete(ctx, provider.Request{
		Model:           g.model,
		Instructions:    combineSummariesInstructions,
		Input:           buildCombineInput(book, chapterTitle, parts, targetWords),
		MaxOutputTokens: summaryTokenBudget(targetWords),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &provider.CompletionError{Kind: provider.InvalidResponse, Err: fmt.Errorf("empty combined summary")}
	}
	return out, nil
}

// Analysis writes the thematic analysis section for a completed chapter
// summary.
func (g Generator) Analysis(ctx context.Context, book Book, chapterTitle, chapterSummary string, elems ElementSet, themesSoFar string) (string, error) {
	instructions := analysisFictionInstructions
	if book.Type == Nonfiction {
		instructions = analysisNonfictionInstructions
	}

	out, err := g.completer.Complete(ctx, provider.Request{
		Model:           g.model,
		Instructions:    instructions,
		Input:           buildAnalysisInput(book, chapterTitle, chapterSummary, elems, themesSoFar),
		MaxOutputTokens: 1500,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &provider.CompletionError{Kind: provider.InvalidResponse, Err: fmt.Errorf("empty analysis")}
	}
	return out, nil
}

// summaryTokenBudget leaves headroom over the word target so the model is
// never cut off mid-sentence. Roughly 1.5 tokens per word, floor 1000.
func summaryTokenBudget(targetWords int) int {
	budget := int(float64(targetWords) * 1.5)
	if budget < 1000 {
		budget = 1000
	}
	return budget
}
