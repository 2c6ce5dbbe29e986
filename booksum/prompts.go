package booksum

import (
	"fmt"
	"strings"
)

const extractFictionInstructions = `You are analyzing a chapter from a fiction book. Extract key elements.

Return a single JSON object matching the schema. Base your extraction ONLY on
the provided text. Do not use any external knowledge about this book.

FIELDS:
- characters: people appearing in this chapter, with a brief description if
  newly introduced and their key actions here.
- events: what happened and why it matters.
- plot_developments: key plot points that advance the story.
- settings: locations/places introduced or featured.
- clues_or_foreshadowing: anything that might be important later.
- relationships: character relationship developments.
- tone_mood: overall tone of this chapter.`

const extractNonfictionInstructions = `You are analyzing a chapter from a nonfiction book. Extract key elements.

Return a single JSON object matching the schema. Base your extraction ONLY on
the provided text. Do not use any external knowledge about this book.

FIELDS:
- main_arguments: central arguments or claims made.
- key_concepts: terms/ideas with their explanations.
- evidence: claims paired with their supporting evidence or examples.
- case_studies: case studies, examples, or narratives used.
- historical_references: historical events and figures mentioned.
- techniques_methods: techniques, methods, or tools described.
- figures_data: any important figures, statistics, or data.
- connections: connections to previous chapters or the broader argument.`

const summaryFictionInstructions = `You are creating a chapter summary for a fiction book.

Write a summary that:
1. Captures ALL key events, character actions, and plot developments in detail.
2. Preserves important dialogue or character moments with sufficient context.
3. Maintains narrative flow - a reader should be able to continue reading the
   original book after this summary without confusion.
4. Includes plot twists, revelations, or clues with proper setup.
5. Notes character introductions and relationship developments thoroughly.

Write in clear, engaging prose matching the book's tone. Do NOT reveal
information from later chapters. Write ONLY based on the provided text.
Output ONLY plain text - no markdown formatting, headers, or bullet points.`

const summaryNonfictionInstructions = `You are creating a chapter summary for a nonfiction book.

Write a summary that:
1. Captures ALL main arguments and key concepts with sufficient explanation.
2. Preserves important evidence, examples, and case studies in detail.
3. Includes techniques, methods, or tools described.
4. Notes historical references and figures with context.
5. Maintains the logical flow of the author's reasoning.

Write in clear, informative prose. Do NOT use external knowledge about this
topic - base everything on the provided text. Output ONLY plain text - no
markdown formatting, headers, or bullet points.`

const analysisFictionInstructions = `You are writing an analysis section for a fiction chapter summary.

Cover, concisely but insightfully:
1. Thematic analysis: what themes are explored in this chapter, and how
   characters' actions and events reflect or develop them.
2. Character dynamics: nuances in relationships, power dynamics, conflicts,
   or bonds revealed here.

Base the analysis ONLY on the provided text. Output plain prose.`

const analysisNonfictionInstructions = `You are writing an analysis section for a nonfiction chapter summary.

Cover, concisely but insightfully:
1. Thematic analysis: what overarching themes or arguments this chapter
   develops, and how it contributes to the book's central thesis.
2. Narrative approach: how the author presents ideas - rhetorical techniques,
   case studies, or narrative elements used to make the argument.

Base the analysis ONLY on the provided text. Output plain prose.`

const combineSummariesInstructions = `Combine the provided partial summaries of one chapter into a single cohesive
chapter summary. Preserve all key points, keep chronological order, and write
flowing plain-text prose with no markdown.`

const contextUpdateInstructions = `You maintain a rolling context for a book being summarized chapter by
chapter. Fold the new chapter's summary and extracted elements into the
context so later chapters can be summarized with full continuity.

Return a single JSON object matching the schema.

FIELDS:
- running_digest: 2-4 sentence digest of the story or argument so far,
  folding in this chapter.
- open_threads: unresolved plot threads, mysteries, or pending arguments.
- themes: themes that have emerged so far.

Be concise and information-dense; this context must stay small.`

const compactContextInstructions = `The rolling book context below has grown too large. Rewrite the digest so it
keeps every continuity-relevant fact a reader of later chapters needs, in at
most half the length. Return a single JSON object matching the schema.`

const firstChapterContext = "This is the first chapter."

func buildExtractInput(book Book, chapterTitle, chunkText, priorContext string) string {
	var b strings.Builder
	writeBookHeader(&b, book, chapterTitle)
	fmt.Fprintf(&b, "PRIOR CONTEXT:\n%s\n\n", orFirstChapter(priorContext))
	fmt.Fprintf(&b, "CHAPTER TEXT:\n%s\n", chunkText)
	return b.String()
}

func buildSummaryInput(book Book, chapterTitle, chunkText string, elems ElementSet, storySoFar string, targetWords int) string {
	var b strings.Builder
	writeBookHeader(&b, book, chapterTitle)
	fmt.Fprintf(&b, "STORY SO FAR (from previous chapters):\n%s\n\n", orFirstChapter(storySoFar))
	fmt.Fprintf(&b, "KEY ELEMENTS EXTRACTED FROM THIS CHAPTER:\n%s\n\n", elems.PromptJSON())
	fmt.Fprintf(&b, "CHAPTER TEXT:\n%s\n\n", chunkText)
	fmt.Fprintf(&b, "LENGTH REQUIREMENT: write approximately %d words. This is a minimum - do not write less.\n", targetWords)
	return b.String()
}

func buildCombineInput(book Book, chapterTitle string, parts []string, targetWords int) string {
	var b strings.Builder
	writeBookHeader(&b, book, chapterTitle)
	fmt.Fprintf(&b, "LENGTH REQUIREMENT: write approximately %d words. This is a minimum - do not write less.\n\n", targetWords)
	b.WriteString("PARTIAL SUMMARIES:\n")
	for i, p := range parts {
		fmt.Fprintf(&b, "Part %d: %s\n\n", i+1, p)
	}
	return b.String()
}

func buildAnalysisInput(book Book, chapterTitle, chapterSummary string, elems ElementSet, themesSoFar string) string {
	var b strings.Builder
	writeBookHeader(&b, book, chapterTitle)
	if strings.TrimSpace(themesSoFar) == "" {
		themesSoFar = "No themes identified yet."
	}
	fmt.Fprintf(&b, "THEMES IDENTIFIED SO FAR:\n%s\n\n", themesSoFar)
	fmt.Fprintf(&b, "CHAPTER SUMMARY:\n%s\n\n", chapterSummary)
	fmt.Fprintf(&b, "KEY ELEMENTS FROM THIS CHAPTER:\n%s\n", elems.PromptJSON())
	return b.String()
}

func buildContextUpdateInput(prev RollingContext, chapterSummary string, elems ElementSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT CONTEXT:\n%s\n\n", orNoContext(prev.PromptText()))
	fmt.Fprintf(&b, "NEW CHAPTER SUMMARY:\n%s\n\n", chapterSummary)
	fmt.Fprintf(&b, "NEW EXTRACTION:\n%s\n", elems.PromptJSON())
	return b.String()
}

func buildCompactInput(c RollingContext) string {
	return "CONTEXT TO COMPACT:\n" + c.PromptText() + "\n"
}

func writeBookHeader(b *strings.Builder, book Book, chapterTitle string) {
	fmt.Fprintf(b, "BOOK: %s by %s\n", book.Metadata.Title, book.Author())
	fmt.Fprintf(b, "CHAPTER: %s\n\n", chapterTitle)
}

func orFirstChapter(s string) string {
	if strings.TrimSpace(s) == "" {
		return firstChapterContext
	}
	return s
}

func orNoContext(s string) string {
	if strings.TrimSpace(s) == "" {
		return "No prior context."
	}
	return s
}
