package booksum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/theimaginaryfoundation/book-summarizer/booksum/fileutils"
	"github.com/theimaginaryfoundation/book-summarizer/booksum/provider"
)

// RollingContext is the bounded-size accumulator of cross-chapter continuity
// facts. One instance per book-processing run, updated exactly once per
// chapter and persisted after each update.
type RollingContext struct {
	BookType            BookType `json:"book_type"`
	RunningDigest       string   `json:"running_digest"`
	OpenThreads         []string `json:"open_threads,omitempty"`
	Themes              []string `json:"themes,omitempty"`
	AccumulatedEntities []string `json:"accumulated_entities,omitempty"`
	ChapterCount        int      `json:"chapter_count"`
}

// NewRollingContext returns the empty context for a book of the given type.
func NewRollingContext(t BookType) RollingContext {
	return RollingContext{BookType: t}
}

// IsEmpty reports whether no chapter has been folded in yet.
func (c RollingContext) IsEmpty() bool {
	return c.ChapterCount == 0 && strings.TrimSpace(c.RunningDigest) == ""
}

// SerializedLen is the size of the JSON encoding, used against the
// compaction threshold.
func (c RollingContext) SerializedLen() int {
	b, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return len(b)
}

// PromptText renders the context for prompt embedding. Empty contexts render
// as an empty string; callers substitute their own first-chapter phrasing.
func (c RollingContext) PromptText() string {
	if c.IsEmpty() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", strings.TrimSpace(c.RunningDigest))
	if len(c.OpenThreads) > 0 {
		fmt.Fprintf(&b, "Unresolved threads: %s\n", strings.Join(c.OpenThreads, "; "))
	}
	if len(c.Themes) > 0 {
		fmt.Fprintf(&b, "Themes so far: %s\n", strings.Join(c.Themes, ", "))
	}
	if len(c.AccumulatedEntities) > 0 {
		label := "Characters so far"
		if c.BookType == Nonfiction {
			label = "Concepts so far"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, strings.Join(c.AccumulatedEntities, ", "))
	}
	return strings.TrimSpace(b.String())
}

// ThemesText renders the accumulated themes for analysis prompts.
func (c RollingContext) ThemesText() string {
	return strings.Join(c.Themes, ", ")
}

// LoadRollingContext reads a persisted context record. A missing file is not
// an error; ok is false.
func LoadRollingContext(path string) (c RollingContext, ok bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RollingContext{}, false, nil
		}
		return RollingContext{}, false, fmt.Errorf("LoadRollingContext: read: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return RollingContext{}, false, fmt.Errorf("LoadRollingContext: unmarshal: %w", err)
	}
	return c, true, nil
}

// SaveRollingContext persists the context atomically. The write happens only
// after a chapter's context update fully completed, so a crash mid-chapter
// never leaves a partially updated record.
func SaveRollingContext(path string, c RollingContext) error {
	return fileutils.WriteJSONFileAtomic(path, c, true)
}

type contextUpdateResponse struct {
	RunningDigest string   `json:"running_digest"`
	OpenThreads   []string `json:"open_threads"`
	Themes        []string `json:"themes"`
}

var contextUpdateSchema = provider.GenerateSchema[contextUpdateResponse]()

// ContextManager folds chapter results into the rolling context, keeping its
// serialized size under a threshold via LLM-assisted compaction with a
// deterministic truncation backstop.
type ContextManager struct {
	completer provider.Completer
	model     string

	// maxSerializedChars bounds the JSON encoding of the context.
	maxSerializedChars int
	// maxEntities caps the accumulated entity set.
	maxEntities int
	// maxListItems caps open threads and themes.
	maxListItems int
}

// NewContextManager wires a manager with the given bounds. Non-positive
// bounds get defaults (4096 chars, 40 entities, 12 list items).
func NewContextManager(completer provider.Completer, model string, maxSerializedChars, maxEntities int) ContextManager {
	if maxSerializedChars <= 0 {
		maxSerializedChars = 4096
	}
	if maxEntities <= 0 {
		maxEntities = 40
	}
	return ContextManager{
		completer:          completer,
		model:              model,
		maxSerializedChars: maxSerializedChars,
		maxEntities:        maxEntities,
		maxListItems:       12,
	}
}

// Update folds a chapter's merged summary and elements into prev. Only ever
// called with the context produced by the immediately preceding chapter,
// never concurrently for the same book.
func (m ContextManager) Update(ctx context.Context, prev RollingContext, chapterSummary string, elems ElementSet) (RollingContext, error) {
	out, err := m.completer.Complete(ctx, provider.Request{
		Model:           m.model,
		Instructions:    contextUpdateInstructions,
		Input:           buildContextUpdateInput(prev, chapterSummary, elems),
		SchemaName:      "ContextUpdate",
		Schema:          contextUpdateSchema,
		MaxOutputTokens: 1500,
	})
	if err != nil {
		return RollingContext{}, err
	}

	var resp contextUpdateResponse
	if err := fileutils.DecodeModelJSON(out, &resp); err != nil {
		return RollingContext{}, &provider.CompletionError{Kind: provider.InvalidResponse, Err: err}
	}

	next := RollingContext{
		BookType:            prev.BookType,
		RunningDigest:       strings.TrimSpace(resp.RunningDigest),
		OpenThreads:         dedupeStrings(resp.OpenThreads),
		Themes:              dedupeStrings(append(append([]string(nil), prev.Themes...), resp.Themes...)),
		AccumulatedEntities: dedupeStrings(append(append([]string(nil), prev.AccumulatedEntities...), elems.Entities()...)),
		ChapterCount:        prev.ChapterCount + 1,
	}

	if next.SerializedLen() > m.maxSerializedChars {
		next = m.compact(ctx, next)
	}
	next.clampSerialized(m.maxSerializedChars, m.maxEntities, m.maxListItems)
	return next, nil
}

// compact asks the model to summarize-the-summary. Failures are tolerated:
// the deterministic clamp still enforces the bound.
func (m ContextManager) compact(ctx context.Context, c RollingContext) RollingContext {
	out, err := m.completer.Complete(ctx, provider.Request{
		Model:           m.model,
		Instructions:    compactContextInstructions,
		Input:           buildCompactInput(c),
		SchemaName:      "ContextUpdate",
		Schema:          contextUpdateSchema,
		MaxOutputTokens: 1000,
	})
	if err != nil {
		return c
	}
	var resp contextUpdateResponse
	if err := fileutils.DecodeModelJSON(out, &resp); err != nil {
		return c
	}
	if strings.TrimSpace(resp.RunningDigest) == "" {
		return c
	}
	c.RunningDigest = strings.TrimSpace(resp.RunningDigest)
	if len(resp.OpenThreads) > 0 {
		c.OpenThreads = dedupeStrings(resp.OpenThreads)
	}
	if len(resp.Themes) > 0 {
		c.Themes = dedupeStrings(resp.Themes)
	}
	return c
}

// clampSerialized deterministically enforces the serialized-size bound:
// caps the lists, then trims the digest, then drops list entries oldest
// first until the encoding fits.
func (c *RollingContext) clampSerialized(maxChars, maxEntities, maxListItems int) {
	if maxChars <= 0 {
		return
	}
	if maxEntities > 0 && len(c.AccumulatedEntities) > maxEntities {
		c.AccumulatedEntities = c.AccumulatedEntities[len(c.AccumulatedEntities)-maxEntities:]
	}
	if maxListItems > 0 {
		if len(c.OpenThreads) > maxListItems {
			c.OpenThreads = c.OpenThreads[len(c.OpenThreads)-maxListItems:]
		}
		if len(c.Themes) > maxListItems {
			c.Themes = c.Themes[len(c.Themes)-maxListItems:]
		}
	}

	for c.SerializedLen() > maxChars {
		over := c.SerializedLen() - maxChars
		switch {
		case len(c.RunningDigest) > over+4:
			c.RunningDigest = fileutils.Truncate(c.RunningDigest, len(c.RunningDigest)-over-4)
		case len(c.OpenThreads) > 0:
			c.OpenThreads = c.OpenThreads[1:]
		case len(c.Themes) > 0:
			c.Themes = c.Themes[1:]
		case len(c.AccumulatedEntities) > 0:
			c.AccumulatedEntities = c.AccumulatedEntities[1:]
		default:
			c.RunningDigest = ""
			return
		}
	}
}
