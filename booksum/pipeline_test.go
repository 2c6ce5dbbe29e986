package booksum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/book-summarizer/booksum/provider"
)

// fakeCompleter scripts model responses by instruction set. Per-instruction
// error queues drain before the canned response is returned.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []provider.Request

	rawByInstructions map[string]string
	errQueue          map[string][]error

	contextUpdate contextUpdateResponse
	compact       contextUpdateResponse

	fictionElements    FictionElements
	nonfictionElements NonfictionElements

	summaryText  string
	combineText  string
	analysisText string
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		rawByInstructions: map[string]string{},
		errQueue:          map[string][]error{},
		contextUpdate: contextUpdateResponse{
			RunningDigest: "the story so far",
			OpenThreads:   []string{"an open thread"},
			Themes:        []string{"a theme"},
		},
		fictionElements: FictionElements{
			Characters: []CharacterElement{{Name: "Alice", Description: "the lead"}},
			Events:     []EventElement{{Event: "something happened", Significance: "it mattered"}},
			ToneMood:   "calm",
		},
		nonfictionElements: NonfictionElements{
			MainArguments: []string{"the central claim"},
			KeyConcepts:   []ConceptElement{{Concept: "Repression", Definition: "def"}},
		},
		summaryText:  "This is the chunk summary prose.",
		combineText:  "This is the combined chapter summary prose.",
		analysisText: "This is the analysis prose.",
	}
}

func (f *fakeCompleter) Complete(_ context.Context, req provider.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	if q := f.errQueue[req.Instructions]; len(q) > 0 {
		err := q[0]
		f.errQueue[req.Instructions] = q[1:]
		f.mu.Unlock()
		return "", err
	}
	if raw, ok := f.rawByInstructions[req.Instructions]; ok {
		f.mu.Unlock()
		return raw, nil
	}
	f.mu.Unlock()

	switch req.Instructions {
	case extractFictionInstructions:
		return marshalJSON(f.fictionElements)
	case extractNonfictionInstructions:
		return marshalJSON(f.nonfictionElements)
	case summaryFictionInstructions, summaryNonfictionInstructions:
		return f.summaryText, nil
	case combineSummariesInstructions:
		return f.combineText, nil
	case analysisFictionInstructions, analysisNonfictionInstructions:
		return f.analysisText, nil
	case contextUpdateInstructions:
		return marshalJSON(f.contextUpdate)
	case compactContextInstructions:
		c := f.compact
		if c.RunningDigest == "" {
			c = contextUpdateResponse{RunningDigest: "compacted digest"}
		}
		return marshalJSON(c)
	}
	return "", fmt.Errorf("fakeCompleter: unexpected instructions %.40q", req.Instructions)
}

func (f *fakeCompleter) inputsFor(instructions string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Instructions == instructions {
			out = append(out, c.Input)
		}
	}
	return out
}

func (f *fakeCompleter) countCalls(instructions string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Instructions == instructions {
			n++
		}
	}
	return n
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func testOptions() PipelineOptions {
	return PipelineOptions{
		Model:          "gpt-5-mini",
		RetryBaseDelay: time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func chapterText(words int) string {
	return "Chapter Title Line\n\n" + strings.TrimSpace(strings.Repeat("word ", words))
}

func writeTestBook(t *testing.T, chapters int) string {
	t.Helper()
	dir := t.TempDir()
	meta := `{"title":"The Mystery of the Blue Train","authors":["Agatha Christie"]}`
	if err := os.WriteFile(filepath.Join(dir, "book.metadata"), []byte(meta), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	for i := 1; i <= chapters; i++ {
		name := fmt.Sprintf("%02d_chapter.txt", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(chapterText(150)), 0o644); err != nil {
			t.Fatalf("write chapter: %v", err)
		}
	}
	return dir
}

func TestPipeline_ProcessBook(t *testing.T) {
	t.Parallel()

	dir := writeTestBook(t, 3)
	fake := newFakeCompleter()
	p := NewPipeline(fake, testOptions())

	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessBook: %v", err)
	}
	if result.Status != BookSuccess {
		t.Fatalf("status=%q", result.Status)
	}
	if len(result.Chapters) != 3 {
		t.Fatalf("chapters=%d", len(result.Chapters))
	}
	for _, cr := range result.Chapters {
		if cr.State != StatePersisted {
			t.Fatalf("chapter %s state=%q err=%v", cr.ChapterID, cr.State, cr.Err)
		}
		if cr.Chunks != 1 {
			t.Fatalf("chapter %s chunks=%d", cr.ChapterID, cr.Chunks)
		}
		if cr.ChapterWords != 150 || cr.SummaryWords == 0 || cr.Ratio() <= 0 {
			t.Fatalf("chapter %s word accounting: %+v", cr.ChapterID, cr)
		}
	}

	// Every chapter got its output file with both sections.
	for i := 1; i <= 3; i++ {
		path := ChapterOutputPath(result.OutputDir, fmt.Sprintf("%02d_chapter", i))
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		out := string(b)
		for _, want := range []string{"Chapter Title Line", "SUMMARY", fake.summaryText, "ANALYSIS", fake.analysisText} {
			if !strings.Contains(out, want) {
				t.Fatalf("output missing %q:\n%s", want, out)
			}
		}
	}

	// The rolling context was persisted after the last chapter.
	ctxRec, ok, err := LoadRollingContext(filepath.Join(result.OutputDir, "book_context.json"))
	if err != nil || !ok {
		t.Fatalf("context record: ok=%v err=%v", ok, err)
	}
	if ctxRec.ChapterCount != 3 {
		t.Fatalf("chapter_count=%d", ctxRec.ChapterCount)
	}
	if ctxRec.BookType != Fiction {
		t.Fatalf("book_type=%q", ctxRec.BookType)
	}

	// Single-chunk chapters never need a combine call.
	if n := fake.countCalls(combineSummariesInstructions); n != 0 {
		t.Fatalf("combine calls=%d", n)
	}

	// Chapter N's generators read the context folded after chapter N-1:
	// chapter 1 sees no prior context, later chapters see the digest.
	extracts := fake.inputsFor(extractFictionInstructions)
	if len(extracts) != 3 {
		t.Fatalf("extract calls=%d", len(extracts))
	}
	if !strings.Contains(extracts[0], "This is the first chapter.") {
		t.Fatalf("chapter 1 extract should see the first-chapter placeholder:\n%s", extracts[0])
	}
	for i, in := range extracts[1:] {
		if !strings.Contains(in, fake.contextUpdate.RunningDigest) {
			t.Fatalf("chapter %d extract missing rolling digest:\n%s", i+2, in)
		}
	}
}

func TestPipeline_MultiChunkChapter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	meta := `{"title":"A Novel","authors":[]}`
	if err := os.WriteFile(filepath.Join(dir, "book.metadata"), []byte(meta), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	// Three paragraphs of ~250 tokens each against a 300-token budget.
	para := strings.TrimSpace(strings.Repeat("word ", 200))
	text := "Long Chapter\n\n" + para + "\n\n" + para + "\n\n" + para
	if err := os.WriteFile(filepath.Join(dir, "01_long.txt"), []byte(text), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}

	fake := newFakeCompleter()
	opts := testOptions()
	opts.MaxChunkTokens = 300
	p := NewPipeline(fake, opts)

	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessBook: %v", err)
	}
	if result.Status != BookSuccess {
		t.Fatalf("status=%q", result.Status)
	}
	if result.Chapters[0].Chunks < 2 {
		t.Fatalf("chunks=%d, want >= 2", result.Chapters[0].Chunks)
	}

	// One extract and one summary per chunk, then a single combine.
	if n := fake.countCalls(extractFictionInstructions); n != result.Chapters[0].Chunks {
		t.Fatalf("extract calls=%d chunks=%d", n, result.Chapters[0].Chunks)
	}
	if n := fake.countCalls(combineSummariesInstructions); n != 1 {
		t.Fatalf("combine calls=%d", n)
	}

	b, err := os.ReadFile(ChapterOutputPath(result.OutputDir, "01_long"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(b), fake.combineText) {
		t.Fatalf("multi-chunk chapter must use the combined summary")
	}
}

func TestPipeline_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	dir := writeTestBook(t, 1)
	fake := newFakeCompleter()
	rl := func() error {
		return &provider.CompletionError{Kind: provider.RateLimited, Err: errors.New("429 too many requests")}
	}
	fake.errQueue[summaryFictionInstructions] = []error{rl(), rl()}

	p := NewPipeline(fake, testOptions())
	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessBook: %v", err)
	}
	if result.Status != BookSuccess {
		t.Fatalf("status=%q", result.Status)
	}
	if n := fake.countCalls(summaryFictionInstructions); n != 3 {
		t.Fatalf("summary attempts=%d, want 3", n)
	}
}

func TestPipeline_NonTransientFailsFast(t *testing.T) {
	t.Parallel()

	dir := writeTestBook(t, 2)
	fake := newFakeCompleter()
	fake.errQueue[analysisFictionInstructions] = []error{
		&provider.CompletionError{Kind: provider.AuthFailure, Err: errors.New("401 unauthorized")},
	}

	p := NewPipeline(fake, testOptions())
	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("partial books are not run errors: %v", err)
	}
	if result.Status != BookPartial {
		t.Fatalf("status=%q", result.Status)
	}
	if result.Chapters[0].State != StateFailed {
		t.Fatalf("chapter 1 state=%q", result.Chapters[0].State)
	}
	var genErr *GenerationError
	if !errors.As(result.Chapters[0].Err, &genErr) || genErr.Stage != StageAnalysis {
		t.Fatalf("chapter 1 err=%v", result.Chapters[0].Err)
	}
	// Only one attempt: auth failures are not retried.
	if n := fake.countCalls(analysisFictionInstructions); n != 2 {
		t.Fatalf("analysis calls=%d, want 2 (1 failed + 1 for chapter 2)", n)
	}
	if result.Chapters[1].State != StatePersisted {
		t.Fatalf("processing must continue past a failed chapter: %q", result.Chapters[1].State)
	}

	// The failed chapter produced no output file.
	if _, err := os.Stat(ChapterOutputPath(result.OutputDir, "01_chapter")); !os.IsNotExist(err) {
		t.Fatalf("failed chapter should leave no output, stat err=%v", err)
	}
}

func TestPipeline_ContextUpdateFailureKeepsOutput(t *testing.T) {
	t.Parallel()

	dir := writeTestBook(t, 2)
	fake := newFakeCompleter()
	fake.errQueue[contextUpdateInstructions] = []error{
		&provider.CompletionError{Kind: provider.AuthFailure, Err: errors.New("401")},
	}

	p := NewPipeline(fake, testOptions())
	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessBook: %v", err)
	}
	if result.Status != BookPartial {
		t.Fatalf("status=%q", result.Status)
	}
	if result.Chapters[0].State != StateFailed {
		t.Fatalf("chapter 1 state=%q", result.Chapters[0].State)
	}

	// The summary file was already written before the context update failed.
	if _, err := os.Stat(ChapterOutputPath(result.OutputDir, "01_chapter")); err != nil {
		t.Fatalf("chapter output should survive a context-update failure: %v", err)
	}

	// Chapter 2 folded into a context that never saw chapter 1.
	ctxRec, ok, err := LoadRollingContext(filepath.Join(result.OutputDir, "book_context.json"))
	if err != nil || !ok {
		t.Fatalf("context record: ok=%v err=%v", ok, err)
	}
	if ctxRec.ChapterCount != 1 {
		t.Fatalf("chapter_count=%d, want 1", ctxRec.ChapterCount)
	}
}

func TestPipeline_ResumeSkipsExistingOutputs(t *testing.T) {
	t.Parallel()

	dir := writeTestBook(t, 2)
	fake := newFakeCompleter()
	p := NewPipeline(fake, testOptions())

	if _, err := p.ProcessBook(context.Background(), dir); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := len(fake.calls)

	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Status != BookSuccess {
		t.Fatalf("status=%q", result.Status)
	}
	for _, cr := range result.Chapters {
		if cr.State != StateSkipped || cr.SkipReason != "exists" {
			t.Fatalf("chapter %s: state=%q reason=%q", cr.ChapterID, cr.State, cr.SkipReason)
		}
	}
	if len(fake.calls) != firstCalls {
		t.Fatalf("resume must not issue model calls: %d -> %d", firstCalls, len(fake.calls))
	}
	// The persisted context survives for later chapters.
	if result.Context.ChapterCount != 2 {
		t.Fatalf("resumed context chapter_count=%d", result.Context.ChapterCount)
	}
}

func TestPipeline_OverwriteRegenerates(t *testing.T) {
	t.Parallel()

	dir := writeTestBook(t, 1)
	fake := newFakeCompleter()
	p := NewPipeline(fake, testOptions())
	if _, err := p.ProcessBook(context.Background(), dir); err != nil {
		t.Fatalf("first run: %v", err)
	}

	opts := testOptions()
	opts.Overwrite = true
	p2 := NewPipeline(fake, opts)
	result, err := p2.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	if result.Chapters[0].State != StatePersisted {
		t.Fatalf("state=%q", result.Chapters[0].State)
	}
	// Overwrite starts the context from scratch instead of resuming.
	if result.Context.ChapterCount != 1 {
		t.Fatalf("chapter_count=%d, want 1", result.Context.ChapterCount)
	}
}

func TestPipeline_SkipsShortChapters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.metadata"), []byte(`{"title":"A Novel"}`), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "01_note.txt"), []byte("A Note\n\nToo short to bother."), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "02_real.txt"), []byte(chapterText(150)), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}

	fake := newFakeCompleter()
	p := NewPipeline(fake, testOptions())
	result, err := p.ProcessBook(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessBook: %v", err)
	}
	if result.Status != BookSuccess {
		t.Fatalf("status=%q", result.Status)
	}
	if result.Chapters[0].State != StateSkipped || result.Chapters[0].SkipReason != "short" {
		t.Fatalf("short chapter: %+v", result.Chapters[0])
	}
	if result.Chapters[1].State != StatePersisted {
		t.Fatalf("real chapter: %+v", result.Chapters[1])
	}
	if _, err := os.Stat(ChapterOutputPath(result.OutputDir, "01_note")); !os.IsNotExist(err) {
		t.Fatalf("skipped chapter must produce no output")
	}
}

func TestPipeline_LoadFailure(t *testing.T) {
	t.Parallel()

	p := NewPipeline(newFakeCompleter(), testOptions())
	result, err := p.ProcessBook(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if result.Status != BookFailed {
		t.Fatalf("status=%q", result.Status)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Stage != StageLoad {
		t.Fatalf("err=%v", err)
	}
}

func TestTargetSummaryWords(t *testing.T) {
	t.Parallel()

	p := NewPipeline(newFakeCompleter(), testOptions())

	// 13% of 10000 words.
	if got := p.targetSummaryWords(Chapter{Words: 10000}); got != 1300 {
		t.Fatalf("got %d, want 1300", got)
	}
	// Short chapters floor at the minimum.
	if got := p.targetSummaryWords(Chapter{Words: 500}); got != 200 {
		t.Fatalf("got %d, want 200", got)
	}
}
