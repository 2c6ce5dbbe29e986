package booksum

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/theimaginaryfoundation/book-summarizer/booksum/fileutils"
	"github.com/theimaginaryfoundation/book-summarizer/booksum/provider"
)

// ChapterState tracks a chapter through the workflow. States advance in
// order; Skipped and Failed are terminal.
type ChapterState string

const (
	StatePending         ChapterState = "pending"
	StateChunked         ChapterState = "chunked"
	StateExtracting      ChapterState = "extracting"
	StateSummarizing     ChapterState = "summarizing"
	StateMerging         ChapterState = "merging"
	StateAnalyzing       ChapterState = "analyzing"
	StateContextUpdating ChapterState = "context_updating"
	StatePersisted       ChapterState = "persisted"
	StateSkipped         ChapterState = "skipped"
	StateFailed          ChapterState = "failed"
)

// BookStatus is the overall outcome of one book run.
type BookStatus string

const (
	BookSuccess BookStatus = "success"
	BookPartial BookStatus = "partial"
	BookFailed  BookStatus = "failed"
)

// ChapterResult records the terminal state of one chapter.
type ChapterResult struct {
	ChapterID string
	Title     string
	State     ChapterState
	Chunks    int
	// SkipReason is set for StateSkipped ("exists", "short").
	SkipReason string
	// ChapterWords and SummaryWords feed the per-chapter compression report.
	ChapterWords int
	SummaryWords int
	Err          error
}

// Ratio is the summary-to-original word ratio, 0 when unknown.
func (c ChapterResult) Ratio() float64 {
	if c.ChapterWords == 0 || c.SummaryWords == 0 {
		return 0
	}
	return float64(c.SummaryWords) / float64(c.ChapterWords)
}

// BookResult summarizes one book run.
type BookResult struct {
	Title     string
	Path      string
	OutputDir string
	Status    BookStatus
	Chapters  []ChapterResult
	Context   RollingContext
}

// FailedChapters returns the IDs of chapters that ended in StateFailed.
func (r BookResult) FailedChapters() []string {
	var out []string
	for _, c := range r.Chapters {
		if c.State == StateFailed {
			out = append(out, c.ChapterID)
		}
	}
	return out
}

// PipelineOptions configures a book run. Zero values get defaults from
// DefaultPipelineOptions.
type PipelineOptions struct {
	Model string

	// TargetSummaryRatio sets the summary word target as a fraction of the
	// chapter's word count, floored at MinSummaryWords.
	TargetSummaryRatio float64
	MinSummaryWords    int

	MaxChunkTokens  int
	MinChapterWords int

	OutputDirName   string
	ContextFileName string

	MaxAttempts    int
	RetryBaseDelay time.Duration

	MaxContextChars    int
	MaxContextEntities int

	// Overwrite regenerates chapters whose output files already exist.
	Overwrite bool

	Logger *slog.Logger
}

// DefaultPipelineOptions are the production defaults.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Model:              "gpt-5-mini",
		TargetSummaryRatio: 0.13,
		MinSummaryWords:    200,
		MaxChunkTokens:     6000,
		MinChapterWords:    100,
		OutputDirName:      "summaries",
		ContextFileName:    "book_context.json",
		MaxAttempts:        3,
		RetryBaseDelay:     2 * time.Second,
		MaxContextChars:    4096,
		MaxContextEntities: 40,
	}
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	def := DefaultPipelineOptions()
	if o.Model == "" {
		o.Model = def.Model
	}
	if o.TargetSummaryRatio <= 0 {
		o.TargetSummaryRatio = def.TargetSummaryRatio
	}
	if o.MinSummaryWords <= 0 {
		o.MinSummaryWords = def.MinSummaryWords
	}
	if o.MaxChunkTokens <= 0 {
		o.MaxChunkTokens = def.MaxChunkTokens
	}
	if o.MinChapterWords <= 0 {
		o.MinChapterWords = def.MinChapterWords
	}
	if o.OutputDirName == "" {
		o.OutputDirName = def.OutputDirName
	}
	if o.ContextFileName == "" {
		o.ContextFileName = def.ContextFileName
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = def.RetryBaseDelay
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = def.MaxContextChars
	}
	if o.MaxContextEntities <= 0 {
		o.MaxContextEntities = def.MaxContextEntities
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Pipeline drives the chapter workflow for one or more books. Chapters within
// a book run strictly sequentially so the rolling context folds in order.
type Pipeline struct {
	gen    Generator
	ctxMgr ContextManager
	opts   PipelineOptions
	logger *slog.Logger
}

// NewPipeline wires a pipeline over any Completer implementation.
func NewPipeline(completer provider.Completer, opts PipelineOptions) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		gen:    NewGenerator(completer, opts.Model),
		ctxMgr: NewContextManager(completer, opts.Model, opts.MaxContextChars, opts.MaxContextEntities),
		opts:   opts,
		logger: opts.Logger,
	}
}

// ProcessBook runs the full workflow for one book folder. A chapter whose
// generation fails after retries is recorded as failed and processing
// continues with the previous context; the book then finishes as partial.
func (p *Pipeline) ProcessBook(ctx context.Context, dir string) (BookResult, error) {
	book, err := LoadBook(dir, p.opts.Model)
	if err != nil {
		return BookResult{Path: dir, Status: BookFailed}, &GenerationError{Stage: StageLoad, Err: err}
	}

	outputDir := filepath.Join(book.Path, p.opts.OutputDirName)
	contextPath := filepath.Join(outputDir, p.opts.ContextFileName)

	result := BookResult{
		Title:     book.Metadata.Title,
		Path:      book.Path,
		OutputDir: outputDir,
	}

	rolling := NewRollingContext(book.Type)
	if !p.opts.Overwrite {
		if loaded, ok, err := LoadRollingContext(contextPath); err != nil {
			p.logger.Warn("discarding unreadable rolling context", "book", book.Metadata.Title, "error", err)
		} else if ok {
			rolling = loaded
		}
	}

	p.logger.Info("processing book",
		"title", book.Metadata.Title,
		"author", book.Author(),
		"type", string(book.Type),
		"chapters", len(book.Chapters))

	for _, ch := range book.Chapters {
		cr := p.processChapter(ctx, book, ch, outputDir, &rolling, contextPath)
		result.Chapters = append(result.Chapters, cr)
		if cr.State == StateFailed && ctx.Err() != nil {
			break
		}
	}

	result.Context = rolling
	result.Status = bookStatus(result.Chapters, len(book.Chapters))

	p.logger.Info("book finished",
		"title", book.Metadata.Title,
		"status", string(result.Status),
		"failed_chapters", len(result.FailedChapters()))

	if result.Status == BookFailed {
		return result, fmt.Errorf("ProcessBook: all chapters failed for %s", book.Metadata.Title)
	}
	return result, nil
}

func bookStatus(chapters []ChapterResult, total int) BookStatus {
	failed := 0
	for _, c := range chapters {
		if c.State == StateFailed {
			failed++
		}
	}
	switch {
	case failed == 0 && len(chapters) == total:
		return BookSuccess
	case failed == len(chapters) && failed > 0:
		return BookFailed
	default:
		return BookPartial
	}
}

func (p *Pipeline) processChapter(ctx context.Context, book Book, ch Chapter, outputDir string, rolling *RollingContext, contextPath string) ChapterResult {
	cr := ChapterResult{ChapterID: ch.ID, Title: ch.Title, State: StatePending, ChapterWords: ch.Words}
	log := p.logger.With("book", book.Metadata.Title, "chapter", ch.ID)

	outPath := ChapterOutputPath(outputDir, ch.ID)
	if !p.opts.Overwrite && fileutils.FileExists(outPath) {
		log.Info("skipping chapter, output exists")
		cr.State = StateSkipped
		cr.SkipReason = "exists"
		return cr
	}

	if ch.Words < p.opts.MinChapterWords {
		log.Info("skipping short chapter", "words", ch.Words)
		cr.State = StateSkipped
		cr.SkipReason = "short"
		return cr
	}

	chunks := SplitChapter(ch, p.opts.MaxChunkTokens, p.opts.Model)
	cr.State = StateChunked
	cr.Chunks = len(chunks)
	log.Info("chapter chunked", "chunks", len(chunks), "words", ch.Words, "est_tokens", ch.EstimatedTokens)

	targetWords := p.targetSummaryWords(ch)

	// The chapter-start context is immutable for all of this chapter's
	// chunks; continuity within the chapter comes from the partial
	// summaries appended below.
	startContext := rolling.PromptText()

	var elementSets []ElementSet
	var partSummaries []string

	for _, chunk := range chunks {
		chunkContext := startContext
		if len(partSummaries) > 0 {
			chunkContext = strings.TrimSpace(startContext + "\n\nEarlier in this chapter: " + strings.Join(partSummaries, " "))
		}

		cr.State = StateExtracting
		elems, err := retryCall(ctx, p.opts, log, "extract", func() (ElementSet, error) {
			return p.gen.Elements(ctx, book, ch.Title, chunk.Text, chunkContext)
		})
		if err != nil {
			return failChapter(cr, log, StageExtract, ch.ID, err)
		}
		elementSets = append(elementSets, elems)

		cr.State = StateSummarizing
		chunkTarget := targetWords
		if len(chunks) > 1 {
			chunkTarget = targetWords/len(chunks) + 1
		}
		part, err := retryCall(ctx, p.opts, log, "summary", func() (string, error) {
			return p.gen.Summary(ctx, book, ch.Title, chunk.Text, elems, chunkContext, chunkTarget)
		})
		if err != nil {
			return failChapter(cr, log, StageSummary, ch.ID, err)
		}
		partSummaries = append(partSummaries, part)
	}

	merged := MergeElementSets(elementSets)

	cr.State = StateMerging
	summary, err := retryCall(ctx, p.opts, log, "combine", func() (string, error) {
		return p.gen.CombineSummaries(ctx, book, ch.Title, partSummaries, targetWords)
	})
	if err != nil {
		return failChapter(cr, log, StageCombine, ch.ID, err)
	}

	cr.State = StateAnalyzing
	analysis, err := retryCall(ctx, p.opts, log, "analysis", func() (string, error) {
		return p.gen.Analysis(ctx, book, ch.Title, summary, merged, rolling.ThemesText())
	})
	if err != nil {
		return failChapter(cr, log, StageAnalysis, ch.ID, err)
	}

	out := ChapterOutput{ChapterID: ch.ID, Title: ch.Title, Summary: summary, Analysis: analysis}
	if err := WriteChapterOutput(outputDir, out); err != nil {
		return failChapter(cr, log, StagePersist, ch.ID, err)
	}
	cr.SummaryWords = CountWords(summary)
	log.Info("chapter summary written",
		"path", ChapterOutputPath(outputDir, ch.ID),
		"summary_words", cr.SummaryWords,
		"ratio", fmt.Sprintf("%.2f", cr.Ratio()))

	// A context-update failure keeps the already-written chapter output but
	// carries the previous context forward, so the chapter counts as failed
	// and the book finishes partial.
	cr.State = StateContextUpdating
	next, err := retryCall(ctx, p.opts, log, "context update", func() (RollingContext, error) {
		return p.ctxMgr.Update(ctx, *rolling, summary, merged)
	})
	if err != nil {
		return failChapter(cr, log, StageContextUpdate, ch.ID, err)
	}
	*rolling = next

	if err := SaveRollingContext(contextPath, *rolling); err != nil {
		return failChapter(cr, log, StagePersist, ch.ID, err)
	}

	cr.State = StatePersisted
	return cr
}

func (p *Pipeline) targetSummaryWords(ch Chapter) int {
	target := int(float64(ch.Words) * p.opts.TargetSummaryRatio)
	if target < p.opts.MinSummaryWords {
		target = p.opts.MinSummaryWords
	}
	return target
}

func failChapter(cr ChapterResult, log *slog.Logger, stage Stage, chapterID string, err error) ChapterResult {
	genErr := &GenerationError{Stage: stage, ChapterID: chapterID, Err: err}
	log.Error("chapter failed", "stage", string(stage), "error", err)
	cr.State = StateFailed
	cr.Err = genErr
	return cr
}

// retryCall wraps one model call with the shared retry policy: transient
// failures back off and retry up to MaxAttempts, everything else fails fast.
func retryCall[T any](ctx context.Context, opts PipelineOptions, log *slog.Logger, op string, fn func() (T, error)) (T, error) {
	var out T
	err := retry.Do(
		func() error {
			v, err := fn()
			if err != nil {
				return err
			}
			out = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(opts.MaxAttempts)),
		retry.Delay(opts.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(provider.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying after transient failure", "op", op, "attempt", n+1, "error", err)
		}),
	)
	return out, err
}
