package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/lepinkainen/humanlog"

	"github.com/theimaginaryfoundation/book-summarizer/booksum"
	"github.com/theimaginaryfoundation/book-summarizer/booksum/provider"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(humanlog.NewHandler(os.Stdout, &humanlog.Options{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bookDirs, err := collectBookDirs(cfg.LibraryDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if len(bookDirs) == 0 {
		fmt.Fprintln(os.Stderr, "no book folders with chapter .txt files found")
		os.Exit(2)
	}
	if cfg.MaxBooks > 0 && len(bookDirs) > cfg.MaxBooks {
		bookDirs = bookDirs[:cfg.MaxBooks]
	}

	completer := provider.NewOpenAI(apiKey, cfg.RequestsPerSecond)
	pipeline := booksum.NewPipeline(completer, pipelineOptions(cfg))

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}

	outcomes := runBatch(ctx, pipeline, bookDirs, cfg.Concurrency)
	os.Exit(reportOutcomes(os.Stdout, outcomes))
}

type bookOutcome struct {
	dir    string
	result booksum.BookResult
	err    error
}

// runBatch processes the books concurrently under a bounded worker pool.
// One failed book never cancels the others; each book reports its own
// terminal status.
func runBatch(ctx context.Context, pipeline *booksum.Pipeline, bookDirs []string, concurrency int) []bookOutcome {
	outcomes := make([]bookOutcome, len(bookDirs))

	sem := make(chan struct{}, concurrency)
	wg := sync.WaitGroup{}
	for i, dir := range bookDirs {
		wg.Add(1)
		go func(i int, dir string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				outcomes[i] = bookOutcome{dir: dir, err: ctx.Err()}
				return
			default:
			}

			result, err := pipeline.ProcessBook(ctx, dir)
			outcomes[i] = bookOutcome{dir: dir, result: result, err: err}
		}(i, dir)
	}
	wg.Wait()
	return outcomes
}

// reportOutcomes prints one status line per book, with one line per failed
// chapter naming the stage that failed. Returns the process exit code:
// nonzero when any book is not fully successful.
func reportOutcomes(w io.Writer, outcomes []bookOutcome) int {
	exitCode := 0
	for _, o := range outcomes {
		name := filepath.Base(o.dir)
		if o.err != nil && len(o.result.Chapters) == 0 {
			// Failed before any chapter ran (load error, cancellation).
			fmt.Fprintf(w, "%s: failed: %v\n", name, o.err)
			exitCode = 1
			continue
		}

		fmt.Fprintf(w, "%s: %s (%d chapters, %d failed)\n",
			name, o.result.Status,
			len(o.result.Chapters), len(o.result.FailedChapters()))
		for _, ch := range o.result.Chapters {
			if ch.State != booksum.StateFailed {
				continue
			}
			var genErr *booksum.GenerationError
			if errors.As(ch.Err, &genErr) {
				fmt.Fprintf(w, "  %s: failed at %s: %v\n", ch.ChapterID, genErr.Stage, genErr.Err)
			} else {
				fmt.Fprintf(w, "  %s: failed: %v\n", ch.ChapterID, ch.Err)
			}
		}
		if o.result.Status != booksum.BookSuccess {
			exitCode = 1
		}
	}
	return exitCode
}

func pipelineOptions(cfg Config) booksum.PipelineOptions {
	return booksum.PipelineOptions{
		Model:              cfg.Model,
		TargetSummaryRatio: cfg.SummaryRatio,
		MinSummaryWords:    cfg.MinSummaryWords,
		MaxChunkTokens:     cfg.MaxChunkTokens,
		MinChapterWords:    cfg.MinChapterWords,
		OutputDirName:      cfg.OutputDirName,
		MaxAttempts:        cfg.MaxAttempts,
		RetryBaseDelay:     cfg.RetryBaseDelay,
		MaxContextChars:    cfg.MaxContextChars,
		MaxContextEntities: cfg.MaxContextEntities,
		Overwrite:          cfg.Overwrite,
		Logger:             slog.Default(),
	}
}

// collectBookDirs finds immediate subdirectories of the library that hold at
// least one .txt chapter file. A folder with chapters but broken or missing
// metadata is still discovered; it fails at load time and is reported as a
// failed book without stopping the others.
func collectBookDirs(libraryDir string) ([]string, error) {
	entries, err := os.ReadDir(libraryDir)
	if err != nil {
		return nil, fmt.Errorf("read -library: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(libraryDir, e.Name())
		if isBookDir(dir) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isBookDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			return true
		}
	}
	return false
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.LibraryDir, "library", cfg.LibraryDir, "Path to a directory of book folders")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model to use (e.g. gpt-5-mini)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.Float64Var(&cfg.SummaryRatio, "summary-ratio", cfg.SummaryRatio, "Target summary length as a fraction of chapter word count")
	fs.IntVar(&cfg.MinSummaryWords, "min-summary-words", cfg.MinSummaryWords, "Minimum summary word target per chapter")
	fs.IntVar(&cfg.MaxChunkTokens, "max-chunk-tokens", cfg.MaxChunkTokens, "Token budget per chunk before a chapter is split")
	fs.IntVar(&cfg.MinChapterWords, "min-chapter-words", cfg.MinChapterWords, "Skip chapters shorter than this many words")
	fs.StringVar(&cfg.OutputDirName, "output-dir", cfg.OutputDirName, "Output directory name inside each book folder")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Max attempts per model call (transient failures only)")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-delay", cfg.RetryBaseDelay, "Base delay before the first retry (doubles each attempt)")
	fs.IntVar(&cfg.MaxContextChars, "max-context-chars", cfg.MaxContextChars, "Serialized rolling-context size that triggers compaction")
	fs.IntVar(&cfg.MaxContextEntities, "max-context-entities", cfg.MaxContextEntities, "Max entities kept in the rolling context")
	fs.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "Client-side request rate limit shared by all workers (0 disables)")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max books processed concurrently")
	fs.IntVar(&cfg.MaxBooks, "max-books", 0, "Process only the first N books (0 = all)")
	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "Regenerate chapters whose summary files already exist")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose (debug) logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.LibraryDir != "" {
		cfg.LibraryDir = filepath.Clean(cfg.LibraryDir)
	}
	return cfg, nil
}
