package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
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

	setupLogging(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer := provider.NewOpenAI(apiKey, cfg.RequestsPerSecond)
	pipeline := booksum.NewPipeline(completer, pipelineOptions(cfg))

	result, err := pipeline.ProcessBook(ctx, cfg.BookDir)
	if err != nil && result.Status == booksum.BookFailed {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	printResult(result)
	if result.Status != booksum.BookSuccess {
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{Level: level})
	slog.SetDefault(slog.New(handler))
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

func printResult(result booksum.BookResult) {
	persisted, skipped, failed := 0, 0, 0
	for _, ch := range result.Chapters {
		switch ch.State {
		case booksum.StatePersisted:
			persisted++
		case booksum.StateSkipped:
			skipped++
		case booksum.StateFailed:
			failed++
		}
	}
	fmt.Printf("%s: %s (%d summarized, %d skipped, %d failed)\n",
		result.Title, result.Status, persisted, skipped, failed)
	for _, ch := range result.Chapters {
		switch ch.State {
		case booksum.StatePersisted:
			fmt.Printf("  %s: %d -> %d words (%.0f%%)\n",
				ch.ChapterID, ch.ChapterWords, ch.SummaryWords, ch.Ratio()*100)
		case booksum.StateSkipped:
			fmt.Printf("  %s: skipped (%s)\n", ch.ChapterID, ch.SkipReason)
		case booksum.StateFailed:
			fmt.Printf("  %s: failed: %v\n", ch.ChapterID, ch.Err)
		}
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.BookDir, "book", cfg.BookDir, "Path to the book folder (chapter .txt files + metadata)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model to use (e.g. gpt-5-mini)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.Float64Var(&cfg.SummaryRatio, "summary-ratio", cfg.SummaryRatio, "Target summary length as a fraction of chapter word count")
	fs.IntVar(&cfg.MinSummaryWords, "min-summary-words", cfg.MinSummaryWords, "Minimum summary word target per chapter")
	fs.IntVar(&cfg.MaxChunkTokens, "max-chunk-tokens", cfg.MaxChunkTokens, "Token budget per chunk before a chapter is split")
	fs.IntVar(&cfg.MinChapterWords, "min-chapter-words", cfg.MinChapterWords, "Skip chapters shorter than this many words")
	fs.StringVar(&cfg.OutputDirName, "output-dir", cfg.OutputDirName, "Output directory name inside the book folder")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Max attempts per model call (transient failures only)")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-delay", cfg.RetryBaseDelay, "Base delay before the first retry (doubles each attempt)")
	fs.IntVar(&cfg.MaxContextChars, "max-context-chars", cfg.MaxContextChars, "Serialized rolling-context size that triggers compaction")
	fs.IntVar(&cfg.MaxContextEntities, "max-context-entities", cfg.MaxContextEntities, "Max entities kept in the rolling context")
	fs.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "Client-side request rate limit (0 disables)")
	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "Regenerate chapters whose summary files already exist")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose (debug) logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.BookDir != "" {
		cfg.BookDir = filepath.Clean(cfg.BookDir)
	}
	return cfg, nil
}
