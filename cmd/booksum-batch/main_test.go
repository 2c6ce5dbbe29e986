package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/book-summarizer/booksum"
	"github.com/theimaginaryfoundation/book-summarizer/booksum/provider"
)

// scriptedCompleter answers by schema: structured requests get minimal valid
// JSON, prose requests get prose.
type scriptedCompleter struct{}

func (scriptedCompleter) Complete(_ context.Context, req provider.Request) (string, error) {
	switch req.SchemaName {
	case "FictionElements", "NonfictionElements":
		return `{"characters":[{"name":"Alice","description":"","actions":""}]}`, nil
	case "ContextUpdate":
		return `{"running_digest":"the story so far","open_threads":[],"themes":[]}`, nil
	}
	return "prose output", nil
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("booksum-batch", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{
		"-library", "library/",
		"-model", "gpt-5-mini",
		"-concurrency", "5",
		"-max-books", "2",
		"-api-key", "k",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LibraryDir != "library" {
		t.Fatalf("LibraryDir=%q", cfg.LibraryDir)
	}
	if cfg.Concurrency != 5 || cfg.MaxBooks != 2 {
		t.Fatalf("Concurrency=%d MaxBooks=%d", cfg.Concurrency, cfg.MaxBooks)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("empty config must not validate")
	}

	cfg := defaultConfig()
	cfg.LibraryDir = "x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	cfg.Concurrency = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative concurrency must not validate")
	}
}

func TestRunBatch_ContinuesPastFailedBook(t *testing.T) {
	t.Parallel()

	lib := t.TempDir()

	good := filepath.Join(lib, "good")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(good, "book.metadata"), []byte(`{"title":"A Novel","authors":[]}`), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	chapter := "Chapter One\n\n" + strings.TrimSpace(strings.Repeat("word ", 150))
	if err := os.WriteFile(filepath.Join(good, "01_one.txt"), []byte(chapter), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}

	// Chapters but no metadata file: discovered, fails at load.
	broken := filepath.Join(lib, "broken")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(broken, "01_one.txt"), []byte(chapter), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}

	dirs, err := collectBookDirs(lib)
	if err != nil {
		t.Fatalf("collectBookDirs: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("dirs=%v", dirs)
	}

	pipeline := booksum.NewPipeline(scriptedCompleter{}, booksum.PipelineOptions{
		Model:          "gpt-5-mini",
		RetryBaseDelay: time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	outcomes := runBatch(context.Background(), pipeline, dirs, 2)

	var buf bytes.Buffer
	if code := reportOutcomes(&buf, outcomes); code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	out := buf.String()

	if !strings.Contains(out, "good: success") {
		t.Fatalf("good book should still succeed:\n%s", out)
	}
	if !strings.Contains(out, "broken: failed:") || !strings.Contains(out, "metadata") {
		t.Fatalf("broken book should report its load failure:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(good, "summaries", "01_one_summary.txt")); err != nil {
		t.Fatalf("good book output missing: %v", err)
	}
}

func TestReportOutcomes_NamesFailedChapterAndStage(t *testing.T) {
	t.Parallel()

	stageErr := &booksum.GenerationError{
		Stage:     booksum.StageAnalysis,
		ChapterID: "03_climax",
		Err:       errors.New("401 unauthorized"),
	}
	outcomes := []bookOutcome{
		{
			dir: "library/partial-book",
			result: booksum.BookResult{
				Status: booksum.BookPartial,
				Chapters: []booksum.ChapterResult{
					{ChapterID: "02_setup", State: booksum.StatePersisted},
					{ChapterID: "03_climax", State: booksum.StateFailed, Err: stageErr},
				},
			},
		},
	}

	var buf bytes.Buffer
	if code := reportOutcomes(&buf, outcomes); code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	out := buf.String()
	if !strings.Contains(out, "partial-book: partial") {
		t.Fatalf("status line missing:\n%s", out)
	}
	if !strings.Contains(out, "03_climax: failed at analysis: 401 unauthorized") {
		t.Fatalf("failed chapter must name its stage:\n%s", out)
	}
	if strings.Contains(out, "02_setup:") {
		t.Fatalf("persisted chapters should not be listed:\n%s", out)
	}
}

func TestCollectBookDirs(t *testing.T) {
	t.Parallel()

	lib := t.TempDir()
	mkBook := func(name string, withMeta, withChapter bool) {
		dir := filepath.Join(lib, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if withMeta {
			if err := os.WriteFile(filepath.Join(dir, "book.metadata"), []byte(`{"title":"T"}`), 0o644); err != nil {
				t.Fatalf("write meta: %v", err)
			}
		}
		if withChapter {
			if err := os.WriteFile(filepath.Join(dir, "01.txt"), []byte("T\n\nx"), 0o644); err != nil {
				t.Fatalf("write chapter: %v", err)
			}
		}
	}

	mkBook("beta", true, true)
	mkBook("alpha", true, true)
	mkBook("no-meta", false, true)
	mkBook("no-chapters", true, false)
	mkBook(".hidden", true, true)
	if err := os.WriteFile(filepath.Join(lib, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	dirs, err := collectBookDirs(lib)
	if err != nil {
		t.Fatalf("collectBookDirs: %v", err)
	}
	// no-meta is still discovered: metadata problems surface as a failed
	// book at load time, not silently at discovery.
	if len(dirs) != 3 {
		t.Fatalf("dirs=%v", dirs)
	}
	if filepath.Base(dirs[0]) != "alpha" || filepath.Base(dirs[1]) != "beta" || filepath.Base(dirs[2]) != "no-meta" {
		t.Fatalf("dirs should be sorted: %v", dirs)
	}
}
