package booksum

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/theimaginaryfoundation/book-summarizer/booksum/fileutils"
)

// ChapterOutput is the final rendered artifact for one chapter.
type ChapterOutput struct {
	ChapterID string
	Title     string
	Summary   string
	Analysis  string
}

// Render produces the plain-text chapter file: title line, SUMMARY section,
// ANALYSIS section.
func (o ChapterOutput) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(o.Title))
	b.WriteString("SUMMARY\n\n")
	fmt.Fprintf(&b, "%s\n", strings.TrimSpace(o.Summary))
	if strings.TrimSpace(o.Analysis) != "" {
		b.WriteString("\nANALYSIS\n\n")
		fmt.Fprintf(&b, "%s\n", strings.TrimSpace(o.Analysis))
	}
	return b.String()
}

// ChapterOutputPath returns where a chapter's summary file lives inside the
// output directory.
func ChapterOutputPath(outputDir, chapterID string) string {
	return filepath.Join(outputDir, chapterID+"_summary.txt")
}

// WriteChapterOutput renders and writes the chapter file atomically so a
// crash never leaves a half-written summary on disk.
func WriteChapterOutput(outputDir string, o ChapterOutput) error {
	path := ChapterOutputPath(outputDir, o.ChapterID)
	if err := fileutils.WriteFileAtomicSameDir(path, []byte(o.Render()), 0o644); err != nil {
		return fmt.Errorf("WriteChapterOutput: %w", err)
	}
	return nil
}
