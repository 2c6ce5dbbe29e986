package booksum

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Metadata is the parsed book metadata file.
type Metadata struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
}

// Chapter is one unit of book content read from a single source text file.
// Chapters are never mutated after loading.
type Chapter struct {
	ID              string // filename without extension
	Title           string // first line of the file
	Text            string // remainder of the file
	Words           int
	EstimatedTokens int
}

// Book is a fully loaded book folder ready for processing.
type Book struct {
	Path     string
	Metadata Metadata
	Type     BookType
	Chapters []Chapter
}

// Author returns the first author, or "Unknown".
func (b Book) Author() string {
	if len(b.Metadata.Authors) > 0 && strings.TrimSpace(b.Metadata.Authors[0]) != "" {
		return b.Metadata.Authors[0]
	}
	return "Unknown"
}

// LoadBook reads a book folder: one metadata JSON file (*.metadata or
// metadata.json) plus *.txt chapter files whose filename order defines
// chapter order. The fiction/nonfiction classification happens here, once.
//
// Ordering is a validated precondition: two chapter files sharing the same
// numeric filename prefix make the order ambiguous and fail the load.
func LoadBook(dir string, model string) (Book, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return Book{}, fmt.Errorf("LoadBook: stat book folder: %w", err)
	}
	if !fi.IsDir() {
		return Book{}, fmt.Errorf("LoadBook: not a directory: %s", dir)
	}

	meta, err := loadMetadata(dir)
	if err != nil {
		return Book{}, err
	}

	chapters, err := loadChapters(dir, model)
	if err != nil {
		return Book{}, err
	}
	if len(chapters) == 0 {
		return Book{}, fmt.Errorf("LoadBook: no chapter .txt files in %s", dir)
	}

	return Book{
		Path:     dir,
		Metadata: meta,
		Type:     Classify(meta.Title, meta.Authors),
		Chapters: chapters,
	}, nil
}

func loadMetadata(dir string) (Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Metadata{}, fmt.Errorf("loadMetadata: read dir: %w", err)
	}

	var metaPath string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasSuffix(name, ".metadata") || name == "metadata.json" {
			metaPath = filepath.Join(dir, name)
			break
		}
	}
	if metaPath == "" {
		return Metadata{}, fmt.Errorf("loadMetadata: no metadata file found in %s", dir)
	}

	b, err := os.ReadFile(metaPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("loadMetadata: read %s: %w", metaPath, err)
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, fmt.Errorf("loadMetadata: unmarshal %s: %w", metaPath, err)
	}
	if strings.TrimSpace(meta.Title) == "" {
		return Metadata{}, fmt.Errorf("loadMetadata: missing title in %s", metaPath)
	}
	return meta, nil
}

func loadChapters(dir string, model string) ([]Chapter, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loadChapters: read dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ".txt") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if err := validateChapterOrder(names); err != nil {
		return nil, err
	}

	chapters := make([]Chapter, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loadChapters: read %s: %w", name, err)
		}

		id := strings.TrimSuffix(name, filepath.Ext(name))
		title, text := splitTitle(string(b), id)
		chapters = append(chapters, Chapter{
			ID:              id,
			Title:           title,
			Text:            text,
			Words:           CountWords(text),
			EstimatedTokens: EstimateTokens(text, model),
		})
	}
	return chapters, nil
}

// validateChapterOrder rejects duplicate numeric filename prefixes, which
// would make the lexical chapter ordering ambiguous.
func validateChapterOrder(names []string) error {
	seen := make(map[string]string, len(names))
	for _, name := range names {
		key := numericPrefix(name)
		if key == "" {
			continue
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("loadChapters: ambiguous chapter order: %s and %s share ordering key %q", prev, name, key)
		}
		seen[key] = name
	}
	return nil
}

func numericPrefix(name string) string {
	i := 0
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	return name[:i]
}

// splitTitle treats the first non-empty line as the chapter title and the
// rest as body text. Files without a body keep the whole content as text.
func splitTitle(raw, fallback string) (title, text string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, ""
	}
	lines := strings.SplitN(trimmed, "\n", 2)
	title = strings.TrimSpace(lines[0])
	if title == "" {
		title = fallback
	}
	if len(lines) > 1 {
		text = strings.TrimSpace(lines[1])
	}
	if text == "" {
		text = trimmed
	}
	return title, text
}
