package booksum

import "strings"

// BookType selects the prompt family and element schema for a book.
type BookType string

const (
	Fiction    BookType = "fiction"
	Nonfiction BookType = "nonfiction"
)

var fictionIndicators = []string{
	"christie", "agatha", "novel", "mystery", "murder", "tales", "stories",
}

var nonfictionIndicators = []string{
	"freud", "interpretation", "psychology", "theory", "analysis",
	"history of", "introduction to", "principles",
}

// Classify decides fiction vs nonfiction from title and authors. The decision
// is made once per book and cached on the Book for the whole run. Ambiguous
// inputs default to fiction so every downstream prompt has a definite type.
func Classify(title string, authors []string) BookType {
	haystack := strings.ToLower(title)
	for _, a := range authors {
		haystack += " " + strings.ToLower(a)
	}

	for _, ind := range fictionIndicators {
		if strings.Contains(haystack, ind) {
			return Fiction
		}
	}
	for _, ind := range nonfictionIndicators {
		if strings.Contains(haystack, ind) {
			return Nonfiction
		}
	}
	return Fiction
}
