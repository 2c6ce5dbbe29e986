package booksum

import (
	"encoding/json"
	"strings"
)

// CharacterElement is one character surfaced by fiction extraction.
type CharacterElement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Actions     string `json:"actions"`
}

// EventElement is one plot event and why it matters.
type EventElement struct {
	Event        string `json:"event"`
	Significance string `json:"significance"`
}

// FictionElements are the salient facts extracted from a fiction chapter.
type FictionElements struct {
	Characters           []CharacterElement `json:"characters"`
	Events               []EventElement     `json:"events"`
	PlotDevelopments     []string           `json:"plot_developments"`
	Settings             []string           `json:"settings"`
	CluesOrForeshadowing []string           `json:"clues_or_foreshadowing"`
	Relationships        []string           `json:"relationships"`
	ToneMood             string             `json:"tone_mood"`
}

// ConceptElement is one defined concept from nonfiction extraction.
type ConceptElement struct {
	Concept    string `json:"concept"`
	Definition string `json:"definition"`
}

// EvidenceElement pairs a claim with its supporting evidence.
type EvidenceElement struct {
	Claim    string `json:"claim"`
	Evidence string `json:"evidence"`
}

// NonfictionElements are the salient facts extracted from a nonfiction chapter.
type NonfictionElements struct {
	MainArguments        []string          `json:"main_arguments"`
	KeyConcepts          []ConceptElement  `json:"key_concepts"`
	Evidence             []EvidenceElement `json:"evidence"`
	CaseStudies          []string          `json:"case_studies"`
	HistoricalReferences []string          `json:"historical_references"`
	TechniquesMethods    []string          `json:"techniques_methods"`
	FiguresData          []string          `json:"figures_data"`
	Connections          []string          `json:"connections"`
}

// ElementSet is the type-dependent extraction result for one chunk or
// chapter. Exactly one of Fiction/Nonfiction is set, matching Type.
type ElementSet struct {
	Type       BookType            `json:"book_type"`
	Fiction    *FictionElements    `json:"fiction,omitempty"`
	Nonfiction *NonfictionElements `json:"nonfiction,omitempty"`
}

// Entities returns the continuity-relevant names carried into the rolling
// context: character names for fiction, concept terms for nonfiction.
func (e ElementSet) Entities() []string {
	var out []string
	switch {
	case e.Fiction != nil:
		for _, c := range e.Fiction.Characters {
			if name := strings.TrimSpace(c.Name); name != "" {
				out = append(out, name)
			}
		}
	case e.Nonfiction != nil:
		for _, c := range e.Nonfiction.KeyConcepts {
			if name := strings.TrimSpace(c.Concept); name != "" {
				out = append(out, name)
			}
		}
	}
	return dedupeStrings(out)
}

// PromptJSON renders the element set as indented JSON for prompt embedding.
func (e ElementSet) PromptJSON() string {
	var v any
	switch {
	case e.Fiction != nil:
		v = e.Fiction
	case e.Nonfiction != nil:
		v = e.Nonfiction
	default:
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// MergeElementSets folds per-chunk extractions into one chapter-level set.
// Characters and concepts are de-duplicated by name (first occurrence wins,
// order preserved); list fields are concatenated in chunk order; the last
// non-empty tone wins.
func MergeElementSets(sets []ElementSet) ElementSet {
	if len(sets) == 0 {
		return ElementSet{}
	}
	if len(sets) == 1 {
		return sets[0]
	}

	merged := ElementSet{Type: sets[0].Type}
	switch merged.Type {
	case Fiction:
		merged.Fiction = mergeFiction(sets)
	case Nonfiction:
		merged.Nonfiction = mergeNonfiction(sets)
	}
	return merged
}

func mergeFiction(sets []ElementSet) *FictionElements {
	out := &FictionElements{}
	seenChars := make(map[string]struct{})
	for _, s := range sets {
		f := s.Fiction
		if f == nil {
			continue
		}
		for _, c := range f.Characters {
			key := strings.ToLower(strings.TrimSpace(c.Name))
			if key == "" {
				continue
			}
			if _, ok := seenChars[key]; ok {
				continue
			}
			seenChars[key] = struct{}{}
			out.Characters = append(out.Characters, c)
		}
		out.Events = append(out.Events, f.Events...)
		out.PlotDevelopments = append(out.PlotDevelopments, f.PlotDevelopments...)
		out.Settings = append(out.Settings, f.Settings...)
		out.CluesOrForeshadowing = append(out.CluesOrForeshadowing, f.CluesOrForeshadowing...)
		out.Relationships = append(out.Relationships, f.Relationships...)
		if strings.TrimSpace(f.ToneMood) != "" {
			out.ToneMood = f.ToneMood
		}
	}
	out.Settings = dedupeStrings(out.Settings)
	return out
}

func mergeNonfiction(sets []ElementSet) *NonfictionElements {
	out := &NonfictionElements{}
	seenConcepts := make(map[string]struct{})
	for _, s := range sets {
		n := s.Nonfiction
		if n == nil {
			continue
		}
		out.MainArguments = append(out.MainArguments, n.MainArguments...)
		for _, c := range n.KeyConcepts {
			key := strings.ToLower(strings.TrimSpace(c.Concept))
			if key == "" {
				continue
			}
			if _, ok := seenConcepts[key]; ok {
				continue
			}
			seenConcepts[key] = struct{}{}
			out.KeyConcepts = append(out.KeyConcepts, c)
		}
		out.Evidence = append(out.Evidence, n.Evidence...)
		out.CaseStudies = append(out.CaseStudies, n.CaseStudies...)
		out.HistoricalReferences = append(out.HistoricalReferences, n.HistoricalReferences...)
		out.TechniquesMethods = append(out.TechniquesMethods, n.TechniquesMethods...)
		out.FiguresData = append(out.FiguresData, n.FiguresData...)
		out.Connections = append(out.Connections, n.Connections...)
	}
	out.HistoricalReferences = dedupeStrings(out.HistoricalReferences)
	out.TechniquesMethods = dedupeStrings(out.TechniquesMethods)
	return out
}

// dedupeStrings removes duplicates (case-insensitive) preserving first-seen
// order. Blank entries are dropped.
func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
