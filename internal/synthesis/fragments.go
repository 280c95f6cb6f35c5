package synthesis

import (
	"strings"

	"chainflow/internal/models"
)

// FragmentType is the role a fragment plays in the assembled response.
type FragmentType string

const (
	FragmentIntroduction FragmentType = "introduction"
	FragmentMainContent  FragmentType = "main_content"
	FragmentDetails      FragmentType = "details"
	FragmentExamples     FragmentType = "examples"
	FragmentConclusion   FragmentType = "conclusion"
)

// fragmentOrder fixes the assembly order of non-empty groups.
var fragmentOrder = []FragmentType{
	FragmentIntroduction,
	FragmentMainContent,
	FragmentDetails,
	FragmentExamples,
	FragmentConclusion,
}

// Fragment is a classified, scored slice of one step's output. Fragments
// are never mutated in place: contradiction resolution produces
// replacements and discards the originals.
type Fragment struct {
	Type       FragmentType
	Text       string
	Confidence float64
	Sources    []string
	Priority   float64
}

const (
	minResultLength     = 20
	minResultConfidence = 0.3
	longParagraph       = 400
)

// internalMarkers disqualify a result that leaked debug or system tags.
var internalMarkers = []string{"[debug]", "[system]", "[trace]", "<internal>"}

// filterResults drops failed, skipped, near-empty, low-confidence and
// marker-contaminated results.
func filterResults(results []models.ChainResult) []models.ChainResult {
	kept := make([]models.ChainResult, 0, len(results))
	for _, r := range results {
		if !r.Success || r.Metadata.Skipped {
			continue
		}
		text := strings.TrimSpace(r.Output)
		if len(text) < minResultLength {
			continue
		}
		if r.Metadata.Confidence < minResultConfidence {
			continue
		}
		if containsInternalMarker(text) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func containsInternalMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range internalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// extractFragments splits surviving results into classified, prioritized
// fragments.
func extractFragments(results []models.ChainResult, query string) []Fragment {
	terms := significantTerms(query)
	var fragments []Fragment
	for _, r := range results {
		for _, piece := range splitPieces(r.Output) {
			frag := Fragment{
				Type:       classifyFragment(r.StepID, piece),
				Text:       piece,
				Confidence: r.Metadata.Confidence,
				Sources:    []string{r.StepID},
				Priority:   priorityScore(r, piece, terms),
			}
			fragments = append(fragments, frag)
		}
	}
	return fragments
}

// splitPieces splits output into paragraphs; long paragraphs are further
// split on sentence boundaries.
func splitPieces(text string) []string {
	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= longParagraph {
			pieces = append(pieces, para)
			continue
		}
		var current strings.Builder
		for _, sentence := range splitSentences(para) {
			if current.Len() > 0 && current.Len()+len(sentence) > longParagraph {
				pieces = append(pieces, strings.TrimSpace(current.String()))
				current.Reset()
			}
			current.WriteString(sentence)
			current.WriteString(" ")
		}
		if rest := strings.TrimSpace(current.String()); rest != "" {
			pieces = append(pieces, rest)
		}
	}
	return pieces
}

// splitSentences is a naive boundary split; good enough for scoring and
// truncation, not a linguistic segmenter.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			if s := strings.TrimSpace(text[start:end]); s != "" {
				sentences = append(sentences, s)
			}
			start = end
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// classifyFragment assigns a role from the originating step id and
// lexical cues in the text.
func classifyFragment(stepID, text string) FragmentType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "for instance") || strings.Contains(lower, "for example") || strings.Contains(lower, "e.g."):
		return FragmentExamples
	case strings.Contains(lower, "in conclusion") || strings.Contains(lower, "in summary") || strings.Contains(lower, "overall,"):
		return FragmentConclusion
	case strings.Contains(lower, "note that") || strings.Contains(lower, "specifically"):
		return FragmentDetails
	}
	switch {
	case strings.Contains(stepID, "analysis"):
		return FragmentIntroduction
	case strings.Contains(stepID, "validation"):
		return FragmentDetails
	default:
		return FragmentMainContent
	}
}

// stepTypeWeight approximates how much a step's output should drive the
// final response, keyed by step id convention.
func stepTypeWeight(stepID string) float64 {
	switch {
	case strings.Contains(stepID, "synthesis"):
		return 1.0
	case strings.Contains(stepID, "execution") || strings.Contains(stepID, "gathering"):
		return 0.9
	case strings.Contains(stepID, "decomposition") || strings.Contains(stepID, "decision"):
		return 0.7
	case strings.Contains(stepID, "analysis"):
		return 0.6
	case strings.Contains(stepID, "validation"):
		return 0.5
	default:
		return 0.6
	}
}

func priorityScore(r models.ChainResult, text string, terms []string) float64 {
	score := stepTypeWeight(r.StepID)
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 0.1
		}
	}
	if len(r.RawResults) > 0 {
		score += 0.2
	}
	return score
}

// significantTerms extracts the query terms worth overlap-scoring on.
func significantTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 4 {
			terms = append(terms, f)
		}
	}
	return terms
}

// tokenSet lowercases and tokenizes for similarity checks.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f != "" {
			set[f] = true
		}
	}
	return set
}

// jaccard computes token-set similarity in [0,1].
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
