package synthesis

import (
	"fmt"
	"regexp"
)

// Contradiction records two fragments asserting opposite polarity about
// overlapping subject matter.
type Contradiction struct {
	Sources     [2]string `json:"sources"`
	Description string    `json:"description"`
	Resolution  string    `json:"resolution"`
	Confidence  float64   `json:"confidence"`
}

// Detector decides whether two fragments contradict each other. The
// default is a regex polarity table; callers can plug in a stricter one.
type Detector interface {
	Detect(a, b Fragment) (Contradiction, bool)
}

// PolarityPair is a positive assertion and its negation.
type PolarityPair struct {
	Label string
	Pos   *regexp.Regexp
	Neg   *regexp.Regexp
}

var defaultPolarities = []PolarityPair{
	{"is", regexp.MustCompile(`(?i)\bis\b`), regexp.MustCompile(`(?i)\bis\s+not\b|\bisn't\b`)},
	{"can", regexp.MustCompile(`(?i)\bcan\b`), regexp.MustCompile(`(?i)\bcannot\b|\bcan\s+not\b|\bcan't\b`)},
	{"will", regexp.MustCompile(`(?i)\bwill\b`), regexp.MustCompile(`(?i)\bwill\s+not\b|\bwon't\b`)},
	{"should", regexp.MustCompile(`(?i)\bshould\b`), regexp.MustCompile(`(?i)\bshould\s+not\b|\bshouldn't\b`)},
}

// minSharedTokens gates detection: opposite polarity on unrelated
// subjects is not a contradiction.
const minSharedTokens = 2

// regexDetector matches one fragment asserting X and another asserting
// not-X, for the polarity pairs in its table, when the two fragments
// share enough subject tokens.
type regexDetector struct {
	pairs []PolarityPair
}

// NewRegexDetector builds the default detector. A nil or empty table
// falls back to the built-in polarity pairs.
func NewRegexDetector(pairs []PolarityPair) Detector {
	if len(pairs) == 0 {
		pairs = defaultPolarities
	}
	return &regexDetector{pairs: pairs}
}

func (d *regexDetector) Detect(a, b Fragment) (Contradiction, bool) {
	shared := sharedTokens(a.Text, b.Text)
	if shared < minSharedTokens {
		return Contradiction{}, false
	}
	for _, p := range d.pairs {
		aNeg := p.Neg.MatchString(a.Text)
		bNeg := p.Neg.MatchString(b.Text)
		aPos := p.Pos.MatchString(a.Text) && !aNeg
		bPos := p.Pos.MatchString(b.Text) && !bNeg
		if (aPos && bNeg) || (aNeg && bPos) {
			return Contradiction{
				Sources:     [2]string{firstSource(a), firstSource(b)},
				Description: fmt.Sprintf("opposing %q assertions from %s and %s", p.Label, firstSource(a), firstSource(b)),
				Confidence:  minFloat(a.Confidence, b.Confidence),
			}, true
		}
	}
	return Contradiction{}, false
}

func sharedTokens(a, b string) int {
	setA := tokenSet(a)
	setB := tokenSet(b)
	n := 0
	for tok := range setA {
		if len(tok) >= 4 && setB[tok] {
			n++
		}
	}
	return n
}

func firstSource(f Fragment) string {
	if len(f.Sources) > 0 {
		return f.Sources[0]
	}
	return ""
}

// resolutionPenalty discounts a merged fragment relative to its inputs.
const resolutionPenalty = 0.85

// resolveContradictions replaces each contradicting pair with one
// main_content fragment carrying the preferred text. The replacement's
// confidence never exceeds either source's.
func resolveContradictions(fragments []Fragment, detector Detector) ([]Fragment, []Contradiction) {
	var contradictions []Contradiction
	removed := make(map[int]bool)
	var replacements []Fragment

	for i := 0; i < len(fragments); i++ {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(fragments); j++ {
			if removed[j] {
				continue
			}
			c, ok := detector.Detect(fragments[i], fragments[j])
			if !ok {
				continue
			}
			merged, strategy := mergeFragments(fragments[i], fragments[j])
			c.Resolution = strategy
			contradictions = append(contradictions, c)
			replacements = append(replacements, merged)
			removed[i] = true
			removed[j] = true
			break
		}
	}

	kept := make([]Fragment, 0, len(fragments))
	for i, f := range fragments {
		if !removed[i] {
			kept = append(kept, f)
		}
	}
	return append(kept, replacements...), contradictions
}

// mergeFragments prefers the clearly stronger side; near-equal
// confidence keeps both statements and flags the disagreement.
func mergeFragments(a, b Fragment) (Fragment, string) {
	lo, hi := a, b
	if a.Confidence > b.Confidence {
		lo, hi = b, a
	}
	merged := Fragment{
		Type:       FragmentMainContent,
		Confidence: lo.Confidence * resolutionPenalty,
		Sources:    append(append([]string{}, a.Sources...), b.Sources...),
		Priority:   maxFloat(a.Priority, b.Priority),
	}
	if hi.Confidence-lo.Confidence > 0.1 {
		merged.Text = hi.Text
		return merged, "kept higher-confidence statement"
	}
	merged.Text = hi.Text + " However, a conflicting account states: " + lo.Text
	return merged, "kept both statements with a disagreement note"
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
