// Package synthesis turns the raw outputs of a chain's steps into one
// coherent response: filter, fragment, reconcile, assemble, then polish
// for the user's preferred style and length.
package synthesis

import (
	"regexp"
	"sort"
	"strings"

	"chainflow/internal/models"
)

// Config controls one synthesis pass.
type Config struct {
	MaxLength       int
	Verbosity       Verbosity
	Structure       Structure
	Tone            Tone
	Technical       bool
	IncludeExamples bool
	Personalize     bool
	Alternatives    int
}

// DefaultConfig is the baseline when no profile preference applies.
func DefaultConfig() Config {
	return Config{
		MaxLength:       2000,
		Verbosity:       VerbosityBalanced,
		Structure:       StructureLinear,
		Tone:            ToneNeutral,
		IncludeExamples: true,
		Personalize:     true,
		Alternatives:    2,
	}
}

// StyleFor maps a user profile onto a synthesis config.
func StyleFor(profile models.UserProfile) Config {
	cfg := DefaultConfig()
	switch profile.Style {
	case models.StyleConcise:
		cfg.Verbosity = VerbosityConcise
		cfg.IncludeExamples = false
		cfg.MaxLength = 800
	case models.StyleDetailed:
		cfg.Verbosity = VerbosityDetailed
		cfg.Structure = StructureStructured
	case models.StyleTechnical:
		cfg.Tone = ToneProfessional
		cfg.Structure = StructureStructured
		cfg.Technical = true
	case models.StyleConversational:
		cfg.Tone = ToneFriendly
		cfg.Structure = StructureNarrative
	}
	return cfg
}

// Result is the synthesizer's full answer: the response plus the
// provenance a caller needs to record it.
type Result struct {
	FinalResponse  string          `json:"final_response"`
	Confidence     float64         `json:"confidence"`
	Quality        float64         `json:"quality"`
	Sources        []string        `json:"sources,omitempty"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	Alternatives   []string        `json:"alternatives,omitempty"`
	FragmentCount  int             `json:"fragment_count"`
}

// Synthesizer runs the synthesis pipeline. It is stateless and safe for
// concurrent use.
type Synthesizer struct {
	detector Detector
}

// New builds a synthesizer; a nil detector gets the default regex table.
func New(detector Detector) *Synthesizer {
	if detector == nil {
		detector = NewRegexDetector(nil)
	}
	return &Synthesizer{detector: detector}
}

const fallbackResponse = "I was not able to put together a reliable answer to that. " +
	"Could you rephrase the question or narrow it down?"

// contradictionPenalty is subtracted from overall confidence per
// detected contradiction.
const contradictionPenalty = 0.1

// Synthesize composes the final response from the chain's step results.
// It never fails: when nothing usable survives filtering the caller gets
// the apologetic fallback with low confidence. Each result is annotated
// in place with the fragments extracted from it; a phrasing discarded
// during contradiction resolution stays on its result as an alternative.
func (s *Synthesizer) Synthesize(results []models.ChainResult, chainCtx *models.ChainContext, cfg Config) *Result {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}

	query := ""
	if chainCtx != nil {
		query = chainCtx.Query
	}

	usable := filterResults(results)
	fragments := extractFragments(usable, query)
	if len(fragments) == 0 {
		return &Result{FinalResponse: fallbackResponse, Confidence: 0.1}
	}

	extracted := append([]Fragment(nil), fragments...)
	fragments, contradictions := resolveContradictions(fragments, s.detector)
	annotateResults(results, fragments, extracted)

	text := assemble(fragments, cfg)
	text = personalize(text, cfg)
	text = scrubMarkers(text)
	text = truncateAtSentence(text, cfg.MaxLength)

	res := &Result{
		FinalResponse:  text,
		Confidence:     overallConfidence(usable, len(contradictions)),
		Quality:        qualityScore(text, fragments),
		Sources:        sourceSteps(fragments),
		Contradictions: contradictions,
		FragmentCount:  len(fragments),
		Alternatives:   s.alternatives(fragments, cfg),
	}
	return res
}

// alternatives renders up to cfg.Alternatives differently shaped
// versions of the same fragments, skipping duplicates of each other.
func (s *Synthesizer) alternatives(fragments []Fragment, cfg Config) []string {
	if cfg.Alternatives <= 0 {
		return nil
	}
	variants := []Config{}
	if cfg.Structure != StructureLinear {
		alt := cfg
		alt.Structure = StructureLinear
		variants = append(variants, alt)
	}
	if cfg.Verbosity != VerbosityConcise {
		alt := cfg
		alt.Verbosity = VerbosityConcise
		alt.IncludeExamples = false
		variants = append(variants, alt)
	}

	var out []string
	for _, alt := range variants {
		if len(out) >= cfg.Alternatives || len(out) >= 2 {
			break
		}
		text := truncateAtSentence(scrubMarkers(assemble(fragments, alt)), alt.MaxLength)
		if text == "" || duplicateOf(text, out) {
			continue
		}
		out = append(out, text)
	}
	return out
}

// annotateResults writes extraction provenance back onto the results:
// the surviving fragment texts sourced from each step, and any original
// phrasing that resolution replaced, as an alternative.
func annotateResults(results []models.ChainResult, fragments, extracted []Fragment) {
	byStep := make(map[string][]string)
	surviving := make(map[string]bool, len(fragments))
	for _, f := range fragments {
		surviving[f.Text] = true
		for _, src := range f.Sources {
			byStep[src] = append(byStep[src], f.Text)
		}
	}
	alts := make(map[string][]string)
	for _, f := range extracted {
		if surviving[f.Text] {
			continue
		}
		for _, src := range f.Sources {
			alts[src] = append(alts[src], f.Text)
		}
	}
	for i := range results {
		if texts := byStep[results[i].StepID]; len(texts) > 0 {
			results[i].Metadata.Fragments = texts
		}
		if a := alts[results[i].StepID]; len(a) > 0 {
			results[i].Metadata.Alternatives = a
		}
	}
}

func duplicateOf(text string, existing []string) bool {
	set := tokenSet(text)
	for _, e := range existing {
		if jaccard(set, tokenSet(e)) >= dedupeThreshold {
			return true
		}
	}
	return false
}

// markerPatterns strip step and chain references that leaked into model
// output before it reaches the user.
var markerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[(?:step|chain)[^\]]*\]\s*`),
	regexp.MustCompile(`(?i)\bconfidence:\s*[0-9.]+\s*`),
	regexp.MustCompile(`(?i)\bintermediate result[s]?:\s*`),
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func scrubMarkers(text string) string {
	for _, p := range markerPatterns {
		text = p.ReplaceAllString(text, "")
	}
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// overallConfidence is the mean confidence of the usable steps minus a
// penalty per contradiction, clamped to [0,1].
func overallConfidence(usable []models.ChainResult, contradictions int) float64 {
	if len(usable) == 0 {
		return 0.1
	}
	sum := 0.0
	for _, r := range usable {
		sum += r.Metadata.Confidence
	}
	c := sum/float64(len(usable)) - float64(contradictions)*contradictionPenalty
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// qualityScore is a rough heuristic over length, sentence count and
// source diversity; it is advisory metadata, not a gate.
func qualityScore(text string, fragments []Fragment) float64 {
	lengthScore := float64(len(text)) / 800
	if lengthScore > 1 {
		lengthScore = 1
	}
	sentenceScore := float64(len(splitSentences(text))) / 5
	if sentenceScore > 1 {
		sentenceScore = 1
	}
	sourceScore := float64(len(sourceStepsFrom(fragments))) / 3
	if sourceScore > 1 {
		sourceScore = 1
	}
	return lengthScore*0.4 + sentenceScore*0.3 + sourceScore*0.3
}

func sourceSteps(fragments []Fragment) []string {
	out := sourceStepsFrom(fragments)
	sort.Strings(out)
	return out
}

func sourceStepsFrom(fragments []Fragment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fragments {
		for _, src := range f.Sources {
			if src != "" && !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
		}
	}
	return out
}
