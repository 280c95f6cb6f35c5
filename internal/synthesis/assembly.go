package synthesis

import (
	"fmt"
	"sort"
	"strings"
)

// Verbosity caps how many fragments each role group contributes.
type Verbosity string

const (
	VerbosityConcise  Verbosity = "concise"
	VerbosityBalanced Verbosity = "balanced"
	VerbosityDetailed Verbosity = "detailed"
)

// Structure selects how the groups are rendered.
type Structure string

const (
	StructureLinear     Structure = "linear"
	StructureStructured Structure = "structured"
	StructureNarrative  Structure = "narrative"
)

// Tone adjusts the surface register after assembly.
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFriendly     Tone = "friendly"
)

// dedupeThreshold: fragments this similar to an already accepted one are
// dropped during assembly.
const dedupeThreshold = 0.7

func groupCap(v Verbosity, t FragmentType) int {
	base := 2
	switch v {
	case VerbosityConcise:
		base = 1
	case VerbosityDetailed:
		base = 3
	}
	if t == FragmentMainContent {
		base++
	}
	return base
}

// assemble orders fragments into the final text. Fragments are grouped
// by role, capped per verbosity, deduplicated by token similarity, and
// rendered per the requested structure.
func assemble(fragments []Fragment, cfg Config) string {
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].Priority*fragments[i].Confidence > fragments[j].Priority*fragments[j].Confidence
	})

	groups := make(map[FragmentType][]Fragment)
	for _, f := range fragments {
		if cfg.Verbosity == VerbosityConcise && (f.Type == FragmentDetails || f.Type == FragmentExamples) {
			continue
		}
		if f.Type == FragmentExamples && !cfg.IncludeExamples {
			continue
		}
		limit := groupCap(cfg.Verbosity, f.Type)
		if len(groups[f.Type]) >= limit {
			continue
		}
		if tooSimilar(f, groups[f.Type]) {
			continue
		}
		groups[f.Type] = append(groups[f.Type], f)
	}

	var sections []string
	for _, t := range fragmentOrder {
		if len(groups[t]) == 0 {
			continue
		}
		sections = append(sections, renderGroup(groups[t], cfg.Structure))
	}
	return strings.Join(sections, "\n\n")
}

func tooSimilar(f Fragment, accepted []Fragment) bool {
	set := tokenSet(f.Text)
	for _, a := range accepted {
		if jaccard(set, tokenSet(a.Text)) >= dedupeThreshold {
			return true
		}
	}
	return false
}

var narrativeTransitions = []string{"Moreover, ", "In addition, ", "Beyond that, "}

func renderGroup(fragments []Fragment, structure Structure) string {
	switch structure {
	case StructureStructured:
		if len(fragments) > 1 {
			var b strings.Builder
			for i, f := range fragments {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "%d. %s", i+1, f.Text)
			}
			return b.String()
		}
		return fragments[0].Text
	case StructureNarrative:
		var b strings.Builder
		for i, f := range fragments {
			if i > 0 {
				b.WriteString(" ")
				b.WriteString(narrativeTransitions[(i-1)%len(narrativeTransitions)])
				b.WriteString(lowerFirst(f.Text))
				continue
			}
			b.WriteString(f.Text)
		}
		return b.String()
	default:
		parts := make([]string, len(fragments))
		for i, f := range fragments {
			parts[i] = f.Text
		}
		return strings.Join(parts, " ")
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// hedges are stripped for concise readers.
var hedges = []string{"I think ", "I believe ", "Perhaps ", "perhaps ", "It seems that ", "it seems that ", "possibly "}

// casualSwaps shorten connectives for a casual tone.
var casualSwaps = [][2]string{
	{"therefore", "so"},
	{"However,", "But"},
	{"however,", "but"},
	{"additionally", "also"},
	{"Additionally,", "Also,"},
}

// technicalSwaps replace casual verbs with precise ones for technical
// readers. Space-delimited to avoid rewriting inside larger words.
var technicalSwaps = [][2]string{
	{" use ", " apply "},
	{" get ", " obtain "},
	{" fix ", " resolve "},
	{" check ", " verify "},
	{" make sure ", " ensure "},
}

// contractions are expanded for a professional tone.
var contractions = [][2]string{
	{"can't", "cannot"},
	{"won't", "will not"},
	{"don't", "do not"},
	{"isn't", "is not"},
	{"it's", "it is"},
	{"doesn't", "does not"},
}

// personalize applies style then tone adjustments.
func personalize(text string, cfg Config) string {
	if !cfg.Personalize {
		return text
	}
	switch cfg.Verbosity {
	case VerbosityConcise:
		for _, h := range hedges {
			text = strings.ReplaceAll(text, h, "")
		}
	case VerbosityDetailed:
		if len(text) > 0 && len(text) < 200 {
			text += "\n\nLet me know if any part needs a deeper walkthrough."
		}
	}
	if cfg.Technical {
		for _, s := range technicalSwaps {
			text = strings.ReplaceAll(text, s[0], s[1])
		}
	}
	switch cfg.Tone {
	case ToneProfessional:
		for _, c := range contractions {
			text = strings.ReplaceAll(text, c[0], c[1])
		}
	case ToneCasual:
		for _, s := range casualSwaps {
			text = strings.ReplaceAll(text, s[0], s[1])
		}
	case ToneFriendly:
		if text != "" && !strings.HasPrefix(text, "Happy to help") {
			text = "Happy to help! " + text
		}
	}
	return text
}

// truncateAtSentence enforces the length cap without cutting inside a
// sentence: the text is cut at the last sentence boundary that leaves
// room for the ellipsis.
func truncateAtSentence(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	const ellipsis = " ..."
	limit := max - len(ellipsis)
	if limit <= 0 {
		return text[:max]
	}
	cut := -1
	for i := 0; i < limit; i++ {
		switch text[i] {
		case '.', '!', '?':
			cut = i + 1
		}
	}
	if cut <= 0 {
		// No boundary fits; cut at the last word break instead.
		if sp := strings.LastIndex(text[:limit], " "); sp > 0 {
			return text[:sp] + ellipsis
		}
		return text[:limit] + ellipsis
	}
	return strings.TrimSpace(text[:cut]) + ellipsis
}
