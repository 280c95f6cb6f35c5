package synthesis

import (
	"strings"
	"testing"

	"chainflow/internal/models"
)

func result(stepID, output string, confidence float64) models.ChainResult {
	return models.ChainResult{
		StepID:   stepID,
		Success:  true,
		Output:   output,
		Metadata: models.ResultMetadata{Confidence: confidence},
	}
}

func chainCtx(query string) *models.ChainContext {
	return &models.ChainContext{SessionID: "s1", Query: query}
}

func TestSynthesizeAssemblesInOrder(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("direct_synthesis", "Indexes speed up reads at the cost of slower writes and extra storage.", 0.8),
		result("context_analysis", "The question concerns database indexing strategies.", 0.75),
	}

	res := s.Synthesize(results, chainCtx("database indexing"), DefaultConfig())

	if res.FinalResponse == "" {
		t.Fatal("empty response")
	}
	intro := strings.Index(res.FinalResponse, "indexing strategies")
	main := strings.Index(res.FinalResponse, "speed up reads")
	if intro < 0 || main < 0 {
		t.Fatalf("missing fragments in response: %q", res.FinalResponse)
	}
	if intro > main {
		t.Fatalf("introduction placed after main content: %q", res.FinalResponse)
	}
	want := []string{"context_analysis", "direct_synthesis"}
	if len(res.Sources) != 2 || res.Sources[0] != want[0] || res.Sources[1] != want[1] {
		t.Fatalf("sources = %v, want %v", res.Sources, want)
	}
	if res.Confidence < 0.7 || res.Confidence > 0.8 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
}

func TestSynthesizeFiltersUnusableResults(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		{StepID: "a", Success: false, Output: "a long enough failure output text", Metadata: models.ResultMetadata{Confidence: 0.9}},
		{StepID: "b", Success: true, Output: "skipped output that is long enough", Metadata: models.ResultMetadata{Confidence: 0.9, Skipped: true}},
		result("c", "too short", 0.9),
		result("d", "a perfectly long output with too little confidence", 0.2),
		result("e", "[debug] leaked internal trace output from a step", 0.9),
	}

	res := s.Synthesize(results, chainCtx("anything"), DefaultConfig())

	if res.FinalResponse != fallbackResponse {
		t.Fatalf("expected fallback, got %q", res.FinalResponse)
	}
	if res.Confidence != 0.1 {
		t.Fatalf("fallback confidence = %v", res.Confidence)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("fallback should cite no sources: %v", res.Sources)
	}
}

func TestSynthesizeDetectsAndResolvesContradiction(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("step_a", "The cache can be shared across worker processes safely.", 0.8),
		result("step_b", "The cache cannot be shared across worker processes.", 0.8),
	}

	res := s.Synthesize(results, chainCtx("cache sharing"), DefaultConfig())

	if len(res.Contradictions) != 1 {
		t.Fatalf("contradictions = %d, want 1", len(res.Contradictions))
	}
	c := res.Contradictions[0]
	if c.Sources[0] != "step_a" || c.Sources[1] != "step_b" {
		t.Fatalf("contradiction sources = %v", c.Sources)
	}
	if c.Confidence > 0.8 {
		t.Fatalf("contradiction confidence %v exceeds sources", c.Confidence)
	}
	if !strings.Contains(res.FinalResponse, "conflicting account") {
		t.Fatalf("tied-confidence resolution should keep both sides: %q", res.FinalResponse)
	}
	// Mean 0.8 minus one contradiction penalty.
	if res.Confidence > 0.71 || res.Confidence < 0.69 {
		t.Fatalf("confidence = %v, want ~0.7", res.Confidence)
	}
}

func TestSynthesizeResolutionPrefersHigherConfidence(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("step_a", "The cache can be shared across worker processes safely.", 0.9),
		result("step_b", "The cache cannot be shared across worker processes.", 0.4),
	}

	res := s.Synthesize(results, chainCtx("cache sharing"), DefaultConfig())

	if len(res.Contradictions) != 1 {
		t.Fatalf("contradictions = %d, want 1", len(res.Contradictions))
	}
	if strings.Contains(res.FinalResponse, "conflicting account") {
		t.Fatalf("clear winner should not carry a disagreement note: %q", res.FinalResponse)
	}
	if !strings.Contains(res.FinalResponse, "can be shared") {
		t.Fatalf("higher-confidence side missing: %q", res.FinalResponse)
	}
}

func TestSynthesizeCustomDetector(t *testing.T) {
	s := New(detectorFunc(func(a, b Fragment) (Contradiction, bool) {
		return Contradiction{}, false
	}))
	results := []models.ChainResult{
		result("step_a", "The cache can be shared across worker processes safely.", 0.8),
		result("step_b", "The cache cannot be shared across worker processes.", 0.8),
	}

	res := s.Synthesize(results, chainCtx("cache sharing"), DefaultConfig())
	if len(res.Contradictions) != 0 {
		t.Fatalf("custom detector overridden: %v", res.Contradictions)
	}
}

type detectorFunc func(a, b Fragment) (Contradiction, bool)

func (f detectorFunc) Detect(a, b Fragment) (Contradiction, bool) { return f(a, b) }

func TestSynthesizeScrubsLeakedMarkers(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("direct_synthesis", "Use indexes wisely. [step tool_execution] They reduce scan cost.", 0.8),
	}

	res := s.Synthesize(results, chainCtx("indexes"), DefaultConfig())
	if strings.Contains(res.FinalResponse, "[step") {
		t.Fatalf("step marker leaked: %q", res.FinalResponse)
	}
	if !strings.Contains(res.FinalResponse, "reduce scan cost") {
		t.Fatalf("content lost during scrub: %q", res.FinalResponse)
	}
}

func TestSynthesizeRespectsMaxLength(t *testing.T) {
	s := New(nil)
	long := strings.Repeat("This sentence pads the response out considerably. ", 20)
	results := []models.ChainResult{result("direct_synthesis", long, 0.8)}

	cfg := DefaultConfig()
	cfg.MaxLength = 120
	res := s.Synthesize(results, chainCtx("padding"), cfg)

	if len(res.FinalResponse) > 120 {
		t.Fatalf("response length %d exceeds cap", len(res.FinalResponse))
	}
	trimmed := strings.TrimSuffix(res.FinalResponse, " ...")
	if !strings.HasSuffix(trimmed, ".") {
		t.Fatalf("truncated mid-sentence: %q", res.FinalResponse)
	}
}

func TestSynthesizeFriendlyTone(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("direct_synthesis", "Indexes reduce read latency for selective queries.", 0.8),
	}

	cfg := StyleFor(models.UserProfile{Style: models.StyleConversational})
	res := s.Synthesize(results, chainCtx("indexes"), cfg)

	if !strings.HasPrefix(res.FinalResponse, "Happy to help!") {
		t.Fatalf("friendly tone missing: %q", res.FinalResponse)
	}
}

func TestSynthesizeAlternativesBounded(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("context_analysis", "The request is about tuning connection pools for a busy service.", 0.75),
		result("direct_synthesis", "Size the pool from measured concurrency, not guesses, and watch wait times.", 0.8),
	}

	cfg := StyleFor(models.UserProfile{Style: models.StyleDetailed})
	res := s.Synthesize(results, chainCtx("connection pool tuning"), cfg)

	if len(res.Alternatives) > 2 {
		t.Fatalf("too many alternatives: %d", len(res.Alternatives))
	}
	for _, alt := range res.Alternatives {
		if alt == "" {
			t.Fatal("empty alternative")
		}
	}
}

func TestSynthesizeTechnicalStyleSwapsVerbs(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("direct_synthesis", "You can use this setting to fix the issue when the cache misbehaves.", 0.8),
	}

	cfg := StyleFor(models.UserProfile{Style: models.StyleTechnical})
	res := s.Synthesize(results, chainCtx("cache setting"), cfg)

	if !strings.Contains(res.FinalResponse, "apply this setting") {
		t.Fatalf("casual verb not swapped: %q", res.FinalResponse)
	}
	if !strings.Contains(res.FinalResponse, "resolve the issue") {
		t.Fatalf("casual verb not swapped: %q", res.FinalResponse)
	}
	if strings.Contains(res.FinalResponse, " use ") || strings.Contains(res.FinalResponse, " fix ") {
		t.Fatalf("casual verbs left in place: %q", res.FinalResponse)
	}
}

func TestSynthesizeAnnotatesResultProvenance(t *testing.T) {
	s := New(nil)
	results := []models.ChainResult{
		result("step_a", "The connection pool can be shared across worker processes safely.", 0.9),
		result("step_b", "The connection pool cannot be shared across worker processes.", 0.4),
	}

	s.Synthesize(results, chainCtx("connection pool sharing"), DefaultConfig())

	if len(results[0].Metadata.Fragments) == 0 {
		t.Fatalf("winning step missing extracted fragments: %+v", results[0].Metadata)
	}
	if len(results[1].Metadata.Fragments) == 0 {
		t.Fatalf("merged fragment not attributed to both sources: %+v", results[1].Metadata)
	}
	alts := results[1].Metadata.Alternatives
	if len(alts) != 1 || !strings.Contains(alts[0], "cannot be shared") {
		t.Fatalf("replaced phrasing not kept as alternative: %v", alts)
	}
	if len(results[0].Metadata.Alternatives) != 0 {
		t.Fatalf("winning phrasing survived, expected no alternatives: %v", results[0].Metadata.Alternatives)
	}
}

func TestStyleForMapsProfiles(t *testing.T) {
	concise := StyleFor(models.UserProfile{Style: models.StyleConcise})
	if concise.Verbosity != VerbosityConcise || concise.IncludeExamples || concise.MaxLength != 800 {
		t.Fatalf("concise config = %+v", concise)
	}
	technical := StyleFor(models.UserProfile{Style: models.StyleTechnical})
	if technical.Tone != ToneProfessional || technical.Structure != StructureStructured || !technical.Technical {
		t.Fatalf("technical config = %+v", technical)
	}
	fallback := StyleFor(models.UserProfile{})
	if fallback.Verbosity != VerbosityBalanced || fallback.Structure != StructureLinear {
		t.Fatalf("default config = %+v", fallback)
	}
}
