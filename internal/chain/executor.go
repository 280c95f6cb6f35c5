package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"chainflow/internal/llm"
	"chainflow/internal/models"
	"chainflow/internal/store"
	"chainflow/internal/synthesis"
	"chainflow/internal/toolclient"
)

// ErrCircularDependency reports a malformed step graph. It is a
// configuration bug: chain construction aborts before any step runs.
var ErrCircularDependency = errors.New("circular dependency in step graph")

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Options tunes one orchestrator instance.
type Options struct {
	MaxMessages    int
	MaxConcurrency int
	StepTimeout    time.Duration
}

// Orchestrator turns a query into a chain, executes it, and synthesizes
// the final response. One orchestration call per session at a time;
// callers serialize per session (see the worker package).
type Orchestrator struct {
	store   *store.Store
	invoker llm.Invoker
	tools   toolclient.Client
	synth   *synthesis.Synthesizer
	opts    Options
}

// New wires an orchestrator. The tool client may be nil, in which case
// every tool operation fails (and is handled by the usual step-failure
// path).
func New(st *store.Store, invoker llm.Invoker, tools toolclient.Client, synth *synthesis.Synthesizer, opts Options) *Orchestrator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	return &Orchestrator{store: st, invoker: invoker, tools: tools, synth: synth, opts: opts}
}

// OrchestrateQuery runs the full pipeline for one query and returns the
// final response text. The caller always gets text back except for the
// construction-time errors: an unknown session or a cyclic step graph.
func (o *Orchestrator) OrchestrateQuery(ctx context.Context, sessionID, query string, hint Complexity) (string, error) {
	retrieved, err := o.store.RetrieveRelevantContext(sessionID, query, o.opts.MaxMessages)
	if err != nil {
		return "", err
	}
	if err := o.store.AddMessage(sessionID, &models.Message{
		Role:    models.RoleUser,
		Content: query,
	}); err != nil {
		return "", err
	}

	ch := BuildChain(sessionID, query, hint, retrieved, o.opts.MaxConcurrency)
	if err := o.execute(ctx, ch); err != nil {
		return "", err
	}

	res := o.synth.Synthesize(ch.Results, ch.Context, synthesis.StyleFor(retrieved.Profile))

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: res.FinalResponse,
		Metadata: models.MessageMetadata{
			Confidence:      res.Confidence,
			SynthesizedFrom: res.Sources,
			ToolsUsed:       toolsUsed(ch.Results),
		},
	}
	if err := o.store.AddMessage(sessionID, assistant); err != nil {
		log.Printf("chain %s: record response: %v", ch.ID, err)
	}
	return res.FinalResponse, nil
}

// execute runs the chain level by level. Step failures are contained;
// the only returned error is the fatal cyclic-graph case.
func (o *Orchestrator) execute(ctx context.Context, ch *models.PromptChain) error {
	levels, err := buildLevels(ch.Steps)
	if err != nil {
		ch.Status = models.ChainFailed
		return err
	}
	ch.Status = models.ChainRunning

	total := len(ch.Steps)
	failed := 0
	for _, level := range levels {
		outcomes := o.runLevel(ctx, ch, level)
		for _, oc := range outcomes {
			ch.Results = append(ch.Results, oc.result)
			ch.Context.Intermediate[oc.result.StepID] = oc.result.Output
			if oc.err != nil {
				failed++
				ch.Context.Errors = append(ch.Context.Errors, models.ChainError{
					StepID:  oc.result.StepID,
					Message: oc.err.Error(),
					At:      timeNow(),
				})
				log.Printf("chain %s: step %s failed: %v", ch.ID, oc.result.StepID, oc.err)
			}
		}
		// Majority failure: stop burning steps on a chain that cannot
		// produce a useful answer.
		if failed*2 > total {
			ch.Status = models.ChainFailed
			log.Printf("chain %s: terminated early, %d/%d steps failed", ch.ID, failed, total)
			return nil
		}
	}
	ch.Status = models.ChainCompleted
	return nil
}

type stepOutcome struct {
	result models.ChainResult
	err    error
}

// runLevel executes one dependency level in batches of at most
// MaxConcurrency steps.
func (o *Orchestrator) runLevel(ctx context.Context, ch *models.PromptChain, level []*models.PromptStep) []stepOutcome {
	limit := ch.Metadata.MaxConcurrency
	if limit < 1 {
		limit = 1
	}
	if limit > len(level) {
		limit = len(level)
	}
	outcomes := make([]stepOutcome, len(level))
	for start := 0; start < len(level); start += limit {
		end := start + limit
		if end > len(level) {
			end = len(level)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = o.runStep(ctx, ch, level[i])
			}(i)
		}
		wg.Wait()
	}
	return outcomes
}

// runStep evaluates conditions, dispatches by type under the step
// timeout, and retries per policy. It never panics the chain: every
// failure becomes a failed result.
func (o *Orchestrator) runStep(ctx context.Context, ch *models.PromptChain, step *models.PromptStep) stepOutcome {
	start := timeNow()

	if !o.conditionsMet(ch, step) {
		return stepOutcome{result: models.ChainResult{
			StepID:      step.ID,
			Success:     true,
			Output:      "",
			Elapsed:     timeNow().Sub(start),
			CompletedAt: timeNow(),
			Metadata: models.ResultMetadata{
				ChainID:    ch.ID,
				Confidence: 1,
				Skipped:    true,
			},
		}}
	}

	attempts := 1
	var backoff time.Duration
	if step.Retry != nil && step.Retry.MaxAttempts > 1 {
		attempts = step.Retry.MaxAttempts
		backoff = step.Retry.Backoff
	}

	var (
		out   string
		raw   []string
		tools []string
		err   error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		out, raw, tools, err = o.dispatch(ctx, ch, step)
		if err == nil {
			break
		}
		if attempt < attempts-1 && backoff > 0 {
			time.Sleep(backoff)
		}
	}

	result := models.ChainResult{
		StepID:      step.ID,
		Success:     err == nil,
		Output:      out,
		RawResults:  raw,
		Elapsed:     timeNow().Sub(start),
		CompletedAt: timeNow(),
		Metadata: models.ResultMetadata{
			ChainID:    ch.ID,
			Confidence: confidenceFor(step.Type),
			Tools:      tools,
		},
	}
	if err != nil {
		result.Metadata.Confidence = 0
	}
	return stepOutcome{result: result, err: err}
}

// dispatch runs the step body under its timeout. The timeout is
// advisory: on expiry we stop waiting, the underlying call may finish in
// the background.
func (o *Orchestrator) dispatch(ctx context.Context, ch *models.PromptChain, step *models.PromptStep) (string, []string, []string, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.opts.StepTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type bodyOutcome struct {
		out   string
		raw   []string
		tools []string
		err   error
	}
	done := make(chan bodyOutcome, 1)
	go func() {
		var oc bodyOutcome
		switch step.Type {
		case models.StepMCPCall:
			oc.out, oc.raw, oc.tools, oc.err = o.runToolStep(cctx, ch, step)
		case models.StepRetrieval:
			oc.out, oc.err = o.runRetrievalStep(step, ch)
		default:
			oc.out, oc.err = o.runModelStep(cctx, ch, step)
		}
		done <- oc
	}()

	select {
	case oc := <-done:
		return oc.out, oc.raw, oc.tools, oc.err
	case <-cctx.Done():
		return "", nil, nil, fmt.Errorf("step %s: %w", step.ID, cctx.Err())
	}
}

// runModelStep builds the contextual prompt and delegates to the model.
func (o *Orchestrator) runModelStep(ctx context.Context, ch *models.PromptChain, step *models.PromptStep) (string, error) {
	if o.invoker == nil {
		return "", errors.New("no model invoker configured")
	}
	return o.invoker.Invoke(ctx, o.buildPrompt(ch, step))
}

// buildPrompt combines the step template with retrieved context and
// upstream outputs. Decision steps see every intermediate result, other
// types only their declared dependencies.
func (o *Orchestrator) buildPrompt(ch *models.PromptChain, step *models.PromptStep) []*models.Message {
	var system strings.Builder
	system.WriteString("You are one step in a reasoning chain. Use only the material below.\n")

	if r := ch.Context.Retrieved; r != nil && len(r.Messages) > 0 {
		system.WriteString("\nRelevant conversation context:\n")
		for _, msg := range r.Messages {
			fmt.Fprintf(&system, "- [%s] %s\n", msg.Role, msg.Content)
		}
	}
	if r := ch.Context.Retrieved; r != nil && len(r.Domains) > 0 {
		system.WriteString("\nDomain knowledge:\n")
		for _, d := range r.Domains {
			for key, value := range d.Concepts {
				fmt.Fprintf(&system, "- %s/%s: %s\n", d.Domain, key, value)
			}
		}
	}

	if step.Type == models.StepDecision {
		if len(ch.Context.Intermediate) > 0 {
			system.WriteString("\nIntermediate results so far:\n")
			ids := make([]string, 0, len(ch.Context.Intermediate))
			for id := range ch.Context.Intermediate {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				if out := ch.Context.Intermediate[id]; out != "" {
					fmt.Fprintf(&system, "[%s]\n%s\n", id, out)
				}
			}
		}
	} else {
		for _, dep := range step.DependsOn {
			if out, ok := ch.Context.Intermediate[dep]; ok && out != "" {
				fmt.Fprintf(&system, "\nOutput of %s:\n%s\n", dep, out)
			}
		}
	}

	template := strings.ReplaceAll(step.Template, "{{query}}", ch.Context.Query)
	return []*models.Message{
		{Role: models.RoleSystem, Content: system.String()},
		{Role: models.RoleUser, Content: template},
	}
}

// runToolStep executes the step's tool operations in order. A required
// operation failing fails the step; optional failures fall back when a
// fallback is configured and are skipped otherwise.
func (o *Orchestrator) runToolStep(ctx context.Context, ch *models.PromptChain, step *models.PromptStep) (string, []string, []string, error) {
	if o.tools == nil {
		return "", nil, nil, errors.New("no tool client configured")
	}
	var (
		parts []string
		raw   []string
		used  []string
	)
	for _, op := range step.Operations {
		out, name, err := o.runOperation(ctx, ch, op)
		if err != nil {
			if op.Fallback != nil {
				out, name, err = o.runOperation(ctx, ch, *op.Fallback)
			}
			if err != nil {
				if op.Required {
					return "", raw, used, fmt.Errorf("required operation %s: %w", op.Kind, err)
				}
				continue
			}
		}
		if name != "" {
			used = append(used, name)
		}
		if out != "" {
			parts = append(parts, out)
			raw = append(raw, out)
		}
	}
	return strings.Join(parts, "\n"), raw, used, nil
}

func (o *Orchestrator) runOperation(ctx context.Context, ch *models.PromptChain, op models.ToolOperation) (string, string, error) {
	switch op.Kind {
	case models.OpListTools:
		tools, err := o.tools.ListTools(ctx)
		if err != nil {
			return "", "", err
		}
		var b strings.Builder
		b.WriteString("Available tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
		return b.String(), "", nil
	case models.OpListResources:
		resources, err := o.tools.ListResources(ctx)
		if err != nil {
			return "", "", err
		}
		var b strings.Builder
		b.WriteString("Available resources:\n")
		for _, r := range resources {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Name, r.URI)
		}
		return b.String(), "", nil
	case models.OpCallTool:
		name := op.Tool
		if name == "" {
			resolved, err := o.resolveTool(ctx, ch.Context.Query)
			if err != nil {
				return "", "", err
			}
			name = resolved
		}
		out, err := o.tools.CallTool(ctx, name, op.Args)
		if err != nil {
			return "", name, err
		}
		return fmt.Sprintf("[%s] %s", name, out), name, nil
	case models.OpReadResource:
		out, err := o.tools.ReadResource(ctx, op.URI)
		return out, "", err
	default:
		return "", "", fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
}

// resolveTool picks the catalogue tool whose name overlaps the query the
// most, defaulting to the first listed.
func (o *Orchestrator) resolveTool(ctx context.Context, query string) (string, error) {
	tools, err := o.tools.ListTools(ctx)
	if err != nil {
		return "", err
	}
	if len(tools) == 0 {
		return "", errors.New("no tools available")
	}
	lower := strings.ToLower(query)
	best := tools[0].Name
	bestScore := 0
	for _, t := range tools {
		score := 0
		for _, part := range strings.FieldsFunc(strings.ToLower(t.Name), func(r rune) bool {
			return r == '_' || r == '-' || r == '.'
		}) {
			if len(part) >= 3 && strings.Contains(lower, part) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = t.Name, score
		}
	}
	return best, nil
}

// runRetrievalStep re-queries the context store with the step's own
// prompt for an additional context slice.
func (o *Orchestrator) runRetrievalStep(step *models.PromptStep, ch *models.PromptChain) (string, error) {
	query := strings.ReplaceAll(step.Template, "{{query}}", ch.Context.Query)
	got, err := o.store.RetrieveRelevantContext(ch.Context.SessionID, query, o.opts.MaxMessages)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, msg := range got.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	return b.String(), nil
}

func (o *Orchestrator) conditionsMet(ch *models.PromptChain, step *models.PromptStep) bool {
	for _, cond := range step.Conditions {
		switch cond.Kind {
		case models.CondStepSucceeded:
			if !stepSucceeded(ch.Results, cond.StepID) {
				return false
			}
		case models.CondContextNonEmpty:
			if ch.Context.Retrieved == nil || len(ch.Context.Retrieved.Messages) == 0 {
				return false
			}
		}
	}
	return true
}

func stepSucceeded(results []models.ChainResult, stepID string) bool {
	for _, r := range results {
		if r.StepID == stepID {
			return r.Success && !r.Metadata.Skipped && r.Output != ""
		}
	}
	return false
}

// buildLevels groups steps into dependency levels: repeatedly collect
// every unscheduled step whose dependencies are satisfied. No progress
// with steps remaining means the graph has a cycle.
func buildLevels(steps []*models.PromptStep) ([][]*models.PromptStep, error) {
	scheduled := make(map[string]bool, len(steps))
	var levels [][]*models.PromptStep
	for len(scheduled) < len(steps) {
		var level []*models.PromptStep
		for _, step := range steps {
			if scheduled[step.ID] {
				continue
			}
			ready := true
			for _, dep := range step.DependsOn {
				if !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, step)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("%d steps unschedulable: %w", len(steps)-len(scheduled), ErrCircularDependency)
		}
		for _, step := range level {
			scheduled[step.ID] = true
		}
		levels = append(levels, level)
	}
	return levels, nil
}

var confidenceByType = map[models.StepType]float64{
	models.StepAnalysis:   0.75,
	models.StepRetrieval:  0.9,
	models.StepSynthesis:  0.8,
	models.StepValidation: 0.7,
	models.StepMCPCall:    0.85,
	models.StepDecision:   0.7,
}

func confidenceFor(t models.StepType) float64 {
	if c, ok := confidenceByType[t]; ok {
		return c
	}
	return 0.6
}

func toolsUsed(results []models.ChainResult) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range results {
		for _, name := range r.Metadata.Tools {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
