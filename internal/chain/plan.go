// Package chain plans and executes one query's reasoning chain: a fixed
// DAG of steps derived from the query's complexity, run level by level
// with bounded concurrency and per-step failure isolation.
package chain

import (
	"strings"
	"time"

	"chainflow/internal/models"

	"github.com/google/uuid"
)

// Complexity selects which plan table a query gets.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ClassifyComplexity resolves a query with no explicit hint. It currently
// always resolves simple; the medium and complex plans are reachable
// through the caller-supplied hint.
func ClassifyComplexity(query string) Complexity {
	return ComplexitySimple
}

// toolVerbs route medium queries onto the tool branch.
var toolVerbs = []string{
	"create", "update", "delete", "list", "get", "fetch",
	"search", "call", "run", "execute", "send", "find",
}

func hasToolIntent(query string) bool {
	lower := strings.ToLower(query)
	for _, verb := range toolVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// Well-known step ids. The plan tables are fixed: ids and dependency
// wiring never change mid-chain.
const (
	StepContextAnalysis        = "context_analysis"
	StepDirectSynthesis        = "direct_synthesis"
	StepEnhancedSynthesis      = "enhanced_synthesis"
	StepToolSelection          = "tool_selection"
	StepToolExecution          = "tool_execution"
	StepResultSynthesis        = "result_synthesis"
	StepDecomposition          = "decomposition"
	StepInformationGathering   = "information_gathering"
	StepValidation             = "validation"
	StepComprehensiveSynthesis = "comprehensive_synthesis"
)

const defaultStepTimeout = 30 * time.Second

// BuildChain produces the chain for one query. The retrieved context is
// snapshotted into the chain context; the chain is discarded after one
// execution.
func BuildChain(sessionID, query string, hint Complexity, retrieved *models.RetrievedContext, maxConcurrency int) *models.PromptChain {
	if hint == "" {
		hint = ClassifyComplexity(query)
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}

	var steps []*models.PromptStep
	switch hint {
	case ComplexityMedium:
		steps = mediumSteps(query)
	case ComplexityComplex:
		steps = complexSteps(query)
	default:
		steps = simpleSteps()
	}
	for _, step := range steps {
		if step.Timeout == 0 {
			step.Timeout = defaultStepTimeout
		}
	}

	return &models.PromptChain{
		ID:     uuid.NewString(),
		Steps:  steps,
		Status: models.ChainPending,
		Context: &models.ChainContext{
			SessionID:    sessionID,
			Query:        query,
			Retrieved:    retrieved,
			Intermediate: make(map[string]string),
		},
		Metadata: models.ChainMetadata{
			MaxConcurrency: maxConcurrency,
			TotalSteps:     len(steps),
			EstimatedTime:  time.Duration(len(steps)) * defaultStepTimeout / 2,
			Tags:           []string{string(hint)},
		},
	}
}

func simpleSteps() []*models.PromptStep {
	return []*models.PromptStep{
		{
			ID:       StepContextAnalysis,
			Type:     models.StepAnalysis,
			Template: "Analyze the conversation context and restate what the user needs.\nQuery: {{query}}",
		},
		{
			ID:        StepDirectSynthesis,
			Type:      models.StepSynthesis,
			Template:  "Answer the user's query directly and clearly.\nQuery: {{query}}",
			DependsOn: []string{StepContextAnalysis},
		},
	}
}

func mediumSteps(query string) []*models.PromptStep {
	analysis := &models.PromptStep{
		ID:       StepContextAnalysis,
		Type:     models.StepAnalysis,
		Template: "Analyze the conversation context and identify what information is needed.\nQuery: {{query}}",
	}
	if !hasToolIntent(query) {
		return []*models.PromptStep{
			analysis,
			{
				ID:        StepEnhancedSynthesis,
				Type:      models.StepSynthesis,
				Template:  "Produce a thorough answer using the conversation context and the analysis above.\nQuery: {{query}}",
				DependsOn: []string{StepContextAnalysis},
			},
		}
	}
	return []*models.PromptStep{
		analysis,
		{
			ID:        StepToolSelection,
			Type:      models.StepMCPCall,
			Template:  "Discover which tools are available for this request.",
			DependsOn: []string{StepContextAnalysis},
			Operations: []models.ToolOperation{
				{Kind: models.OpListTools},
			},
		},
		{
			ID:        StepToolExecution,
			Type:      models.StepMCPCall,
			Template:  "Execute the selected tool for the user's request.",
			DependsOn: []string{StepToolSelection},
			Operations: []models.ToolOperation{
				// Empty tool name: resolved against the catalogue at dispatch.
				{Kind: models.OpCallTool, Args: map[string]any{"query": query}},
			},
		},
		{
			ID:        StepResultSynthesis,
			Type:      models.StepSynthesis,
			Template:  "Summarize the tool results into a direct answer for the user.\nQuery: {{query}}",
			DependsOn: []string{StepToolExecution},
		},
	}
}

func complexSteps(query string) []*models.PromptStep {
	return []*models.PromptStep{
		{
			ID:       StepContextAnalysis,
			Type:     models.StepAnalysis,
			Template: "Analyze the conversation context and the user's goal.\nQuery: {{query}}",
		},
		{
			ID:        StepDecomposition,
			Type:      models.StepDecision,
			Template:  "Decompose the request into independent sub-questions and decide what to gather.\nQuery: {{query}}",
			DependsOn: []string{StepContextAnalysis},
		},
		{
			ID:        StepInformationGathering,
			Type:      models.StepMCPCall,
			Template:  "Gather supporting information from the available tools.",
			DependsOn: []string{StepDecomposition},
			Operations: []models.ToolOperation{
				{Kind: models.OpListTools},
				{
					Kind: models.OpCallTool,
					Args: map[string]any{"query": query},
					Fallback: &models.ToolOperation{
						Kind: models.OpListResources,
					},
				},
			},
		},
		{
			ID:        StepValidation,
			Type:      models.StepValidation,
			Template:  "Check the gathered information for gaps and inconsistencies before answering.\nQuery: {{query}}",
			DependsOn: []string{StepInformationGathering},
			Conditions: []models.StepCondition{
				{Kind: models.CondStepSucceeded, StepID: StepInformationGathering},
			},
		},
		{
			ID:        StepComprehensiveSynthesis,
			Type:      models.StepSynthesis,
			Template:  "Compose a comprehensive, well-structured answer from everything gathered above.\nQuery: {{query}}",
			DependsOn: []string{StepValidation},
		},
	}
}
