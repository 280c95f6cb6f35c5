package models

import "time"

// Chain types: one query's dependency-ordered plan of reasoning and tool
// steps. A chain is built, executed once, and discarded, never persisted.

type StepType string

const (
	StepAnalysis   StepType = "analysis"
	StepRetrieval  StepType = "retrieval"
	StepSynthesis  StepType = "synthesis"
	StepValidation StepType = "validation"
	StepMCPCall    StepType = "mcp_call"
	StepDecision   StepType = "decision"
)

type ChainStatus string

const (
	ChainPending   ChainStatus = "pending"
	ChainRunning   ChainStatus = "running"
	ChainCompleted ChainStatus = "completed"
	ChainFailed    ChainStatus = "failed"
	ChainCancelled ChainStatus = "cancelled"
)

// PromptChain is the full plan for one query.
type PromptChain struct {
	ID       string        `json:"id"`
	ParentID string        `json:"parent_id,omitempty"`
	Steps    []*PromptStep `json:"steps"`
	Context  *ChainContext `json:"context"`
	Status   ChainStatus   `json:"status"`
	Results  []ChainResult `json:"results"`
	Metadata ChainMetadata `json:"metadata"`
}

type ChainMetadata struct {
	Priority       int           `json:"priority"`
	MaxConcurrency int           `json:"max_concurrency"`
	TotalSteps     int           `json:"total_steps"`
	EstimatedTime  time.Duration `json:"estimated_time"`
	Tags           []string      `json:"tags,omitempty"`
}

// PromptStep is one node in the chain DAG. Dependencies must form a DAG;
// a cycle is a configuration error, not a runtime condition.
type PromptStep struct {
	ID         string          `json:"id"`
	Type       StepType        `json:"type"`
	Template   string          `json:"template"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	Operations []ToolOperation `json:"operations,omitempty"`
	Conditions []StepCondition `json:"conditions,omitempty"`
	Retry      *RetryPolicy    `json:"retry,omitempty"`
	Timeout    time.Duration   `json:"timeout,omitempty"`
}

// ToolOperation names an external capability invocation.
type ToolOperation struct {
	Kind     OperationKind  `json:"kind"`
	Tool     string         `json:"tool,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Required bool           `json:"required,omitempty"`
	Fallback *ToolOperation `json:"fallback,omitempty"`
}

type OperationKind string

const (
	OpListTools     OperationKind = "list_tools"
	OpListResources OperationKind = "list_resources"
	OpCallTool      OperationKind = "call_tool"
	OpReadResource  OperationKind = "read_resource"
)

// StepCondition gates execution; an unmet condition skips the step.
type StepCondition struct {
	Kind   ConditionKind `json:"kind"`
	StepID string        `json:"step_id,omitempty"`
}

type ConditionKind string

const (
	CondStepSucceeded   ConditionKind = "step_succeeded"
	CondContextNonEmpty ConditionKind = "context_non_empty"
)

type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// ChainContext carries the shared state a running chain accumulates.
type ChainContext struct {
	SessionID     string             `json:"session_id"`
	Query         string             `json:"query"`
	Retrieved     *RetrievedContext  `json:"retrieved,omitempty"`
	Intermediate  map[string]string  `json:"intermediate"`
	Errors        []ChainError       `json:"errors,omitempty"`
}

type ChainError struct {
	StepID  string    `json:"step_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RetrievedContext is the context store's answer to a retrieval request.
type RetrievedContext struct {
	Messages   []*Message         `json:"messages"`
	Domains    []*DomainKnowledge `json:"domains,omitempty"`
	Profile    UserProfile        `json:"profile"`
	TotalScore float64            `json:"total_score"`
}

// ChainResult is the outcome of one executed step.
type ChainResult struct {
	StepID      string         `json:"step_id"`
	Success     bool           `json:"success"`
	Output      string         `json:"output"`
	RawResults  []string       `json:"raw_results,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`
	CompletedAt time.Time      `json:"completed_at"`
	Metadata    ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	Confidence   float64  `json:"confidence"`
	ChainID      string   `json:"chain_id,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Fragments    []string `json:"fragments,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Skipped      bool     `json:"skipped,omitempty"`
}
