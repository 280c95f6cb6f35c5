package chain

import (
	"errors"
	"testing"

	"chainflow/internal/models"
)

func TestClassifyComplexityDefaultsSimple(t *testing.T) {
	for _, query := range []string{"hi", "compare X and Y across three dimensions", ""} {
		if got := ClassifyComplexity(query); got != ComplexitySimple {
			t.Fatalf("ClassifyComplexity(%q) = %s", query, got)
		}
	}
}

func TestBuildChainSimple(t *testing.T) {
	ch := BuildChain("s1", "why is the sky blue", "", nil, 0)

	if ch.Status != models.ChainPending {
		t.Fatalf("status = %s", ch.Status)
	}
	if len(ch.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(ch.Steps))
	}
	if ch.Steps[0].ID != StepContextAnalysis || ch.Steps[1].ID != StepDirectSynthesis {
		t.Fatalf("unexpected step ids: %s, %s", ch.Steps[0].ID, ch.Steps[1].ID)
	}
	if len(ch.Steps[1].DependsOn) != 1 || ch.Steps[1].DependsOn[0] != StepContextAnalysis {
		t.Fatalf("synthesis dependencies = %v", ch.Steps[1].DependsOn)
	}
	for _, step := range ch.Steps {
		if step.Timeout != defaultStepTimeout {
			t.Fatalf("step %s timeout = %v", step.ID, step.Timeout)
		}
	}
	if ch.Metadata.TotalSteps != 2 || ch.Metadata.MaxConcurrency != 3 {
		t.Fatalf("metadata = %+v", ch.Metadata)
	}
	if ch.Context.Query != "why is the sky blue" || ch.Context.SessionID != "s1" {
		t.Fatalf("context = %+v", ch.Context)
	}
}

func TestBuildChainMediumRoutesToolIntent(t *testing.T) {
	ch := BuildChain("s1", "create a ticket about the outage", ComplexityMedium, nil, 2)

	wantIDs := []string{StepContextAnalysis, StepToolSelection, StepToolExecution, StepResultSynthesis}
	if len(ch.Steps) != len(wantIDs) {
		t.Fatalf("steps = %d, want %d", len(ch.Steps), len(wantIDs))
	}
	for i, id := range wantIDs {
		if ch.Steps[i].ID != id {
			t.Fatalf("step[%d] = %s, want %s", i, ch.Steps[i].ID, id)
		}
	}

	exec := ch.Steps[2]
	if len(exec.Operations) != 1 || exec.Operations[0].Kind != models.OpCallTool {
		t.Fatalf("execution operations = %+v", exec.Operations)
	}
	if exec.Operations[0].Tool != "" {
		t.Fatalf("tool should be resolved at dispatch, got %q", exec.Operations[0].Tool)
	}
	if ch.Metadata.MaxConcurrency != 2 {
		t.Fatalf("max concurrency = %d", ch.Metadata.MaxConcurrency)
	}
}

func TestBuildChainMediumWithoutToolIntent(t *testing.T) {
	ch := BuildChain("s1", "why does the moon appear larger near the horizon", ComplexityMedium, nil, 0)

	if len(ch.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(ch.Steps))
	}
	if ch.Steps[1].ID != StepEnhancedSynthesis {
		t.Fatalf("step[1] = %s", ch.Steps[1].ID)
	}
}

func TestBuildChainComplex(t *testing.T) {
	ch := BuildChain("s1", "plan a zero-downtime migration", ComplexityComplex, nil, 0)

	if len(ch.Steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(ch.Steps))
	}
	validation := ch.Steps[3]
	if validation.ID != StepValidation {
		t.Fatalf("step[3] = %s", validation.ID)
	}
	if len(validation.Conditions) != 1 ||
		validation.Conditions[0].Kind != models.CondStepSucceeded ||
		validation.Conditions[0].StepID != StepInformationGathering {
		t.Fatalf("validation conditions = %+v", validation.Conditions)
	}
	gathering := ch.Steps[2]
	if len(gathering.Operations) != 2 || gathering.Operations[1].Fallback == nil {
		t.Fatalf("gathering operations = %+v", gathering.Operations)
	}
}

func TestBuildLevelsDiamond(t *testing.T) {
	steps := []*models.PromptStep{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}

	levels, err := buildLevels(steps)
	if err != nil {
		t.Fatalf("buildLevels: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("levels = %d, want 3", len(levels))
	}
	if len(levels[1]) != 2 {
		t.Fatalf("middle level = %d steps, want 2", len(levels[1]))
	}
	if levels[0][0].ID != "a" || levels[2][0].ID != "d" {
		t.Fatalf("unexpected level ordering")
	}
}

func TestBuildLevelsDetectsCycle(t *testing.T) {
	steps := []*models.PromptStep{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}

	if _, err := buildLevels(steps); !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("err = %v, want ErrCircularDependency", err)
	}
}
