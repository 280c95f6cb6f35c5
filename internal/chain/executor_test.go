package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chainflow/internal/models"
	"chainflow/internal/store"
	"chainflow/internal/synthesis"
	"chainflow/internal/toolclient"
)

type fakeInvoker struct {
	reply string
	err   error
	calls int
}

func (f *fakeInvoker) Invoke(ctx context.Context, msgs []*models.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeToolClient struct {
	tools     []toolclient.ToolInfo
	resources []toolclient.ResourceInfo
	callErr   error
	callOut   string
	called    []string
}

func (f *fakeToolClient) Initialize(ctx context.Context) error { return nil }

func (f *fakeToolClient) ListTools(ctx context.Context) ([]toolclient.ToolInfo, error) {
	return f.tools, nil
}

func (f *fakeToolClient) ListResources(ctx context.Context) ([]toolclient.ResourceInfo, error) {
	return f.resources, nil
}

func (f *fakeToolClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	f.called = append(f.called, name)
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.callOut, nil
}

func (f *fakeToolClient) ReadResource(ctx context.Context, uri string) (string, error) {
	return "", errors.New("no resources")
}

func (f *fakeToolClient) Close() error { return nil }

func newTestOrchestrator(t *testing.T, inv *fakeInvoker, tools toolclient.Client) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.New(store.DefaultConfig(), nil)
	st.CreateSession("s1", models.UserProfile{})
	return New(st, inv, tools, synthesis.New(nil), Options{MaxMessages: 5}), st
}

func TestOrchestrateQuerySimple(t *testing.T) {
	inv := &fakeInvoker{reply: "Caching keeps hot data close to the reader, trading memory for latency."}
	o, st := newTestOrchestrator(t, inv, nil)

	out, err := o.OrchestrateQuery(context.Background(), "s1", "explain caching", "")
	if err != nil {
		t.Fatalf("OrchestrateQuery: %v", err)
	}
	if !strings.Contains(out, "hot data") {
		t.Fatalf("unexpected response: %q", out)
	}
	if inv.calls != 2 {
		t.Fatalf("model calls = %d, want 2", inv.calls)
	}

	sess, err := st.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(sess.Messages))
	}
	assistant := sess.Messages[1]
	if assistant.Role != models.RoleAssistant || assistant.Content != out {
		t.Fatalf("assistant message = %+v", assistant)
	}
	if len(assistant.Metadata.SynthesizedFrom) == 0 {
		t.Fatalf("assistant message missing provenance")
	}
}

func TestOrchestrateQueryUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeInvoker{reply: "irrelevant"}, nil)

	if _, err := o.OrchestrateQuery(context.Background(), "missing", "anything", ""); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestOrchestrateQueryFallbackOnModelFailure(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("model unavailable")}
	o, _ := newTestOrchestrator(t, inv, nil)

	out, err := o.OrchestrateQuery(context.Background(), "s1", "explain caching", "")
	if err != nil {
		t.Fatalf("step failures must not surface as errors: %v", err)
	}
	if out == "" {
		t.Fatal("expected fallback text")
	}
}

func TestExecuteMajorityFailureStopsEarly(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("boom")}
	o, _ := newTestOrchestrator(t, inv, nil)

	ch := &models.PromptChain{
		ID: "c1",
		Steps: []*models.PromptStep{
			{ID: "a", Type: models.StepAnalysis},
			{ID: "b", Type: models.StepAnalysis},
			{ID: "c", Type: models.StepSynthesis, DependsOn: []string{"a"}},
		},
		Context:  &models.ChainContext{SessionID: "s1", Query: "q", Intermediate: map[string]string{}},
		Metadata: models.ChainMetadata{MaxConcurrency: 2},
	}

	if err := o.execute(context.Background(), ch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ch.Status != models.ChainFailed {
		t.Fatalf("status = %s, want failed", ch.Status)
	}
	if len(ch.Results) != 2 {
		t.Fatalf("results = %d, want 2 (third level never ran)", len(ch.Results))
	}
	if len(ch.Context.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(ch.Context.Errors))
	}
}

func TestExecuteHandBuiltChainWithoutConcurrency(t *testing.T) {
	inv := &fakeInvoker{reply: "a long enough analytical answer about the query"}
	o, _ := newTestOrchestrator(t, inv, nil)

	ch := &models.PromptChain{
		ID: "c1",
		Steps: []*models.PromptStep{
			{ID: "a", Type: models.StepAnalysis},
			{ID: "b", Type: models.StepSynthesis, DependsOn: []string{"a"}},
		},
		Context: &models.ChainContext{SessionID: "s1", Query: "q", Intermediate: map[string]string{}},
	}

	if err := o.execute(context.Background(), ch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ch.Status != models.ChainCompleted {
		t.Fatalf("status = %s, want completed", ch.Status)
	}
	if len(ch.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(ch.Results))
	}
}

func TestExecuteSkipsOnUnmetCondition(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("boom")}
	o, _ := newTestOrchestrator(t, inv, nil)

	ch := &models.PromptChain{
		ID: "c1",
		Steps: []*models.PromptStep{
			{ID: "a", Type: models.StepAnalysis},
			{
				ID:        "b",
				Type:      models.StepSynthesis,
				DependsOn: []string{"a"},
				Conditions: []models.StepCondition{
					{Kind: models.CondStepSucceeded, StepID: "a"},
				},
			},
		},
		Context:  &models.ChainContext{SessionID: "s1", Query: "q", Intermediate: map[string]string{}},
		Metadata: models.ChainMetadata{MaxConcurrency: 1},
	}

	if err := o.execute(context.Background(), ch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ch.Status != models.ChainCompleted {
		t.Fatalf("status = %s, want completed", ch.Status)
	}
	if len(ch.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(ch.Results))
	}
	skipped := ch.Results[1]
	if !skipped.Success || !skipped.Metadata.Skipped || skipped.Output != "" {
		t.Fatalf("skipped result = %+v", skipped)
	}
	if inv.calls != 1 {
		t.Fatalf("model calls = %d, want 1 (skipped step never dispatched)", inv.calls)
	}
}

func TestToolStepFallsBackOnFailure(t *testing.T) {
	tools := &fakeToolClient{
		callErr:   errors.New("tool offline"),
		resources: []toolclient.ResourceInfo{{URI: "file:///notes.txt", Name: "notes.txt"}},
	}
	o, _ := newTestOrchestrator(t, &fakeInvoker{reply: "unused"}, tools)

	ch := &models.PromptChain{
		ID: "c1",
		Steps: []*models.PromptStep{
			{
				ID:   "fetch",
				Type: models.StepMCPCall,
				Operations: []models.ToolOperation{
					{
						Kind:     models.OpCallTool,
						Tool:     "lookup",
						Required: true,
						Fallback: &models.ToolOperation{Kind: models.OpListResources},
					},
				},
			},
		},
		Context:  &models.ChainContext{SessionID: "s1", Query: "q", Intermediate: map[string]string{}},
		Metadata: models.ChainMetadata{MaxConcurrency: 1},
	}

	if err := o.execute(context.Background(), ch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	res := ch.Results[0]
	if !res.Success {
		t.Fatalf("fallback should rescue the required operation: %+v", res)
	}
	if !strings.Contains(res.Output, "notes.txt") {
		t.Fatalf("fallback output missing: %q", res.Output)
	}
}

func TestToolStepRequiredFailureFailsStep(t *testing.T) {
	tools := &fakeToolClient{callErr: errors.New("tool offline")}
	o, _ := newTestOrchestrator(t, &fakeInvoker{reply: "unused"}, tools)

	ch := &models.PromptChain{
		ID: "c1",
		Steps: []*models.PromptStep{
			{
				ID:   "fetch",
				Type: models.StepMCPCall,
				Operations: []models.ToolOperation{
					{Kind: models.OpCallTool, Tool: "lookup", Required: true},
				},
			},
		},
		Context:  &models.ChainContext{SessionID: "s1", Query: "q", Intermediate: map[string]string{}},
		Metadata: models.ChainMetadata{MaxConcurrency: 1},
	}

	if err := o.execute(context.Background(), ch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ch.Results[0].Success {
		t.Fatal("required operation failure must fail the step")
	}
	if ch.Results[0].Metadata.Confidence != 0 {
		t.Fatalf("failed step confidence = %v", ch.Results[0].Metadata.Confidence)
	}
}

func TestResolveToolPrefersNameOverlap(t *testing.T) {
	tools := &fakeToolClient{
		tools: []toolclient.ToolInfo{
			{Name: "weather_lookup", Description: "weather"},
			{Name: "file_search", Description: "search files"},
		},
	}
	o, _ := newTestOrchestrator(t, &fakeInvoker{reply: "unused"}, tools)

	name, err := o.resolveTool(context.Background(), "search my files for the meeting notes")
	if err != nil {
		t.Fatalf("resolveTool: %v", err)
	}
	if name != "file_search" {
		t.Fatalf("resolved %q, want file_search", name)
	}
}

func TestRetryPolicyRetriesStep(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("flaky")}
	o, _ := newTestOrchestrator(t, inv, nil)

	ch := &models.PromptChain{
		ID: "c1",
		Steps: []*models.PromptStep{
			{
				ID:    "a",
				Type:  models.StepAnalysis,
				Retry: &models.RetryPolicy{MaxAttempts: 3},
			},
		},
		Context:  &models.ChainContext{SessionID: "s1", Query: "q", Intermediate: map[string]string{}},
		Metadata: models.ChainMetadata{MaxConcurrency: 1},
	}

	if err := o.execute(context.Background(), ch); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if inv.calls != 3 {
		t.Fatalf("attempts = %d, want 3", inv.calls)
	}
}
