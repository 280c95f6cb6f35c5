package llm

import (
	"context"
	"errors"
	"testing"

	"chainflow/internal/config"
	"chainflow/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply string
	tools []*schema.ToolInfo
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return &schema.Message{Role: schema.Assistant, Content: f.reply}, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	cp := *f
	cp.tools = tools
	return &cp, nil
}

func useFakeModel(t *testing.T, reply string) {
	t.Helper()
	orig := modelFactory
	t.Cleanup(func() { modelFactory = orig })
	modelFactory = func(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
		return &fakeChatModel{reply: reply}, nil
	}
}

type echoParams struct {
	Text string `json:"text"`
}

func echoTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "echo",
		Desc: "Returns the provided text unchanged.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"text": {
				Desc:     "Text to echo",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, func(ctx context.Context, p *echoParams) (string, error) {
		return p.Text, nil
	})
}

func TestNewWithoutToolsInvokesModelDirectly(t *testing.T) {
	useFakeModel(t, "direct answer")

	inv, err := New(context.Background(), "openai", config.ProviderConfig{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inv.agent != nil {
		t.Fatal("agent built without tools")
	}

	out, err := inv.Invoke(context.Background(), []*models.Message{
		{Role: models.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "direct answer" {
		t.Fatalf("out = %q", out)
	}
}

func TestNewWithToolsBuildsAgent(t *testing.T) {
	useFakeModel(t, "agent answer")

	inv, err := New(context.Background(), "openai", config.ProviderConfig{}, []tool.BaseTool{echoTool()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inv.agent == nil {
		t.Fatal("expected a react agent when tools are configured")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), "mystery", config.ProviderConfig{}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestInvokeRejectsEmptyInput(t *testing.T) {
	useFakeModel(t, "unused")

	inv, err := New(context.Background(), "openai", config.ProviderConfig{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty message list")
	}
}
