// Package llm wraps the language-model collaborator behind a minimal
// messages-in, text-out interface. Provider construction follows the
// eino chat-model components; failures are plain errors the orchestrator
// downgrades to failed steps.
package llm

import (
	"context"
	"errors"
	"fmt"

	"chainflow/internal/config"
	"chainflow/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Invoker is the language-model call the chain steps delegate to.
type Invoker interface {
	Invoke(ctx context.Context, messages []*models.Message) (string, error)
}

// ChatInvoker is an Invoker over an eino chat model, optionally wrapped
// in a react agent when local tools are configured.
type ChatInvoker struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
}

// modelFactory builds the provider chat model. Package-level var so
// tests can substitute a fake model.
var modelFactory = buildChatModel

// New builds a ChatInvoker for the named provider, wrapped in a react
// agent when tools are supplied. The provider set and construction
// mirror what the surrounding application supports: openai, claude, and
// gemini (through the genai client).
func New(ctx context.Context, provider string, provCfg config.ProviderConfig, tools []tool.BaseTool) (*ChatInvoker, error) {
	chatModel, err := modelFactory(ctx, provider, provCfg)
	if err != nil {
		return nil, err
	}

	inv := &ChatInvoker{chatModel: chatModel}
	if len(tools) > 0 {
		inv.agent, err = react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}
	return inv, nil
}

func buildChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("new %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// Invoke sends the messages and returns the generated text.
func (c *ChatInvoker) Invoke(ctx context.Context, messages []*models.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages to send")
	}
	einoMsgs := convertMessages(messages)

	var (
		out *schema.Message
		err error
	)
	if c.agent != nil {
		out, err = c.agent.Generate(ctx, einoMsgs)
	} else {
		out, err = c.chatModel.Generate(ctx, einoMsgs)
	}
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out.Content, nil
}

func convertMessages(history []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return out
}
