package toolclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainflow/internal/config"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient talks to an MCP server over stdio. The server process is the
// generated tool server the surrounding application sandbox runs.
type MCPClient struct {
	inner *client.Client
	name  string
}

// NewMCPClient launches the configured server command and wraps it.
func NewMCPClient(cfg config.MCPConfig) (*MCPClient, error) {
	if cfg.Command == "" {
		return nil, errors.New("mcp command required")
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", cfg.Command, err)
	}
	return &MCPClient{inner: c, name: cfg.Command}, nil
}

// Initialize performs the MCP handshake.
func (m *MCPClient) Initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "chainflow",
		Version: "1.0.0",
	}
	if _, err := m.inner.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize %s: %w", m.name, err)
	}
	return nil
}

// ListTools returns the server's tool catalogue.
func (m *MCPClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := m.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	tools := make([]ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// ListResources returns the server's resource catalogue.
func (m *MCPClient) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	res, err := m.inner.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	resources := make([]ResourceInfo, 0, len(res.Resources))
	for _, r := range res.Resources {
		resources = append(resources, ResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		})
	}
	return resources, nil
}

// CallTool invokes a named tool and concatenates its text content.
func (m *MCPClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := m.inner.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s reported error: %s", name, text)
	}
	return text, nil
}

// ReadResource fetches a resource and concatenates its text contents.
func (m *MCPClient) ReadResource(ctx context.Context, uri string) (string, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	res, err := m.inner.ReadResource(ctx, req)
	if err != nil {
		return "", fmt.Errorf("read resource %s: %w", uri, err)
	}
	var b strings.Builder
	for _, c := range res.Contents {
		if tc, ok := c.(mcp.TextResourceContents); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String(), nil
}

// Close shuts the server process down.
func (m *MCPClient) Close() error {
	return m.inner.Close()
}

func contentText(contents []mcp.Content) string {
	var b strings.Builder
	for _, c := range contents {
		if tc, ok := mcp.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
