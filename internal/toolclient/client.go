// Package toolclient defines the opaque capability-provider boundary the
// orchestrator calls tools and resources through, with two
// implementations: an MCP stdio client and an in-process registry of
// eino tools.
package toolclient

import "context"

// ToolInfo describes a callable tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ResourceInfo describes a readable resource.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// Client is the tool-provider contract. All calls may fail; failures are
// the caller's to downgrade, never to crash on.
type Client interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolInfo, error)
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	ReadResource(ctx context.Context, uri string) (string, error)
	Close() error
}
