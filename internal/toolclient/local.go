package toolclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/tool"
)

// LocalClient serves tools from an in-process registry of eino tools and
// resources from a directory of files. It exists so chains can run
// without a live MCP server: development, tests, and the web-search
// capability that ships with the app.
type LocalClient struct {
	mu        sync.RWMutex
	tools     map[string]tool.InvokableTool
	order     []string
	loader    *file.FileLoader
	resources []ResourceInfo
	baseDir   string
}

// NewLocalClient builds an empty registry. resourceDir may be empty, in
// which case ReadResource only serves absolute file URIs.
func NewLocalClient(resourceDir string) (*LocalClient, error) {
	parserExt, err := parser.NewExtParser(context.Background(), &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("new ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(context.Background(), &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("new file loader: %w", err)
	}
	c := &LocalClient{
		tools:   make(map[string]tool.InvokableTool),
		loader:  loader,
		baseDir: resourceDir,
	}
	return c, nil
}

// Register adds a tool to the registry. Later registrations under the
// same name replace earlier ones.
func (c *LocalClient) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[info.Name]; !exists {
		c.order = append(c.order, info.Name)
	}
	c.tools[info.Name] = t
	return nil
}

// Initialize indexes the resource directory.
func (c *LocalClient) Initialize(ctx context.Context) error {
	if c.baseDir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return fmt.Errorf("read resource dir: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = c.resources[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c.resources = append(c.resources, ResourceInfo{
			URI:  "file://" + filepath.Join(c.baseDir, e.Name()),
			Name: e.Name(),
		})
	}
	return nil
}

// ListTools describes every registered tool.
func (c *LocalClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, 0, len(c.order))
	for _, name := range c.order {
		info, err := c.tools[name].Info(ctx)
		if err != nil {
			log.Printf("toolclient: describe %s: %v", name, err)
			continue
		}
		out = append(out, ToolInfo{Name: info.Name, Description: info.Desc})
	}
	return out, nil
}

// ListResources lists the indexed resource files.
func (c *LocalClient) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ResourceInfo(nil), c.resources...), nil
}

// CallTool invokes a registered tool with JSON-encoded arguments.
func (c *LocalClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.RLock()
	t, ok := c.tools[name]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args for %s: %w", name, err)
	}
	out, err := t.InvokableRun(ctx, string(payload))
	if err != nil {
		return "", fmt.Errorf("run tool %s: %w", name, err)
	}
	return out, nil
}

// ReadResource loads a file:// URI through the document loader.
func (c *LocalClient) ReadResource(ctx context.Context, uri string) (string, error) {
	path := strings.TrimPrefix(uri, "file://")
	if path == uri {
		return "", fmt.Errorf("unsupported resource uri: %s", uri)
	}
	docs, err := c.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load resource %s: %w", uri, err)
	}
	var b strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("resource has no readable text content")
	}
	return text, nil
}

// Close is a no-op for the in-process client.
func (c *LocalClient) Close() error {
	return nil
}
