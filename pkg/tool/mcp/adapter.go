// Package mcp adapts remote MCP tools into registry tool definitions so
// they participate in the same RBAC, timeout, and retry discipline as
// built-in tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/telos/pkg/core"
	"github.com/jllopis/telos/pkg/tool"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Options carries the registry-side policy applied to an adapted tool.
type Options struct {
	AllowedRoles []core.Role
	Timeout      time.Duration
	MaxAttempts  int
}

// Adapt wraps an MCP tool definition and caller into a registry Definition.
// The MCP server's input schema is passed through for model export; required
// arguments are enforced locally before the remote call.
func Adapt(t mcp.Tool, caller ToolCaller, opts Options) (tool.Definition, error) {
	if t.Name == "" {
		return tool.Definition{}, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return tool.Definition{}, errors.New("tool caller is required")
	}

	return tool.Definition{
		Name:         t.Name,
		Description:  t.Description,
		Input:        schemaFromMCP(t),
		AllowedRoles: opts.AllowedRoles,
		Timeout:      opts.Timeout,
		MaxAttempts:  opts.MaxAttempts,
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			result, err := caller.CallTool(ctx, t.Name, args)
			if err != nil {
				return nil, err
			}
			return resultToOutput(result)
		},
	}, nil
}

// schemaFromMCP maps the MCP input schema onto the registry schema shape.
// Property types the registry doesn't know are left unvalidated.
func schemaFromMCP(t mcp.Tool) tool.Schema {
	schema := tool.Schema{
		Properties: make(map[string]tool.Property),
		Required:   append([]string(nil), t.InputSchema.Required...),
	}
	for name, raw := range t.InputSchema.Properties {
		prop := tool.Property{}
		if m, ok := raw.(map[string]any); ok {
			if typ, ok := m["type"].(string); ok {
				prop.Type = typ
			}
			if desc, ok := m["description"].(string); ok {
				prop.Description = desc
			}
		}
		schema.Properties[name] = prop
	}
	return schema
}

// resultToOutput converts an MCP call result into the registry output map.
func resultToOutput(result *mcp.CallToolResult) (map[string]any, error) {
	if result == nil {
		return map[string]any{}, nil
	}
	if result.IsError {
		return nil, errors.New("mcp tool returned error: " + extractTextContent(result.Content))
	}

	if structured, ok := result.StructuredContent.(map[string]any); ok {
		return structured, nil
	}

	text := extractTextContent(result.Content)
	var decoded map[string]any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded, nil
	}
	return map[string]any{"text": text}, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
