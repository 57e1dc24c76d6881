// Package tool unifies built-in and MCP-served tools behind one registry and
// one invocation contract.
package tool

import (
	"context"
	"maps"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dotcommander/yagent/internal/proto"
)

// SourceBuiltin is the registry source of in-process tools.
const SourceBuiltin = "builtin"

// Result is the canonical outcome of a tool execution, whatever its backend.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Backend executes a tool. Implementations are the in-process backend built
// by Builtin and the MCP backend in package mcp.
type Backend interface {
	Invoke(ctx context.Context, args map[string]any) (Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, args map[string]any) (Result, error)

// Invoke implements Backend.
func (f BackendFunc) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	return f(ctx, args)
}

// Tool is the contract of a built-in tool.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Descriptor is a registry entry.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	// Source is SourceBuiltin or the name of the MCP server serving the tool.
	Source  string
	Backend Backend

	// RemoteName is the tool name on the MCP server, which differs from Name
	// once namespaced.
	RemoteName string

	schema *jsonschema.Resolved
}

// Builtin returns the descriptor of an in-process tool.
func Builtin(t Tool) Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
		Source:      SourceBuiltin,
		Backend:     BackendFunc(t.Execute),
	}
}

// Spec returns the provider-facing description of the tool.
func (d Descriptor) Spec() proto.ToolSpec {
	schema := maps.Clone(d.InputSchema)
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return proto.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: schema,
	}
}
