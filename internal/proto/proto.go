// Package proto holds the provider-neutral message types shared by the agent
// loop, the provider adapters and session storage.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a message.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Marker tags a synthetic assistant message that records why an exchange
// ended early. Marker messages are never replayed to providers.
type Marker string

// Markers.
const (
	MarkerNone      Marker = ""
	MarkerCancelled Marker = "cancelled"
	MarkerFailed    Marker = "failed"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one entry in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	Marker     Marker     `json:"marker,omitempty"`
}

// IsMarker reports whether m is a synthetic marker.
func (m Message) IsMarker() bool {
	return m.Marker != MarkerNone
}

// ToolSpec describes a tool to a provider.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Transcript is a rendered view over a list of messages.
type Transcript []Message

func (t Transcript) String() string {
	var sb strings.Builder
	for _, msg := range t {
		switch {
		case msg.IsMarker():
			fmt.Fprintf(&sb, "_[%s] %s_\n\n", msg.Marker, msg.Content)
		case msg.Role == RoleUser:
			fmt.Fprintf(&sb, "**Prompt**:\n%s\n\n", msg.Content)
		case msg.Role == RoleAssistant:
			if msg.Content != "" {
				fmt.Fprintf(&sb, "**Assistant**:\n%s\n\n", msg.Content)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(&sb, "> Called tool `%s` with `%s`\n\n", call.Name, string(call.Arguments))
			}
		case msg.Role == RoleTool:
			status := "result"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "> Tool %s (`%s`):\n> %s\n\n", status, msg.ToolCallID, oneLine(msg.Content))
		}
	}
	return sb.String()
}

func oneLine(s string) string {
	const maxLen = 200
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}
