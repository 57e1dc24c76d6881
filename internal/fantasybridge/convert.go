// Package fantasybridge implements provider.Provider on top of
// charm.land/fantasy.
package fantasybridge

import (
	"errors"
	"maps"

	"charm.land/fantasy"

	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/provider"
)

// toFantasyPrompt converts a conversation into a fantasy prompt. Markers are
// local audit entries and never reach the model.
func toFantasyPrompt(system string, input []proto.Message) fantasy.Prompt {
	messages := make([]fantasy.Message, 0, len(input)+1)

	if system != "" {
		messages = append(messages, fantasy.Message{
			Role:    fantasy.MessageRoleSystem,
			Content: []fantasy.MessagePart{fantasy.TextPart{Text: system}},
		})
	}

	for _, msg := range input {
		if msg.IsMarker() {
			continue
		}
		switch msg.Role {
		case proto.RoleUser:
			messages = append(messages, fantasy.Message{
				Role: fantasy.MessageRoleUser,
				Content: []fantasy.MessagePart{
					fantasy.TextPart{Text: msg.Content},
				},
			})
		case proto.RoleAssistant:
			parts := make([]fantasy.MessagePart, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, fantasy.TextPart{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, fantasy.ToolCallPart{
					ToolCallID:       call.ID,
					ToolName:         call.Name,
					Input:            string(call.Arguments),
					ProviderExecuted: false,
				})
			}
			if len(parts) > 0 {
				messages = append(messages, fantasy.Message{
					Role:    fantasy.MessageRoleAssistant,
					Content: parts,
				})
			}
		case proto.RoleTool:
			var output fantasy.ToolResultOutputContent
			if msg.IsError {
				output = fantasy.ToolResultOutputContentError{Error: errors.New(msg.Content)}
			} else {
				output = fantasy.ToolResultOutputContentText{Text: msg.Content}
			}
			messages = append(messages, fantasy.Message{
				Role: fantasy.MessageRoleTool,
				Content: []fantasy.MessagePart{
					fantasy.ToolResultPart{
						ToolCallID: msg.ToolCallID,
						Output:     output,
					},
				},
			})
		}
	}

	return messages
}

func toFantasyTools(specs []proto.ToolSpec) []fantasy.Tool {
	tools := make([]fantasy.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := maps.Clone(spec.InputSchema)
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		delete(schema, "$schema")
		tools = append(tools, fantasy.FunctionTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return tools
}

func toolChoiceForRequest(request provider.Request) *fantasy.ToolChoice {
	if len(request.Tools) == 0 {
		return nil
	}
	choice := fantasy.ToolChoiceAuto
	return &choice
}
