package proto

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrNoPendingCall is returned when a tool message answers a call that is
	// not awaiting a result.
	ErrNoPendingCall = errors.New("tool message does not answer a pending call")
	// ErrDuplicateCall is returned when an assistant message reuses a call id
	// that is already pending.
	ErrDuplicateCall = errors.New("duplicate tool call id")
	// ErrCallsPending is returned when a user or assistant message is appended
	// while tool calls are still unresolved.
	ErrCallsPending = errors.New("tool calls are still pending")
)

// Conversation is the append-only message history of a session.
//
// It tracks the tool calls emitted by assistant messages until a tool message
// answers each of them. It is safe for concurrent use, but a single agent loop
// is expected to own it.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	pending  []string
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Restore rebuilds a conversation from persisted messages.
//
// Calls left unresolved by an interrupted session are closed with synthetic
// error results so that the next turn starts from a well-formed state.
func Restore(messages []Message) (*Conversation, error) {
	c := NewConversation()
	for i, msg := range messages {
		if err := c.Append(msg); err != nil {
			return nil, fmt.Errorf("restore message %d: %w", i, err)
		}
	}
	c.ResolvePending("tool call was interrupted before it completed")
	return c, nil
}

// Append adds msg to the end of the conversation.
func (c *Conversation) Append(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(msg)
}

func (c *Conversation) appendLocked(msg Message) error {
	switch msg.Role {
	case RoleTool:
		idx := slices.Index(c.pending, msg.ToolCallID)
		if msg.ToolCallID == "" || idx < 0 {
			return fmt.Errorf("%w: %q", ErrNoPendingCall, msg.ToolCallID)
		}
		c.pending = slices.Delete(c.pending, idx, idx+1)
	case RoleUser:
		if len(c.pending) > 0 {
			return fmt.Errorf("%w: %v", ErrCallsPending, c.pending)
		}
	case RoleAssistant:
		if len(c.pending) > 0 && !msg.IsMarker() {
			return fmt.Errorf("%w: %v", ErrCallsPending, c.pending)
		}
		if msg.IsMarker() && len(msg.ToolCalls) > 0 {
			return fmt.Errorf("marker message cannot request tool calls")
		}
		seen := make(map[string]struct{}, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			if call.ID == "" {
				return fmt.Errorf("tool call %q has no id", call.Name)
			}
			if _, dup := seen[call.ID]; dup {
				return fmt.Errorf("%w: %q", ErrDuplicateCall, call.ID)
			}
			seen[call.ID] = struct{}{}
		}
		for _, call := range msg.ToolCalls {
			c.pending = append(c.pending, call.ID)
		}
	default:
		return fmt.Errorf("unknown role %q", msg.Role)
	}

	c.messages = append(c.messages, cloneMessage(msg))
	return nil
}

func cloneMessage(msg Message) Message {
	if msg.ToolCalls == nil {
		return msg
	}
	calls := make([]ToolCall, len(msg.ToolCalls))
	for i, call := range msg.ToolCalls {
		call.Arguments = slices.Clone(call.Arguments)
		calls[i] = call
	}
	msg.ToolCalls = calls
	return msg
}

// ResolvePending answers every unresolved call with an error result carrying
// reason. It returns the ids it resolved, in request order.
func (c *Conversation) ResolvePending(reason string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := slices.Clone(c.pending)
	for _, id := range ids {
		// Cannot fail: id is pending.
		_ = c.appendLocked(Message{
			Role:       RoleTool,
			ToolCallID: id,
			Content:    reason,
			IsError:    true,
		})
	}
	return ids
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

// Replay returns the messages that are sent to a provider: the history without
// marker entries.
func (c *Conversation) Replay() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.messages))
	for _, msg := range c.messages {
		if msg.IsMarker() {
			continue
		}
		out = append(out, cloneMessage(msg))
	}
	return out
}

// Pending returns the unresolved call ids in request order.
func (c *Conversation) Pending() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.pending)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
