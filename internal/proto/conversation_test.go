package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func assistantWithCalls(ids ...string) Message {
	msg := Message{Role: RoleAssistant}
	for _, id := range ids {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: id, Name: "tool", Arguments: json.RawMessage(`{}`)})
	}
	return msg
}

func TestConversationAppend(t *testing.T) {
	t.Run("tool message answers pending call", func(t *testing.T) {
		c := NewConversation()
		require.NoError(t, c.Append(Message{Role: RoleUser, Content: "hi"}))
		require.NoError(t, c.Append(assistantWithCalls("a", "b")))
		require.Equal(t, []string{"a", "b"}, c.Pending())

		require.NoError(t, c.Append(Message{Role: RoleTool, ToolCallID: "b", Content: "ok"}))
		require.Equal(t, []string{"a"}, c.Pending())
		require.NoError(t, c.Append(Message{Role: RoleTool, ToolCallID: "a", Content: "ok"}))
		require.Empty(t, c.Pending())
		require.Equal(t, 4, c.Len())
	})

	t.Run("tool message without pending call", func(t *testing.T) {
		c := NewConversation()
		err := c.Append(Message{Role: RoleTool, ToolCallID: "nope"})
		require.ErrorIs(t, err, ErrNoPendingCall)
		require.Zero(t, c.Len())
	})

	t.Run("answering twice", func(t *testing.T) {
		c := NewConversation()
		require.NoError(t, c.Append(assistantWithCalls("a")))
		require.NoError(t, c.Append(Message{Role: RoleTool, ToolCallID: "a"}))
		require.ErrorIs(t, c.Append(Message{Role: RoleTool, ToolCallID: "a"}), ErrNoPendingCall)
	})

	t.Run("user message while calls pending", func(t *testing.T) {
		c := NewConversation()
		require.NoError(t, c.Append(assistantWithCalls("a")))
		require.ErrorIs(t, c.Append(Message{Role: RoleUser, Content: "next"}), ErrCallsPending)
	})

	t.Run("duplicate call ids", func(t *testing.T) {
		c := NewConversation()
		require.ErrorIs(t, c.Append(assistantWithCalls("a", "a")), ErrDuplicateCall)
		require.Empty(t, c.Pending())
	})

	t.Run("marker allowed while calls pending", func(t *testing.T) {
		c := NewConversation()
		require.NoError(t, c.Append(assistantWithCalls("a")))
		require.NoError(t, c.Append(Message{Role: RoleAssistant, Marker: MarkerCancelled, Content: "cancelled"}))
	})

	t.Run("unknown role", func(t *testing.T) {
		c := NewConversation()
		require.Error(t, c.Append(Message{Role: "system"}))
	})
}

func TestConversationIsAppendOnly(t *testing.T) {
	c := NewConversation()
	require.NoError(t, c.Append(Message{Role: RoleUser, Content: "one"}))
	require.NoError(t, c.Append(assistantWithCalls("a")))
	before, err := json.Marshal(c.Messages())
	require.NoError(t, err)

	// Mutating a returned copy must not leak into the history.
	msgs := c.Messages()
	msgs[1].ToolCalls[0].Arguments[0] = 'X'
	msgs[0].Content = "changed"

	require.NoError(t, c.Append(Message{Role: RoleTool, ToolCallID: "a", Content: "done"}))
	require.NoError(t, c.Append(Message{Role: RoleAssistant, Content: "final"}))

	after, err := json.Marshal(c.Messages()[:2])
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestResolvePending(t *testing.T) {
	c := NewConversation()
	require.NoError(t, c.Append(assistantWithCalls("a", "b")))
	require.NoError(t, c.Append(Message{Role: RoleTool, ToolCallID: "a"}))

	ids := c.ResolvePending("cancelled")
	require.Equal(t, []string{"b"}, ids)
	require.Empty(t, c.Pending())

	last := c.Messages()[c.Len()-1]
	require.Equal(t, RoleTool, last.Role)
	require.Equal(t, "b", last.ToolCallID)
	require.True(t, last.IsError)
	require.NoError(t, c.Append(Message{Role: RoleUser, Content: "again"}))
}

func TestRestore(t *testing.T) {
	t.Run("closes dangling calls", func(t *testing.T) {
		c, err := Restore([]Message{
			{Role: RoleUser, Content: "hi"},
			assistantWithCalls("a"),
		})
		require.NoError(t, err)
		require.Empty(t, c.Pending())
		require.Equal(t, 3, c.Len())
	})

	t.Run("rejects broken history", func(t *testing.T) {
		_, err := Restore([]Message{{Role: RoleTool, ToolCallID: "x"}})
		require.ErrorIs(t, err, ErrNoPendingCall)
	})
}

func TestReplaySkipsMarkers(t *testing.T) {
	c := NewConversation()
	require.NoError(t, c.Append(Message{Role: RoleUser, Content: "hi"}))
	require.NoError(t, c.Append(Message{Role: RoleAssistant, Marker: MarkerFailed, Content: "auth"}))
	require.Len(t, c.Messages(), 2)
	require.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, c.Replay())
}

func TestTranscriptString(t *testing.T) {
	out := Transcript{
		{Role: RoleUser, Content: "check my project"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "suggest_project_improvements", Arguments: json.RawMessage(`{"focus":"security"}`)}}},
		{Role: RoleTool, ToolCallID: "1", Content: "{\"success\":true}"},
		{Role: RoleAssistant, Content: "all good"},
	}.String()
	require.Contains(t, out, "check my project")
	require.Contains(t, out, "suggest_project_improvements")
	require.Contains(t, out, "all good")
}
