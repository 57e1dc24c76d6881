package present

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/yagent/internal/agent"
	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/tool"
)

func plainRenderer(opts ...RendererOption) (*Renderer, *strings.Builder, *strings.Builder) {
	var out, status strings.Builder
	opts = append([]RendererOption{WithStyles(MakeStyles(lipgloss.NewRenderer(io.Discard)))}, opts...)
	return NewRenderer(&out, &status, opts...), &out, &status
}

func TestRendererStreamsText(t *testing.T) {
	r, out, status := plainRenderer()
	call := proto.ToolCall{ID: "c1", Name: "project_info", Arguments: []byte(`{}`)}

	r.Handle(agent.Event{Kind: agent.EventText, Text: "Let me "})
	r.Handle(agent.Event{Kind: agent.EventText, Text: "look."})
	r.Handle(agent.Event{Kind: agent.EventToolStart, Call: call})
	r.Handle(agent.Event{Kind: agent.EventToolFinish, Call: call, Duration: 12 * time.Millisecond})
	r.Handle(agent.Event{Kind: agent.EventText, Text: "Done"})
	r.Handle(agent.Event{Kind: agent.EventTurnEnd, State: agent.StateDone})

	require.Equal(t, "Let me look.\nDone\n", out.String())
	require.Contains(t, status.String(), "→ project_info")
	require.Contains(t, status.String(), "✓ project_info 12ms")
}

func TestRendererToolError(t *testing.T) {
	r, _, status := plainRenderer()
	call := proto.ToolCall{ID: "c1", Name: "fs_read"}
	r.Handle(agent.Event{Kind: agent.EventToolFinish, Call: call, Err: &tool.TimeoutError{Tool: "fs_read", After: time.Second}})
	require.Contains(t, status.String(), "✗ fs_read tool timeout")
}

func TestRendererQuiet(t *testing.T) {
	r, out, status := plainRenderer(WithQuiet(true))
	r.Handle(agent.Event{Kind: agent.EventToolStart, Call: proto.ToolCall{Name: "x"}})
	r.Handle(agent.Event{Kind: agent.EventRetry, Attempt: 1, Err: errors.New("boom")})
	r.Handle(agent.Event{Kind: agent.EventText, Text: "hi"})
	r.Handle(agent.Event{Kind: agent.EventTurnEnd})
	require.Empty(t, status.String())
	require.Equal(t, "hi\n", out.String())
}

func TestRendererMarkdownDropsRetriedText(t *testing.T) {
	r, out, status := plainRenderer(WithMarkdown(80))
	r.Handle(agent.Event{Kind: agent.EventText, Text: "partial"})
	r.Handle(agent.Event{Kind: agent.EventRetry, Attempt: 1, Err: errors.New("rate limited")})
	r.Handle(agent.Event{Kind: agent.EventText, Text: "complete answer"})
	require.Empty(t, out.String())

	r.Handle(agent.Event{Kind: agent.EventTurnEnd, State: agent.StateDone})
	require.Contains(t, out.String(), "complete")
	require.Contains(t, out.String(), "answer")
	require.NotContains(t, out.String(), "partial")
	require.Contains(t, status.String(), "retrying (attempt 1): rate limited")
}

func TestRendererMarksRetriedStream(t *testing.T) {
	r, out, _ := plainRenderer()
	r.Handle(agent.Event{Kind: agent.EventText, Text: "partial"})
	r.Handle(agent.Event{Kind: agent.EventRetry, Attempt: 1, Err: errors.New("connection reset")})
	r.Handle(agent.Event{Kind: agent.EventRetry, Attempt: 2, Err: errors.New("connection reset")})
	r.Handle(agent.Event{Kind: agent.EventText, Text: "complete answer"})
	r.Handle(agent.Event{Kind: agent.EventTurnEnd, State: agent.StateDone})
	require.Equal(t, "partial\n"+interruptedMark+"complete answer\n", out.String())

	// Text of a turn that ended in tool calls was a complete attempt.
	r, out, _ = plainRenderer()
	r.Handle(agent.Event{Kind: agent.EventText, Text: "checking"})
	r.Handle(agent.Event{Kind: agent.EventToolStart, Call: proto.ToolCall{ID: "c1", Name: "project_info"}})
	r.Handle(agent.Event{Kind: agent.EventRetry, Attempt: 1, Err: errors.New("connection reset")})
	require.NotContains(t, out.String(), interruptedMark)
}

func TestCompact(t *testing.T) {
	for name, tc := range map[string]struct {
		in, want string
	}{
		"empty object": {in: "{}", want: ""},
		"whitespace":   {in: "{\n  \"a\": 1\n}", want: `{ "a": 1 }`},
		"long":         {in: strings.Repeat("x", 100), want: strings.Repeat("x", 80) + "…"},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, compact(tc.in))
		})
	}
}
