package present

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkdown(t *testing.T) {
	md := NewMarkdown(40)
	for name, in := range map[string]string{
		"tabs":       "hello\tworld\n",
		"transcript": "**Prompt**:\nwhat is this?\n\n",
		"list":       "- one\n- two\n\n\n",
	} {
		t.Run(name, func(t *testing.T) {
			out, err := md.Render(in)
			require.NoError(t, err)
			require.True(t, strings.HasSuffix(out, "\n"))
			require.False(t, strings.HasSuffix(out, "\n\n"))
			require.NotContains(t, out, "\t")
		})
	}

	out, err := RenderMarkdownForTTY("**Prompt**:\nwhat is this?\n", 40)
	require.NoError(t, err)
	require.Contains(t, out, "Prompt")
	require.Contains(t, out, "what is this?")
}
