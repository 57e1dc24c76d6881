package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinPrompt(t *testing.T) {
	for name, tc := range map[string]struct {
		args  string
		input string
		want  string
	}{
		"args only":  {args: " explain ", want: "explain"},
		"input only": {input: "package main", want: "package main"},
		"both":       {args: "explain", input: "package main", want: "explain\n\npackage main"},
		"neither":    {},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, joinPrompt(tc.args, tc.input))
		})
	}
}

func TestReadStdin(t *testing.T) {
	got, err := readStdin(strings.NewReader("\n  hello\n\n"))
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	got, err = readStdin(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTruncateInput(t *testing.T) {
	for name, tc := range map[string]struct {
		in   string
		max  int64
		want string
		cut  bool
	}{
		"no limit":    {in: "hello", max: 0, want: "hello"},
		"under limit": {in: "hello", max: 10, want: "hello"},
		"over limit":  {in: "hello world", max: 5, want: "hello", cut: true},
		"rune safe":   {in: "héllo", max: 2, want: "h", cut: true},
	} {
		t.Run(name, func(t *testing.T) {
			got, cut := truncateInput(tc.in, tc.max)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.cut, cut)
		})
	}
}
