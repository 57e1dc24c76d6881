package cmd

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/present"
	"github.com/dotcommander/yagent/internal/storage"
)

var plainStyles = present.MakeStyles(lipgloss.NewRenderer(io.Discard))

func TestHistory(t *testing.T) {
	cache := t.TempDir()
	rt := newTestRuntime(t, cache, nil)
	require.NoError(t, rt.runPrompt(context.Background(), []string{"what is a monad"}))

	store, err := openConversationStore(cache)
	require.NoError(t, err)
	saved, err := store.find("")
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		var out strings.Builder
		printList(&out, plainStyles, store.DB.List())
		require.Contains(t, out.String(), storage.ShortID(saved.ID))
		require.Contains(t, out.String(), "what is a monad")
		require.Contains(t, out.String(), "gpt-4o (openai)")
	})

	t.Run("show", func(t *testing.T) {
		rt := newTestRuntime(t, cache, nil)
		require.NoError(t, rt.showConversation("what is a monad", false))
		require.Equal(t, "**Prompt**:\nwhat is a monad\n\n**Assistant**:\nhello there\n\n", rt.out.String())
	})

	t.Run("show unknown", func(t *testing.T) {
		rt := newTestRuntime(t, cache, nil)
		err := rt.showConversation("nothing like this", false)
		require.ErrorIs(t, err, storage.ErrNoMatches)
	})

	t.Run("delete", func(t *testing.T) {
		rt := newTestRuntime(t, cache, nil)
		require.NoError(t, rt.deleteSessions(store, []storage.Session{saved}, true))
		require.Contains(t, rt.errOut.String(), "DELETED")
		require.Empty(t, store.DB.List())
		_, err := store.load(saved.ID)
		require.Error(t, err)
	})
}

func TestHistoryCommands(t *testing.T) {
	for name, tc := range map[string]struct {
		args []string
		err  string
	}{
		"show needs a target": {
			args: []string{"history", "show"},
			err:  "Nothing to show.",
		},
		"prune needs a duration": {
			args: []string{"history", "prune"},
			err:  "missing --older-than",
		},
		"delete needs a target": {
			args: []string{"history", "delete"},
			err:  "requires at least 1 arg(s)",
		},
	} {
		t.Run(name, func(t *testing.T) {
			rt := newTestRuntime(t, t.TempDir(), nil)
			cmd := newRootCmd(rt.runtime)
			cmd.SetArgs(tc.args)
			cmd.SetOut(io.Discard)
			require.ErrorContains(t, cmd.Execute(), tc.err)
		})
	}
}

func TestListRoles(t *testing.T) {
	cfg := config.Default()
	cfg.Role = "reviewer"
	cfg.Roles = map[string][]string{
		"reviewer": {"You review code."},
		"shell":    {"You write shell."},
		"scribe":   {"You write docs."},
	}

	var out strings.Builder
	listRoles(&out, plainStyles, &cfg)
	require.Equal(t, "reviewer (default)\nscribe\nshell\n", out.String())
	require.Equal(t, []string{"scribe", "shell"}, roleNames(&cfg, "s"))
}

func TestPrintDirs(t *testing.T) {
	cfg := config.Default()
	cfg.SettingsPath = filepath.Join("/home/me/.config/yagent", "yagent.yml")
	cfg.CachePath = "/home/me/.cache/yagent"

	for name, tc := range map[string]struct {
		args []string
		want string
	}{
		"config": {args: []string{"config"}, want: "/home/me/.config/yagent\n"},
		"cache":  {args: []string{"cache"}, want: "/home/me/.cache/yagent\n"},
		"all":    {want: "Configuration: /home/me/.config/yagent\n        Cache: /home/me/.cache/yagent\n"},
	} {
		t.Run(name, func(t *testing.T) {
			var out strings.Builder
			printDirs(&out, &cfg, tc.args)
			require.Equal(t, tc.want, out.String())
		})
	}
}
