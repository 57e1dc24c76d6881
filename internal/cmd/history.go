package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/atotto/clipboard"
	timeago "github.com/caarlos0/timea.go"
	"github.com/charmbracelet/huh"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/present"
	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/storage"
)

func newHistoryCmd(rt *runtime) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved conversations",
	}

	historyCmd.AddCommand(newHistoryListCmd(rt))
	historyCmd.AddCommand(newHistoryShowCmd(rt))
	historyCmd.AddCommand(newHistoryDeleteCmd(rt))
	historyCmd.AddCommand(newHistoryPruneCmd(rt))

	return historyCmd
}

func newHistoryListCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			store, err := openConversationStore(rt.cfg.CachePath)
			if err != nil {
				return errs.Wrap(err, "Could not open the conversation store.")
			}
			sessions := store.DB.List()
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(rt.stderr, "No conversations found.")
				return nil
			}
			printList(rt.stdout, present.StdoutStyles(), sessions)
			return nil
		},
	}
}

func newHistoryShowCmd(rt *runtime) *cobra.Command {
	var last, copyOut bool
	showCmd := &cobra.Command{
		Use:   "show [id-or-title]",
		Short: "Show a saved conversation",
		Args:  cobra.MaximumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return completeSessions(rt, toComplete)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			drainStdin(rt.stdin)
			in := ""
			if len(args) == 1 {
				in = args[0]
			}
			if in == "" && !last {
				return errs.Wrap(errs.UserErrorf("pass a conversation id or title, or --last"), "Nothing to show.")
			}
			return rt.showConversation(in, copyOut)
		},
	}
	showCmd.Flags().BoolVarP(&last, "last", "S", false, "Show the last saved conversation")
	showCmd.Flags().BoolVar(&copyOut, "copy", false, "Copy the transcript to the clipboard")
	return showCmd
}

func newHistoryDeleteCmd(rt *runtime) *cobra.Command {
	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete <id-or-title> [more...]",
		Short: "Delete saved conversations",
		Args:  cobra.MinimumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			return completeSessions(rt, toComplete)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			store, err := openConversationStore(rt.cfg.CachePath)
			if err != nil {
				return errs.Wrap(err, "Could not open the conversation store.")
			}
			targets := make([]storage.Session, 0, len(args))
			for _, in := range args {
				found, err := store.find(in)
				if err != nil {
					return errs.Wrapf(err, "Could not find the conversation %q.", in)
				}
				targets = append(targets, found)
			}
			return rt.deleteSessions(store, targets, yes)
		},
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking")
	return deleteCmd
}

func newHistoryPruneCmd(rt *runtime) *cobra.Command {
	var (
		olderThan time.Duration
		yes       bool
	)
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete conversations older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			if olderThan <= 0 {
				return errs.Wrap(errs.UserErrorf("missing --older-than"), "Could not delete old conversations.")
			}
			store, err := openConversationStore(rt.cfg.CachePath)
			if err != nil {
				return errs.Wrap(err, "Could not open the conversation store.")
			}
			targets := olderSessions(store.DB.List(), time.Now().Add(-olderThan))
			if len(targets) == 0 {
				_, _ = fmt.Fprintln(rt.stderr, "No conversations older than", olderThan)
				return nil
			}
			return rt.deleteSessions(store, targets, yes)
		},
	}
	pruneCmd.Flags().Var(newDurationFlag(olderThan, &olderThan), "older-than", "Delete conversations not updated for this long; e.g. 24h, 7d")
	pruneCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking")
	return pruneCmd
}

func completeSessions(rt *runtime, toComplete string) ([]string, cobra.ShellCompDirective) {
	if rt.cfgErr != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	store, err := openConversationStore(rt.cfg.CachePath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return store.DB.Completions(toComplete), cobra.ShellCompDirectiveNoFileComp
}

func (rt *runtime) showConversation(in string, copyOut bool) error {
	store, err := openConversationStore(rt.cfg.CachePath)
	if err != nil {
		return errs.Wrap(err, "Could not open the conversation store.")
	}
	found, err := store.find(in)
	if err != nil {
		return errs.Wrap(err, "Could not find the conversation.")
	}
	conv, err := store.load(found.ID)
	if err != nil {
		return errs.Wrap(err, "There was a problem reading the conversation from cache.")
	}

	text := proto.Transcript(conv.Messages()).String()
	if copyOut {
		_ = clipboard.WriteAll(text)
		termenv.Copy(text)
		present.PrintConfirmation(rt.stderr, "COPIED", storage.ShortID(found.ID))
	}

	out := text
	if rt.stdout == os.Stdout && present.IsOutputTTY() && !rt.cfg.Raw {
		if rendered, err := present.RenderMarkdownForTTY(text, rt.cfg.WordWrap); err == nil {
			out = rendered
		}
	}
	_, err = fmt.Fprint(rt.stdout, out)
	return err //nolint:wrapcheck
}

// deleteSessions removes targets, asking first when a terminal is attached.
func (rt *runtime) deleteSessions(store *conversationStore, targets []storage.Session, yes bool) error {
	if !yes && present.IsInputTTY() && present.IsOutputTTY() {
		confirmed := false
		title := fmt.Sprintf("Delete %d conversation(s)?", len(targets))
		if len(targets) == 1 {
			title = fmt.Sprintf("Delete %q?", targets[0].Title)
		}
		if err := huh.NewConfirm().Title(title).Value(&confirmed).Run(); err != nil {
			return errs.Wrap(err, "Could not delete the conversations.")
		}
		if !confirmed {
			return nil
		}
	}

	for _, s := range targets {
		if err := store.delete(s.ID); err != nil {
			return errs.Wrapf(err, "Could not delete %s.", storage.ShortID(s.ID))
		}
		if !rt.cfg.Quiet {
			present.PrintConfirmation(rt.stderr, "DELETED", storage.ShortID(s.ID)+" "+s.Title)
		}
	}
	return nil
}

func olderSessions(sessions []storage.Session, before time.Time) []storage.Session {
	var out []storage.Session
	for _, s := range sessions {
		if s.UpdatedAt.Before(before) {
			out = append(out, s)
		}
	}
	return out
}

func printList(w io.Writer, styles present.Styles, sessions []storage.Session) {
	for _, s := range sessions {
		line := fmt.Sprintf(
			"%s\t%s\t%s",
			styles.SHA.Render(storage.ShortID(s.ID)),
			s.Title,
			styles.Timeago.Render(timeago.Of(s.UpdatedAt)),
		)
		if s.Model != "" {
			line += "\t" + styles.Comment.Render(s.Model+" ("+s.API+")")
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
