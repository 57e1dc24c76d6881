package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/chzyer/readline"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/dotcommander/yagent/internal/agent"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/present"
)

const chatHistoryLimit = 1000

// lineReader reads one line of user input at a time.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

type slashCommand struct {
	name string
	help string
}

var slashCommands = []slashCommand{
	{"/tools", "list the tools the model can call"},
	{"/reset", "start a new conversation"},
	{"/refresh", "reconnect MCP servers and reload their tools"},
	{"/copy", "copy the last answer to the clipboard"},
	{"/help", "show this help"},
	{"/exit", "leave the chat"},
}

func newChatCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [initial prompt]",
		Short: "Start an interactive multi-turn chat session",
		Long:  "Start an interactive chat with the model. Type /help for commands, /exit or Ctrl+D to quit. Ctrl+C cancels the running exchange.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			return rt.runChat(ctx, args)
		},
	}

	initSessionFlags(cmd, &rt.cfg)
	return cmd
}

func (rt *runtime) runChat(ctx context.Context, args []string) error {
	sess, err := rt.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck

	var lines lineReader
	if piped(rt.stdin) {
		lines = newScanLines(rt.stdin)
	} else {
		rl, err := rt.prompt()
		if err != nil {
			return errs.Wrap(err, "Could not start the chat prompt.")
		}
		lines = rl
		if !rt.cfg.Quiet && present.IsErrorTTY() {
			_, _ = fmt.Fprintln(rt.stderr, present.Banner(present.StderrStyles(), rt.build.Version, sess.registry.Snapshot().Len()))
		}
	}
	return rt.chat(ctx, sess, lines, strings.Join(args, " "))
}

// prompt opens the interactive line editor. History is kept in the cache.
func (rt *runtime) prompt() (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(slashCommands))
	for _, c := range slashCommands {
		items = append(items, readline.PcItem(c.name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          present.StdoutStyles().Prompt.Render("›") + " ",
		HistoryFile:     filepath.Join(rt.cfg.CachePath, "chat_history"),
		HistoryLimit:    chatHistoryLimit,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(items...),
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	return rl, nil
}

// scanLines reads chat input from a pipe, one line per prompt.
type scanLines struct {
	sc *bufio.Scanner
}

func newScanLines(r io.Reader) *scanLines {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxStdinBytes)
	return &scanLines{sc: sc}
}

func (s *scanLines) Readline() (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", fmt.Errorf("scan input: %w", err)
	}
	return "", io.EOF
}

func (s *scanLines) Close() error { return nil }

// chat reads lines until /exit or EOF. initial, if set, is the first prompt.
func (rt *runtime) chat(ctx context.Context, sess *session, lines lineReader, initial string) error {
	defer lines.Close() //nolint:errcheck

	var last string
	input := strings.TrimSpace(initial)
	for {
		if input == "" {
			line, err := lines.Readline()
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				if strings.TrimSpace(line) == "" {
					return nil
				}
				continue
			case errors.Is(err, io.EOF):
				return nil
			case err != nil:
				return errs.Wrap(err, "Could not read input.")
			}
			input = strings.TrimSpace(line)
			if input == "" {
				continue
			}
		}

		if strings.HasPrefix(input, "/") {
			quit, err := rt.slash(ctx, sess, input, last)
			if err != nil {
				printError(rt.stderr, err)
			}
			if quit {
				return nil
			}
			input = ""
			continue
		}

		if dead := sess.mcp.HealthCheck(ctx); len(dead) > 0 {
			sess.notice(errs.UserErrorf("MCP servers stopped responding and were disconnected: %s", strings.Join(dead, ", ")))
		}

		exchangeCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		out, err := sess.exchange(exchangeCtx, input, rt.renderer())
		stop()
		if serr := sess.save(); serr != nil {
			sess.notice(serr)
		}
		if err != nil {
			printError(rt.stderr, agent.Describe(err, sess.cfg.API))
		} else {
			last = out.Text
		}
		if ctx.Err() != nil {
			return nil
		}
		input = ""
	}
}

// slash runs a chat command. It reports whether the chat should end.
func (rt *runtime) slash(ctx context.Context, sess *session, input, last string) (bool, error) {
	name, _, _ := strings.Cut(input, " ")
	styles := present.StderrStyles()
	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		for _, c := range slashCommands {
			_, _ = fmt.Fprintf(rt.stderr, "  %-10s %s\n", styles.Flag.Render(c.name), styles.Comment.Render(c.help))
		}
	case "/tools":
		printTools(rt.stdout, sess.registry.Snapshot(), nil)
	case "/reset":
		if err := sess.reset(); err != nil {
			return false, errs.Wrap(err, "Could not start a new conversation.")
		}
		_, _ = fmt.Fprintln(rt.stderr, styles.Comment.Render("Started a new conversation."))
	case "/refresh":
		if dead := sess.mcp.HealthCheck(ctx); len(dead) > 0 {
			sess.notice(errs.UserErrorf("Disconnected unresponsive MCP servers: %s", strings.Join(dead, ", ")))
		}
		if err := sess.mcp.Refresh(ctx); err != nil {
			sess.notice(err)
		}
		_, _ = fmt.Fprintln(rt.stderr, styles.Comment.Render(fmt.Sprintf("%d tools available.", sess.registry.Snapshot().Len())))
	case "/copy":
		if last == "" {
			return false, errs.UserErrorf("There is no answer to copy yet.")
		}
		_ = clipboard.WriteAll(last)
		termenv.Copy(last)
		present.PrintConfirmation(rt.stderr, "COPIED", styles.Comment.Render(firstLine(last)))
	default:
		return false, errs.Wrap(errs.UserErrorf("try /help"), fmt.Sprintf("Unknown command %s.", name))
	}
	return false, nil
}
