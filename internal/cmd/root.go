package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	glamour "github.com/charmbracelet/glamour/styles"
	"github.com/spf13/cobra"

	"github.com/dotcommander/yagent/internal/agent"
	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/present"
	"github.com/dotcommander/yagent/internal/provider"
)

// providerFunc builds the provider serving the configured model.
type providerFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, config.Model, error)

type runtime struct {
	build  BuildInfo
	cfg    config.Config
	cfgErr error

	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	newProvider providerFunc
}

func newRuntime(build BuildInfo, cfg config.Config, cfgErr error) *runtime {
	return &runtime{
		build:       normalizeBuildInfo(build),
		cfg:         cfg,
		cfgErr:      cfgErr,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		newProvider: agent.NewProvider,
	}
}

// NewRootCmd constructs the Cobra root command.
func NewRootCmd(build BuildInfo, cfg config.Config, cfgErr error) *cobra.Command {
	return newRootCmd(newRuntime(build, cfg, cfgErr))
}

func newRootCmd(rt *runtime) *cobra.Command {
	// XXX: unset error styles in Glamour dark and light styles.
	glamour.DarkStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)
	glamour.LightStyleConfig.CodeBlock.Chroma.Error.BackgroundColor = new(string)

	rootCmd := &cobra.Command{
		Use:           "yagent [prompt]",
		Short:         "A terminal chat agent that can use tools.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       randomExample(),
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.ShowHelp {
				drainStdin(rt.stdin)
				if err := cmd.Usage(); err != nil {
					return fmt.Errorf("usage: %w", err)
				}
				return nil
			}
			if rt.cfgErr != nil {
				return rt.cfgErr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.runPrompt(ctx, args)
		},
	}

	rootCmd.SetUsageFunc(usageFunc)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newFlagParseError(err)
	})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.Version = rt.build.Version
	rootCmd.SetVersionTemplate(versionTemplate(rt.build))

	initRootFlags(rootCmd, &rt.cfg)

	rootCmd.AddCommand(newChatCmd(rt))
	rootCmd.AddCommand(newToolsCmd(rt))
	rootCmd.AddCommand(newMCPCmd(rt))
	rootCmd.AddCommand(newHistoryCmd(rt))
	rootCmd.AddCommand(newConfigCmd(rt))
	rootCmd.AddCommand(newRolesCmd(rt))
	rootCmd.AddCommand(newManCmd(rootCmd))
	rootCmd.AddCommand(newUpgradeCmd(rt))

	rootCmd.InitDefaultCompletionCmd()

	return rootCmd
}

// runPrompt runs a single exchange over the arguments and piped input.
func (rt *runtime) runPrompt(ctx context.Context, args []string) error {
	piped, err := readStdin(rt.stdin)
	if err != nil {
		return errs.Wrap(err, "Could not read from STDIN.")
	}
	prompt := joinPrompt(strings.Join(args, " "), piped)
	if prompt == "" {
		return errs.Error{
			Reason: "You haven't provided any prompt input.",
			Err: errs.UserErrorf(
				"You can give your prompt as arguments and/or pipe it from STDIN, or start a chat with %s.",
				present.StderrStyles().InlineCode.Render("yagent chat"),
			),
		}
	}

	sess, err := rt.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck

	_, runErr := sess.exchange(ctx, prompt, rt.renderer())
	if err := sess.save(); err != nil {
		return err
	}
	if runErr != nil {
		return agent.Describe(runErr, sess.cfg.API)
	}
	return nil
}

// renderer builds the sink printing exchanges for the current output.
func (rt *runtime) renderer() *present.Renderer {
	opts := []present.RendererOption{present.WithQuiet(rt.cfg.Quiet)}
	if rt.stdout == os.Stdout && present.IsOutputTTY() && !rt.cfg.Raw {
		opts = append(opts, present.WithMarkdown(rt.cfg.WordWrap))
	}
	return present.NewRenderer(rt.stdout, rt.stderr, opts...)
}
