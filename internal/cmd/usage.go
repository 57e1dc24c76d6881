package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/yagent/internal/present"
)

func useLine(s present.Styles, truecolor bool) string {
	appName := filepath.Base(os.Args[0])
	if truecolor {
		appName = present.GradientText(s.AppName, appName)
	}
	return fmt.Sprintf("%s %s", appName, s.CliArgs.Render("[OPTIONS] [PROMPT]"))
}

func usageFunc(cmd *cobra.Command) error {
	s := present.StdoutStyles()
	w := cmd.OutOrStdout()
	truecolor := present.StdoutRenderer().ColorProfile() == termenv.TrueColor

	_, _ = fmt.Fprintf(w, "Usage:\n  %s\n\n", useLine(s, truecolor))
	_, _ = fmt.Fprintln(w, "Options:")
	printFlags(w, s, cmd.Flags())

	if cmd.HasAvailableSubCommands() {
		_, _ = fmt.Fprintln(w, "\nCommands:")
		for _, sub := range cmd.Commands() {
			if !sub.IsAvailableCommand() {
				continue
			}
			_, _ = fmt.Fprintf(w, "  %-44s %s\n", s.Flag.Render(sub.Name()), s.FlagDesc.Render(sub.Short))
		}
	}

	if cmd.HasExample() {
		_, _ = fmt.Fprintf(
			w,
			"\nExample:\n  %s\n  %s\n",
			s.Comment.Render("# "+cmd.Example),
			cheapHighlighting(s, examples[cmd.Example]),
		)
	}
	return nil
}

func printFlags(w io.Writer, s present.Styles, flags *flag.FlagSet) {
	flags.VisitAll(func(f *flag.Flag) {
		if f.Hidden {
			return
		}
		if f.Shorthand == "" {
			_, _ = fmt.Fprintf(w, "  %-44s %s\n", s.Flag.Render("--"+f.Name), s.FlagDesc.Render(f.Usage))
			return
		}
		_, _ = fmt.Fprintf(
			w,
			"  %s%s %-40s %s\n",
			s.Flag.Render("-"+f.Shorthand),
			s.FlagComma,
			s.Flag.Render("--"+f.Name),
			s.FlagDesc.Render(f.Usage),
		)
	})
}
