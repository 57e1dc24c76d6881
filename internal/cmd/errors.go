package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/present"
)

func handleError(err error) {
	drainStdin(os.Stdin)
	printError(os.Stderr, err)
}

// printError prints err as a reason followed by its details.
func printError(w io.Writer, err error) {
	styles := present.StderrStyles()
	format := "\n%s\n\n"

	var ferr flagParseError
	if errors.As(err, &ferr) {
		_, _ = fmt.Fprintf(w, format+"%s\n\n",
			fmt.Sprintf(
				"Check out %s %s",
				styles.InlineCode.Render("yagent -h"),
				styles.Comment.Render("for help."),
			),
			fmt.Sprintf(ferr.ReasonFormat(), styles.InlineCode.Render(ferr.Flag())),
		)
		return
	}

	reason, details := errs.Parts(err)
	if reason == "" {
		_, _ = fmt.Fprintf(w, format, styles.ErrPadding.Render(styles.ErrorDetails.Render(details)))
		return
	}
	args := []any{styles.ErrPadding.Render(styles.ErrorHeader.String(), reason)}
	if details != "" && !errors.Is(err, huh.ErrUserAborted) {
		format += "%s\n\n"
		args = append(args, styles.ErrPadding.Render(styles.ErrorDetails.Render(details)))
	}
	_, _ = fmt.Fprintf(w, format, args...)
}
