package present

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

func onceTTY(f *os.File) func() bool {
	return sync.OnceValue(func() bool {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	})
}

var (
	isInputTTY  = onceTTY(os.Stdin)
	isOutputTTY = onceTTY(os.Stdout)
	isErrorTTY  = onceTTY(os.Stderr)
)

// IsInputTTY reports whether stdin is a terminal.
func IsInputTTY() bool { return isInputTTY() }

// IsOutputTTY reports whether stdout is a terminal.
func IsOutputTTY() bool { return isOutputTTY() }

// IsErrorTTY reports whether stderr is a terminal.
func IsErrorTTY() bool { return isErrorTTY() }

var (
	stdoutRenderer = sync.OnceValue(lipgloss.DefaultRenderer)
	stderrRenderer = sync.OnceValue(func() *lipgloss.Renderer {
		return lipgloss.NewRenderer(os.Stderr, termenv.WithColorCache(true))
	})
	stdoutStyles = sync.OnceValue(func() Styles { return MakeStyles(stdoutRenderer()) })
	stderrStyles = sync.OnceValue(func() Styles { return MakeStyles(stderrRenderer()) })
)

// StdoutRenderer returns the lipgloss renderer of stdout.
func StdoutRenderer() *lipgloss.Renderer { return stdoutRenderer() }

// StdoutStyles returns the shared stdout styles.
func StdoutStyles() Styles { return stdoutStyles() }

// StderrStyles returns the shared stderr styles. Status lines and errors
// use them.
func StderrStyles() Styles { return stderrStyles() }
