package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/dotcommander/yagent/internal/present"
)

const maxStdinBytes = 4 << 20

// piped reports whether r is data rather than the interactive terminal.
func piped(r io.Reader) bool {
	if r == nil {
		return false
	}
	if f, ok := r.(*os.File); ok && f == os.Stdin {
		return !present.IsInputTTY()
	}
	return true
}

func drainStdin(r io.Reader) {
	if !piped(r) {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// readStdin returns piped input, or "" when stdin is a terminal.
func readStdin(r io.Reader) (string, error) {
	if !piped(r) {
		return "", nil
	}
	bts, err := io.ReadAll(io.LimitReader(r, maxStdinBytes))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(bts)), nil
}

// joinPrompt puts the arguments above the piped input.
func joinPrompt(args, input string) string {
	args = strings.TrimSpace(args)
	switch {
	case args == "":
		return input
	case input == "":
		return args
	default:
		return args + "\n\n" + input
	}
}

// truncateInput cuts s to at most maxChars bytes without splitting a rune.
func truncateInput(s string, maxChars int64) (string, bool) {
	if maxChars <= 0 || int64(len(s)) <= maxChars {
		return s, false
	}
	cut := int(maxChars)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
