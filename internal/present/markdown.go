package present

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/glamour"
)

const markdownTabWidth = 4

// Markdown renders markdown for a terminal. The glamour renderer is built on
// first use and reused afterwards.
type Markdown struct {
	wordWrap int
	term     *glamour.TermRenderer
}

// NewMarkdown returns a Markdown wrapping at wordWrap columns.
func NewMarkdown(wordWrap int) *Markdown {
	return &Markdown{wordWrap: wordWrap}
}

// Render renders input. The result ends in exactly one newline and has no
// tabs.
func (m *Markdown) Render(input string) (string, error) {
	if m.term == nil {
		term, err := glamour.NewTermRenderer(
			glamour.WithEnvironmentConfig(),
			glamour.WithWordWrap(m.wordWrap),
		)
		if err != nil {
			return "", fmt.Errorf("new markdown renderer: %w", err)
		}
		m.term = term
	}

	out, err := m.term.Render(input)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out = strings.TrimRightFunc(out, unicode.IsSpace)
	out = strings.ReplaceAll(out, "\t", strings.Repeat(" ", markdownTabWidth))
	return out + "\n", nil
}

// RenderMarkdownForTTY renders input once, e.g. a saved transcript.
func RenderMarkdownForTTY(input string, wordWrap int) (string, error) {
	return NewMarkdown(wordWrap).Render(input)
}
