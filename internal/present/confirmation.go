package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const defaultAction = "WROTE"

var outputHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1F1F1")).Background(lipgloss.Color("#6C50FF")).Bold(true).Padding(0, 1).MarginRight(1)

// PrintConfirmation prints an action badge followed by content to w.
func PrintConfirmation(w io.Writer, action, content string) {
	if action == "" {
		action = defaultAction
	}
	badge := outputHeader.Render(strings.ToUpper(action))
	_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Center, badge, content))
}
