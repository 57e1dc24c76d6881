package present

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles are the lipgloss styles shared by the CLI output.
type Styles struct {
	AppName,
	CliArgs,
	Comment,
	ConversationList,
	ErrorHeader,
	ErrorDetails,
	ErrPadding,
	Flag,
	FlagComma,
	FlagDesc,
	InlineCode,
	Link,
	Pipe,
	Prompt,
	Quote,
	SHA,
	Timeago,
	ToolName,
	ToolOK,
	ToolErr lipgloss.Style
}

// MakeStyles builds the styles for r.
func MakeStyles(r *lipgloss.Renderer) (s Styles) {
	const horizontalEdgePadding = 2
	s.AppName = r.NewStyle().Bold(true)
	s.CliArgs = r.NewStyle().Foreground(lipgloss.Color("#585858"))
	s.Comment = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#757575"})
	s.ConversationList = r.NewStyle().Padding(0, 1)
	s.ErrorHeader = r.NewStyle().Foreground(lipgloss.Color("#F1F1F1")).Background(lipgloss.Color("#FF5F87")).Bold(true).Padding(0, 1).SetString("ERROR")
	s.ErrorDetails = s.Comment
	s.ErrPadding = r.NewStyle().Padding(0, horizontalEdgePadding)
	s.Flag = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"}).Bold(true)
	s.FlagComma = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5DD6C0", Dark: "#427C72"}).SetString(",")
	s.FlagDesc = s.Comment
	s.InlineCode = r.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Background(lipgloss.Color("#3A3A3A")).Padding(0, 1)
	s.Link = r.NewStyle().Foreground(lipgloss.Color("#00AF87")).Underline(true)
	s.Pipe = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8470FF", Dark: "#745CFF"})
	s.Quote = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF71D0", Dark: "#FF78D2"})
	s.Prompt = r.NewStyle().Foreground(lipgloss.Color("#6B50FF")).Bold(true)
	s.SHA = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A120FE", Dark: "#FF5FD2"})
	s.Timeago = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999", Dark: "#555"})
	s.ToolName = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}).Bold(true)
	s.ToolOK = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00B594", Dark: "#3EEFCF"})
	s.ToolErr = r.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	return s
}
