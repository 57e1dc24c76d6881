package present

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	gradientStart = "#F967DC"
	gradientEnd   = "#6B50FF"
)

// gradientRamp returns n colors blended from gradientStart to gradientEnd.
func gradientRamp(n int) []lipgloss.Color {
	start, _ := colorful.Hex(gradientStart)
	end, _ := colorful.Hex(gradientEnd)
	ramp := make([]lipgloss.Color, n)
	for i := range n {
		ramp[i] = lipgloss.Color(start.BlendLuv(end, float64(i)/float64(n)).Hex())
	}
	return ramp
}

// GradientText renders str with one ramp color per rune. Strings shorter
// than three runes are returned as is.
func GradientText(base lipgloss.Style, str string) string {
	const minSize = 3
	runes := []rune(str)
	if len(runes) < minSize {
		return str
	}
	var b strings.Builder
	for i, c := range gradientRamp(len(runes)) {
		b.WriteString(base.Foreground(c).Render(string(runes[i])))
	}
	return b.String()
}

// Banner is the greeting of the interactive chat.
func Banner(s Styles, version string, tools int) string {
	name := GradientText(s.AppName, "yagent")
	var b strings.Builder
	b.WriteString(name)
	if version != "" {
		b.WriteString(" " + s.Comment.Render(version))
	}
	b.WriteString("\n")
	b.WriteString(s.Comment.Render("tools: "))
	b.WriteString(s.ToolName.Render(strconv.Itoa(tools)))
	b.WriteString(s.Comment.Render("  ·  /tools /reset /refresh /exit"))
	return b.String()
}
