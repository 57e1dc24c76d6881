package present

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dotcommander/yagent/internal/agent"
	"github.com/dotcommander/yagent/internal/tool"
)

const interruptedMark = "[interrupted, retrying]\n"

// Renderer prints agent events to a terminal. Answer text goes to out,
// tool activity and retries go to status.
type Renderer struct {
	out      io.Writer
	status   io.Writer
	styles   Styles
	quiet    bool
	markdown *Markdown

	buf      strings.Builder
	midLine  bool
	streamed bool // answer text already written in this attempt
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithQuiet hides tool activity and retries.
func WithQuiet(quiet bool) RendererOption {
	return func(r *Renderer) { r.quiet = quiet }
}

// WithMarkdown buffers the answer and renders it with glamour once the
// exchange ends.
func WithMarkdown(wordWrap int) RendererOption {
	return func(r *Renderer) {
		r.markdown = NewMarkdown(wordWrap)
	}
}

// WithStyles overrides the status styles.
func WithStyles(s Styles) RendererOption {
	return func(r *Renderer) { r.styles = s }
}

// NewRenderer returns a Renderer writing to out and status.
func NewRenderer(out, status io.Writer, opts ...RendererOption) *Renderer {
	r := &Renderer{out: out, status: status, styles: StderrStyles()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle implements agent.Sink.
func (r *Renderer) Handle(e agent.Event) {
	switch e.Kind {
	case agent.EventText:
		r.text(e.Text)
	case agent.EventToolStart:
		r.flush()
		r.streamed = false
		r.statusf("%s %s %s\n",
			r.styles.Comment.Render("→"),
			r.styles.ToolName.Render(e.Call.Name),
			r.styles.CliArgs.Render(compact(string(e.Call.Arguments))),
		)
	case agent.EventToolFinish:
		if e.Err != nil {
			r.statusf("%s %s %s\n",
				r.styles.ToolErr.Render("✗"),
				r.styles.ToolName.Render(e.Call.Name),
				r.styles.ToolErr.Render(tool.Label(e.Err)+": "+e.Err.Error()),
			)
			return
		}
		r.statusf("%s %s %s\n",
			r.styles.ToolOK.Render("✓"),
			r.styles.ToolName.Render(e.Call.Name),
			r.styles.Timeago.Render(e.Duration.Round(time.Millisecond).String()),
		)
	case agent.EventRetry:
		// The failed attempt's partial text is not part of the answer. A
		// streamed attempt cannot be taken back, so it is marked instead.
		r.buf.Reset()
		r.endLine()
		if r.streamed {
			_, _ = io.WriteString(r.out, interruptedMark)
			r.streamed = false
		}
		r.statusf("%s\n", r.styles.Comment.Render(fmt.Sprintf("retrying (attempt %d): %v", e.Attempt, e.Err)))
	case agent.EventTurnEnd:
		r.flush()
		r.endLine()
		r.streamed = false
	}
}

func (r *Renderer) text(s string) {
	if r.markdown != nil {
		r.buf.WriteString(s)
		return
	}
	if s == "" {
		return
	}
	_, _ = io.WriteString(r.out, s)
	r.midLine = !strings.HasSuffix(s, "\n")
	r.streamed = true
}

// flush writes buffered markdown.
func (r *Renderer) flush() {
	if r.markdown == nil || r.buf.Len() == 0 {
		return
	}
	src := r.buf.String()
	r.buf.Reset()
	out, err := r.markdown.Render(src)
	if err != nil {
		out = src
	}
	_, _ = io.WriteString(r.out, out)
	r.midLine = !strings.HasSuffix(out, "\n")
}

func (r *Renderer) endLine() {
	if r.midLine {
		_, _ = io.WriteString(r.out, "\n")
		r.midLine = false
	}
}

func (r *Renderer) statusf(format string, a ...any) {
	if r.quiet {
		return
	}
	r.endLine()
	_, _ = fmt.Fprintf(r.status, format, a...)
}

func compact(s string) string {
	const maxLen = 80
	s = strings.Join(strings.Fields(s), " ")
	if s == "{}" {
		return ""
	}
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}

var _ agent.Sink = (*Renderer)(nil)
