package agent

import (
	"fmt"
	"time"

	"github.com/dotcommander/yagent/internal/proto"
)

// State is a Loop state.
type State int

// Loop states.
const (
	StateIdle State = iota
	StateAwaitingModel
	StateStreamingText
	StateToolCallsRequested
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting model"
	case StateStreamingText:
		return "streaming text"
	case StateToolCallsRequested:
		return "tool calls requested"
	case StateExecutingTools:
		return "executing tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends an exchange.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// EventKind discriminates events.
type EventKind int

// Event kinds.
const (
	EventText EventKind = iota
	EventToolStart
	EventToolFinish
	EventRetry
	EventTurnEnd
)

// Event is what the loop reports to the presentation layer.
type Event struct {
	Kind EventKind

	// Text is the delta for EventText.
	Text string

	// Call is set for tool events.
	Call proto.ToolCall
	// Result is the tool result content for EventToolFinish.
	Result string
	// Duration is the call duration for EventToolFinish.
	Duration time.Duration

	// Attempt is the retry number for EventRetry.
	Attempt int

	// Turn is the model request number within the exchange.
	Turn int
	// State is the final state for EventTurnEnd.
	State State
	// Err is the fault of a failed tool call, retry or exchange.
	Err error
}

// Sink receives events. Handle is called from the goroutine running the
// loop and from tool goroutines, never concurrently.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle implements Sink.
func (f SinkFunc) Handle(e Event) { f(e) }

type discard struct{}

func (discard) Handle(Event) {}
