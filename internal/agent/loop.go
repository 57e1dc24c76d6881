package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/provider"
	"github.com/dotcommander/yagent/internal/tool"
)

// Defaults.
const (
	DefaultMaxTurns   = 25
	DefaultMaxRetries = 3
)

var (
	// ErrBusy is returned when Run is called while an exchange is running.
	ErrBusy = errors.New("an exchange is already running")
	// ErrTurnLimit is the reason of exchanges stopped by the turn cap.
	ErrTurnLimit = errors.New("turn limit reached")
)

// BackoffFunc waits before retry attempt n (starting at 1) after err. It
// returns early with ctx's error when ctx is done.
type BackoffFunc func(ctx context.Context, attempt int, err error) error

// Options configures a Loop.
type Options struct {
	// Request carries the model, system prompt and sampling parameters.
	// Messages and Tools are filled in by the loop on every turn.
	Request provider.Request

	MaxTurns   int
	MaxRetries int
	// Sequential runs the calls of a turn one at a time.
	Sequential bool
	// NoTools withholds every tool from the model.
	NoTools bool

	Backoff BackoffFunc
	Logger  *slog.Logger
}

// Outcome summarizes a finished exchange.
type Outcome struct {
	State State
	// Text is the final assistant answer.
	Text string
	// Reason is why the exchange failed.
	Reason    error
	Turns     int
	ToolCalls int
}

// Loop drives one conversation.
type Loop struct {
	provider   provider.Provider
	registry   *tool.Registry
	dispatcher *tool.Dispatcher
	opts       Options
	logger     *slog.Logger

	run sync.Mutex // held for the duration of an exchange

	mu    sync.Mutex
	conv  *proto.Conversation
	state State
}

// New creates a loop over conv. A nil conv starts a new conversation.
func New(p provider.Provider, registry *tool.Registry, dispatcher *tool.Dispatcher, conv *proto.Conversation, opts Options) *Loop {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff(500*time.Millisecond, 10*time.Second)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if conv == nil {
		conv = proto.NewConversation()
	}
	return &Loop{
		provider:   p,
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		conv:       conv,
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Conversation returns the conversation the loop drives.
func (l *Loop) Conversation() *proto.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conv
}

// Reset replaces the conversation. It fails with ErrBusy while an exchange
// is running.
func (l *Loop) Reset(conv *proto.Conversation) error {
	if !l.run.TryLock() {
		return ErrBusy
	}
	defer l.run.Unlock()
	if conv == nil {
		conv = proto.NewConversation()
	}
	l.mu.Lock()
	l.conv = conv
	l.state = StateIdle
	l.mu.Unlock()
	return nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	if prev != s {
		l.logger.Debug("agent state", "from", prev.String(), "to", s.String())
	}
}

// Run appends input as a user message and drives the exchange to a
// terminal state. The returned error is the Outcome's Reason, or ErrBusy.
func (l *Loop) Run(ctx context.Context, input string, sink Sink) (Outcome, error) {
	if !l.run.TryLock() {
		return Outcome{}, ErrBusy
	}
	defer l.run.Unlock()

	if sink == nil {
		sink = discard{}
	}
	sink = &lockedSink{sink: sink}
	conv := l.Conversation()

	// A previous process may have died mid-turn.
	if ids := conv.ResolvePending("tool call was interrupted before it completed"); len(ids) > 0 {
		l.logger.Warn("resolved dangling tool calls", "ids", ids)
	}
	if err := conv.Append(proto.Message{Role: proto.RoleUser, Content: input}); err != nil {
		return l.fail(conv, sink, Outcome{}, fmt.Errorf("append user message: %w", err))
	}

	var out Outcome
	for {
		if out.Turns >= l.opts.MaxTurns {
			return l.fail(conv, sink, out, fmt.Errorf("%w: %d model requests", ErrTurnLimit, out.Turns))
		}
		out.Turns++

		l.setState(StateAwaitingModel)
		l.logger.Info("turn start", "turn", out.Turns, "messages", conv.Len())
		text, calls, err := l.request(ctx, conv, out.Turns, sink)
		if err != nil {
			if ctx.Err() != nil {
				return l.cancel(conv, sink, out, text)
			}
			return l.fail(conv, sink, out, err)
		}

		if err := conv.Append(proto.Message{Role: proto.RoleAssistant, Content: text, ToolCalls: calls}); err != nil {
			return l.fail(conv, sink, out, &provider.Error{
				Kind:   provider.KindMalformedResponse,
				Reason: "the model requested an invalid set of tool calls",
				Err:    err,
			})
		}
		out.Text = text

		if len(calls) == 0 {
			l.setState(StateDone)
			out.State = StateDone
			l.logger.Info("exchange done", "turns", out.Turns, "tool_calls", out.ToolCalls)
			sink.Handle(Event{Kind: EventTurnEnd, Turn: out.Turns, State: StateDone})
			return out, nil
		}

		l.setState(StateToolCallsRequested)
		out.ToolCalls += len(calls)
		results := l.execute(ctx, calls, out.Turns, sink)
		for _, msg := range results {
			if err := conv.Append(msg); err != nil {
				return l.fail(conv, sink, out, fmt.Errorf("append tool result: %w", err))
			}
		}
		if ctx.Err() != nil {
			return l.cancel(conv, sink, out, "")
		}
	}
}

// request sends the conversation, retrying retryable faults. It returns the
// assembled text and tool calls of the turn.
func (l *Loop) request(ctx context.Context, conv *proto.Conversation, turn int, sink Sink) (string, []proto.ToolCall, error) {
	req := l.opts.Request
	req.Messages = conv.Replay()
	if !l.opts.NoTools && l.registry != nil {
		req.Tools = l.registry.Snapshot().Specs()
	}

	for attempt := 0; ; attempt++ {
		text, calls, err := l.attempt(ctx, req, turn, sink)
		if err == nil {
			return text, calls, nil
		}
		if ctx.Err() != nil {
			return text, nil, ctx.Err()
		}
		perr := provider.AsError(err)
		if !perr.Retryable() || attempt >= l.opts.MaxRetries {
			return "", nil, perr
		}
		l.logger.Warn("provider request failed, retrying",
			"turn", turn,
			"attempt", attempt+1,
			"kind", perr.Kind.String(),
			"error", perr,
		)
		sink.Handle(Event{Kind: EventRetry, Turn: turn, Attempt: attempt + 1, Err: perr})
		if err := l.opts.Backoff(ctx, attempt+1, perr); err != nil {
			return "", nil, err
		}
	}
}

func (l *Loop) attempt(ctx context.Context, req provider.Request, turn int, sink Sink) (string, []proto.ToolCall, error) {
	st := l.provider.Send(ctx, req)
	defer func() { _ = st.Close() }()

	var (
		text  strings.Builder
		calls []proto.ToolCall
		ended bool
	)
	for !ended && st.Next() {
		if ctx.Err() != nil {
			break
		}
		frag := st.Current()
		switch frag.Kind {
		case provider.FragmentText:
			if text.Len() == 0 {
				l.setState(StateStreamingText)
			}
			text.WriteString(frag.Text)
			sink.Handle(Event{Kind: EventText, Text: frag.Text, Turn: turn})
		case provider.FragmentToolCall:
			call := frag.Call
			if call.ID == "" {
				call.ID = fmt.Sprintf("call_%d_%d", turn, len(calls)+1)
			}
			calls = append(calls, call)
		case provider.FragmentEndOfTurn:
			ended = true
		}
	}
	if err := ctx.Err(); err != nil {
		return text.String(), nil, err
	}
	if err := st.Err(); err != nil {
		return text.String(), nil, err
	}
	if !ended {
		return text.String(), nil, provider.Errorf(provider.KindTransport, "stream ended without end of turn")
	}
	return text.String(), calls, nil
}

// execute dispatches every call and returns their tool messages in request
// order. Events are emitted as calls complete.
func (l *Loop) execute(ctx context.Context, calls []proto.ToolCall, turn int, sink Sink) []proto.Message {
	l.setState(StateExecutingTools)

	results := make([]proto.Message, len(calls))
	var g errgroup.Group
	if l.opts.Sequential {
		g.SetLimit(1)
	}
	for i, call := range calls {
		g.Go(func() error {
			sink.Handle(Event{Kind: EventToolStart, Call: call, Turn: turn})
			start := time.Now()
			res, err := l.dispatcher.Invoke(ctx, call.Name, call.Arguments)
			msg := toolMessage(call, res, err)
			results[i] = msg
			sink.Handle(Event{
				Kind:     EventToolFinish,
				Call:     call,
				Result:   msg.Content,
				Duration: time.Since(start),
				Turn:     turn,
				Err:      err,
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func toolMessage(call proto.ToolCall, res tool.Result, err error) proto.Message {
	msg := proto.Message{Role: proto.RoleTool, ToolCallID: call.ID}
	if err != nil {
		msg.IsError = true
		msg.Content = fmt.Sprintf("%s: %v", tool.Label(err), err)
		return msg
	}
	bts, merr := json.Marshal(res)
	if merr != nil {
		msg.IsError = true
		msg.Content = fmt.Sprintf("tool execution error: encode result: %v", merr)
		return msg
	}
	msg.Content = string(bts)
	return msg
}

func (l *Loop) cancel(conv *proto.Conversation, sink Sink, out Outcome, partial string) (Outcome, error) {
	conv.ResolvePending("tool call cancelled")
	content := "exchange cancelled"
	if partial != "" {
		content += "; partial answer: " + partial
	}
	if err := conv.Append(proto.Message{Role: proto.RoleAssistant, Content: content, Marker: proto.MarkerCancelled}); err != nil {
		l.logger.Error("append cancel marker", "error", err)
	}
	l.setState(StateFailed)
	out.State = StateFailed
	out.Reason = context.Canceled
	l.logger.Info("exchange cancelled", "turns", out.Turns)
	sink.Handle(Event{Kind: EventTurnEnd, Turn: out.Turns, State: StateFailed, Err: out.Reason})
	return out, out.Reason
}

func (l *Loop) fail(conv *proto.Conversation, sink Sink, out Outcome, reason error) (Outcome, error) {
	conv.ResolvePending("exchange failed")
	if err := conv.Append(proto.Message{Role: proto.RoleAssistant, Content: Label(reason) + ": " + reason.Error(), Marker: proto.MarkerFailed}); err != nil {
		l.logger.Error("append failure marker", "error", err)
	}
	l.setState(StateFailed)
	out.State = StateFailed
	out.Reason = reason
	l.logger.Error("exchange failed", "turns", out.Turns, "label", Label(reason), "error", reason)
	sink.Handle(Event{Kind: EventTurnEnd, Turn: out.Turns, State: StateFailed, Err: reason})
	return out, reason
}

type lockedSink struct {
	mu   sync.Mutex
	sink Sink
}

func (s *lockedSink) Handle(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Handle(e)
}

// ExponentialBackoff waits base, 2*base, 4*base... capped at maxDelay.
func ExponentialBackoff(base, maxDelay time.Duration) BackoffFunc {
	return func(ctx context.Context, attempt int, _ error) error {
		d := base
		for i := 1; i < attempt && d < maxDelay; i++ {
			d *= 2
		}
		d = min(d, maxDelay)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}
