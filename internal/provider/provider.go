// Package provider defines the contract between the agent loop and an LLM
// backend.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotcommander/yagent/internal/proto"
)

// Request is one model request.
type Request struct {
	Model               string
	System              string
	Messages            []proto.Message
	Tools               []proto.ToolSpec
	MaxTokens           *int64
	MaxCompletionTokens *int64
	Temperature         *float64
	TopP                *float64
	TopK                *int64
	User                string
}

// FragmentKind discriminates stream fragments.
type FragmentKind int

// Fragment kinds.
const (
	FragmentText FragmentKind = iota
	FragmentToolCall
	FragmentEndOfTurn
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentText:
		return "text"
	case FragmentToolCall:
		return "tool-call"
	case FragmentEndOfTurn:
		return "end-of-turn"
	default:
		return fmt.Sprintf("fragment(%d)", int(k))
	}
}

// Fragment is one element of a response stream.
type Fragment struct {
	Kind FragmentKind
	Text string
	Call proto.ToolCall
}

// Stream is a finite, non-restartable response. It ends after an end-of-turn
// fragment or when Err returns non-nil.
type Stream interface {
	Next() bool
	Current() Fragment
	Err() error
	Close() error
}

// Provider sends requests to a model.
type Provider interface {
	Send(ctx context.Context, req Request) Stream
}

// Kind classifies provider faults.
type Kind int

// Fault kinds.
const (
	KindTransport Kind = iota
	KindRateLimit
	KindAuth
	KindMalformedResponse
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate limited"
	case KindAuth:
		return "authentication failed"
	case KindTransport:
		return "transport error"
	case KindMalformedResponse:
		return "malformed response"
	case KindRequest:
		return "invalid request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified provider fault.
type Error struct {
	Kind Kind
	// Reason is a short human readable explanation.
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a retry can succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransport
}

// Errorf is a shortcut for a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AsError returns the classified error in err's chain. Unclassified errors
// are transport faults.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: KindTransport, Err: err}
}

// SliceStream is a Stream over a fixed slice of fragments, optionally ending
// in an error instead of the final end-of-turn.
type SliceStream struct {
	frags []Fragment
	err   error
	pos   int
	cur   Fragment
	done  bool
}

// NewSliceStream returns a stream yielding frags and then failing with err,
// if non-nil.
func NewSliceStream(err error, frags ...Fragment) *SliceStream {
	return &SliceStream{frags: frags, err: err}
}

// Next implements Stream.
func (s *SliceStream) Next() bool {
	if s.done || s.pos >= len(s.frags) {
		s.done = true
		return false
	}
	s.cur = s.frags[s.pos]
	s.pos++
	return true
}

// Current implements Stream.
func (s *SliceStream) Current() Fragment { return s.cur }

// Err implements Stream.
func (s *SliceStream) Err() error {
	if s.done {
		return s.err
	}
	return nil
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	s.done = true
	return nil
}
