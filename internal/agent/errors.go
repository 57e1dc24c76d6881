package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/provider"
	"github.com/dotcommander/yagent/internal/tool"
)

// Label returns the taxonomy label of an exchange failure.
func Label(err error) string {
	var perr *provider.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTurnLimit):
		return "turn limit"
	case errors.As(err, &perr):
		return perr.Kind.String()
	}
	if label := tool.Label(err); label != "tool error" {
		return label
	}
	return "error"
}

// Describe turns an exchange failure into a user-facing error naming the
// fault and what can be done about it.
func Describe(err error, api string) errs.Error {
	var perr *provider.Error
	switch {
	case errors.Is(err, context.Canceled):
		return errs.Error{Err: err, Reason: "Cancelled."}
	case errors.Is(err, ErrTurnLimit):
		return errs.Error{Err: err, Reason: "The model kept calling tools; raise max-turns to let it continue."}
	case errors.As(err, &perr):
	default:
		return errs.Error{Err: err, Reason: fmt.Sprintf("There was a problem with the %s API request.", api)}
	}

	reason := perr.Reason
	switch perr.Kind {
	case provider.KindAuth:
		reason = fmt.Sprintf("Authentication with %s failed; check the API key.", api)
	case provider.KindRateLimit:
		reason = fmt.Sprintf("%s is rate limiting requests; retries were exhausted.", api)
	case provider.KindMalformedResponse:
		reason = "The model produced a malformed tool call."
		if perr.Reason != "" {
			reason += " " + capitalize(perr.Reason) + "."
		}
	case provider.KindTransport:
		if reason == "" {
			reason = fmt.Sprintf("Could not talk to %s.", api)
		}
	case provider.KindRequest:
		if reason == "" {
			reason = fmt.Sprintf("%s rejected the request.", api)
		}
	}
	return errs.Error{Err: perr.Err, Reason: reason}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
