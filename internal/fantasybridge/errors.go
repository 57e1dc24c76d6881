package fantasybridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"charm.land/fantasy"

	"github.com/dotcommander/yagent/internal/provider"
)

// classify maps fantasy faults onto the provider fault taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}

	var providerErr *fantasy.ProviderError
	if !errors.As(err, &providerErr) {
		return &provider.Error{Kind: provider.KindTransport, Err: err}
	}

	reason := fantasy.ErrorTitleForStatusCode(providerErr.StatusCode)
	kind := provider.KindRequest
	switch code := providerErr.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = provider.KindAuth
	case code == http.StatusTooManyRequests:
		kind = provider.KindRateLimit
	case code == http.StatusBadRequest && isContextLengthExceeded(providerErr):
		kind = provider.KindRequest
		reason = "Maximum prompt size exceeded."
	case providerErr.IsRetryable() || code >= http.StatusInternalServerError || code == 0:
		kind = provider.KindTransport
	}
	return &provider.Error{Kind: kind, Reason: reason, Err: err}
}

func isContextLengthExceeded(err *fantasy.ProviderError) bool {
	if strings.Contains(strings.ToLower(err.Message), "context_length_exceeded") {
		return true
	}
	if strings.Contains(strings.ToLower(string(err.ResponseBody)), "context_length_exceeded") {
		return true
	}
	return false
}

// WaitRetry waits before retry attempt n of a failed request. Provider
// faults honour the Retry-After headers of the response; other faults wait
// an exponential delay.
func WaitRetry(ctx context.Context, attempt int, err error) error {
	delay := retryBaseDelay << min(max(attempt-1, 0), 6) //nolint:mnd

	var providerErr *fantasy.ProviderError
	if !errors.As(err, &providerErr) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}

	opts := fantasy.DefaultRetryOptions()
	opts.MaxRetries = 1
	opts.InitialDelayIn = delay
	retryFn := fantasy.RetryWithExponentialBackoffRespectingRetryHeaders[struct{}](opts)
	_, _ = retryFn(ctx, func() (struct{}, error) {
		return struct{}{}, providerErr
	})
	return ctx.Err()
}

const retryBaseDelay = 100 * time.Millisecond
