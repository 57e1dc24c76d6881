package fantasybridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/google"
	fopenai "charm.land/fantasy/providers/openai"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/yagent/internal/provider"
)

func partStream(parts ...fantasy.StreamPart) *Stream {
	ch := make(chan fantasy.StreamPart, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		ctx:         ctx,
		cancel:      cancel,
		logger:      slog.New(slog.DiscardHandler),
		partCh:      ch,
		callSeen:    map[string]struct{}{},
		warningSeen: map[string]struct{}{},
	}
}

func collect(t *testing.T, s provider.Stream) []provider.Fragment {
	t.Helper()
	var out []provider.Fragment
	for s.Next() {
		out = append(out, s.Current())
	}
	return out
}

func TestStreamFragments(t *testing.T) {
	s := partStream(
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextStart},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "Hel"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "lo"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "c1", ToolCallName: "fs_read", ToolCallInput: `{"path":"a"}`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "c1", ToolCallName: "fs_read", ToolCallInput: `{"path":"a"}`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "c2", ToolCallName: "noargs"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeFinish},
	)

	frags := collect(t, s)
	require.NoError(t, s.Err())
	require.Len(t, frags, 5)
	require.Equal(t, provider.FragmentText, frags[0].Kind)
	require.Equal(t, "Hel", frags[0].Text)
	require.Equal(t, "lo", frags[1].Text)
	require.Equal(t, provider.FragmentToolCall, frags[2].Kind)
	require.Equal(t, "c1", frags[2].Call.ID)
	require.JSONEq(t, `{"path":"a"}`, string(frags[2].Call.Arguments))
	require.Equal(t, "c2", frags[3].Call.ID)
	require.JSONEq(t, `{}`, string(frags[3].Call.Arguments))
	require.Equal(t, provider.FragmentEndOfTurn, frags[4].Kind)

	require.False(t, s.Next(), "stream is not restartable")
}

func TestStreamKeepsCallsWithoutID(t *testing.T) {
	s := partStream(
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ToolCallName: "project_info"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ToolCallName: "fs_read", ToolCallInput: `{"path":"b"}`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeFinish},
	)

	frags := collect(t, s)
	require.NoError(t, s.Err())
	require.Len(t, frags, 3)
	require.Equal(t, "project_info", frags[0].Call.Name)
	require.Equal(t, "fs_read", frags[1].Call.Name)
	require.Empty(t, frags[1].Call.ID)
	require.Equal(t, provider.FragmentEndOfTurn, frags[2].Kind)
}

func TestStreamMalformedToolCall(t *testing.T) {
	s := partStream(
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "ok"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeToolCall, ID: "c1", ToolCallName: "t", ToolCallInput: `{"path":`},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "never"},
	)

	frags := collect(t, s)
	require.Len(t, frags, 1)
	var perr *provider.Error
	require.ErrorAs(t, s.Err(), &perr)
	require.Equal(t, provider.KindMalformedResponse, perr.Kind)
	require.False(t, perr.Retryable())
}

func TestStreamErrorPart(t *testing.T) {
	s := partStream(
		fantasy.StreamPart{Type: fantasy.StreamPartTypeTextDelta, Delta: "partial"},
		fantasy.StreamPart{Type: fantasy.StreamPartTypeError, Error: &fantasy.ProviderError{StatusCode: http.StatusTooManyRequests}},
	)

	frags := collect(t, s)
	require.Len(t, frags, 1)
	var perr *provider.Error
	require.ErrorAs(t, s.Err(), &perr)
	require.Equal(t, provider.KindRateLimit, perr.Kind)
	require.True(t, perr.Retryable())
}

func TestStreamCancelled(t *testing.T) {
	s := partStream()
	s.cancel()
	require.False(t, s.Next())
	require.ErrorIs(t, s.Err(), context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		err  error
		kind provider.Kind
	}{
		"unauthorized": {
			err:  &fantasy.ProviderError{StatusCode: http.StatusUnauthorized},
			kind: provider.KindAuth,
		},
		"forbidden": {
			err:  &fantasy.ProviderError{StatusCode: http.StatusForbidden},
			kind: provider.KindAuth,
		},
		"rate limit": {
			err:  &fantasy.ProviderError{StatusCode: http.StatusTooManyRequests},
			kind: provider.KindRateLimit,
		},
		"server error": {
			err:  &fantasy.ProviderError{StatusCode: http.StatusBadGateway},
			kind: provider.KindTransport,
		},
		"bad request": {
			err:  &fantasy.ProviderError{StatusCode: http.StatusBadRequest, Message: "nope"},
			kind: provider.KindRequest,
		},
		"context length": {
			err:  &fantasy.ProviderError{StatusCode: http.StatusBadRequest, Message: "context_length_exceeded"},
			kind: provider.KindRequest,
		},
		"plain network error": {
			err:  errors.New("connection reset by peer"),
			kind: provider.KindTransport,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var perr *provider.Error
			require.ErrorAs(t, classify(tc.err), &perr)
			require.Equal(t, tc.kind, perr.Kind)
			require.ErrorIs(t, perr, tc.err)
		})
	}

	require.ErrorIs(t, classify(context.Canceled), context.Canceled)
	require.NoError(t, classify(nil))
}

func TestBuildCallGoogleThinkingBudget(t *testing.T) {
	s := &Stream{
		api: "google",
		config: Config{
			ThinkingBudget: 256,
		},
	}

	call := s.buildCall()

	v, ok := call.ProviderOptions[google.Name]
	require.True(t, ok)
	opts, ok := v.(*google.ProviderOptions)
	require.True(t, ok)
	require.NotNil(t, opts.ThinkingConfig)
	require.NotNil(t, opts.ThinkingConfig.ThinkingBudget)
	require.EqualValues(t, 256, *opts.ThinkingConfig.ThinkingBudget)
}

func TestBuildCallNonGoogleNoThinkingBudgetOption(t *testing.T) {
	s := &Stream{
		api: "openai",
		config: Config{
			ThinkingBudget: 512,
		},
	}

	call := s.buildCall()
	require.Empty(t, call.ProviderOptions)
}

func TestNewAzureADProviderAlias(t *testing.T) {
	client, err := New(Config{
		API:     "azure-ad",
		APIKey:  "token",
		BaseURL: "https://example.openai.azure.com",
	})
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestBuildCallUserProviderOptions(t *testing.T) {
	tests := map[string]struct {
		api  string
		user string
		key  string
	}{
		"openai":            {api: "openai", user: "alice", key: fopenai.Name},
		"azure":             {api: "azure", user: "dana", key: fopenai.Name},
		"openai-compatible": {api: "deepseek", user: "bob", key: fopenaicompat.Name},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := &Stream{api: tc.api, request: provider.Request{User: tc.user}}
			call := s.buildCall()
			v, ok := call.ProviderOptions[tc.key]
			require.True(t, ok)
			switch opts := v.(type) {
			case *fopenai.ProviderOptions:
				require.Equal(t, tc.user, *opts.User)
			case *fopenaicompat.ProviderOptions:
				require.Equal(t, tc.user, *opts.User)
			default:
				t.Fatalf("unexpected options %T", v)
			}
		})
	}

	t.Run("google does not attach user provider option", func(t *testing.T) {
		s := &Stream{api: "google", request: provider.Request{User: "carol"}}
		call := s.buildCall()
		_, hasOpenAI := call.ProviderOptions[fopenai.Name]
		_, hasCompat := call.ProviderOptions[fopenaicompat.Name]
		require.False(t, hasOpenAI)
		require.False(t, hasCompat)
	})
}

func TestBuildCallMaxCompletionTokensProviderOptions(t *testing.T) {
	tokens := int64(321)

	s := &Stream{api: "openai", request: provider.Request{MaxCompletionTokens: &tokens}}
	call := s.buildCall()
	v, ok := call.ProviderOptions[fopenai.Name]
	require.True(t, ok)
	opts, ok := v.(*fopenai.ProviderOptions)
	require.True(t, ok)
	require.EqualValues(t, 321, *opts.MaxCompletionTokens)

	s = &Stream{api: "deepseek", request: provider.Request{MaxCompletionTokens: &tokens}}
	call = s.buildCall()
	_, hasCompat := call.ProviderOptions[fopenaicompat.Name]
	require.False(t, hasCompat)
}

func TestConsumePartSkipsProviderExecutedToolCalls(t *testing.T) {
	s := partStream(fantasy.StreamPart{
		Type:             fantasy.StreamPartTypeToolCall,
		ID:               "tc_1",
		ToolCallName:     "tool",
		ToolCallInput:    "{}",
		ProviderExecuted: true,
	})

	frags := collect(t, s)
	require.Len(t, frags, 1)
	require.Equal(t, provider.FragmentEndOfTurn, frags[0].Kind)
}

func TestWarningsDeduplicated(t *testing.T) {
	s := partStream(fantasy.StreamPart{
		Type: fantasy.StreamPartTypeWarnings,
		Warnings: []fantasy.CallWarning{
			{Type: fantasy.CallWarningTypeUnsupportedSetting, Setting: "top_k", Message: "unsupported setting: top_k"},
			{Type: fantasy.CallWarningTypeUnsupportedSetting, Setting: "top_k", Message: "unsupported setting: top_k"},
		},
	})

	collect(t, s)
	require.Equal(t, []string{"unsupported setting: top_k"}, s.Warnings())
}

func TestWaitRetry(t *testing.T) {
	t.Run("plain error waits", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, WaitRetry(t.Context(), 1, errors.New("eof")))
		require.GreaterOrEqual(t, time.Since(start), retryBaseDelay)
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		require.ErrorIs(t, WaitRetry(ctx, 3, errors.New("eof")), context.Canceled)
	})
}
