package fantasybridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"charm.land/fantasy"

	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/provider"
)

var _ provider.Provider = &Client{}

const (
	apiAnthropic  = "anthropic"
	apiGoogle     = "google"
	apiOpenAI     = "openai"
	apiAzure      = "azure"
	apiAzureAD    = "azure-ad"
	apiBedrock    = "bedrock"
	apiOpenRouter = "openrouter"
	apiVercel     = "vercel"
)

// Config represents provider configuration used by the fantasy bridge.
type Config struct {
	API            string
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	ThinkingBudget int
}

// Client is a provider.Provider backed by charm.land/fantasy.
type Client struct {
	provider fantasy.Provider
	config   Config
	logger   *slog.Logger
}

// New creates a new Fantasy-backed provider.
func New(cfg Config) (*Client, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{provider: p, config: cfg, logger: slog.Default()}, nil
}

// WithLogger returns c logging provider warnings to l.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// Send implements provider.Provider. Each call performs exactly one model
// step; tool execution is left to the caller.
func (c *Client) Send(ctx context.Context, req provider.Request) provider.Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:         streamCtx,
		cancel:      cancel,
		request:     req,
		api:         c.config.API,
		config:      c.config,
		logger:      c.logger,
		callSeen:    map[string]struct{}{},
		warningSeen: map[string]struct{}{},
	}
	if err := s.start(c.provider); err != nil {
		s.err = err
	}
	return s
}

// Stream is a provider.Stream over fantasy stream parts.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	request provider.Request
	api     string
	config  Config
	logger  *slog.Logger

	mu sync.Mutex

	partCh chan fantasy.StreamPart
	cur    provider.Fragment
	err    error
	ended  bool

	callSeen    map[string]struct{}
	warningSeen map[string]struct{}
	warnings    []string
}

// Next implements provider.Stream.
func (s *Stream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.err == nil && !s.ended {
		part, ok := <-s.partCh
		if !ok {
			if err := s.ctx.Err(); err != nil {
				s.err = err
				return false
			}
			s.ended = true
			s.cur = provider.Fragment{Kind: provider.FragmentEndOfTurn}
			return true
		}
		if frag, emit := s.consumePart(part); emit {
			s.cur = frag
			return true
		}
	}
	return false
}

// Current implements provider.Stream.
func (s *Stream) Current() provider.Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Err implements provider.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Warnings returns the distinct warnings the provider reported so far.
func (s *Stream) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

// Close implements provider.Stream.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

func (s *Stream) start(p fantasy.Provider) error {
	model, err := p.LanguageModel(s.ctx, s.request.Model)
	if err != nil {
		return classify(fmt.Errorf("fantasy language model: %w", err))
	}

	seq, err := model.Stream(s.ctx, s.buildCall())
	if err != nil {
		return classify(fmt.Errorf("fantasy stream: %w", err))
	}

	s.partCh = make(chan fantasy.StreamPart, 64)
	go func() {
		defer close(s.partCh)
		for part := range seq {
			select {
			case <-s.ctx.Done():
				return
			case s.partCh <- part:
			}
		}
	}()
	return nil
}

func (s *Stream) buildCall() fantasy.Call {
	call := fantasy.Call{
		Prompt:          toFantasyPrompt(s.request.System, s.request.Messages),
		MaxOutputTokens: s.request.MaxTokens,
		Temperature:     s.request.Temperature,
		TopP:            s.request.TopP,
		TopK:            s.request.TopK,
		Tools:           toFantasyTools(s.request.Tools),
		ToolChoice:      toolChoiceForRequest(s.request),
		ProviderOptions: fantasy.ProviderOptions{},
	}
	applyProviderOptions(&call, s.api, s.config, s.request)
	return call
}

// consumePart translates one fantasy part, reporting whether it produced a
// fragment.
func (s *Stream) consumePart(part fantasy.StreamPart) (provider.Fragment, bool) {
	switch part.Type {
	case fantasy.StreamPartTypeTextDelta:
		if part.Delta == "" {
			return provider.Fragment{}, false
		}
		return provider.Fragment{Kind: provider.FragmentText, Text: part.Delta}, true
	case fantasy.StreamPartTypeToolCall:
		if part.ProviderExecuted {
			return provider.Fragment{}, false
		}
		// Calls without an id cannot be told apart; each one is kept and
		// the loop assigns it an id.
		if part.ID != "" {
			if _, exists := s.callSeen[part.ID]; exists {
				return provider.Fragment{}, false
			}
			s.callSeen[part.ID] = struct{}{}
		}
		input := strings.TrimSpace(part.ToolCallInput)
		if input == "" {
			input = "{}"
		}
		if !json.Valid([]byte(input)) {
			s.err = &provider.Error{
				Kind:   provider.KindMalformedResponse,
				Reason: fmt.Sprintf("arguments of tool call %s (%s) are not valid JSON", part.ID, part.ToolCallName),
				Err:    fmt.Errorf("invalid tool call input %q", truncate(input, 200)), //nolint:mnd
			}
			return provider.Fragment{}, false
		}
		return provider.Fragment{
			Kind: provider.FragmentToolCall,
			Call: proto.ToolCall{
				ID:        part.ID,
				Name:      part.ToolCallName,
				Arguments: json.RawMessage(input),
			},
		}, true
	case fantasy.StreamPartTypeError:
		if part.Error != nil {
			s.err = classify(part.Error)
		}
		return provider.Fragment{}, false
	case fantasy.StreamPartTypeWarnings:
		for _, warning := range part.Warnings {
			text := strings.TrimSpace(warning.Message)
			if text == "" {
				text = strings.TrimSpace(warning.Details)
			}
			if text == "" && warning.Setting != "" {
				text = fmt.Sprintf("unsupported setting: %s", warning.Setting)
			}
			if text == "" {
				text = "provider warning"
			}
			key := string(warning.Type) + ":" + text
			if _, exists := s.warningSeen[key]; exists {
				continue
			}
			s.warningSeen[key] = struct{}{}
			s.warnings = append(s.warnings, text)
			s.logger.Warn("provider warning", "api", s.api, "warning", text)
		}
		return provider.Fragment{}, false
	default:
		return provider.Fragment{}, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
