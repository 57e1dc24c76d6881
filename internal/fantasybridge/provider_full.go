//go:build !yagent_small

package fantasybridge

import (
	"fmt"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/azure"
	"charm.land/fantasy/providers/bedrock"
	fgoogle "charm.land/fantasy/providers/google"
	fopenai "charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
	"charm.land/fantasy/providers/vercel"

	"github.com/dotcommander/yagent/internal/provider"
)

type providerFactory func(Config) (fantasy.Provider, error)

// factories maps an API name to its fantasy provider. Other names use the
// OpenAI-compatible provider.
var factories = map[string]providerFactory{
	apiOpenAI: func(cfg Config) (fantasy.Provider, error) {
		opts := []fopenai.Option{fopenai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, fopenai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, fopenai.WithHTTPClient(cfg.HTTPClient))
		}
		return fopenai.New(opts...)
	},
	apiAnthropic: func(cfg Config) (fantasy.Provider, error) {
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			// The SDK appends /v1 itself.
			opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/v1")))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(cfg.HTTPClient))
		}
		return anthropic.New(opts...)
	},
	apiGoogle: func(cfg Config) (fantasy.Provider, error) {
		opts := []fgoogle.Option{fgoogle.WithGeminiAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, fgoogle.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, fgoogle.WithHTTPClient(cfg.HTTPClient))
		}
		return fgoogle.New(opts...)
	},
	apiAzure:   newAzure,
	apiAzureAD: newAzure,
	apiOpenRouter: func(cfg Config) (fantasy.Provider, error) {
		opts := []openrouter.Option{openrouter.WithAPIKey(cfg.APIKey)}
		if cfg.HTTPClient != nil {
			opts = append(opts, openrouter.WithHTTPClient(cfg.HTTPClient))
		}
		return openrouter.New(opts...)
	},
	apiVercel: func(cfg Config) (fantasy.Provider, error) {
		opts := []vercel.Option{vercel.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, vercel.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, vercel.WithHTTPClient(cfg.HTTPClient))
		}
		return vercel.New(opts...)
	},
	apiBedrock: func(cfg Config) (fantasy.Provider, error) {
		// Without a key bedrock falls back to the AWS credential chain.
		var opts []bedrock.Option
		if cfg.APIKey != "" {
			opts = append(opts, bedrock.WithAPIKey(cfg.APIKey))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, bedrock.WithHTTPClient(cfg.HTTPClient))
		}
		return bedrock.New(opts...)
	},
}

func newAzure(cfg Config) (fantasy.Provider, error) {
	opts := []azure.Option{azure.WithAPIKey(cfg.APIKey), azure.WithBaseURL(cfg.BaseURL)}
	if cfg.HTTPClient != nil {
		opts = append(opts, azure.WithHTTPClient(cfg.HTTPClient))
	}
	return azure.New(opts...)
}

func newProvider(cfg Config) (fantasy.Provider, error) {
	factory, ok := factories[cfg.API]
	if !ok {
		return newCompatProvider(cfg)
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("new %s provider: %w", cfg.API, err)
	}
	return p, nil
}

// openAIFamily is true for APIs that take fopenai provider options.
func openAIFamily(api string) bool {
	return api == apiOpenAI || api == apiAzure || api == apiAzureAD
}

func applyProviderOptions(call *fantasy.Call, api string, cfg Config, req provider.Request) {
	switch {
	case openAIFamily(api):
		opts := &fopenai.ProviderOptions{MaxCompletionTokens: req.MaxCompletionTokens}
		if req.User != "" {
			user := req.User
			opts.User = &user
		}
		if opts.User != nil || opts.MaxCompletionTokens != nil {
			call.ProviderOptions[fopenai.Name] = opts
		}
	case api == apiGoogle:
		if cfg.ThinkingBudget > 0 {
			call.ProviderOptions[fgoogle.Name] = &fgoogle.ProviderOptions{
				ThinkingConfig: &fgoogle.ThinkingConfig{
					ThinkingBudget: fantasy.Opt(int64(cfg.ThinkingBudget)),
				},
			}
		}
	case factories[api] != nil:
		// Dedicated providers without per-call options.
	default:
		setCompatUser(call, req.User)
	}
}
