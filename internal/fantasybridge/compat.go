package fantasybridge

import (
	"fmt"

	"charm.land/fantasy"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"
)

// newCompatProvider serves every API that speaks the OpenAI chat protocol
// without a dedicated fantasy provider. The API name becomes the provider
// name.
func newCompatProvider(cfg Config) (fantasy.Provider, error) {
	opts := []fopenaicompat.Option{fopenaicompat.WithName(cfg.API)}
	if cfg.APIKey != "" {
		opts = append(opts, fopenaicompat.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, fopenaicompat.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, fopenaicompat.WithHTTPClient(cfg.HTTPClient))
	}
	p, err := fopenaicompat.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("new %s provider (openai-compatible): %w", cfg.API, err)
	}
	return p, nil
}

func setCompatUser(call *fantasy.Call, user string) {
	if user == "" {
		return
	}
	call.ProviderOptions[fopenaicompat.Name] = &fopenaicompat.ProviderOptions{User: &user}
}
