//go:build yagent_small

package fantasybridge

import (
	"charm.land/fantasy"

	"github.com/dotcommander/yagent/internal/provider"
)

// Small builds link only the OpenAI-compatible provider.
func newProvider(cfg Config) (fantasy.Provider, error) {
	return newCompatProvider(cfg)
}

func applyProviderOptions(call *fantasy.Call, _ string, _ Config, req provider.Request) {
	setCompatUser(call, req.User)
}
