package fantasybridge

import (
	"testing"

	"charm.land/fantasy"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"
	"github.com/stretchr/testify/require"
)

func TestCompatProvider(t *testing.T) {
	p, err := newCompatProvider(Config{API: "deepseek", APIKey: "k", BaseURL: "https://api.deepseek.com/v1"})
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestSetCompatUser(t *testing.T) {
	call := fantasy.Call{ProviderOptions: fantasy.ProviderOptions{}}
	setCompatUser(&call, "")
	require.Empty(t, call.ProviderOptions)

	setCompatUser(&call, "alice")
	opts, ok := call.ProviderOptions[fopenaicompat.Name].(*fopenaicompat.ProviderOptions)
	require.True(t, ok)
	require.Equal(t, "alice", *opts.User)
}
