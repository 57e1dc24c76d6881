package agent

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/fantasybridge"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.APIs = config.APIs{
		{
			Name:      "openai",
			APIKeyEnv: "TEST_OPENAI_KEY",
			Models: map[string]config.Model{
				"gpt-4o":      {Aliases: []string{"4o"}, MaxChars: 1000},
				"gpt-4o-mini": {Aliases: []string{"mini"}},
			},
		},
		{
			Name: "ollama",
			Models: map[string]config.Model{
				"llama3": {},
			},
		},
	}
	return &cfg
}

func TestResolveModel(t *testing.T) {
	tests := map[string]struct {
		api, model string
		wantAPI    string
		wantModel  string
		wantErr    string
	}{
		"exact":              {api: "openai", model: "gpt-4o", wantAPI: "openai", wantModel: "gpt-4o"},
		"alias":              {model: "mini", wantAPI: "openai", wantModel: "gpt-4o-mini"},
		"any api":            {model: "llama3", wantAPI: "ollama", wantModel: "llama3"},
		"missing in api":     {api: "ollama", model: "gpt-4o", wantErr: "The API endpoint ollama does not contain the model gpt-4o"},
		"missing anywhere":   {model: "claude", wantErr: "Model claude is not in the settings file."},
		"unknown api":        {api: "nope", model: "gpt-4o", wantErr: "Model gpt-4o is not in the settings file."},
		"alias in named api": {api: "openai", model: "4o", wantAPI: "openai", wantModel: "gpt-4o"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.API, cfg.Model = tc.api, tc.model
			api, mod, err := ResolveModel(cfg)
			if tc.wantErr != "" {
				reason, _ := errs.Parts(err)
				require.Equal(t, tc.wantErr, reason)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantAPI, api.Name)
			require.Equal(t, tc.wantAPI, mod.API)
			require.Equal(t, tc.wantModel, mod.Name)
			require.Equal(t, tc.wantModel, cfg.Model)
		})
	}
}

func TestResolveModelMaxChars(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInputChars = 42
	cfg.Model = "gpt-4o-mini"
	_, mod, err := ResolveModel(cfg)
	require.NoError(t, err)
	require.Equal(t, int64(42), mod.MaxChars)

	cfg.Model = "gpt-4o"
	_, mod, err = ResolveModel(cfg)
	require.NoError(t, err)
	require.Equal(t, int64(1000), mod.MaxChars)
}

func TestAPIKey(t *testing.T) {
	cred := credentials["openai"]

	t.Run("literal", func(t *testing.T) {
		key, err := apiKey(t.Context(), config.API{APIKey: "sk-literal"}, cred)
		require.NoError(t, err)
		require.Equal(t, "sk-literal", key)
	})
	t.Run("custom env", func(t *testing.T) {
		t.Setenv("TEST_OPENAI_KEY", "sk-env")
		key, err := apiKey(t.Context(), config.API{APIKeyEnv: "TEST_OPENAI_KEY"}, cred)
		require.NoError(t, err)
		require.Equal(t, "sk-env", key)
	})
	t.Run("default env", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-default")
		key, err := apiKey(t.Context(), config.API{}, cred)
		require.NoError(t, err)
		require.Equal(t, "sk-default", key)
	})
	t.Run("command", func(t *testing.T) {
		key, err := apiKey(t.Context(), config.API{APIKeyCmd: "echo sk-cmd"}, cred)
		require.NoError(t, err)
		require.Equal(t, "sk-cmd", key)
	})
	t.Run("missing", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := apiKey(t.Context(), config.API{}, cred)
		reason, details := errs.Parts(err)
		require.Equal(t, "OPENAI_API_KEY required; set OPENAI_API_KEY or update yagent.yml through yagent --settings.", reason)
		require.Contains(t, details, "platform.openai.com")
	})
	t.Run("optional", func(t *testing.T) {
		key, err := apiKey(t.Context(), config.API{}, credentials["ollama"])
		require.NoError(t, err)
		require.Empty(t, key)
	})
}

func TestProviderConfig(t *testing.T) {
	pcfg, err := providerConfig(t.Context(), config.API{Name: "ollama"}, config.Model{Name: "llama3", API: "ollama"})
	require.NoError(t, err)
	require.Equal(t, ollamaBaseURL, pcfg.BaseURL)

	pcfg, err = providerConfig(t.Context(), config.API{APIKey: "k", BaseURL: "https://x.openai.azure.com"}, config.Model{API: "azure-ad"})
	require.NoError(t, err)
	require.Equal(t, "azure", pcfg.API)
	require.Equal(t, "k", pcfg.APIKey)

	pcfg, err = providerConfig(t.Context(), config.API{APIKey: "k"}, config.Model{API: "google", ThinkingBudget: 512})
	require.NoError(t, err)
	require.Equal(t, 512, pcfg.ThinkingBudget)
}

func TestApplyProxyConfig(t *testing.T) {
	var pcfg fantasybridge.Config
	require.NoError(t, ApplyProxyConfig("", &pcfg))
	require.Nil(t, pcfg.HTTPClient)

	require.NoError(t, ApplyProxyConfig("http://localhost:3128", &pcfg))
	require.NotNil(t, pcfg.HTTPClient)
	tr, ok := pcfg.HTTPClient.Transport.(*http.Transport)
	require.True(t, ok)
	req, err := http.NewRequest(http.MethodGet, "https://api.openai.com", nil)
	require.NoError(t, err)
	proxy, err := tr.Proxy(req)
	require.NoError(t, err)
	require.Equal(t, "localhost:3128", proxy.Host)

	err = ApplyProxyConfig("://bad", &fantasybridge.Config{})
	reason, _ := errs.Parts(err)
	require.Equal(t, "There was an error parsing your proxy URL.", reason)
}

func TestRequestFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.User = "u1"
	cfg.MaxTokens = 100
	cfg.Temperature = 0.2
	req := RequestFromConfig(cfg, config.Model{Name: "gpt-4o"}, "be brief")
	require.Equal(t, "gpt-4o", req.Model)
	require.Equal(t, "be brief", req.System)
	require.Equal(t, "u1", req.User)
	require.NotNil(t, req.Temperature)
	require.InDelta(t, 0.2, *req.Temperature, 1e-9)
	require.Nil(t, req.TopP)
	require.Nil(t, req.TopK)
	require.Equal(t, int64(100), *req.MaxTokens)
	require.Nil(t, req.MaxCompletionTokens)

	req = RequestFromConfig(cfg, config.Model{Name: "o1-mini"}, "")
	require.Nil(t, req.MaxTokens)
}
