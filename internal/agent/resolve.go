package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/go-shellwords"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/fantasybridge"
	"github.com/dotcommander/yagent/internal/provider"
)

// credential describes where the key of an API comes from.
type credential struct {
	env      string // fallback environment variable, empty when no key is needed
	docs     string
	title    string
	optional bool
}

var credentials = map[string]credential{
	"openai":     {env: "OPENAI_API_KEY", docs: "https://platform.openai.com/account/api-keys", title: "OpenAI"},
	"anthropic":  {env: "ANTHROPIC_API_KEY", docs: "https://console.anthropic.com/settings/keys", title: "Anthropic"},
	"google":     {env: "GOOGLE_API_KEY", docs: "https://aistudio.google.com/app/apikey", title: "Google"},
	"openrouter": {env: "OPENROUTER_API_KEY", docs: "https://openrouter.ai/keys", title: "OpenRouter"},
	"vercel":     {env: "VERCEL_API_KEY", docs: "https://vercel.com/dashboard/tokens", title: "Vercel AI Gateway"},
	"cohere":     {env: "COHERE_API_KEY", docs: "https://dashboard.cohere.com/api-keys", title: "Cohere"},
	"azure":      {env: "AZURE_OPENAI_KEY", docs: "https://aka.ms/oai/access", title: "Azure"},
	"azure-ad":   {env: "AZURE_OPENAI_KEY", docs: "https://aka.ms/oai/access", title: "Azure"},
	"bedrock":    {title: "Bedrock", optional: true},
	"ollama":     {title: "Ollama", optional: true},
}

const ollamaBaseURL = "http://localhost:11434/v1"

// NewProvider resolves the configured model and builds the provider that
// serves it.
func NewProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, config.Model, error) {
	api, mod, err := ResolveModel(cfg)
	if err != nil {
		return nil, config.Model{}, err
	}
	pcfg, err := providerConfig(ctx, api, mod)
	if err != nil {
		return nil, config.Model{}, err
	}
	if err := ApplyProxyConfig(cfg.HTTPProxy, &pcfg); err != nil {
		return nil, config.Model{}, err
	}
	if api.User != "" && cfg.User == "" {
		cfg.User = api.User
	}
	client, err := fantasybridge.New(pcfg)
	if err != nil {
		return nil, config.Model{}, errs.Wrap(err, fmt.Sprintf("Could not create the %s provider.", mod.API))
	}
	return client.WithLogger(logger), mod, nil
}

// ResolveModel finds the API and model named by cfg, following aliases. It
// updates cfg with the canonical names.
func ResolveModel(cfg *config.Config) (config.API, config.Model, error) {
	for _, api := range cfg.APIs {
		if cfg.API != "" && api.Name != cfg.API {
			continue
		}
		name, mod, ok := lookupModel(api, cfg.Model)
		if ok {
			mod.Name = name
			mod.API = api.Name
			if mod.MaxChars == 0 {
				mod.MaxChars = cfg.MaxInputChars
			}
			cfg.API, cfg.Model = api.Name, name
			return api, mod, nil
		}
		if cfg.API != "" {
			available := make([]string, 0, len(api.Models))
			for name := range api.Models {
				available = append(available, name)
			}
			slices.Sort(available)
			return config.API{}, config.Model{}, errs.Error{
				Err:    errs.UserErrorf("Available models are: %s", strings.Join(available, ", ")),
				Reason: fmt.Sprintf("The API endpoint %s does not contain the model %s", cfg.API, cfg.Model),
			}
		}
	}
	return config.API{}, config.Model{}, errs.Error{
		Reason: fmt.Sprintf("Model %s is not in the settings file.", cfg.Model),
		Err:    errs.UserErrorf("Please specify an API endpoint with --api or configure the model in the settings: yagent --settings"),
	}
}

func lookupModel(api config.API, want string) (string, config.Model, bool) {
	if mod, ok := api.Models[want]; ok {
		return want, mod, true
	}
	names := make([]string, 0, len(api.Models))
	for name := range api.Models {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if slices.Contains(api.Models[name].Aliases, want) {
			return name, api.Models[name], true
		}
	}
	return "", config.Model{}, false
}

func providerConfig(ctx context.Context, api config.API, mod config.Model) (fantasybridge.Config, error) {
	cred, ok := credentials[mod.API]
	if !ok {
		// Unknown APIs are OpenAI compatible endpoints.
		cred = credentials["openai"]
	}
	key, err := apiKey(ctx, api, cred)
	if err != nil {
		return fantasybridge.Config{}, errs.Wrap(err, cred.title+" authentication failed")
	}

	pcfg := fantasybridge.Config{
		API:            mod.API,
		APIKey:         key,
		BaseURL:        api.BaseURL,
		ThinkingBudget: mod.ThinkingBudget,
	}
	switch mod.API {
	case "azure-ad":
		pcfg.API = "azure"
	case "ollama":
		if pcfg.BaseURL == "" {
			pcfg.BaseURL = ollamaBaseURL
		}
	}
	return pcfg, nil
}

// ApplyProxyConfig configures the provider HTTP client to use an HTTP proxy.
func ApplyProxyConfig(httpProxy string, pcfg *fantasybridge.Config) error {
	if httpProxy == "" {
		return nil
	}
	proxyURL, err := url.Parse(httpProxy)
	if err != nil || proxyURL.Host == "" {
		if err == nil {
			err = fmt.Errorf("missing host in %q", httpProxy)
		}
		return errs.Error{Err: err, Reason: "There was an error parsing your proxy URL."}
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return errs.Error{Err: fmt.Errorf("default transport is %T", http.DefaultTransport), Reason: "Could not configure proxy."}
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxyURL)
	tr.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext //nolint:mnd
	tr.TLSHandshakeTimeout = 10 * time.Second                                                        //nolint:mnd
	tr.ResponseHeaderTimeout = 30 * time.Second                                                      //nolint:mnd
	tr.IdleConnTimeout = 90 * time.Second                                                            //nolint:mnd
	pcfg.HTTPClient = &http.Client{Transport: tr}
	return nil
}

// apiKey resolves the key of api: the literal key, then api-key-cmd or
// api-key-env, then the provider's default environment variable.
func apiKey(ctx context.Context, api config.API, cred credential) (string, error) {
	key := api.APIKey
	if key == "" && api.APIKeyCmd != "" {
		args, err := shellwords.Parse(api.APIKeyCmd)
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Failed to parse api-key-cmd"}
		}
		if len(args) == 0 {
			return "", errs.Error{Err: errs.UserErrorf("api-key-cmd is empty"), Reason: "Failed to parse api-key-cmd"}
		}
		// #nosec G204 -- api-key-cmd is explicitly configured by the local user.
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Cannot exec api-key-cmd"}
		}
		key = strings.TrimSpace(string(out))
	}
	if key == "" && api.APIKeyEnv != "" {
		key = os.Getenv(api.APIKeyEnv)
	}
	if key == "" && cred.env != "" {
		key = os.Getenv(cred.env)
	}
	if key != "" || cred.optional {
		return key, nil
	}
	return "", errs.Error{
		Reason: fmt.Sprintf("%s required; set %s or update yagent.yml through yagent --settings.", cred.env, cred.env),
		Err:    errs.UserErrorf("You can grab one at %s", cred.docs),
	}
}

// RequestFromConfig builds the request template of a Loop. Negative sampling
// parameters mean the provider default.
func RequestFromConfig(cfg *config.Config, mod config.Model, system string) provider.Request {
	req := provider.Request{
		Model:  mod.Name,
		System: system,
		User:   cfg.User,
	}
	if cfg.Temperature >= 0 {
		v := cfg.Temperature
		req.Temperature = &v
	}
	if cfg.TopP >= 0 {
		v := cfg.TopP
		req.TopP = &v
	}
	if cfg.TopK >= 0 {
		v := cfg.TopK
		req.TopK = &v
	}
	// o1 models do not accept max_tokens.
	if cfg.MaxTokens > 0 && !strings.HasPrefix(mod.Name, "o1") {
		v := cfg.MaxTokens
		req.MaxTokens = &v
	}
	if cfg.MaxCompletionTokens > 0 {
		v := cfg.MaxCompletionTokens
		req.MaxCompletionTokens = &v
	}
	return req
}

// OptionsFromConfig builds Loop options from cfg.
func OptionsFromConfig(cfg *config.Config, req provider.Request, logger *slog.Logger) Options {
	return Options{
		Request:    req,
		MaxTurns:   cfg.MaxTurns,
		MaxRetries: cfg.MaxRetries,
		Sequential: cfg.SequentialTools,
		NoTools:    cfg.NoTools,
		Backoff:    fantasybridge.WaitRetry,
		Logger:     logger,
	}
}
