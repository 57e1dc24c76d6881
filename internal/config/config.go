package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	stdstrings "strings"
	"text/template"
	"time"

	_ "embed"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/yagent/internal/errs"
)

//go:embed config_template.yml
var configTemplate string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "YAGENT_"

// Model represents the LLM model used in the API call.
type Model struct {
	Name           string
	API            string
	MaxChars       int64    `yaml:"max-input-chars"`
	Aliases        []string `yaml:"aliases"`
	ThinkingBudget int      `yaml:"thinking-budget,omitempty"`
}

// API represents an API endpoint and its models.
type API struct {
	Name      string
	APIKey    string           `yaml:"api-key"`
	APIKeyEnv string           `yaml:"api-key-env"`
	APIKeyCmd string           `yaml:"api-key-cmd"`
	BaseURL   string           `yaml:"base-url"`
	Models    map[string]Model `yaml:"models"`
	User      string           `yaml:"user"`
}

// APIs keeps the order APIs are declared in the settings file.
type APIs []API

// UnmarshalYAML implements sorted API YAML decoding.
func (apis *APIs) UnmarshalYAML(node *yaml.Node) error {
	*apis = (*apis)[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		var api API
		if err := node.Content[i+1].Decode(&api); err != nil {
			return fmt.Errorf("error decoding YAML file: %w", err)
		}
		api.Name = node.Content[i].Value
		*apis = append(*apis, api)
	}
	return nil
}

// Settings holds persisted configuration loaded from the YAML settings file
// and environment variables.
type Settings struct {
	API                 string              `yaml:"default-api" env:"API"`
	Model               string              `yaml:"default-model" env:"MODEL"`
	System              string              `yaml:"system" env:"SYSTEM"`
	Role                string              `yaml:"role" env:"ROLE"`
	Roles               map[string][]string `yaml:"roles"`
	Quiet               bool                `yaml:"quiet" env:"QUIET"`
	MaxTokens           int64               `yaml:"max-tokens" env:"MAX_TOKENS"`
	MaxCompletionTokens int64               `yaml:"max-completion-tokens" env:"MAX_COMPLETION_TOKENS"`
	MaxInputChars       int64               `yaml:"max-input-chars" env:"MAX_INPUT_CHARS"`
	Temperature         float64             `yaml:"temp" env:"TEMP"`
	TopP                float64             `yaml:"topp" env:"TOPP"`
	TopK                int64               `yaml:"topk" env:"TOPK"`
	MaxRetries          int                 `yaml:"max-retries" env:"MAX_RETRIES"`
	MaxTurns            int                 `yaml:"max-turns" env:"MAX_TURNS"`
	ToolTimeout         time.Duration       `yaml:"tool-timeout" env:"TOOL_TIMEOUT"`
	SequentialTools     bool                `yaml:"sequential-tools" env:"SEQUENTIAL_TOOLS"`
	NoTools             bool                `yaml:"no-tools" env:"NO_TOOLS"`
	CachePath           string              `yaml:"cache-path" env:"CACHE_PATH"`
	NoCache             bool                `yaml:"no-cache" env:"NO_CACHE"`
	LogLevel            string              `yaml:"log-level" env:"LOG_LEVEL"`
	LogFile             string              `yaml:"log-file" env:"LOG_FILE"`
	WordWrap            int                 `yaml:"word-wrap" env:"WORD_WRAP"`
	HTTPProxy           string              `yaml:"http-proxy" env:"HTTP_PROXY"`
	User                string              `yaml:"user" env:"USER_ID"`
	APIs                APIs                `yaml:"apis"`

	MCPServers      map[string]MCPServerConfig `yaml:"mcp-servers"`
	MCPDisable      []string                   `yaml:"mcp-disable" env:"MCP_DISABLE"`
	MCPTimeout      time.Duration              `yaml:"mcp-timeout" env:"MCP_TIMEOUT"`
	MCPNoInheritEnv bool                       `yaml:"mcp-no-inherit-env" env:"MCP_NO_INHERIT_ENV"`
}

// Runtime holds CLI/runtime-only options that should not be loaded from the
// settings file.
type Runtime struct {
	ShowHelp      bool
	Version       bool
	SettingsPath  string
	ContinueLast  bool
	Continue      string
	Title         string
	Raw           bool
}

// Config is the application configuration (settings + runtime-only options).
//
// Settings fields are promoted for ergonomic access, but runtime fields are
// explicitly excluded from YAML/env parsing.
type Config struct {
	Settings `yaml:",inline"`
	Runtime  `yaml:"-" env:"-"`
}

// MCPServerConfig holds configuration for an MCP server.
type MCPServerConfig struct {
	Type    string   `yaml:"type"`
	Command string   `yaml:"command"`
	Env     []string `yaml:"env"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
	Headers []string `yaml:"headers"`
}

// Ensure loads settings from disk and environment and applies defaults.
//
// It also creates the default settings file if it does not exist.
func Ensure() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), errs.Error{Err: err, Reason: "Could not determine home directory."}
	}
	return Load(filepath.Join(home, ".config", "yagent", "yagent.yml"))
}

// Load reads the settings file at path, creating it from the template when
// missing, then applies environment overrides and defaults.
func Load(path string) (Config, error) {
	c := Default()
	c.SettingsPath = path

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not create config directory."}
	}
	if err := WriteConfigFile(path); err != nil {
		return c, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return c, errs.Error{Err: err, Reason: "Could not read settings file."}
	}
	if err := yaml.Unmarshal(content, &c); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse settings file."}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not parse environment into settings file."}
	}
	if err := MergeRolesFromDir(&c); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not load roles from roles directory."}
	}

	if c.CachePath == "" {
		c.CachePath = filepath.Join(filepath.Dir(path), "history")
	}
	if err := os.MkdirAll(filepath.Join(c.CachePath, "conversations"), 0o700); err != nil {
		return c, errs.Error{Err: err, Reason: "Could not create cache directory."}
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.CachePath, "yagent.log")
	}

	if err := c.Validate(); err != nil {
		return c, errs.Error{Err: err, Reason: "Invalid settings."}
	}
	return c, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var problems []error
	if c.MaxTurns <= 0 {
		problems = append(problems, fmt.Errorf("max-turns must be positive, got %d", c.MaxTurns))
	}
	if c.MaxRetries < 0 {
		problems = append(problems, fmt.Errorf("max-retries must not be negative, got %d", c.MaxRetries))
	}
	if c.ToolTimeout <= 0 {
		problems = append(problems, fmt.Errorf("tool-timeout must be positive, got %s", c.ToolTimeout))
	}
	for name, srv := range c.MCPServers {
		switch srv.Type {
		case "", "stdio":
			if srv.Command == "" {
				problems = append(problems, fmt.Errorf("mcp server %q: command is required", name))
			}
		case "sse", "http":
			if srv.URL == "" {
				problems = append(problems, fmt.Errorf("mcp server %q: url is required", name))
			}
		default:
			problems = append(problems, fmt.Errorf("mcp server %q: unsupported type %q", name, srv.Type))
		}
	}
	return errors.Join(problems...)
}

// SystemPrompt assembles the system message from the configured system text
// and role.
func (c *Config) SystemPrompt() (string, error) {
	var parts []string
	if c.System != "" {
		content, err := LoadMsg(c.System)
		if err != nil {
			return "", errs.Error{Err: err, Reason: "Could not load system prompt"}
		}
		parts = append(parts, content)
	}
	if c.Role != "" {
		setup, ok := c.Roles[c.Role]
		if !ok {
			return "", errs.Error{Err: fmt.Errorf("role %q does not exist", c.Role), Reason: "Could not use role"}
		}
		for _, msg := range setup {
			content, err := LoadMsg(msg)
			if err != nil {
				return "", errs.Error{Err: err, Reason: "Could not use role"}
			}
			parts = append(parts, content)
		}
	}
	return stdstrings.Join(parts, "\n\n"), nil
}

// MergeRolesFromDir merges role definitions from the roles directory next to
// the settings file. Roles defined in the settings file win.
func MergeRolesFromDir(cfg *Config) error {
	roles, err := readRolesFromDir(filepath.Join(filepath.Dir(cfg.SettingsPath), "roles"))
	if err != nil || len(roles) == 0 {
		return err
	}
	if cfg.Roles == nil {
		cfg.Roles = map[string][]string{}
	}
	for name, setup := range roles {
		if _, exists := cfg.Roles[name]; !exists {
			cfg.Roles[name] = setup
		}
	}
	return nil
}

func readRolesFromDir(dir string) (map[string][]string, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read roles directory %q: %w", dir, err)
	}

	roles := map[string][]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		ext := stdstrings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".yml" && ext != ".yaml" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("resolve role path %q: %w", path, err)
		}
		name := stdstrings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
		if ext == ".md" {
			roles[name] = []string{"file://" + path}
			return nil
		}
		bts, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read role file %q: %w", rel, err)
		}
		var setup []string
		if err := yaml.Unmarshal(bts, &setup); err != nil {
			var single string
			if err := yaml.Unmarshal(bts, &single); err != nil {
				return fmt.Errorf("role file %q: must be a YAML string or string list", rel)
			}
			setup = []string{single}
		}
		roles[name] = setup
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read roles directory %q: %w", dir, err)
	}
	return roles, nil
}

// WriteConfigFile creates the config file at path if it does not exist.
func WriteConfigFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createConfigFile(path)
	} else if err != nil {
		return errs.Error{Err: err, Reason: "Could not stat path."}
	}
	return nil
}

// ResetConfigFile replaces the settings file with the default template.
func ResetConfigFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Error{Err: err, Reason: "Could not remove settings file."}
	}
	return createConfigFile(path)
}

func createConfigFile(path string) error {
	tmpl := template.Must(template.New("config").Parse(configTemplate))

	f, err := os.Create(path)
	if err != nil {
		return errs.Error{Err: err, Reason: "Could not create configuration file."}
	}
	defer func() { _ = f.Close() }()

	m := struct{ Config Config }{Config: Default()}
	if err := tmpl.Execute(f, m); err != nil {
		return errs.Error{Err: err, Reason: "Could not render template."}
	}
	return nil
}

// Default returns the default configuration values.
func Default() Config {
	return Config{
		Settings: Settings{
			API:         "openai",
			Model:       "gpt-4o",
			Temperature: -1,
			TopP:        -1,
			TopK:        -1,
			MaxRetries:  3,
			MaxTurns:    25,
			ToolTimeout: 30 * time.Second,
			MCPTimeout:  15 * time.Second,
			LogLevel:    "info",
			WordWrap:    80,
		},
	}
}
