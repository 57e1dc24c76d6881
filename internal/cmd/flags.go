package cmd

import (
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/duration"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/present"
)

var helpText = map[string]string{
	"api":                   "OpenAI compatible REST API (openai, anthropic, google, ollama, etc.)",
	"model":                 "Default model (gpt-4o, claude-sonnet-4, etc.)",
	"http-proxy":            "HTTP proxy to use for API requests",
	"role":                  "System role to use",
	"continue":              "Continue from a saved conversation (by id or title)",
	"continue-last":         "Continue the last saved conversation",
	"title":                 "Title of the saved conversation",
	"no-cache":              "Do not save the conversation",
	"max-tokens":            "Maximum number of tokens in response",
	"max-completion-tokens": "Maximum number of completion tokens, for reasoning models",
	"temp":                  "Temperature (randomness) of results, from 0.0 to 2.0, -1.0 to disable",
	"topp":                  "TopP, an alternative to temperature that narrows response, from 0.0 to 1.0, -1.0 to disable",
	"topk":                  "TopK, only sample from the top K options for each subsequent token, -1 to disable",
	"max-retries":           "Maximum number of retries of a failed model request",
	"max-turns":             "Maximum number of model requests in one exchange",
	"tool-timeout":          "Maximum duration of one tool call; e.g. 30s, 2m",
	"sequential-tools":      "Run the tool calls of a turn one at a time",
	"no-tools":              "Do not offer any tool to the model",
	"word-wrap":             "Wrap formatted output at specific width",
	"mcp-disable":           "Disable specific MCP servers",
	"mcp-no-inherit-env":    "Do not pass the environment to stdio MCP servers",
	"quiet":                 "Quiet mode (hide tool activity and notices)",
	"raw":                   "Print the answer as plain text, without markdown formatting",
	"help":                  "Show help and exit",
	"version":               "Show version and exit",
}

func desc(name string) string {
	return present.StdoutStyles().FlagDesc.Render(helpText[name])
}

func initRootFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	initSessionFlags(cmd, cfg)
	flags.BoolVarP(&cfg.ShowHelp, "help", "h", false, desc("help"))
	flags.BoolVarP(&cfg.Version, "version", "v", false, desc("version"))
	flags.BoolVar(&memprofile, "memprofile", false, "Write memory profiles to CWD")
	_ = flags.MarkHidden("memprofile")
}

// initSessionFlags registers the flags shared by one-shot prompts and chat.
func initSessionFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	flags.StringVarP(&cfg.Model, "model", "m", cfg.Model, desc("model"))
	flags.StringVarP(&cfg.API, "api", "a", cfg.API, desc("api"))
	flags.StringVarP(&cfg.HTTPProxy, "http-proxy", "x", cfg.HTTPProxy, desc("http-proxy"))
	flags.StringVarP(&cfg.Role, "role", "R", cfg.Role, desc("role"))
	flags.StringVarP(&cfg.Continue, "continue", "c", "", desc("continue"))
	flags.BoolVarP(&cfg.ContinueLast, "continue-last", "C", false, desc("continue-last"))
	flags.StringVarP(&cfg.Title, "title", "t", cfg.Title, desc("title"))
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, desc("quiet"))
	flags.BoolVarP(&cfg.Raw, "raw", "r", cfg.Raw, desc("raw"))
	flags.BoolVar(&cfg.NoCache, "no-cache", cfg.NoCache, desc("no-cache"))
	flags.Int64Var(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, desc("max-tokens"))
	flags.Int64Var(&cfg.MaxCompletionTokens, "max-completion-tokens", cfg.MaxCompletionTokens, desc("max-completion-tokens"))
	flags.Float64Var(&cfg.Temperature, "temp", cfg.Temperature, desc("temp"))
	flags.Float64Var(&cfg.TopP, "topp", cfg.TopP, desc("topp"))
	flags.Int64Var(&cfg.TopK, "topk", cfg.TopK, desc("topk"))
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, desc("max-retries"))
	flags.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, desc("max-turns"))
	flags.Var(newDurationFlag(cfg.ToolTimeout, &cfg.ToolTimeout), "tool-timeout", desc("tool-timeout"))
	flags.BoolVar(&cfg.SequentialTools, "sequential-tools", cfg.SequentialTools, desc("sequential-tools"))
	flags.BoolVar(&cfg.NoTools, "no-tools", cfg.NoTools, desc("no-tools"))
	flags.IntVar(&cfg.WordWrap, "word-wrap", cfg.WordWrap, desc("word-wrap"))
	flags.StringArrayVar(&cfg.MCPDisable, "mcp-disable", cfg.MCPDisable, desc("mcp-disable"))
	flags.BoolVar(&cfg.MCPNoInheritEnv, "mcp-no-inherit-env", cfg.MCPNoInheritEnv, desc("mcp-no-inherit-env"))
	flags.SortFlags = false

	_ = cmd.RegisterFlagCompletionFunc("continue", func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if cfg.CachePath == "" {
			return nil, cobra.ShellCompDirectiveDefault
		}
		store, err := openConversationStore(cfg.CachePath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveDefault
		}
		return store.DB.Completions(toComplete), cobra.ShellCompDirectiveDefault
	})
	_ = cmd.RegisterFlagCompletionFunc("role", func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return roleNames(cfg, toComplete), cobra.ShellCompDirectiveDefault
	})

	cmd.MarkFlagsMutuallyExclusive("continue", "continue-last")
}

type flagParseError struct {
	err    error
	reason string
	flag   string
}

var invalidArgRe = regexp.MustCompile(`invalid argument ".*?" for "(.*?)" flag:`)

func newFlagParseError(err error) flagParseError {
	var reason, flag string
	s := err.Error()
	switch {
	case strings.HasPrefix(s, "flag needs an argument:"):
		reason = "Flag %s needs an argument."
		flag = s[strings.LastIndex(s, " ")+1:]
	case strings.HasPrefix(s, "unknown flag:"):
		reason = "Flag %s is missing."
		flag = strings.TrimSpace(strings.TrimPrefix(s, "unknown flag:"))
	case strings.HasPrefix(s, "unknown shorthand flag:"):
		reason = "Short flag %s is missing."
		flag = s[strings.LastIndex(s, " ")+1:]
	case strings.HasPrefix(s, "invalid argument"):
		reason = "Flag %s have an invalid argument."
		if parts := invalidArgRe.FindStringSubmatch(s); len(parts) > 1 {
			flag = parts[1]
		}
	default:
		reason = s
	}
	return flagParseError{err: err, reason: reason, flag: flag}
}

func (f flagParseError) Error() string {
	return f.err.Error()
}

func (f flagParseError) ReasonFormat() string {
	return f.reason
}

func (f flagParseError) Flag() string {
	return f.flag
}

// durationFlag is a time.Duration flag that also accepts days and weeks.
type durationFlag time.Duration

func newDurationFlag(val time.Duration, p *time.Duration) *durationFlag {
	*p = val
	return (*durationFlag)(p)
}

func (d *durationFlag) Set(s string) error {
	v, err := duration.Parse(s)
	*d = durationFlag(v)
	//nolint: wrapcheck
	return err
}

func (d *durationFlag) String() string {
	return time.Duration(*d).String()
}

func (*durationFlag) Type() string {
	return "duration"
}

var _ flag.Value = (*durationFlag)(nil)
