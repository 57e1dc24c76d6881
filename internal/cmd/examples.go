package cmd

import (
	"math/rand/v2"
	"regexp"
	"slices"

	"github.com/dotcommander/yagent/internal/present"
)

var examples = map[string]string{
	"Explain a failing test":       `go test ./... 2>&1 | yagent "why does this fail? read the code it points at"`,
	"Tidy up a module":             `yagent "find unused exported functions in this repo and list them by package"`,
	"Ask about a file you pipe in": `cat go.mod | yagent -q "which of these dependencies look outdated?"`,
	"Keep going where you left":    `yagent -C "now write the tests for it"`,
}

var (
	quoteRe = regexp.MustCompile(`"([^"\\]|\\.)*"`)
	pipeRe  = regexp.MustCompile(`\|`)
)

func randomExample() string {
	keys := make([]string, 0, len(examples))
	for k := range examples {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys[rand.IntN(len(keys))] //nolint:gosec
}

func cheapHighlighting(s present.Styles, code string) string {
	code = quoteRe.ReplaceAllStringFunc(code, func(x string) string {
		return s.Quote.Render(x)
	})
	return pipeRe.ReplaceAllStringFunc(code, func(x string) string {
		return s.Pipe.Render(x)
	})
}
