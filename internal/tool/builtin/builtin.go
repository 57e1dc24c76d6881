// Package builtin contains the in-process tools yagent ships with.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dotcommander/yagent/internal/tool"
	"github.com/dotcommander/yagent/internal/workspace"
)

// Focus areas accepted by suggest_project_improvements.
const (
	FocusSecurity      = "security"
	FocusTesting       = "testing"
	FocusDocumentation = "documentation"
	FocusDependencies  = "dependencies"
	FocusAll           = "all"
)

var focusAreas = []string{FocusSecurity, FocusTesting, FocusDocumentation, FocusDependencies, FocusAll}

// All returns every built-in tool bound to project.
func All(project workspace.Project) []tool.Tool {
	return []tool.Tool{
		&ProjectInfo{Project: project},
		&Suggest{Project: project},
	}
}

// Register adds every built-in tool to the registry.
func Register(r *tool.Registry, project workspace.Project) error {
	var errs []error
	for _, t := range All(project) {
		if err := r.Register(tool.Builtin(t)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProjectInfo reports what was detected about the workspace.
type ProjectInfo struct {
	Project workspace.Project
}

func (*ProjectInfo) Name() string { return "project_info" }

func (*ProjectInfo) Description() string {
	return "Describe the current project: its type, name, dependencies, configuration files and documentation."
}

func (*ProjectInfo) InputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

func (t *ProjectInfo) Execute(context.Context, map[string]any) (tool.Result, error) {
	p := t.Project
	msg := fmt.Sprintf("%s project", p.Type)
	if p.Name != "" {
		msg += " " + p.Name
	}
	msg += fmt.Sprintf(" with %d dependencies", len(p.Dependencies))
	return tool.Result{Success: true, Data: p, Message: msg}, nil
}

// Suggest proposes improvements to the workspace.
type Suggest struct {
	Project workspace.Project
}

// Suggestion is one proposed improvement.
type Suggestion struct {
	Area   string `json:"area"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (*Suggest) Name() string { return "suggest_project_improvements" }

func (*Suggest) Description() string {
	return "Suggest improvements to the current project in one focus area: " + strings.Join(focusAreas, ", ") + "."
}

func (*Suggest) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"focus": map[string]any{
				"type":        "string",
				"enum":        toAny(focusAreas),
				"description": "Area to focus on; defaults to all.",
			},
		},
		"additionalProperties": false,
	}
}

func (t *Suggest) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	focus, _ := args["focus"].(string)
	if focus == "" {
		focus = FocusAll
	}
	if !slices.Contains(focusAreas, focus) {
		return tool.Result{}, fmt.Errorf("unknown focus %q", focus)
	}

	var out []Suggestion
	for _, area := range focusAreas[:len(focusAreas)-1] {
		if focus != FocusAll && focus != area {
			continue
		}
		if err := ctx.Err(); err != nil {
			return tool.Result{}, err
		}
		out = append(out, suggestFor(area, t.Project)...)
	}

	msg := fmt.Sprintf("%d suggestions for %s", len(out), focus)
	if len(out) == 0 {
		msg = "nothing to suggest for " + focus
	}
	data := map[string]any{"focus": focus, "suggestions": out}
	return tool.Result{Success: true, Data: data, Message: msg}, nil
}

func suggestFor(area string, p workspace.Project) []Suggestion {
	var out []Suggestion
	add := func(title, detail string) {
		out = append(out, Suggestion{Area: area, Title: title, Detail: detail})
	}
	has := func(list []string, name string) bool { return slices.Contains(list, name) }

	switch area {
	case FocusSecurity:
		if !has(p.Docs, "SECURITY.md") {
			add("Add a security policy", "Create SECURITY.md describing how to report vulnerabilities.")
		}
		switch p.Type {
		case workspace.TypeGo:
			add("Scan for known vulnerabilities", "Run govulncheck ./... in CI.")
		case workspace.TypeNode:
			add("Audit dependencies", "Run npm audit in CI and fail on high severity advisories.")
		case workspace.TypePython:
			add("Audit dependencies", "Run pip-audit against the locked requirements.")
		case workspace.TypeRust:
			add("Audit dependencies", "Run cargo audit in CI.")
		}
	case FocusTesting:
		if !p.HasTests {
			add("Add tests", "No test files were found in the project.")
		}
		if !p.HasCI {
			add("Run tests in CI", "No CI configuration was found; run the test suite on every push.")
		}
	case FocusDocumentation:
		if !has(p.Docs, "README.md") && !has(p.Docs, "README") && !has(p.Docs, "README.rst") {
			add("Add a README", "Describe what the project does and how to build it.")
		}
		if !has(p.Docs, "LICENSE") && !has(p.Docs, "LICENSE.md") {
			add("Add a license", "Without a LICENSE file others cannot legally reuse the code.")
		}
		if !has(p.Docs, "CONTRIBUTING.md") {
			add("Add contribution guidelines", "Create CONTRIBUTING.md explaining how to propose changes.")
		}
	case FocusDependencies:
		switch {
		case p.Type == workspace.TypeUnknown:
			add("Declare dependencies", "No dependency manifest was found.")
		case len(p.Dependencies) > 50: //nolint:mnd
			add("Review dependency count", fmt.Sprintf("The project declares %d direct dependencies; consider pruning unused ones.", len(p.Dependencies)))
		}
		if p.Type == workspace.TypePython && !has(p.ConfigFiles, "pyproject.toml") {
			add("Adopt pyproject.toml", "Move dependency metadata into pyproject.toml.")
		}
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
