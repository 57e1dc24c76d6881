// Package workspace inspects the directory yagent runs in.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
)

// Type is a project ecosystem.
type Type string

// Known project types.
const (
	TypeUnknown Type = "unknown"
	TypeGo      Type = "go"
	TypeNode    Type = "node"
	TypePython  Type = "python"
	TypeRust    Type = "rust"
)

// Project describes a detected workspace.
type Project struct {
	Root         string   `json:"root"`
	Type         Type     `json:"type"`
	Name         string   `json:"name,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	ConfigFiles  []string `json:"config_files,omitempty"`
	Docs         []string `json:"docs,omitempty"`
	HasTests     bool     `json:"has_tests"`
	HasCI        bool     `json:"has_ci"`
	HasGit       bool     `json:"has_git"`
}

var configCandidates = []string{
	"go.mod", "package.json", "pyproject.toml", "requirements.txt", "setup.py",
	"Cargo.toml", "Makefile", "Dockerfile", ".golangci.yml", ".golangci.yaml",
	"tsconfig.json", ".editorconfig", ".goreleaser.yml", ".goreleaser.yaml",
}

var docCandidates = []string{
	"README.md", "README", "README.rst", "CONTRIBUTING.md", "CHANGELOG.md",
	"LICENSE", "LICENSE.md", "SECURITY.md", "docs",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "target": true,
	".venv": true, "venv": true, "dist": true, "build": true,
}

// maxWalk bounds the number of entries visited while looking for tests.
const maxWalk = 5000

// Detector detects the project rooted at a directory.
type Detector struct {
	root string
	fsys fs.FS
}

// NewDetector returns a detector for the directory root.
func NewDetector(root string) *Detector {
	return &Detector{root: root, fsys: os.DirFS(root)}
}

// NewDetectorFS returns a detector over an arbitrary file system. root is
// only reported back in Project.Root.
func NewDetectorFS(root string, fsys fs.FS) *Detector {
	return &Detector{root: root, fsys: fsys}
}

// Detect inspects the workspace. Manifests that exist but cannot be parsed
// are reported as errors; a directory with no manifest is TypeUnknown.
func (d *Detector) Detect() (Project, error) {
	p := Project{Root: d.root, Type: TypeUnknown}

	for _, name := range configCandidates {
		if d.exists(name) {
			p.ConfigFiles = append(p.ConfigFiles, name)
		}
	}
	for _, name := range docCandidates {
		if d.exists(name) {
			p.Docs = append(p.Docs, name)
		}
	}
	p.HasGit = d.exists(".git")
	p.HasCI = d.exists(".github/workflows") || d.exists(".gitlab-ci.yml") || d.exists(".circleci")

	var err error
	switch {
	case d.exists("go.mod"):
		p.Type = TypeGo
		err = d.parseGoMod(&p)
	case d.exists("package.json"):
		p.Type = TypeNode
		err = d.parsePackageJSON(&p)
	case d.exists("Cargo.toml"):
		p.Type = TypeRust
		err = d.parseCargo(&p)
	case d.exists("pyproject.toml"), d.exists("requirements.txt"), d.exists("setup.py"):
		p.Type = TypePython
		err = d.parsePython(&p)
	}
	if err != nil {
		return p, err
	}

	p.HasTests = d.hasTests(p.Type)
	slices.Sort(p.Dependencies)
	p.Dependencies = slices.Compact(p.Dependencies)
	return p, nil
}

func (d *Detector) exists(name string) bool {
	_, err := fs.Stat(d.fsys, name)
	return err == nil
}

func (d *Detector) parseGoMod(p *Project) error {
	bts, err := fs.ReadFile(d.fsys, "go.mod")
	if err != nil {
		return fmt.Errorf("read go.mod: %w", err)
	}
	f, err := modfile.Parse("go.mod", bts, nil)
	if err != nil {
		return fmt.Errorf("parse go.mod: %w", err)
	}
	if f.Module != nil {
		p.Name = f.Module.Mod.Path
	}
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		p.Dependencies = append(p.Dependencies, req.Mod.Path)
	}
	return nil
}

func (d *Detector) parsePackageJSON(p *Project) error {
	bts, err := fs.ReadFile(d.fsys, "package.json")
	if err != nil {
		return fmt.Errorf("read package.json: %w", err)
	}
	var pkg struct {
		Name            string            `json:"name"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(bts, &pkg); err != nil {
		return fmt.Errorf("parse package.json: %w", err)
	}
	p.Name = pkg.Name
	for dep := range pkg.Dependencies {
		p.Dependencies = append(p.Dependencies, dep)
	}
	for dep := range pkg.DevDependencies {
		p.Dependencies = append(p.Dependencies, dep)
	}
	return nil
}

func (d *Detector) parseCargo(p *Project) error {
	bts, err := fs.ReadFile(d.fsys, "Cargo.toml")
	if err != nil {
		return fmt.Errorf("read Cargo.toml: %w", err)
	}
	var cargo struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
		Dependencies    map[string]any `toml:"dependencies"`
		DevDependencies map[string]any `toml:"dev-dependencies"`
	}
	if err := toml.Unmarshal(bts, &cargo); err != nil {
		return fmt.Errorf("parse Cargo.toml: %w", err)
	}
	p.Name = cargo.Package.Name
	for dep := range cargo.Dependencies {
		p.Dependencies = append(p.Dependencies, dep)
	}
	for dep := range cargo.DevDependencies {
		p.Dependencies = append(p.Dependencies, dep)
	}
	return nil
}

func (d *Detector) parsePython(p *Project) error {
	if bts, err := fs.ReadFile(d.fsys, "pyproject.toml"); err == nil {
		var py struct {
			Project struct {
				Name         string   `toml:"name"`
				Dependencies []string `toml:"dependencies"`
			} `toml:"project"`
		}
		if err := toml.Unmarshal(bts, &py); err != nil {
			return fmt.Errorf("parse pyproject.toml: %w", err)
		}
		p.Name = py.Project.Name
		for _, dep := range py.Project.Dependencies {
			p.Dependencies = append(p.Dependencies, requirementName(dep))
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read pyproject.toml: %w", err)
	}

	if bts, err := fs.ReadFile(d.fsys, "requirements.txt"); err == nil {
		for line := range strings.Lines(string(bts)) {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
				continue
			}
			p.Dependencies = append(p.Dependencies, requirementName(line))
		}
	}
	return nil
}

// requirementName strips version specifiers and extras from a PEP 508
// requirement.
func requirementName(req string) string {
	end := strings.IndexAny(req, " <>=!~;[(")
	if end < 0 {
		return strings.TrimSpace(req)
	}
	return strings.TrimSpace(req[:end])
}

func (d *Detector) hasTests(t Type) bool {
	visited := 0
	found := false
	_ = fs.WalkDir(d.fsys, ".", func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		visited++
		if visited > maxWalk {
			return fs.SkipAll
		}
		name := e.Name()
		if e.IsDir() {
			if p != "." && skipDirs[name] {
				return fs.SkipDir
			}
			if name == "tests" || name == "test" || name == "__tests__" {
				found = true
				return fs.SkipAll
			}
			return nil
		}
		if isTestFile(t, name) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func isTestFile(t Type, name string) bool {
	switch t {
	case TypeGo:
		return strings.HasSuffix(name, "_test.go")
	case TypeNode:
		return strings.Contains(name, ".test.") || strings.Contains(name, ".spec.")
	case TypePython:
		return strings.HasPrefix(name, "test_") && path.Ext(name) == ".py"
	default:
		return false
	}
}
