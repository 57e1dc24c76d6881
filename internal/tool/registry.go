package tool

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dotcommander/yagent/internal/proto"
)

// Registry maps tool names to descriptors.
//
// Readers always see a complete, immutable Snapshot; writers build a new
// snapshot per change and swap it in, so a registration is never partially
// visible.
type Registry struct {
	mu      sync.Mutex // serializes writers
	sources map[string][]Descriptor
	snap    atomic.Pointer[Snapshot]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{sources: map[string][]Descriptor{}}
	r.snap.Store(&Snapshot{tools: map[string]Descriptor{}})
	return r
}

// Register adds one built-in tool.
func (r *Registry) Register(d Descriptor) error {
	if d.Source == "" {
		d.Source = SourceBuiltin
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append(slices.Clone(r.sources[d.Source]), d)
	return r.installLocked(d.Source, next)
}

// ErrReservedSource is returned when a source set operation names the
// built-in source or no source at all.
var ErrReservedSource = errors.New("reserved tool source")

// ReplaceSource atomically installs the complete tool set of source,
// replacing whatever it registered before. Either every descriptor is
// installed or none is. Built-in tools are only added through Register.
func (r *Registry) ReplaceSource(source string, ds []Descriptor) error {
	if source == "" || source == SourceBuiltin {
		return fmt.Errorf("replace %q: %w", source, ErrReservedSource)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Descriptor, len(ds))
	for i, d := range ds {
		d.Source = source
		next[i] = d
	}
	return r.installLocked(source, next)
}

// RemoveSource revokes every tool registered by source and reports how many
// were removed. Built-in tools are never removed.
func (r *Registry) RemoveSource(source string) int {
	if source == SourceBuiltin {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.sources[source])
	if n == 0 {
		return 0
	}
	delete(r.sources, source)
	r.snap.Store(buildSnapshot(r.sources))
	return n
}

func (r *Registry) installLocked(source string, ds []Descriptor) error {
	owners := map[string]string{}
	for src, tools := range r.sources {
		if src == source {
			continue
		}
		for _, d := range tools {
			owners[d.Name] = src
		}
	}

	compiled := make([]Descriptor, 0, len(ds))
	for _, d := range ds {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("register %s: tool name is empty", source)
		}
		if d.Backend == nil {
			return fmt.Errorf("register %s: tool %q has no backend", source, d.Name)
		}
		if owner, taken := owners[d.Name]; taken {
			return &DuplicateToolError{Name: d.Name, Source: source, Existing: owner}
		}
		owners[d.Name] = source

		schema, err := compileSchema(d.InputSchema)
		if err != nil {
			return fmt.Errorf("register %s: tool %q: %w", source, d.Name, err)
		}
		d.schema = schema
		compiled = append(compiled, d)
	}

	r.sources[source] = compiled
	r.snap.Store(buildSnapshot(r.sources))
	return nil
}

// Snapshot returns the current point-in-time view of the registry.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	d, ok := r.Snapshot().Lookup(name)
	if !ok {
		return Descriptor{}, &UnknownToolError{Name: name}
	}
	return d, nil
}

// Sources returns the names of all sources with registered tools.
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := slices.Collect(maps.Keys(r.sources))
	slices.Sort(names)
	return names
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	tools map[string]Descriptor
	names []string
}

func buildSnapshot(sources map[string][]Descriptor) *Snapshot {
	s := &Snapshot{tools: map[string]Descriptor{}}
	for _, ds := range sources {
		for _, d := range ds {
			s.tools[d.Name] = d
		}
	}
	s.names = slices.Sorted(maps.Keys(s.tools))
	return s
}

// All iterates the descriptors in name order. The sequence can be ranged over
// any number of times and always yields the same content.
func (s *Snapshot) All() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for _, name := range s.names {
			if !yield(s.tools[name]) {
				return
			}
		}
	}
}

// List returns the descriptors in name order.
func (s *Snapshot) List() []Descriptor {
	return slices.Collect(s.All())
}

// Lookup returns the descriptor registered under name.
func (s *Snapshot) Lookup(name string) (Descriptor, bool) {
	d, ok := s.tools[name]
	return d, ok
}

// Len returns the number of tools.
func (s *Snapshot) Len() int {
	return len(s.names)
}

// Specs returns the provider-facing tool list.
func (s *Snapshot) Specs() []proto.ToolSpec {
	specs := make([]proto.ToolSpec, 0, len(s.names))
	for d := range s.All() {
		specs = append(specs, d.Spec())
	}
	return specs
}
