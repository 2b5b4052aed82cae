package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// Registry maps (category, name) to plugin factories.
// Registration order within a category is the enumeration order.
type Registry struct {
	mu        sync.RWMutex
	factories map[Category]map[string]Factory
	order     map[Category][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Category]map[string]Factory),
		order:     make(map[Category][]string),
	}
}

// Register adds a plugin factory under category.
func (r *Registry) Register(category Category, name string, factory Factory) error {
	if !category.IsValid() {
		return fmt.Errorf("registering %q: %w %q", name, ErrUnknownCategory, category)
	}
	if name == "" {
		return fmt.Errorf("registering plugin in %s: name is required", category)
	}
	if factory == nil {
		return fmt.Errorf("registering plugin %s/%s: factory is nil", category, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName := r.factories[category]
	if byName == nil {
		byName = make(map[string]Factory)
		r.factories[category] = byName
	}
	if _, exists := byName[name]; exists {
		return fmt.Errorf("plugin %s/%s already registered", category, name)
	}

	byName[name] = factory
	r.order[category] = append(r.order[category], name)
	return nil
}

// List returns the plugin names registered under category, in registration order.
func (r *Registry) List(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.order[category]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Len returns the total number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, names := range r.order {
		n += len(names)
	}
	return n
}

// Load constructs the named plugin. Every failure, including a panicking
// factory, is returned as a *LoadError.
func (r *Registry) Load(category Category, name string) (p Plugin, err error) {
	r.mu.RLock()
	factory, ok := r.factories[category][name]
	r.mu.RUnlock()

	if !ok {
		return nil, &LoadError{Category: category, Plugin: name, Err: ErrUnknownPlugin}
	}

	defer func() {
		if rec := recover(); rec != nil {
			p = nil
			err = &LoadError{Category: category, Plugin: name, Err: fmt.Errorf("factory panicked: %v", rec)}
		}
	}()

	p, err = factory()
	if err != nil {
		return nil, &LoadError{Category: category, Plugin: name, Err: err}
	}
	if p == nil {
		return nil, &LoadError{Category: category, Plugin: name, Err: ErrNilPlugin}
	}
	return p, nil
}

// Suggest returns the registered plugin name closest to name, across all
// categories, or "" if nothing is close. A registered name or category/name
// is returned unchanged.
func (r *Registry) Suggest(name string) string {
	r.mu.RLock()
	var candidates []string
	for _, c := range categoryOrder {
		for _, n := range r.order[c] {
			candidates = append(candidates, n, string(c)+"/"+n)
		}
	}
	r.mu.RUnlock()

	for _, candidate := range candidates {
		if candidate == name {
			return name
		}
	}
	return Suggest(name, candidates)
}

// Suggest returns the candidate closest to name by edit distance, or "" when
// none is within a third of the name's length.
func Suggest(name string, candidates []string) string {
	name = strings.ToLower(name)
	if name == "" {
		return ""
	}

	best := ""
	bestDist := len(name)/3 + 1
	for _, candidate := range candidates {
		dist := levenshtein.ComputeDistance(name, strings.ToLower(candidate))
		if dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	return best
}
