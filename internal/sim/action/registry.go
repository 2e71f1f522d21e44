package action

import (
	"fmt"
	"sort"
	"sync"
)

// Definition pairs an action kind with its validator and executor.
type Definition struct {
	Kind     string
	Validate Validator
	Execute  Executor
}

// Registry maps action kinds to definitions. It is populated at startup and
// may be extended at runtime; existing kinds cannot be replaced.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

func (r *Registry) Register(def Definition) error {
	if def.Kind == "" {
		return fmt.Errorf("register: empty action kind")
	}
	if def.Execute == nil {
		return fmt.Errorf("register %q: nil executor", def.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Kind]; ok {
		return fmt.Errorf("register %q: already registered", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

func (r *Registry) Lookup(kind string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[kind]
	return def, ok
}

// Kinds returns every registered action kind, sorted. Used to advertise the
// action vocabulary to the decision oracle.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
