package fixture

import (
	"errors"
	"fmt"
	"sync"

	"robottelo/internal/dependency"
)

// Registry holds fixture descriptors. A registry may have parents; Lookup
// tries the registry itself first and then each parent in order, which is how
// a suite overrides a shared fixture.
type Registry struct {
	name    string
	parents []*Registry

	mu       sync.RWMutex
	fixtures map[string]*Descriptor
	order    []string
}

// NewRegistry creates a registry with an optional parent chain.
func NewRegistry(name string, parents ...*Registry) *Registry {
	return &Registry{
		name:     name,
		parents:  parents,
		fixtures: make(map[string]*Descriptor),
	}
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Register adds a descriptor. Names are unique per registry.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("fixture name is required")
	}
	if d.Setup == nil {
		return fmt.Errorf("fixture %q has no setup function", d.Name)
	}
	if d.Scope < Function || d.Scope > Session {
		return fmt.Errorf("fixture %q has invalid scope %d", d.Name, d.Scope)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fixtures[d.Name]; exists {
		return fmt.Errorf("%w: %q in registry %q", ErrAlreadyRegistered, d.Name, r.name)
	}
	copied := d
	copied.Requires = append([]string(nil), d.Requires...)
	r.fixtures[d.Name] = &copied
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister is Register that panics, for static registration.
func (r *Registry) MustRegister(descs ...Descriptor) {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a descriptor in this registry or its parents.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	d, ok := r.fixtures[name]
	r.mu.RUnlock()
	if ok {
		return d, true
	}
	for _, p := range r.parents {
		if d, ok := p.Lookup(name); ok {
			return d, true
		}
	}
	return nil, false
}

// Names returns every visible fixture in declaration order. Parents are
// declared before children; an override keeps the position of the fixture it
// shadows.
func (r *Registry) Names() []string {
	seen := make(map[string]bool)
	var out []string
	r.collect(seen, &out)
	return out
}

func (r *Registry) collect(seen map[string]bool, out *[]string) {
	for _, p := range r.parents {
		p.collect(seen, out)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
	}
}

// Params returns the declared parameter values of a fixture.
func (r *Registry) Params(name string) []any {
	if d, ok := r.Lookup(name); ok {
		return d.Params
	}
	return nil
}

func (r *Registry) graph() *dependency.Graph {
	g := dependency.New()
	for _, name := range r.Names() {
		d, _ := r.Lookup(name)
		deps := make([]dependency.NodeID, len(d.Requires))
		for i, dep := range d.Requires {
			deps[i] = dependency.NodeID(dep)
		}
		g.AddNode(dependency.Node{ID: dependency.NodeID(name), DependsOn: deps})
	}
	return g
}

// Validate checks the whole visible graph for missing dependencies, cycles
// and scope widening. All problems are joined into one error.
func (r *Registry) Validate() error {
	var errs []error
	names := r.Names()
	for _, name := range names {
		d, _ := r.Lookup(name)
		for _, dep := range d.Requires {
			dd, ok := r.Lookup(dep)
			if !ok {
				errs = append(errs, &FixtureNotRegistered{Name: dep, RequiredBy: name})
				continue
			}
			if dd.Scope < d.Scope {
				errs = append(errs, &ScopeWideningError{
					Fixture: name, Scope: d.Scope, Dependency: dep, DependencyScope: dd.Scope,
				})
			}
		}
	}
	if cycle := r.graph().DetectCycle(); cycle != nil {
		errs = append(errs, &FixtureCycleError{Cycle: idsToNames(cycle)})
	}
	return errors.Join(errs...)
}

// Closure returns the names needed to resolve the given fixtures.
func (r *Registry) Closure(names ...string) ([]string, error) {
	plan, err := r.Plan(names...)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(plan))
	for i, d := range plan {
		out[i] = d.Name
	}
	return out, nil
}

// Plan returns the closure of names in setup order: dependencies first, ties
// broken by declaration order.
func (r *Registry) Plan(names ...string) ([]*Descriptor, error) {
	for _, n := range names {
		if _, ok := r.Lookup(n); !ok {
			return nil, &FixtureNotRegistered{Name: n}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	ids := make([]dependency.NodeID, len(names))
	for i, n := range names {
		ids[i] = dependency.NodeID(n)
	}
	order, err := r.graph().TopologicalSort(ids...)
	if err != nil {
		var cycle *dependency.CycleError
		var missing *dependency.MissingDependencyError
		switch {
		case errors.As(err, &cycle):
			return nil, &FixtureCycleError{Cycle: idsToNames(cycle.Cycle)}
		case errors.As(err, &missing):
			return nil, &FixtureNotRegistered{Name: string(missing.Missing), RequiredBy: string(missing.Node)}
		}
		return nil, err
	}

	plan := make([]*Descriptor, len(order))
	for i, id := range order {
		d, _ := r.Lookup(string(id))
		plan[i] = d
	}
	for _, d := range plan {
		for _, dep := range d.Requires {
			dd, _ := r.Lookup(dep)
			if dd.Scope < d.Scope {
				return nil, &ScopeWideningError{
					Fixture: d.Name, Scope: d.Scope, Dependency: dep, DependencyScope: dd.Scope,
				}
			}
		}
	}
	return plan, nil
}

func idsToNames(ids []dependency.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
