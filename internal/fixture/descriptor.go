package fixture

import (
	"context"
	"fmt"
	"strings"

	"robottelo/internal/settings"
)

// SetupFunc produces an artifact. It may register finalizers on req before
// failing; they run at scope exit all the same.
type SetupFunc func(ctx context.Context, req *Request) (any, error)

// TeardownFunc releases an artifact at scope exit. It only runs when setup
// succeeded.
type TeardownFunc func(ctx context.Context, artifact any) error

// Finalizer is the post-yield half of a producer. inflight is the error of
// whatever ran inside the scope (the test for function scope), or nil.
type Finalizer func(ctx context.Context, inflight error) error

// Producer is a two-phase producer: setup, then hand out the artifact and a
// finalizer that resumes after the scope ends.
type Producer func(ctx context.Context, req *Request) (any, Finalizer, error)

// Capabilities is the read side of settings used by skip predicates.
type Capabilities interface {
	Capability(section string) bool
	Missing(section string) []string
}

// Skip is a structured skip reason.
type Skip struct {
	Reason  string   `json:"reason"`
	Section string   `json:"section,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}

func (s *Skip) String() string {
	return s.Reason
}

// SkipFor builds the skip reason for an unconfigured settings section.
func SkipFor(caps Capabilities, section string) *Skip {
	var keys []string
	if caps != nil {
		keys = caps.Missing(section)
	}
	reason := fmt.Sprintf("%s is not configured", section)
	if len(keys) > 0 && !(len(keys) == 1 && keys[0] == section) {
		reason = fmt.Sprintf("%s is not configured: %s", section, strings.Join(keys, ", "))
	}
	return &Skip{Reason: reason, Section: section, Keys: keys}
}

// Descriptor declares a fixture.
type Descriptor struct {
	Name  string
	Scope Scope
	// Requires lists the fixtures the producer consumes, in order.
	Requires []string
	Setup    SetupFunc
	Teardown TeardownFunc
	// Params, when set, yields one instance per value for each consumer.
	Params   []any
	ParamIDs []string
	// IndirectKeys are parametrize names of the consuming test whose value
	// is passed to the producer instead of Params.
	IndirectKeys []string
	// Capabilities are settings sections that must be configured.
	Capabilities []string
	SkipWhen     func(Capabilities) *Skip
	Description  string

	// shared is set by Shared. Such fixtures meet peers in a rendezvous.
	shared bool
}

// Yield adapts a two-phase producer to a descriptor. The finalizer is
// registered even when the producer fails, so partial state is released.
func Yield(name string, scope Scope, requires []string, p Producer) Descriptor {
	return Descriptor{
		Name:     name,
		Scope:    scope,
		Requires: requires,
		Setup: func(ctx context.Context, req *Request) (any, error) {
			artifact, fin, err := p(ctx, req)
			if fin != nil {
				req.Cleanup(fin)
			}
			return artifact, err
		},
	}
}

func (d *Descriptor) paramID(i int) string {
	if i < len(d.ParamIDs) && d.ParamIDs[i] != "" {
		return d.ParamIDs[i]
	}
	return fmt.Sprint(d.Params[i])
}

// SkipReason reports why d cannot be set up against caps: a missing
// Capabilities section first, then SkipWhen. Nil means it can.
func (d *Descriptor) SkipReason(caps Capabilities) *Skip {
	for _, section := range d.Capabilities {
		if caps == nil || !caps.Capability(section) {
			return SkipFor(caps, section)
		}
	}
	if d.SkipWhen != nil {
		return d.SkipWhen(caps)
	}
	return nil
}

// Item is what the engine needs to know about a test item.
type Item struct {
	ID       string
	Module   string
	Fixtures []string
	// Params holds parametrize values by name, plus the chosen value of
	// fixture-owned Params keyed by fixture name.
	Params map[string]any
}

// Request is handed to a producer.
type Request struct {
	desc       *Descriptor
	item       Item
	deps       map[string]any
	param      any
	hasParam   bool
	settings   *settings.Settings
	finalizers []Finalizer
}

// Name returns the fixture being produced.
func (r *Request) Name() string { return r.desc.Name }

// Scope returns its scope.
func (r *Request) Scope() Scope { return r.desc.Scope }

// Item returns the test item that triggered the setup.
func (r *Request) Item() Item { return r.item }

// Param returns the parameter value for this instance.
func (r *Request) Param() (any, bool) { return r.param, r.hasParam }

// Settings returns the session settings, possibly nil.
func (r *Request) Settings() *settings.Settings { return r.settings }

// Artifact returns a declared dependency's artifact.
func (r *Request) Artifact(name string) (any, error) {
	v, ok := r.deps[name]
	if !ok {
		return nil, fmt.Errorf("%s requested %q: %w", r.desc.Name, name, ErrUndeclaredDependency)
	}
	return v, nil
}

// Cleanup registers a finalizer. Finalizers run in reverse registration
// order at scope exit.
func (r *Request) Cleanup(f Finalizer) {
	r.finalizers = append(r.finalizers, f)
}

// ArtifactSource is anything that hands out artifacts by name.
type ArtifactSource interface {
	Artifact(name string) (any, error)
}

// Get returns the named artifact asserted to T.
func Get[T any](src ArtifactSource, name string) (T, error) {
	var zero T
	v, err := src.Artifact(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("artifact %q is %T, not %T", name, v, zero)
	}
	return t, nil
}
