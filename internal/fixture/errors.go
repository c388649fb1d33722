package fixture

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRegistered is returned when a name is registered twice in
	// the same registry.
	ErrAlreadyRegistered = errors.New("fixture already registered")
	// ErrUndeclaredDependency is returned when a producer asks for an
	// artifact it did not declare in Requires.
	ErrUndeclaredDependency = errors.New("fixture is not a declared dependency")
)

// FixtureCycleError names a dependency cycle.
type FixtureCycleError struct {
	Cycle []string
}

func (e *FixtureCycleError) Error() string {
	return fmt.Sprintf("fixture dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// FixtureNotRegistered is returned when a requested or required fixture does
// not exist in the registry chain.
type FixtureNotRegistered struct {
	Name       string
	RequiredBy string
}

func (e *FixtureNotRegistered) Error() string {
	if e.RequiredBy != "" && e.RequiredBy != e.Name {
		return fmt.Sprintf("fixture %q (required by %q) is not registered", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("fixture %q is not registered", e.Name)
}

// ScopeWideningError is returned when a fixture depends on a fixture with a
// narrower scope.
type ScopeWideningError struct {
	Fixture         string
	Scope           Scope
	Dependency      string
	DependencyScope Scope
}

func (e *ScopeWideningError) Error() string {
	return fmt.Sprintf("%s fixture %q cannot depend on %s fixture %q",
		e.Scope, e.Fixture, e.DependencyScope, e.Dependency)
}

// FixtureSetupError is returned when a producer failed. TeardownErrors holds
// failures from unwinding the item's function scope afterwards.
type FixtureSetupError struct {
	Fixture        string
	Item           string
	Err            error
	Cached         bool
	TeardownErrors []error
}

func (e *FixtureSetupError) Error() string {
	prefix := fmt.Sprintf("setup of fixture %q", e.Fixture)
	if e.Item != "" {
		prefix += fmt.Sprintf(" for %s", e.Item)
	}
	if e.Cached {
		return fmt.Sprintf("%s failed earlier in this scope: %v", prefix, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", prefix, e.Err)
}

func (e *FixtureSetupError) Unwrap() error { return e.Err }

// FixtureTeardownError is returned when a teardown or finalizer failed.
type FixtureTeardownError struct {
	Fixture string
	Scope   Scope
	Err     error
}

func (e *FixtureTeardownError) Error() string {
	return fmt.Sprintf("teardown of %s fixture %q failed: %v", e.Scope, e.Fixture, e.Err)
}

func (e *FixtureTeardownError) Unwrap() error { return e.Err }

// SkipDependents is returned by a producer whose failure should skip its
// consumers rather than error them, e.g. when rendezvous peers never arrive.
// Skip, when set, is reported as is.
type SkipDependents struct {
	Reason string
	Skip   *Skip
	Err    error
}

func (e *SkipDependents) Error() string {
	if e.Reason == "" && e.Skip != nil {
		return e.Skip.Reason
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *SkipDependents) Unwrap() error { return e.Err }
