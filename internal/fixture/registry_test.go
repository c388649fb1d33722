package fixture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(name string, scope Scope, requires ...string) Descriptor {
	return Descriptor{
		Name:     name,
		Scope:    scope,
		Requires: requires,
		Setup:    func(context.Context, *Request) (any, error) { return name, nil },
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry("suite")
	require.NoError(t, reg.Register(noop("org", Module)))
	err := reg.Register(noop("org", Session))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.Error(t, reg.Register(Descriptor{Name: "no_setup"}))
	assert.Error(t, reg.Register(Descriptor{Setup: noop("x", Function).Setup}))
	assert.Panics(t, func() { reg.MustRegister(noop("org", Module)) })
}

func TestRegistryLookupPrefersChild(t *testing.T) {
	base := NewRegistry("base")
	base.MustRegister(noop("target_sat", Session), noop("module_org", Module, "target_sat"))
	other := NewRegistry("other")
	other.MustRegister(noop("module_org", Module), noop("rhel_host", Function))

	suite := NewRegistry("suite", base, other)
	suite.MustRegister(noop("module_org", Module, "target_sat"))

	d, ok := suite.Lookup("module_org")
	require.True(t, ok)
	assert.Same(t, d, mustLookup(t, suite, "module_org"))
	assert.NotSame(t, d, mustLookup(t, base, "module_org"))

	d, ok = suite.Lookup("rhel_host")
	require.True(t, ok)
	assert.Same(t, d, mustLookup(t, other, "rhel_host"))

	_, ok = suite.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"target_sat", "module_org", "rhel_host"}, suite.Names())
}

func mustLookup(t *testing.T, reg *Registry, name string) *Descriptor {
	t.Helper()
	d, ok := reg.Lookup(name)
	require.True(t, ok)
	return d
}

func TestRegistryValidate(t *testing.T) {
	tests := []struct {
		name   string
		descs  []Descriptor
		check  func(t *testing.T, err error)
	}{
		{
			name:  "valid",
			descs: []Descriptor{noop("a", Session), noop("b", Module, "a"), noop("c", Function, "a", "b")},
		},
		{
			name:  "cycle",
			descs: []Descriptor{noop("a", Module, "c"), noop("b", Module, "a"), noop("c", Module, "b")},
			check: func(t *testing.T, err error) {
				var cycle *FixtureCycleError
				require.ErrorAs(t, err, &cycle)
				assert.Equal(t, []string{"a", "c", "b", "a"}, cycle.Cycle)
				assert.EqualError(t, cycle, "fixture dependency cycle: a -> c -> b -> a")
			},
		},
		{
			name:  "missing",
			descs: []Descriptor{noop("a", Module, "ghost")},
			check: func(t *testing.T, err error) {
				var missing *FixtureNotRegistered
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, "ghost", missing.Name)
				assert.Equal(t, "a", missing.RequiredBy)
			},
		},
		{
			name:  "scope widening",
			descs: []Descriptor{noop("sat", Session, "org"), noop("org", Function)},
			check: func(t *testing.T, err error) {
				var widening *ScopeWideningError
				require.ErrorAs(t, err, &widening)
				assert.EqualError(t, widening, `session fixture "sat" cannot depend on function fixture "org"`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry("suite")
			reg.MustRegister(tt.descs...)
			err := reg.Validate()
			if tt.check == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRegistryPlanOrder(t *testing.T) {
	reg := NewRegistry("suite")
	reg.MustRegister(
		noop("target_sat", Session),
		noop("module_org", Module, "target_sat"),
		noop("module_location", Module, "target_sat"),
		noop("module_lce", Module, "module_org"),
		noop("module_cv", Module, "module_org", "module_lce"),
	)
	names, err := reg.Closure("module_cv", "module_location")
	require.NoError(t, err)
	assert.Equal(t, []string{"target_sat", "module_org", "module_location", "module_lce", "module_cv"}, names)

	plan, err := reg.Plan("module_cv")
	require.NoError(t, err)
	assert.Len(t, plan, 4)

	cycleReg := NewRegistry("cyclic")
	cycleReg.MustRegister(noop("x", Module, "y"), noop("y", Module, "x"))
	_, err = cycleReg.Plan("x")
	var cycle *FixtureCycleError
	assert.ErrorAs(t, err, &cycle)
}

func TestRegistryParams(t *testing.T) {
	reg := NewRegistry("suite")
	d := noop("ldap_auth", Module)
	d.Params = []any{"ad", "ipa"}
	reg.MustRegister(d)
	assert.Equal(t, []any{"ad", "ipa"}, reg.Params("ldap_auth"))
	assert.Nil(t, reg.Params("missing"))
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": Function, "function": Function, "Module": Module, " session ": Session} {
		got, err := ParseScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseScope("class")
	assert.Error(t, err)
	assert.True(t, Function < Module && Module < Session)
}
