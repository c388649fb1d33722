package selection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robottelo/internal/fixture"
)

type fakeCaps map[string]bool

func (f fakeCaps) Capability(section string) bool { return f[section] }
func (f fakeCaps) Missing(section string) []string {
	if f[section] {
		return nil
	}
	return []string{section + ".hostname"}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func sanityItems(withFirst bool) []Item {
	var items []Item
	for i := 0; i < 100; i++ {
		it := Item{ID: fmt.Sprintf("test_%03d", i), Module: fmt.Sprintf("tests/test_m%d", i%7), Markers: []Marker{Tier(1 + i%4)}}
		if i%10 == 3 {
			it.Markers = append(it.Markers, Subset("sanity"))
			if withFirst && i == 53 {
				it.Markers = append(it.Markers, FirstInSubset())
			}
		}
		items = append(items, it)
	}
	return items
}

func TestSelectSubset(t *testing.T) {
	selected, deselected, err := SelectSubset(sanityItems(true), SubsetPolicy{Name: "sanity"})
	require.NoError(t, err)
	require.Len(t, selected, 10)
	assert.Len(t, deselected, 90)
	assert.Equal(t, "test_053", selected[0].ID)
	assert.Equal(t, "test_003", selected[1].ID)

	_, _, err = SelectSubset(sanityItems(false), SubsetPolicy{Name: "sanity"})
	var cfgErr *ConfigurationException
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "first_in_subset")

	_, _, err = SelectSubset(nil, SubsetPolicy{Name: "sanity"})
	assert.ErrorAs(t, err, &cfgErr, "an empty subset aborts collection")
}

func TestSelectSubsetRejectsSeveralFirstItems(t *testing.T) {
	items := []Item{
		{ID: "a", Markers: []Marker{Subset("sanity"), FirstInSubset()}},
		{ID: "b", Markers: []Marker{Subset("sanity"), FirstInSubset()}},
	}
	_, _, err := SelectSubset(items, SubsetPolicy{Name: "sanity"})
	var cfgErr *ConfigurationException
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "a, b")
}

func TestSelectSubsetWhitelistAndFixtureCapabilities(t *testing.T) {
	reg := fixture.NewRegistry("suite")
	noop := func(context.Context, *fixture.Request) (any, error) { return nil, nil }
	reg.MustRegister(
		fixture.Descriptor{Name: "target_sat", Scope: fixture.Session, Setup: noop},
		fixture.Descriptor{Name: "azurerm_resource", Scope: fixture.Session, Requires: []string{"target_sat"}, Capabilities: []string{"azurerm"}, Setup: noop},
	)

	items := ExpandParametrize([]Item{
		{ID: "test_first", Markers: []Marker{Subset("sanity"), FirstInSubset()}},
		{ID: "test_sync", Fixtures: []string{"target_sat"}, Markers: []Marker{Subset("sanity"), Parametrize("distro", "rhel8", "rhel9", "rhel10")}},
		{ID: "test_azure", Fixtures: []string{"azurerm_resource"}, Markers: []Marker{Subset("sanity")}},
	})
	selected, deselected, err := SelectSubset(items, SubsetPolicy{
		Name:         "sanity",
		Whitelist:    map[string][]any{"distro": {"rhel9"}},
		Registry:     reg,
		Capabilities: fakeCaps{"server": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"test_first", "test_sync[rhel9]"}, ids(selected))
	assert.ElementsMatch(t, []string{"test_sync[rhel8]", "test_sync[rhel10]", "test_azure"}, ids(deselected))
}

func TestSubsetReasonConsultsFixtureSkipGate(t *testing.T) {
	noop := func(context.Context, *fixture.Request) (any, error) { return nil, nil }
	tests := []struct {
		name     string
		fixture  fixture.Descriptor
		expected string
	}{
		{
			name:     "all sections configured",
			fixture:  fixture.Descriptor{Name: "vm", Capabilities: []string{"server"}, Setup: noop},
			expected: "",
		},
		{
			name:     "missing capability section",
			fixture:  fixture.Descriptor{Name: "vm", Capabilities: []string{"vmware"}, Setup: noop},
			expected: "fixtures need unconfigured vmware",
		},
		{
			name: "SkipWhen naming a section",
			fixture: fixture.Descriptor{Name: "vm", Setup: noop, SkipWhen: func(caps fixture.Capabilities) *fixture.Skip {
				if !caps.Capability("rhbk") {
					return fixture.SkipFor(caps, "rhbk")
				}
				return nil
			}},
			expected: "fixtures need unconfigured rhbk",
		},
		{
			name: "SkipWhen with a plain reason",
			fixture: fixture.Descriptor{Name: "vm", Setup: noop, SkipWhen: func(fixture.Capabilities) *fixture.Skip {
				return &fixture.Skip{Reason: "server older than 6.16"}
			}},
			expected: "fixtures skip: server older than 6.16",
		},
		{
			name: "SkipWhen allowing setup",
			fixture: fixture.Descriptor{Name: "vm", Setup: noop, SkipWhen: func(fixture.Capabilities) *fixture.Skip {
				return nil
			}},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := fixture.NewRegistry("suite")
			reg.MustRegister(tt.fixture)
			item := Item{ID: "test_vm", Fixtures: []string{"vm"}, Markers: []Marker{Subset("sanity")}}
			reason := SubsetReason(item, SubsetPolicy{Name: "sanity", Registry: reg, Capabilities: fakeCaps{"server": true}})
			assert.Equal(t, tt.expected, reason)
		})
	}
}

func TestWhitelistedAwayParamBuildsNoInstance(t *testing.T) {
	built := 0
	reg := fixture.NewRegistry("suite")
	reg.MustRegister(fixture.Descriptor{
		Name:         "rhel_host",
		IndirectKeys: []string{"distro"},
		Setup: func(context.Context, *fixture.Request) (any, error) {
			built++
			return nil, nil
		},
		Teardown: func(context.Context, any) error {
			built--
			return nil
		},
	})
	items := ExpandParametrize([]Item{
		{ID: "test_first", Markers: []Marker{Subset("sanity"), FirstInSubset()}},
		{ID: "test_host", Fixtures: []string{"rhel_host"}, Markers: []Marker{Subset("sanity"), Parametrize("distro", "rhel6")}},
	})
	selected, _, err := SelectSubset(items, SubsetPolicy{Name: "sanity", Whitelist: map[string][]any{"distro": {"rhel9"}}})
	require.NoError(t, err)

	ctx := context.Background()
	sess := fixture.NewWorkerSession(reg)
	for _, it := range selected {
		res, err := sess.Resolve(ctx, it.FixtureItem())
		require.NoError(t, err)
		res.Finish(ctx, nil)
	}
	assert.Empty(t, sess.Close(ctx))
	assert.Zero(t, built)
	assert.Equal(t, []string{"test_first"}, ids(selected))
}

func TestCapabilityFilter(t *testing.T) {
	items := []Item{
		{ID: "test_plain"},
		{ID: "test_azure", Markers: []Marker{Requires("azurerm")}},
		{ID: "test_ldap", Markers: []Marker{Requires("server", "ldap")}},
	}
	out := CapabilityFilter(items, fakeCaps{"server": true, "ldap": true})
	require.Len(t, out, 3)
	assert.Nil(t, out[0].Skip)
	require.NotNil(t, out[1].Skip)
	assert.Equal(t, &Skip{Reason: "azurerm is not configured: azurerm.hostname", Section: "azurerm", Keys: []string{"azurerm.hostname"}}, out[1].Skip)
	assert.Nil(t, out[2].Skip)
}

func TestFilterTiers(t *testing.T) {
	items := []Item{{ID: "a", Markers: []Marker{Tier(1)}}, {ID: "b", Markers: []Marker{Tier(3)}}, {ID: "c"}}
	kept, dropped := FilterTiers(items, 1, 2)
	assert.Equal(t, []string{"a"}, ids(kept))
	assert.Equal(t, []string{"b", "c"}, ids(dropped))

	kept, _ = FilterTiers(items)
	assert.Len(t, kept, 3)
}

func TestFilterMarkers(t *testing.T) {
	items := []Item{
		{ID: "t1", Markers: []Marker{Tier(1)}},
		{ID: "t1d", Markers: []Marker{Tier(1), Destructive()}},
		{ID: "t2", Markers: []Marker{Tier(2)}},
		{ID: "up", Markers: []Marker{PreUpgrade()}},
	}
	tests := []struct {
		expr string
		want []string
	}{
		{"tier1", []string{"t1", "t1d"}},
		{"tier1 and not destructive", []string{"t1"}},
		{"tier2 or pre_upgrade", []string{"t2", "up"}},
		{"not (tier1 or tier2)", []string{"up"}},
		{"", []string{"t1", "t1d", "t2", "up"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			kept, _, err := FilterMarkers(items, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(kept))
		})
	}

	for _, bad := range []string{"tier1 and", "(tier1", "or tier2", "tier1 tier2"} {
		_, _, err := FilterMarkers(items, bad)
		var cfgErr *ConfigurationException
		assert.ErrorAs(t, err, &cfgErr, bad)
	}
}

func TestGroup(t *testing.T) {
	items := []Item{
		{ID: "a"},
		{ID: "b", Markers: []Marker{Destructive()}},
		{ID: "c", Markers: []Marker{RunInOneThread()}},
		{ID: "d"},
	}
	plan := Group(items)
	assert.Equal(t, []string{"a", "d"}, ids(plan.Parallel))
	assert.Equal(t, []string{"b", "c"}, ids(plan.Serial))
}

func TestOrderUpgrade(t *testing.T) {
	items := []Item{
		{ID: "post_cv", Name: "test_post_cv", Markers: []Marker{PostUpgrade("test_pre_cv", "test_post_org")}},
		{ID: "plain"},
		{ID: "post_org", Name: "test_post_org", Markers: []Marker{PostUpgrade("test_pre_org")}},
		{ID: "pre_cv", Name: "test_pre_cv", Markers: []Marker{PreUpgrade()}},
		{ID: "pre_org", Name: "test_pre_org", Markers: []Marker{PreUpgrade()}},
	}
	ordered, err := OrderUpgrade(items)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre_cv", "pre_org", "plain", "post_org", "post_cv"}, ids(ordered))

	cyclic := []Item{
		{ID: "x", Markers: []Marker{PostUpgrade("y")}},
		{ID: "y", Markers: []Marker{PostUpgrade("x")}},
	}
	_, err = OrderUpgrade(cyclic)
	var cfgErr *ConfigurationException
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "cycle")
}

type savedData map[string]bool

func (s savedData) Has(test string) bool { return s[test] }

func TestUpgradeGate(t *testing.T) {
	post := Item{ID: "post", Markers: []Marker{PostUpgrade("test_pre_cv")}}
	skip := UpgradeGate(post, savedData{})
	require.NotNil(t, skip)
	assert.Equal(t, []string{"test_pre_cv"}, skip.Keys)

	assert.Nil(t, UpgradeGate(post, savedData{"test_pre_cv": true}))
	assert.Nil(t, UpgradeGate(Item{ID: "plain"}, nil))
}

func TestExpandParametrize(t *testing.T) {
	items := ExpandParametrize([]Item{{
		ID:      "test_login",
		Markers: []Marker{Parametrize("ldap_kind", "ad", "ipa"), Parametrize("secure", true, false)},
	}})
	assert.Equal(t, []string{
		"test_login[ad-true]", "test_login[ad-false]", "test_login[ipa-true]", "test_login[ipa-false]",
	}, ids(items))
	assert.Equal(t, map[string]any{"ldap_kind": "ipa", "secure": false}, items[3].Params)
}

func TestItemAccessors(t *testing.T) {
	it := Item{ID: "t", Markers: []Marker{Tier(2), Requires("ldap", "ipa"), Requires("ldap"), PostUpgrade("a")}}
	assert.Equal(t, 2, it.Tier())
	assert.Equal(t, []string{"ldap", "ipa"}, it.RequiredSections())
	assert.Equal(t, []string{"a"}, it.DependsOn())
	assert.False(t, it.Serial())
	assert.Equal(t, "t", it.TestName())
	assert.Equal(t, "requires(ldap, ipa)", it.Markers[1].String())
	assert.Equal(t, "post_upgrade(depends_on=[a])", it.Markers[3].String())
}

func TestExpandFixtures(t *testing.T) {
	reg := fixture.NewRegistry("root")
	noop := func(context.Context, *fixture.Request) (any, error) { return nil, nil }
	reg.MustRegister(
		fixture.Descriptor{Name: "rhel", Scope: fixture.Module, Params: []any{"rhel8", "rhel9"}, Setup: noop},
		fixture.Descriptor{Name: "host", Requires: []string{"rhel"}, Setup: noop},
	)

	items, err := ExpandFixtures([]Item{
		{ID: "test_host", Fixtures: []string{"host"}, Markers: []Marker{Tier(1)}},
		{ID: "test_plain"},
	}, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_host[rhel8]", "test_host[rhel9]", "test_plain"}, ids(items))
	assert.Equal(t, "rhel9", items[1].Params["rhel"])
	assert.Equal(t, 1, items[1].Tier(), "markers survive expansion")

	_, err = ExpandFixtures([]Item{{ID: "x", Fixtures: []string{"nope"}}}, reg)
	assert.Error(t, err)
}
