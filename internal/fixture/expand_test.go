package fixture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	reg := NewRegistry("suite")
	os := noop("rhel_version", Module)
	os.Params = []any{8, 9}
	os.ParamIDs = []string{"rhel8", "rhel9"}
	arch := noop("arch", Module)
	arch.Params = []any{"x86_64", "aarch64"}
	ldap := noop("ldap_auth", Module)
	ldap.Params = []any{"ad", "ipa", "openldap"}
	ldap.IndirectKeys = []string{"ldap_kind"}
	host := noop("host", Function, "rhel_version", "arch")
	reg.MustRegister(os, arch, ldap, host, noop("plain", Function))

	tests := []struct {
		name  string
		items []Item
		ids   []string
	}{
		{
			name:  "unparametrized",
			items: []Item{{ID: "test_plain", Fixtures: []string{"plain"}}},
			ids:   []string{"test_plain"},
		},
		{
			name:  "cartesian product through dependencies",
			items: []Item{{ID: "test_host", Fixtures: []string{"host"}}},
			ids: []string{
				"test_host[rhel8-x86_64]", "test_host[rhel8-aarch64]",
				"test_host[rhel9-x86_64]", "test_host[rhel9-aarch64]",
			},
		},
		{
			name: "indirect value wins",
			items: []Item{{ID: "test_login[ad]", Fixtures: []string{"ldap_auth"},
				Params: map[string]any{"ldap_kind": "ad"}}},
			ids: []string{"test_login[ad]"},
		},
		{
			name: "explicit fixture value",
			items: []Item{{ID: "test_host", Fixtures: []string{"host"},
				Params: map[string]any{"rhel_version": 9}}},
			ids: []string{"test_host[x86_64]", "test_host[aarch64]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Expand(tt.items, reg)
			require.NoError(t, err)
			var ids []string
			for _, it := range out {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestExpandDoesNotShareParamMaps(t *testing.T) {
	reg := NewRegistry("suite")
	d := noop("kind", Function)
	d.Params = []any{"a", "b"}
	reg.MustRegister(d)

	in := []Item{{ID: "t", Fixtures: []string{"kind"}, Params: map[string]any{"x": 1}}}
	out, err := Expand(in, reg)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Params["kind"])
	assert.Equal(t, "b", out[1].Params["kind"])
	assert.Equal(t, map[string]any{"x": 1}, in[0].Params)
}

func TestExpandUnknownFixture(t *testing.T) {
	_, err := Expand([]Item{{ID: "t", Fixtures: []string{"ghost"}}}, NewRegistry("suite"))
	var missing *FixtureNotRegistered
	assert.ErrorAs(t, err, &missing)
}
