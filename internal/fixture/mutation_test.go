package fixture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	values   map[string]any
	failSet  map[string]bool
	setCalls int
}

func (f *fakeSettings) SettingValue(_ context.Context, name string) (any, error) {
	v, ok := f.values[name]
	if !ok {
		return nil, errors.New("no such setting")
	}
	return v, nil
}

func (f *fakeSettings) SetSettingValue(_ context.Context, name string, value any) error {
	f.setCalls++
	if f.failSet[name] && value != "false" {
		// Fails after the server already took the write.
		f.values[name] = value
		return errors.New("422 unprocessable")
	}
	f.values[name] = value
	return nil
}

func settingRegistry(store *fakeSettings) *Registry {
	reg := NewRegistry("suite")
	reg.MustRegister(
		noop("target_sat", Session),
		SettingUpdate("setting_update", "target_sat", func(any) (SettingStore, error) { return store, nil }),
	)
	return reg
}

func TestSettingUpdateRestoresPriorValue(t *testing.T) {
	store := &fakeSettings{values: map[string]any{"login_delegation_logout_url": "false"}}
	sess := NewWorkerSession(settingRegistry(store))
	ctx := context.Background()

	res, err := sess.Resolve(ctx, Item{ID: "t", Fixtures: []string{"setting_update"},
		Params: map[string]any{"setting_update": "login_delegation_logout_url=https://sso.example"}})
	require.NoError(t, err)
	m, err := Get[*SettingMutation](res, "setting_update")
	require.NoError(t, err)
	assert.Equal(t, &SettingMutation{Name: "login_delegation_logout_url", Prior: "false", Value: "https://sso.example", Applied: true}, m)
	assert.Equal(t, "https://sso.example", store.values["login_delegation_logout_url"])

	assert.Empty(t, res.Finish(ctx, errors.New("test failed")))
	assert.Equal(t, "false", store.values["login_delegation_logout_url"])
}

func TestSettingUpdateRestoresAfterFailedMutation(t *testing.T) {
	store := &fakeSettings{
		values:  map[string]any{"entries_per_page": "false"},
		failSet: map[string]bool{"entries_per_page": true},
	}
	sess := NewWorkerSession(settingRegistry(store))

	_, err := sess.Resolve(context.Background(), Item{ID: "t", Fixtures: []string{"setting_update"},
		Params: map[string]any{"setting_update": map[string]any{"entries_per_page": "bogus"}}})
	var setupErr *FixtureSetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "false", store.values["entries_per_page"], "restore ran although the producer failed")
	assert.Equal(t, 2, store.setCalls)
	assert.Empty(t, setupErr.TeardownErrors)
}

func TestSettingUpdateReadFailureSkipsRestore(t *testing.T) {
	store := &fakeSettings{values: map[string]any{}}
	sess := NewWorkerSession(settingRegistry(store))

	_, err := sess.Resolve(context.Background(), Item{ID: "t", Fixtures: []string{"setting_update"},
		Params: map[string]any{"setting_update": "unknown=1"}})
	require.Error(t, err)
	assert.Zero(t, store.setCalls, "nothing recorded, nothing restored")
}

func TestSettingUpdateNeedsParam(t *testing.T) {
	store := &fakeSettings{values: map[string]any{}}
	_, err := NewWorkerSession(settingRegistry(store)).Resolve(context.Background(),
		Item{ID: "t", Fixtures: []string{"setting_update"}})
	assert.ErrorContains(t, err, `needs a "setting_update" parameter`)
}
