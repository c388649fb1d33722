package fixture

import (
	"context"
	"fmt"
	"strings"

	"robottelo/pkg/logging"
)

// SettingStore reads and writes server-side settings.
type SettingStore interface {
	SettingValue(ctx context.Context, name string) (any, error)
	SetSettingValue(ctx context.Context, name string, value any) error
}

// SettingMutation is the artifact of a setting update fixture.
type SettingMutation struct {
	Name  string
	Prior any
	Value any
	// Applied is true once the new value was written.
	Applied bool
}

// SettingUpdate returns a function-scoped fixture that changes one server
// setting for the duration of a test. The consuming test passes
// "name=value" (or just "name" to only record and restore) through the
// indirect key named like the fixture. The prior value is read before the
// change and restored unconditionally once it was recorded, including when
// applying the new value failed.
func SettingUpdate(name, serverFixture string, store func(server any) (SettingStore, error)) Descriptor {
	return Yield(name, Function, []string{serverFixture}, func(ctx context.Context, req *Request) (any, Finalizer, error) {
		raw, ok := req.Param()
		if !ok {
			return nil, nil, fmt.Errorf("%s needs a %q parameter", name, name)
		}
		setting, value, hasValue := parseAssignment(raw)

		server, err := req.Artifact(serverFixture)
		if err != nil {
			return nil, nil, err
		}
		st, err := store(server)
		if err != nil {
			return nil, nil, err
		}

		prior, err := st.SettingValue(ctx, setting)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read setting %s: %w", setting, err)
		}
		m := &SettingMutation{Name: setting, Prior: prior, Value: value}
		restore := func(ctx context.Context, _ error) error {
			logging.Debug("Fixture", "Restoring setting %s to %v", setting, prior)
			return st.SetSettingValue(ctx, setting, prior)
		}

		if hasValue {
			if err := st.SetSettingValue(ctx, setting, value); err != nil {
				return m, restore, fmt.Errorf("failed to set %s: %w", setting, err)
			}
			m.Applied = true
		}
		return m, restore, nil
	}).withIndirect(name)
}

func (d Descriptor) withIndirect(keys ...string) Descriptor {
	d.IndirectKeys = append(d.IndirectKeys, keys...)
	return d
}

func parseAssignment(raw any) (string, any, bool) {
	if m, ok := raw.(map[string]any); ok {
		for k, v := range m {
			return k, v, true
		}
	}
	s := fmt.Sprint(raw)
	name, value, ok := strings.Cut(s, "=")
	return strings.TrimSpace(name), strings.TrimSpace(value), ok
}
