package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"robottelo/internal/fixture"
	"robottelo/internal/selection"
	"robottelo/internal/settings"
	"robottelo/internal/upgrade"
	"robottelo/pkg/logging"
)

// ErrNoUpgradeStore is returned by SaveData and PreUpgradeData when the run
// has no upgrade store.
var ErrNoUpgradeStore = errors.New("no upgrade data store configured")

// SkipError is returned by T.Skip.
type SkipError struct {
	Skip *fixture.Skip
}

func (e *SkipError) Error() string { return "skipped: " + e.Skip.Reason }

// T is handed to a test body.
type T struct {
	ctx      context.Context
	item     selection.Item
	res      *fixture.Resolution
	settings *settings.Settings
	store    *upgrade.Store
	worker   string

	mu   sync.Mutex
	logs []string
}

// Context is cancelled when the run is interrupted or the item times out.
func (t *T) Context() context.Context { return t.ctx }

// Item returns the running item.
func (t *T) Item() selection.Item { return t.item }

// ID returns the item id.
func (t *T) ID() string { return t.item.ID }

// Settings returns the run's settings, possibly nil.
func (t *T) Settings() *settings.Settings { return t.settings }

// Artifact returns a fixture the item requested.
func (t *T) Artifact(name string) (any, error) {
	if t.res == nil {
		return nil, fmt.Errorf("%s did not request %q: %w", t.item.ID, name, fixture.ErrUndeclaredDependency)
	}
	return t.res.Artifact(name)
}

// Get returns a requested fixture's artifact as type V.
func Get[V any](t *T, name string) (V, error) {
	return fixture.Get[V](t, name)
}

// Param returns a parametrize value or a fixture parameter by name.
func (t *T) Param(name string) (any, bool) {
	v, ok := t.item.Params[name]
	return v, ok
}

// SaveData records data for post_upgrade tests depending on this one.
func (t *T) SaveData(data map[string]any) error {
	if t.store == nil {
		return ErrNoUpgradeStore
	}
	return t.store.Save(t.item.TestName(), data)
}

// PreUpgradeData returns what a pre_upgrade test saved.
func (t *T) PreUpgradeData(test string) (map[string]any, error) {
	if t.store == nil {
		return nil, ErrNoUpgradeStore
	}
	data, ok := t.store.Load(test)
	if !ok {
		return nil, fmt.Errorf("pre-upgrade test %s saved no data", test)
	}
	return data, nil
}

// Skip returns the error that skips the item. Use it as
// `return t.Skip("reason")`.
func (t *T) Skip(reason string) error {
	return &SkipError{Skip: &fixture.Skip{Reason: reason}}
}

// Skipf is Skip with formatting.
func (t *T) Skipf(format string, args ...any) error {
	return t.Skip(fmt.Sprintf(format, args...))
}

// Logf records a line in the item result.
func (t *T) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.logs = append(t.logs, line)
	t.mu.Unlock()
	logging.Debug("Runner", "[%s] %s: %s", t.worker, t.item.ID, line)
}

func (t *T) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.logs...)
}
