package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robottelo/internal/fixture"
	"robottelo/internal/rendezvous"
	"robottelo/internal/report"
	"robottelo/internal/selection"
	"robottelo/internal/settings"
	"robottelo/internal/upgrade"
)

// counters records producer and teardown calls per fixture.
type counters struct {
	mu       sync.Mutex
	setups   map[string]int
	teardown map[string]int
}

func newCounters() *counters {
	return &counters{setups: map[string]int{}, teardown: map[string]int{}}
}

func (c *counters) fixture(name string, scope fixture.Scope, requires ...string) fixture.Descriptor {
	return fixture.Descriptor{
		Name:     name,
		Scope:    scope,
		Requires: requires,
		Setup: func(context.Context, *fixture.Request) (any, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.setups[name]++
			return name + "-artifact", nil
		},
		Teardown: func(context.Context, any) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.teardown[name]++
			return nil
		},
	}
}

func (c *counters) get(m map[string]int, name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m[name]
}

func pass(*T) error { return nil }

func outcomes(s *report.SuiteResult) map[string]report.Outcome {
	out := make(map[string]report.Outcome, len(s.Items))
	for _, it := range s.Items {
		out[it.ID] = it.Outcome
	}
	return out
}

func TestRun_Outcomes(t *testing.T) {
	c := newCounters()
	reg := fixture.NewRegistry("session")
	reg.MustRegister(
		c.fixture("module_org", fixture.Module),
		fixture.Descriptor{
			Name: "broken",
			Setup: func(context.Context, *fixture.Request) (any, error) {
				return nil, errors.New("server said no")
			},
		},
		fixture.Descriptor{
			Name:     "leaky",
			Setup:    func(context.Context, *fixture.Request) (any, error) { return 1, nil },
			Teardown: func(context.Context, any) error { return errors.New("delete failed") },
		},
	)

	cases := []Case{
		{Item: selection.Item{ID: "test_pass", Module: "m", Fixtures: []string{"module_org"}}, Func: func(t *T) error {
			org, err := Get[string](t, "module_org")
			if err != nil {
				return err
			}
			t.Logf("using %s", org)
			return nil
		}},
		{Item: selection.Item{ID: "test_fail", Module: "m"}, Func: func(*T) error { return errors.New("assertion failed") }},
		{Item: selection.Item{ID: "test_skip", Module: "m"}, Func: func(t *T) error { return t.Skip("not today") }},
		{Item: selection.Item{ID: "test_error", Module: "m", Fixtures: []string{"broken"}}, Func: pass},
		{Item: selection.Item{ID: "test_panic", Module: "m"}, Func: func(*T) error { panic("boom") }},
		{Item: selection.Item{ID: "test_leaky", Module: "m", Fixtures: []string{"leaky"}}, Func: pass},
	}

	collector := &report.Collector{}
	suite, err := Run(context.Background(), Config{Registry: reg, Reporter: collector}, cases)
	require.NoError(t, err)

	assert.Equal(t, map[string]report.Outcome{
		"test_pass":  report.Passed,
		"test_fail":  report.Failed,
		"test_skip":  report.Skipped,
		"test_error": report.Error,
		"test_panic": report.Failed,
		"test_leaky": report.Passed,
	}, outcomes(suite))
	assert.False(t, suite.Success())
	assert.Equal(t, 6, suite.Total)

	passed, _ := suite.Result("test_pass")
	assert.Equal(t, []string{"using module_org-artifact"}, passed.Logs)
	assert.Equal(t, []string{"module_org"}, passed.Fixtures)

	errored, _ := suite.Result("test_error")
	assert.Contains(t, errored.Error, `setup of fixture "broken"`)
	assert.Contains(t, errored.Error, "server said no")

	panicked, _ := suite.Result("test_panic")
	assert.Equal(t, "panic: boom", panicked.Error)

	leaky, _ := suite.Result("test_leaky")
	require.Len(t, leaky.TeardownErrors, 1, "teardown errors are recorded without flipping the outcome")
	assert.Contains(t, leaky.TeardownErrors[0], "delete failed")

	skipped, _ := suite.Result("test_skip")
	assert.Equal(t, "not today", skipped.Skip.Reason)

	assert.Len(t, collector.Items, 6)
	require.NotNil(t, collector.Suite)
	assert.Equal(t, 1, c.get(c.teardown, "module_org"))
}

func TestRun_ModuleScopePerWorker(t *testing.T) {
	c := newCounters()
	reg := fixture.NewRegistry("session")
	reg.MustRegister(
		c.fixture("target_sat", fixture.Session),
		c.fixture("module_org", fixture.Module, "target_sat"),
	)

	var cases []Case
	for _, mod := range []string{"tests/test_a", "tests/test_b", "tests/test_c"} {
		for i := 0; i < 4; i++ {
			cases = append(cases, Case{
				Item: selection.Item{ID: fmt.Sprintf("test_%d", i), Module: mod, Fixtures: []string{"module_org"}},
				Func: pass,
			})
		}
	}

	suite, err := Run(context.Background(), Config{Registry: reg, Parallel: 2}, cases)
	require.NoError(t, err)
	assert.Equal(t, 12, suite.Passed)

	assert.Equal(t, 3, c.get(c.setups, "module_org"), "one module instance per module")
	assert.Equal(t, 3, c.get(c.teardown, "module_org"))
	sessions := c.get(c.setups, "target_sat")
	assert.GreaterOrEqual(t, sessions, 1)
	assert.LessOrEqual(t, sessions, 2, "at most one session instance per worker")
	assert.Equal(t, sessions, c.get(c.teardown, "target_sat"))
}

func TestRun_SerialItemsHaveNoPeers(t *testing.T) {
	var inflight, maxWithSerial atomic.Int32
	body := func(serial bool) TestFunc {
		return func(*T) error {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			if serial && n > maxWithSerial.Load() {
				maxWithSerial.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		}
	}

	var cases []Case
	for i := 0; i < 12; i++ {
		it := selection.Item{ID: fmt.Sprintf("test_%02d", i), Module: fmt.Sprintf("m%d", i%4)}
		serial := i%4 == 0
		if serial {
			it.Markers = []selection.Marker{selection.Destructive()}
		}
		cases = append(cases, Case{Item: it, Func: body(serial)})
	}

	suite, err := Run(context.Background(), Config{Parallel: 4}, cases)
	require.NoError(t, err)
	assert.Equal(t, 12, suite.Passed)
	assert.Equal(t, int32(1), maxWithSerial.Load(), "a destructive item ran next to another item")
}

func sharedRegistry(c *counters, factory *rendezvous.Factory) *fixture.Registry {
	reg := fixture.NewRegistry("session")
	reg.MustRegister(fixture.Shared(c.fixture("upgraded_sat", fixture.Session), factory.Get, fixture.SharedOptions{Exclusive: true}))
	return reg
}

func TestRun_SharedFixtureAcrossWorkers(t *testing.T) {
	tests := []struct {
		name    string
		modules []string
	}{
		{name: "one module per worker", modules: []string{"m1", "m2"}},
		{name: "more workers than modules", modules: []string{"m1"}},
		{name: "more modules than workers", modules: []string{"m1", "m2", "m3", "m4", "m5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCounters()
			factory := rendezvous.NewFactory(2, 5*time.Second, nil)
			var cases []Case
			for _, mod := range tt.modules {
				cases = append(cases, Case{
					Item: selection.Item{ID: "test_" + mod, Module: mod, Fixtures: []string{"upgraded_sat"}},
					Func: func(*T) error { time.Sleep(10 * time.Millisecond); return nil },
				})
			}

			start := time.Now()
			suite, err := Run(context.Background(), Config{Registry: sharedRegistry(c, factory), Parallel: 2, Presence: factory}, cases)
			require.NoError(t, err)

			assert.Less(t, time.Since(start), 2*time.Second, "workers waited on the rendezvous timeout")
			assert.Equal(t, len(tt.modules), suite.Passed)
			assert.Empty(t, suite.TeardownErrors)
			assert.Equal(t, c.get(c.setups, "upgraded_sat"), c.get(c.teardown, "upgraded_sat"))
		})
	}
}

func TestRun_SerialItemWithSharedFixture(t *testing.T) {
	c := newCounters()
	factory := rendezvous.NewFactory(2, 5*time.Second, nil)
	reg := sharedRegistry(c, factory)

	cases := []Case{
		{Item: selection.Item{ID: "test_upgrade_destructive", Module: "m1", Fixtures: []string{"upgraded_sat"},
			Markers: []selection.Marker{selection.Destructive()}}, Func: pass},
		{Item: selection.Item{ID: "test_upgrade_reader", Module: "m2", Fixtures: []string{"upgraded_sat"}},
			Func: func(*T) error { time.Sleep(20 * time.Millisecond); return nil }},
	}

	start := time.Now()
	suite, err := Run(context.Background(), Config{Registry: reg, Parallel: 2, Presence: factory}, cases)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "the serial item held its lock while waiting for peers")
	assert.Equal(t, map[string]report.Outcome{
		"test_upgrade_destructive": report.Passed,
		"test_upgrade_reader":      report.Passed,
	}, outcomes(suite))
	assert.Empty(t, suite.TeardownErrors)
}

func TestRun_UpgradePhases(t *testing.T) {
	store, err := upgrade.Open(filepath.Join(t.TempDir(), "upgrade_data.yaml"))
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	mark := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, id)
	}

	cases := []Case{
		{Item: selection.Item{ID: "test_post_cv", Name: "test_post_cv", Module: "upgrades", Markers: []selection.Marker{selection.PostUpgrade("test_pre_cv")}},
			Func: func(t *T) error {
				mark("test_post_cv")
				data, err := t.PreUpgradeData("test_pre_cv")
				if err != nil {
					return err
				}
				if data["cv_id"] != 42 {
					return fmt.Errorf("cv_id = %v", data["cv_id"])
				}
				return nil
			}},
		{Item: selection.Item{ID: "test_post_orphan", Name: "test_post_orphan", Module: "upgrades", Markers: []selection.Marker{selection.PostUpgrade("test_pre_missing")}},
			Func: pass},
		{Item: selection.Item{ID: "test_plain", Module: "other"}, Func: func(*T) error { mark("test_plain"); return nil }},
		{Item: selection.Item{ID: "test_pre_cv", Name: "test_pre_cv", Module: "upgrades", Markers: []selection.Marker{selection.PreUpgrade()}},
			Func: func(t *T) error {
				mark("test_pre_cv")
				return t.SaveData(map[string]any{"cv_id": 42})
			}},
	}

	suite, err := Run(context.Background(), Config{Upgrade: store, Parallel: 2}, cases)
	require.NoError(t, err)

	got := outcomes(suite)
	assert.Equal(t, report.Passed, got["test_pre_cv"])
	assert.Equal(t, report.Passed, got["test_post_cv"])
	assert.Equal(t, report.Skipped, got["test_post_orphan"])
	assert.Equal(t, []string{"test_pre_cv", "test_plain", "test_post_cv"}, order)

	orphan, _ := suite.Result("test_post_orphan")
	assert.Contains(t, orphan.Skip.Reason, "test_pre_missing")
}

func TestRun_Interrupt(t *testing.T) {
	c := newCounters()
	reg := fixture.NewRegistry("session")
	reg.MustRegister(c.fixture("target_sat", fixture.Session), c.fixture("module_org", fixture.Module, "target_sat"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := []Case{
		{Item: selection.Item{ID: "test_1", Module: "m", Fixtures: []string{"module_org"}}, Func: func(t *T) error {
			cancel()
			<-t.Context().Done()
			return t.Context().Err()
		}},
		{Item: selection.Item{ID: "test_2", Module: "m", Fixtures: []string{"module_org"}}, Func: pass},
		{Item: selection.Item{ID: "test_3", Module: "n", Fixtures: []string{"module_org"}}, Func: pass},
	}

	suite, err := Run(ctx, Config{Registry: reg}, cases)
	require.NoError(t, err)
	assert.True(t, suite.Interrupted)

	got := outcomes(suite)
	assert.Equal(t, report.Failed, got["test_1"])
	assert.Equal(t, report.Skipped, got["test_2"])
	assert.Equal(t, report.Skipped, got["test_3"])
	notRun, _ := suite.Result("test_2")
	assert.Contains(t, notRun.Skip.Reason, "not run")

	assert.Equal(t, 1, c.get(c.teardown, "module_org"), "open module scope torn down")
	assert.Equal(t, 1, c.get(c.teardown, "target_sat"), "session scope torn down")
}

func TestRun_FailFast(t *testing.T) {
	var ran atomic.Int32
	cases := []Case{
		{Item: selection.Item{ID: "test_1", Module: "m"}, Func: func(*T) error { ran.Add(1); return errors.New("bad") }},
		{Item: selection.Item{ID: "test_2", Module: "m"}, Func: func(*T) error { ran.Add(1); return nil }},
	}
	suite, err := Run(context.Background(), Config{FailFast: true}, cases)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ran.Load())
	assert.False(t, suite.Interrupted)
	assert.Equal(t, report.Skipped, outcomes(suite)["test_2"])
}

func TestRun_Timeout(t *testing.T) {
	cases := []Case{
		{Item: selection.Item{ID: "test_slow", Module: "m"}, Func: func(t *T) error {
			<-t.Context().Done()
			return t.Context().Err()
		}},
		{Item: selection.Item{ID: "test_next", Module: "m"}, Func: pass},
	}
	suite, err := Run(context.Background(), Config{Timeout: 50 * time.Millisecond}, cases)
	require.NoError(t, err)
	assert.True(t, suite.Interrupted)
	next, _ := suite.Result("test_next")
	assert.Contains(t, next.Skip.Reason, ErrRunTimeout.Error())
}

func TestRun_SubsetAndSelection(t *testing.T) {
	var order []string
	var mu sync.Mutex
	body := func(id string) TestFunc {
		return func(*T) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, id)
			return nil
		}
	}

	cases := []Case{
		{Item: selection.Item{ID: "test_a", Module: "m", Markers: []selection.Marker{selection.Subset("sanity"), selection.Tier(1)}}, Func: body("test_a")},
		{Item: selection.Item{ID: "test_b", Module: "m", Markers: []selection.Marker{selection.Tier(2)}}, Func: body("test_b")},
		{Item: selection.Item{ID: "test_first", Module: "z", Markers: []selection.Marker{selection.Subset("sanity"), selection.FirstInSubset(), selection.Tier(1)}}, Func: body("test_first")},
		{Item: selection.Item{ID: "test_ldap", Module: "m", Markers: []selection.Marker{selection.Subset("sanity"), selection.Requires("ldap"), selection.Tier(1)}}, Func: body("test_ldap")},
		{Item: selection.Item{ID: "test_tier3", Module: "m", Markers: []selection.Marker{selection.Subset("sanity"), selection.Tier(3)}}, Func: body("test_tier3")},
	}

	s := settings.New(map[string]any{})
	_, err := s.Configure(settings.DefaultCatalog())
	require.NoError(t, err)

	suite, err := Run(context.Background(), Config{Subset: "sanity", Markers: "tier1 or tier2", Settings: s, Parallel: 2}, cases)
	require.NoError(t, err)

	got := outcomes(suite)
	assert.Equal(t, report.Passed, got["test_first"])
	assert.Equal(t, report.Passed, got["test_a"])
	assert.Equal(t, report.Deselected, got["test_b"])
	assert.Equal(t, report.Deselected, got["test_tier3"])
	assert.Equal(t, report.Skipped, got["test_ldap"])
	assert.Equal(t, []string{"test_first", "test_a"}, order)

	b, _ := suite.Result("test_b")
	assert.Equal(t, "not in subset sanity", b.Reason)
	ldap, _ := suite.Result("test_ldap")
	assert.Equal(t, "ldap", ldap.Skip.Section)
}

func TestRun_Parametrize(t *testing.T) {
	var seen sync.Map
	cases := []Case{{
		Item: selection.Item{ID: "test_login", Module: "m", Markers: []selection.Marker{selection.Parametrize("kind", "ad", "ipa")}},
		Func: func(t *T) error {
			v, ok := t.Param("kind")
			if !ok {
				return errors.New("no kind")
			}
			seen.Store(v, true)
			return nil
		},
	}}
	suite, err := Run(context.Background(), Config{}, cases)
	require.NoError(t, err)
	assert.Equal(t, 2, suite.Passed)
	_, ad := seen.Load("ad")
	_, ipa := seen.Load("ipa")
	assert.True(t, ad && ipa)
}

func TestRun_CollectionErrors(t *testing.T) {
	noop := func(context.Context, *fixture.Request) (any, error) { return nil, nil }

	t.Run("fixture cycle", func(t *testing.T) {
		reg := fixture.NewRegistry("session")
		reg.MustRegister(
			fixture.Descriptor{Name: "a", Requires: []string{"b"}, Setup: noop},
			fixture.Descriptor{Name: "b", Requires: []string{"a"}, Setup: noop},
		)
		_, err := Run(context.Background(), Config{Registry: reg}, nil)
		var cycle *fixture.FixtureCycleError
		assert.ErrorAs(t, err, &cycle)
	})

	t.Run("subset without first item", func(t *testing.T) {
		cases := []Case{{Item: selection.Item{ID: "test_a", Markers: []selection.Marker{selection.Subset("sanity")}}, Func: pass}}
		_, err := Run(context.Background(), Config{Subset: "sanity"}, cases)
		var cfgErr *selection.ConfigurationException
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("duplicate item", func(t *testing.T) {
		cases := []Case{
			{Item: selection.Item{ID: "test_a", Module: "m"}, Func: pass},
			{Item: selection.Item{ID: "test_a", Module: "m"}, Func: pass},
		}
		_, err := Run(context.Background(), Config{}, cases)
		assert.ErrorContains(t, err, "duplicate item test_a")
	})

	t.Run("bad marker expression", func(t *testing.T) {
		_, err := Run(context.Background(), Config{Markers: "tier1 and ("}, []Case{{Item: selection.Item{ID: "x"}, Func: pass}})
		var cfgErr *selection.ConfigurationException
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestT_NoUpgradeStoreData(t *testing.T) {
	tt := &T{item: selection.Item{ID: "x"}}
	assert.ErrorIs(t, tt.SaveData(map[string]any{}), ErrNoUpgradeStore)
	_, err := tt.PreUpgradeData("y")
	assert.ErrorIs(t, err, ErrNoUpgradeStore)
	_, err = tt.Artifact("z")
	assert.ErrorIs(t, err, fixture.ErrUndeclaredDependency)
}
