package plan

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"robottelo/internal/client"
	"robottelo/internal/fixtures"
	"robottelo/internal/runner"
	"robottelo/internal/selection"
	"robottelo/internal/template"
	"robottelo/pkg/logging"
)

// Cases turns the tests of files into runnable cases. Every test requests
// target_sat.
func Cases(files []*File) []runner.Case {
	engine := template.New()
	var cases []runner.Case
	for _, f := range files {
		for _, ts := range f.Tests {
			cases = append(cases, runner.Case{Item: Item(f, ts), Func: testFunc(engine, ts)})
		}
	}
	return cases
}

// Item builds the collected item of a test.
func Item(f *File, ts TestSpec) selection.Item {
	markers := lo.Map(ts.Markers, func(m MarkerSpec, _ int) selection.Marker { return selection.Marker(m) })
	for _, p := range ts.Parametrize {
		markers = append(markers, selection.Parametrize(p.Name, p.Values...))
	}
	return selection.Item{
		ID:       ts.Name,
		Name:     ts.Name,
		Module:   f.moduleOf(ts),
		Fixtures: lo.Uniq(append([]string{fixtures.TargetSat}, ts.Fixtures...)),
		Markers:  markers,
	}
}

func testFunc(engine *template.Engine, ts TestSpec) runner.TestFunc {
	return func(t *runner.T) error {
		sat, err := runner.Get[*client.Server](t, fixtures.TargetSat)
		if err != nil {
			return err
		}
		data, err := templateData(t)
		if err != nil {
			return err
		}

		r := &stepRunner{ctx: t.Context(), engine: engine, sat: sat, t: t, data: data}
		var testErr error
		for _, step := range ts.Steps {
			if testErr = r.run(step); testErr != nil {
				break
			}
		}

		// Cleanup runs even when the item was interrupted.
		r.ctx = context.WithoutCancel(t.Context())
		for _, step := range ts.Cleanup {
			if err := r.run(step); err != nil {
				t.Logf("cleanup %v", err)
				logging.Warn("Plan", "%s: cleanup %v", t.ID(), err)
			}
		}
		return testErr
	}
}

// templateData is what step templates start with: a view of every
// requested fixture, the item's parameters and saved pre-upgrade data.
func templateData(t *runner.T) (map[string]any, error) {
	it := t.Item()
	data := map[string]any{
		"params": lo.Assign(map[string]any{}, it.Params),
		"item":   map[string]any{"id": it.ID, "name": it.TestName(), "module": it.Module},
	}
	for _, name := range it.Fixtures {
		v, err := t.Artifact(name)
		if err != nil {
			return nil, err
		}
		data[name] = view(v)
	}
	if deps := it.DependsOn(); len(deps) > 0 {
		pre := make(map[string]any, len(deps))
		for _, dep := range deps {
			saved, err := t.PreUpgradeData(dep)
			if err != nil {
				return nil, fmt.Errorf("loading pre-upgrade data: %w", err)
			}
			pre[dep] = saved
		}
		data["pre_upgrade"] = pre
	}
	return data, nil
}
