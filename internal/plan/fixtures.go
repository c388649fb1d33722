package plan

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"robottelo/internal/client"
	"robottelo/internal/fixture"
	"robottelo/internal/fixtures"
	"robottelo/internal/template"
)

// Register installs the fixtures declared by files into reg. Plan
// fixtures may require each other and any fixture already in reg.
func Register(reg *fixture.Registry, files []*File) error {
	engine := template.New()
	for _, f := range files {
		for _, spec := range f.Fixtures {
			d, err := descriptor(engine, spec)
			if err != nil {
				return fmt.Errorf("fixture %s in %s: %w", spec.Name, f.Path, err)
			}
			if err := reg.Register(d); err != nil {
				return err
			}
		}
	}
	return nil
}

func descriptor(engine *template.Engine, spec FixtureSpec) (fixture.Descriptor, error) {
	scope, err := fixture.ParseScope(spec.Scope)
	if err != nil {
		return fixture.Descriptor{}, err
	}
	requires := lo.Without(lo.Uniq(spec.Requires), fixtures.TargetSat)
	attrs := func(ctx context.Context, req *fixture.Request) (client.Attrs, error) {
		data := map[string]any{fixtures.TargetSat: nil}
		if sat, err := req.Artifact(fixtures.TargetSat); err == nil {
			data[fixtures.TargetSat] = view(sat)
		}
		for _, name := range requires {
			v, err := req.Artifact(name)
			if err != nil {
				return nil, err
			}
			data[name] = view(v)
		}
		if p, ok := req.Param(); ok {
			data["param"] = p
		}
		rendered, err := engine.Replace(spec.Attrs, data)
		if err != nil {
			return nil, fmt.Errorf("rendering attrs: %w", err)
		}
		out, _ := rendered.(map[string]any)
		return client.Attrs(out), nil
	}

	d := fixtures.Entity(spec.Name, scope, client.Kind(spec.Kind), requires, attrs)
	d.Params = spec.Params
	d.IndirectKeys = spec.Indirect
	d.Capabilities = spec.Capabilities
	if spec.Description != "" {
		d.Description = spec.Description
	}
	return d, nil
}

// view is what templates see of an artifact.
func view(artifact any) any {
	switch v := artifact.(type) {
	case *client.Entity:
		return entityView(v)
	case *client.Server:
		return map[string]any{"hostname": v.Hostname}
	default:
		return artifact
	}
}

// entityView flattens an entity: its attributes plus id and kind.
func entityView(e *client.Entity) map[string]any {
	if e == nil {
		return nil
	}
	out := make(map[string]any, len(e.Attrs)+2)
	for k, v := range e.Attrs {
		out[k] = v
	}
	out["id"] = e.ID
	out["kind"] = string(e.Kind)
	return out
}
