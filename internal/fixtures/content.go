package fixtures

import (
	"context"
	"fmt"

	"robottelo/internal/client"
	"robottelo/internal/fixture"
	"robottelo/pkg/logging"
)

func (f *factory) organization(name string, scope fixture.Scope) fixture.Descriptor {
	return Entity(name, scope, client.KindOrganization, nil, func(context.Context, *fixture.Request) (client.Attrs, error) {
		return client.Attrs{"name": RandomName("org")}, nil
	})
}

func (f *factory) location() fixture.Descriptor {
	return Entity(ModuleLocation, fixture.Module, client.KindLocation, []string{ModuleOrg}, func(_ context.Context, req *fixture.Request) (client.Attrs, error) {
		org, err := entityID(req, ModuleOrg)
		if err != nil {
			return nil, err
		}
		return client.Attrs{"name": RandomName("loc"), "organization_ids": []int{org}}, nil
	})
}

func (f *factory) lifecycleEnvironment() fixture.Descriptor {
	return Entity(ModuleLCE, fixture.Module, client.KindLifecycleEnvironment, []string{ModuleOrg}, func(_ context.Context, req *fixture.Request) (client.Attrs, error) {
		org, err := entityID(req, ModuleOrg)
		if err != nil {
			return nil, err
		}
		return client.Attrs{"name": RandomName("lce"), "organization_id": org, "prior": "Library"}, nil
	})
}

func (f *factory) contentView() fixture.Descriptor {
	return Entity(ModuleCV, fixture.Module, client.KindContentView, []string{ModuleOrg}, func(_ context.Context, req *fixture.Request) (client.Attrs, error) {
		org, err := entityID(req, ModuleOrg)
		if err != nil {
			return nil, err
		}
		return client.Attrs{"name": RandomName("cv"), "organization_id": org}, nil
	})
}

func (f *factory) product() fixture.Descriptor {
	return Entity(ModuleProduct, fixture.Module, client.KindProduct, []string{ModuleOrg}, func(_ context.Context, req *fixture.Request) (client.Attrs, error) {
		org, err := entityID(req, ModuleOrg)
		if err != nil {
			return nil, err
		}
		return client.Attrs{"name": RandomName("product"), "organization_id": org}, nil
	})
}

// repository creates a yum repository in module_product and syncs it. A
// test may pass repo_url to sync another feed.
func (f *factory) repository() fixture.Descriptor {
	create := Entity(ModuleRepository, fixture.Module, client.KindRepository, []string{ModuleProduct}, func(_ context.Context, req *fixture.Request) (client.Attrs, error) {
		product, err := entityID(req, ModuleProduct)
		if err != nil {
			return nil, err
		}
		url := DefaultRepoURL
		if v, ok := req.Param(); ok {
			url = fmt.Sprint(v)
		}
		return client.Attrs{"name": RandomName("repo"), "product_id": product, "content_type": "yum", "url": url}, nil
	})
	d := create
	d.IndirectKeys = []string{"repo_url"}
	d.Setup = func(ctx context.Context, req *fixture.Request) (any, error) {
		artifact, err := create.Setup(ctx, req)
		if err != nil {
			return artifact, err
		}
		repo := artifact.(*client.Entity)
		sat, err := fixture.Get[*client.Server](req, TargetSat)
		if err != nil {
			return repo, err
		}
		if _, err := client.InvokeAndWait(ctx, sat, client.KindRepository, repo.ID, "sync", nil, f.taskTimeout(req)); err != nil {
			return repo, fmt.Errorf("failed to sync %s: %w", repo, err)
		}
		logging.Debug("Fixture", "Synced %s", repo)
		return repo, nil
	}
	return d
}

// PublishedCV is the artifact of module_published_cv: a content view with
// module_repository, published and promoted to module_lce.
type PublishedCV struct {
	ContentView *client.Entity
	Version     string
	Environment *client.Entity
}

func (f *factory) publishedContentView() fixture.Descriptor {
	return fixture.Descriptor{
		Name:        ModulePublishedCV,
		Scope:       fixture.Module,
		Requires:    []string{TargetSat, ModuleCV, ModuleRepository, ModuleLCE},
		Description: "module_cv with module_repository published and promoted to module_lce",
		Setup: func(ctx context.Context, req *fixture.Request) (any, error) {
			sat, err := fixture.Get[*client.Server](req, TargetSat)
			if err != nil {
				return nil, err
			}
			cv, err := fixture.Get[*client.Entity](req, ModuleCV)
			if err != nil {
				return nil, err
			}
			repo, err := fixture.Get[*client.Entity](req, ModuleRepository)
			if err != nil {
				return nil, err
			}
			lce, err := fixture.Get[*client.Entity](req, ModuleLCE)
			if err != nil {
				return nil, err
			}
			timeout := f.taskTimeout(req)

			if cv, err = sat.Update(ctx, client.KindContentView, cv.ID, client.Attrs{"repository_ids": []int{repo.ID}}); err != nil {
				return nil, err
			}
			published, err := client.InvokeAndWait(ctx, sat, client.KindContentView, cv.ID, "publish", nil, timeout)
			if err != nil {
				return nil, fmt.Errorf("failed to publish %s: %w", cv, err)
			}
			version := fmt.Sprint(published.Attrs["version"])
			if published.Task != nil {
				if v, ok := published.Task.Output["version"]; ok {
					version = fmt.Sprint(v)
				}
			}
			payload := client.Attrs{"environment_ids": []int{lce.ID}, "version": version}
			if _, err := client.InvokeAndWait(ctx, sat, client.KindContentView, cv.ID, "promote", payload, timeout); err != nil {
				return nil, fmt.Errorf("failed to promote %s version %s to %s: %w", cv, version, lce, err)
			}
			logging.Info("Fixture", "Published %s version %s to %s", cv, version, lce)
			return &PublishedCV{ContentView: cv, Version: version, Environment: lce}, nil
		},
	}
}

func (f *factory) activationKey() fixture.Descriptor {
	return Entity(ModuleAK, fixture.Module, client.KindActivationKey, []string{ModuleOrg, ModulePublishedCV}, func(_ context.Context, req *fixture.Request) (client.Attrs, error) {
		org, err := entityID(req, ModuleOrg)
		if err != nil {
			return nil, err
		}
		cv, err := fixture.Get[*PublishedCV](req, ModulePublishedCV)
		if err != nil {
			return nil, err
		}
		return client.Attrs{
			"name":            RandomName("ak"),
			"organization_id": org,
			"content_view_id": cv.ContentView.ID,
			"environment_id":  cv.Environment.ID,
		}, nil
	})
}
