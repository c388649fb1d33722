// Package fixtures registers the Satellite domain fixtures: the target
// server, the organization/content tree most tests build on, setting
// mutations, LDAP auth sources and the shared upgrade.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"robottelo/internal/client"
	"robottelo/internal/client/rest"
	"robottelo/internal/client/sshexec"
	"robottelo/internal/fixture"
	"robottelo/internal/rendezvous"
	"robottelo/internal/settings"
	"robottelo/internal/sharedfunc"
	"robottelo/pkg/logging"
)

// Fixture names.
const (
	TargetSat         = "target_sat"
	ModuleOrg         = "module_org"
	ModuleLocation    = "module_location"
	ModuleLCE         = "module_lce"
	ModuleCV          = "module_cv"
	ModuleProduct     = "module_product"
	ModuleRepository  = "module_repository"
	ModulePublishedCV = "module_published_cv"
	ModuleAK          = "module_ak"
	FunctionOrg       = "function_org"
	SettingUpdate     = "setting_update"
	LDAPAuthSource    = "ldap_auth_source"
	UpgradeSatellite  = "upgrade_satellite"
)

// DefaultRepoURL is synced by module_repository unless the test passes
// repo_url.
const DefaultRepoURL = "https://fixtures.pulpproject.org/rpm-no-comps/"

// Connector opens the handles to the target server.
type Connector func(ctx context.Context, s *settings.Settings) (*client.Server, error)

// Options configures Register.
type Options struct {
	// Connect defaults to the REST plus SSH connector.
	Connect Connector
	// Rendezvous backs upgrade_satellite. Defaults to a single-party local
	// rendezvous.
	Rendezvous fixture.RendezvousFactory
	// SharedStorage stores the shared upgrade outcome so separate
	// processes reuse it. Nil keeps the outcome in process.
	SharedStorage sharedfunc.Storage
	// TaskTimeout bounds sync, publish and promote tasks. Defaults to
	// robottelo.setup_timeout.
	TaskTimeout time.Duration
}

// Register installs the domain fixtures into reg.
func Register(reg *fixture.Registry, opts Options) error {
	if opts.Connect == nil {
		opts.Connect = Connect
	}
	if opts.Rendezvous == nil {
		opts.Rendezvous = rendezvous.NewFactory(1, time.Hour, nil).Get
	}
	f := &factory{opts: opts}
	descs := []fixture.Descriptor{
		f.targetSat(),
		f.organization(ModuleOrg, fixture.Module),
		f.location(),
		f.lifecycleEnvironment(),
		f.contentView(),
		f.product(),
		f.repository(),
		f.publishedContentView(),
		f.activationKey(),
		f.organization(FunctionOrg, fixture.Function),
		fixture.SettingUpdate(SettingUpdate, TargetSat, settingStore),
		f.ldapAuthSource(),
		f.upgradeSatellite(),
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Connect builds the REST client and SSH executor from the server section.
// The REST client retries reads itself.
func Connect(ctx context.Context, s *settings.Settings) (*client.Server, error) {
	srv := s.Server()
	rc, err := rest.New(rest.ConfigFromSettings(srv))
	if err != nil {
		return nil, err
	}
	ex, err := sshexec.New(sshexec.ConfigFromSettings(srv))
	if err != nil {
		return nil, err
	}
	return &client.Server{Hostname: srv.Hostname, Client: rc, Executor: ex}, nil
}

type factory struct {
	opts Options
}

func (f *factory) taskTimeout(req *fixture.Request) time.Duration {
	if f.opts.TaskTimeout > 0 {
		return f.opts.TaskTimeout
	}
	if s := req.Settings(); s != nil {
		if d := s.Robottelo().SetupTimeoutDuration(); d > 0 {
			return d
		}
	}
	return time.Hour
}

func settingStore(server any) (fixture.SettingStore, error) {
	sat, ok := server.(*client.Server)
	if !ok {
		return nil, fmt.Errorf("%s is %T, not *client.Server", TargetSat, server)
	}
	return client.SettingsAPI{Client: sat}, nil
}

func cleanupEnabled(req *fixture.Request) bool {
	s := req.Settings()
	return s != nil && s.Robottelo().Cleanup
}

// RandomName returns prefix followed by a short random suffix.
func RandomName(prefix string) string {
	return prefix + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func (f *factory) targetSat() fixture.Descriptor {
	return fixture.Descriptor{
		Name:         TargetSat,
		Scope:        fixture.Session,
		Capabilities: []string{"server"},
		Description:  "the Satellite under test",
		Setup: func(ctx context.Context, req *fixture.Request) (any, error) {
			sat, err := f.opts.Connect(ctx, req.Settings())
			if err != nil {
				return nil, err
			}
			logging.Info("Fixture", "Using Satellite %s", sat.Hostname)
			return sat, nil
		},
		Teardown: func(ctx context.Context, artifact any) error {
			if c, ok := artifact.(*client.Server).Executor.(io.Closer); ok {
				return c.Close()
			}
			return nil
		},
	}
}

// AttrsFunc computes the create attributes of an entity fixture.
type AttrsFunc func(ctx context.Context, req *fixture.Request) (client.Attrs, error)

// Entity declares a fixture that creates one entity on the target server
// and deletes it at scope exit when cleanup is enabled.
func Entity(name string, scope fixture.Scope, kind client.Kind, requires []string, attrs AttrsFunc) fixture.Descriptor {
	d := fixture.Yield(name, scope, append([]string{TargetSat}, requires...), func(ctx context.Context, req *fixture.Request) (any, fixture.Finalizer, error) {
		sat, err := fixture.Get[*client.Server](req, TargetSat)
		if err != nil {
			return nil, nil, err
		}
		a, err := attrs(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		e, err := sat.Create(ctx, kind, a)
		if err != nil {
			return nil, nil, err
		}
		logging.Debug("Fixture", "Created %s for %s", e, name)
		if !cleanupEnabled(req) {
			return e, nil, nil
		}
		return e, deleteEntity(sat, e), nil
	})
	d.Description = fmt.Sprintf("a %s %s", scope, kind)
	return d
}

func deleteEntity(c client.Client, e *client.Entity) fixture.Finalizer {
	return func(ctx context.Context, _ error) error {
		err := c.Delete(ctx, e.Kind, e.ID)
		if errors.Is(err, client.ErrNotFound) {
			return nil
		}
		return err
	}
}

func entityID(req *fixture.Request, name string) (int, error) {
	e, err := fixture.Get[*client.Entity](req, name)
	if err != nil {
		return 0, err
	}
	return e.ID, nil
}
