package fixture

import (
	"context"
	"errors"
	"fmt"

	"robottelo/internal/rendezvous"
	"robottelo/pkg/logging"
)

// RendezvousFactory returns the named rendezvous every worker agrees on.
type RendezvousFactory func(name string) (rendezvous.Rendezvous, error)

// SharedOptions tunes Shared.
type SharedOptions struct {
	// Exclusive holds the rendezvous lock while producing, for fixtures that
	// mutate the shared resource (an upgrade).
	Exclusive bool
}

// Shared turns a session fixture into one whose artifact is shared by all
// workers. Setup enters the rendezvous first, so it fails when peers never
// arrive. At teardown the fixture first waits in Ready for every peer, and
// only then runs the wrapped teardown.
func Shared(d Descriptor, factory RendezvousFactory, opts SharedOptions) Descriptor {
	inner := d
	out := d
	out.Scope = Session
	out.Teardown = nil
	out.shared = true
	out.Setup = func(ctx context.Context, req *Request) (any, error) {
		rv, err := factory(inner.Name)
		if err != nil {
			return nil, err
		}
		if err := rv.Enter(ctx); err != nil {
			if errors.Is(err, rendezvous.ErrTimeout) {
				return nil, &SkipDependents{Reason: fmt.Sprintf("peers of shared fixture %s did not arrive", inner.Name), Err: err}
			}
			return nil, err
		}

		var unlock func()
		if opts.Exclusive {
			if unlock, err = rv.Lock(ctx); err != nil {
				return nil, err
			}
		}
		artifact, err := inner.Setup(ctx, req)
		if unlock != nil {
			unlock()
		}
		if err == nil && inner.Teardown != nil {
			req.Cleanup(func(ctx context.Context, _ error) error {
				return inner.Teardown(ctx, artifact)
			})
		}
		// Registered last so it runs first.
		req.Cleanup(func(ctx context.Context, _ error) error {
			logging.Debug("Rendezvous", "Waiting for peers of %s before teardown", inner.Name)
			return rv.Ready(ctx)
		})
		return artifact, err
	}
	return out
}
