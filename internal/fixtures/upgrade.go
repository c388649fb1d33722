package fixtures

import (
	"context"
	"fmt"

	"robottelo/internal/client"
	"robottelo/internal/fixture"
	"robottelo/internal/settings"
	"robottelo/internal/sharedfunc"
	"robottelo/pkg/logging"
)

// UpgradeResult is the artifact of upgrade_satellite.
type UpgradeResult struct {
	From   string
	To     string
	Output string
}

// upgradeSatellite upgrades the target server once for all workers. Every
// worker enters the rendezvous; the first to take the lock runs the
// upgrade and the others see the server already at the target version.
// With shared_function enabled the outcome is also stored, so other
// processes and later runs reuse it instead of querying the server.
func (f *factory) upgradeSatellite() fixture.Descriptor {
	d := fixture.Descriptor{
		Name:         UpgradeSatellite,
		Scope:        fixture.Session,
		Requires:     []string{TargetSat},
		Capabilities: []string{"upgrade"},
		Description:  "the target server upgraded to upgrade.to_version",
		Setup: func(ctx context.Context, req *fixture.Request) (any, error) {
			sat, err := fixture.Get[*client.Server](req, TargetSat)
			if err != nil {
				return nil, err
			}
			up := req.Settings().Upgrade()
			if up.FromVersion == nil || up.ToVersion == nil {
				return nil, fmt.Errorf("upgrade.from_version and upgrade.to_version are required")
			}
			key := fmt.Sprintf("upgrade_satellite:%s:%s", sat.Hostname, up.ToVersion.String())
			opts := sharedfunc.OptionsFromSettings(req.Settings().SharedFunction())
			res, err := sharedfunc.Shared(ctx, f.opts.SharedStorage, key, opts, func(ctx context.Context) (UpgradeResult, error) {
				return runUpgrade(ctx, sat, up)
			})
			if err != nil {
				return nil, err
			}
			return &res, nil
		},
	}
	return fixture.Shared(d, f.opts.Rendezvous, fixture.SharedOptions{Exclusive: true})
}

// runUpgrade upgrades sat unless it already runs the target version.
func runUpgrade(ctx context.Context, sat *client.Server, up settings.Upgrade) (UpgradeResult, error) {
	res := UpgradeResult{From: up.FromVersion.String(), To: up.ToVersion.String()}

	current, err := sat.Exec(ctx, "rpm -q --queryformat '%{VERSION}' satellite")
	if err != nil {
		return res, err
	}
	if current.Status == 0 && current.Stdout == res.To {
		logging.Info("Upgrade", "%s already at %s", sat.Hostname, res.To)
		return res, nil
	}

	cmd := fmt.Sprintf("satellite-maintain upgrade run --target-version %d.%d -y --whitelist=repositories-validate,repositories-setup",
		up.ToVersion.Major(), up.ToVersion.Minor())
	logging.Info("Upgrade", "Upgrading %s from %s to %s", sat.Hostname, res.From, res.To)
	out, err := sat.Exec(ctx, cmd)
	if err != nil {
		return res, err
	}
	if out.Status != 0 {
		return res, &client.RemoteOperationError{Op: "exec", Message: fmt.Sprintf("upgrade exited %d: %s", out.Status, out.Stderr)}
	}
	res.Output = out.Stdout
	return res, nil
}
