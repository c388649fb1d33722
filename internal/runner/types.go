package runner

import (
	"time"

	"robottelo/internal/fixture"
	"robottelo/internal/report"
	"robottelo/internal/selection"
	"robottelo/internal/settings"
	"robottelo/internal/upgrade"
)

// TestFunc is a test body. Returning an error fails the item; returning
// t.Skip(...) skips it.
type TestFunc func(t *T) error

// Case is a collected item and its body.
type Case struct {
	Item selection.Item
	Func TestFunc
}

// Config drives one run.
type Config struct {
	// Parallel is the number of workers. Values below 1 mean 1.
	Parallel int
	// FailFast stops scheduling new items after the first failure or error.
	FailFast bool
	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
	// ItemTimeout bounds each test body. Zero means no limit.
	ItemTimeout time.Duration

	// Subset, when set, restricts the run to items carrying that marker.
	Subset    string
	Whitelist map[string][]any
	// Markers is a marker expression such as "tier1 and not destructive".
	Markers string
	Tiers   []int

	Registry *fixture.Registry
	Settings *settings.Settings
	// Upgrade stores pre-upgrade data. When nil an in-memory store is used.
	Upgrade  *upgrade.Store
	Reporter report.Reporter
	Hooks    fixture.Hooks
	// Presence, when set, is told which workers have no work left so
	// shared fixture barriers stop waiting for them.
	Presence Presence

	// Backend is informational, for the report.
	Backend string
}

// Presence tracks workers that are away. *rendezvous.Factory implements it.
type Presence interface {
	Depart(member string)
	Rejoin(member string)
}

func (c Config) workers() int {
	if c.Parallel < 1 {
		return 1
	}
	return c.Parallel
}
