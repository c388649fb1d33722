package selection

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"robottelo/internal/dependency"
	"robottelo/internal/fixture"
	"robottelo/pkg/logging"
)

// Outcome pairs an item with the skip decision of a filter.
type Outcome struct {
	Item Item
	Skip *Skip
}

// CapabilityFilter marks items whose requires markers name an unconfigured
// section. Skipped items stay in the result; a skip is not a failure.
func CapabilityFilter(items []Item, caps fixture.Capabilities) []Outcome {
	out := make([]Outcome, 0, len(items))
	for _, item := range items {
		o := Outcome{Item: item}
		for _, section := range item.RequiredSections() {
			if caps == nil || !caps.Capability(section) {
				o.Skip = fixture.SkipFor(caps, section)
				logging.Debug("Selection", "Skipping %s: %s", item.ID, o.Skip.Reason)
				break
			}
		}
		out = append(out, o)
	}
	return out
}

// SubsetPolicy describes a curated subset run.
type SubsetPolicy struct {
	// Name is the subset marker, e.g. "sanity".
	Name string
	// Whitelist restricts parameter values: an item parametrized on a key
	// listed here is kept only for the listed values.
	Whitelist map[string][]any
	// Registry and Capabilities, when both set, deselect items whose
	// fixture closure would be skipped at setup.
	Registry     *fixture.Registry
	Capabilities fixture.Capabilities
}

// SelectSubset partitions items by subset membership. The single
// first_in_subset item is moved to the front; zero or several of them is a
// ConfigurationException.
func SelectSubset(items []Item, policy SubsetPolicy) (selected, deselected []Item, err error) {
	var first []Item
	for _, item := range items {
		reason := SubsetReason(item, policy)
		if reason != "" {
			logging.Debug("Selection", "Deselecting %s: %s", item.ID, reason)
			deselected = append(deselected, item)
			continue
		}
		if item.HasMarker(MarkFirstInSubset) {
			first = append(first, item)
			continue
		}
		selected = append(selected, item)
	}

	switch len(first) {
	case 1:
	case 0:
		return nil, nil, &ConfigurationException{
			Reason: fmt.Sprintf("subset %s has no item marked %s", policy.Name, MarkFirstInSubset),
		}
	default:
		ids := lo.Map(first, func(it Item, _ int) string { return it.ID })
		return nil, nil, &ConfigurationException{
			Reason: fmt.Sprintf("subset %s has %d items marked %s: %s", policy.Name, len(first), MarkFirstInSubset, strings.Join(ids, ", ")),
		}
	}
	selected = append(first, selected...)
	logging.Info("Selection", "Subset %s: %d selected, %d deselected", policy.Name, len(selected), len(deselected))
	return selected, deselected, nil
}

// SubsetReason explains why policy deselects item, or returns "".
func SubsetReason(item Item, policy SubsetPolicy) string {
	if !item.HasMarker(policy.Name) {
		return "not in subset " + policy.Name
	}
	for key, allowed := range policy.Whitelist {
		v, ok := item.Params[key]
		if ok && !lo.ContainsBy(allowed, func(a any) bool { return fmt.Sprint(a) == fmt.Sprint(v) }) {
			return fmt.Sprintf("parameter %s=%v is not whitelisted", key, v)
		}
	}
	if policy.Registry != nil && policy.Capabilities != nil {
		if skip := fixtureSkip(item, policy.Registry, policy.Capabilities); skip != nil {
			if skip.Section != "" {
				return fmt.Sprintf("fixtures need unconfigured %s", skip.Section)
			}
			return "fixtures skip: " + skip.Reason
		}
	}
	return ""
}

// fixtureSkip applies the same gate as fixture resolution to every fixture
// in the item's closure.
func fixtureSkip(item Item, reg *fixture.Registry, caps fixture.Capabilities) *fixture.Skip {
	plan, err := reg.Plan(item.Fixtures...)
	if err != nil {
		// Resolution reports it properly later.
		return nil
	}
	for _, d := range plan {
		if skip := d.SkipReason(caps); skip != nil {
			return skip
		}
	}
	return nil
}

// FilterTiers keeps items of the given tiers. No tiers keeps everything.
func FilterTiers(items []Item, tiers ...int) (kept, dropped []Item) {
	if len(tiers) == 0 {
		return items, nil
	}
	return lo.FilterReject(items, func(it Item, _ int) bool { return lo.Contains(tiers, it.Tier()) })
}

// FilterMarkers keeps items matching a marker expression such as
// "tier1 and not destructive".
func FilterMarkers(items []Item, expr string) (kept, dropped []Item, err error) {
	if strings.TrimSpace(expr) == "" {
		return items, nil, nil
	}
	match, err := ParseExpr(expr)
	if err != nil {
		return nil, nil, &ConfigurationException{Reason: "invalid marker expression", Err: err}
	}
	kept, dropped = lo.FilterReject(items, func(it Item, _ int) bool { return match(it) })
	return kept, dropped, nil
}

// Plan separates items that may share the worker pool from those that run
// alone.
type Plan struct {
	Parallel []Item
	Serial   []Item
}

// Group splits destructive and run_in_one_thread items off, keeping order.
func Group(items []Item) Plan {
	serial, parallel := lo.FilterReject(items, func(it Item, _ int) bool { return it.Serial() })
	return Plan{Parallel: parallel, Serial: serial}
}

// Phase is an upgrade phase.
type Phase int

const (
	PhaseNone Phase = iota
	PhasePre
	PhasePost
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "pre_upgrade"
	case PhasePost:
		return "post_upgrade"
	}
	return "none"
}

// PhaseOf returns the item's upgrade phase.
func PhaseOf(it Item) Phase {
	switch {
	case it.HasMarker(MarkPreUpgrade):
		return PhasePre
	case it.HasMarker(MarkPostUpgrade):
		return PhasePost
	}
	return PhaseNone
}

// OrderUpgrade returns pre_upgrade items, then unphased items, then
// post_upgrade items ordered so that every post item follows the post items
// it depends on. A depends_on cycle is a ConfigurationException.
func OrderUpgrade(items []Item) ([]Item, error) {
	var pre, none, post []Item
	for _, it := range items {
		switch PhaseOf(it) {
		case PhasePre:
			pre = append(pre, it)
		case PhasePost:
			post = append(post, it)
		default:
			none = append(none, it)
		}
	}
	if len(post) == 0 {
		return append(pre, none...), nil
	}

	g := dependency.New()
	byName := make(map[string][]Item)
	var names []dependency.NodeID
	for _, it := range post {
		name := it.TestName()
		if _, seen := byName[name]; !seen {
			names = append(names, dependency.NodeID(name))
		}
		byName[name] = append(byName[name], it)
	}
	for _, name := range names {
		var deps []dependency.NodeID
		for _, it := range byName[string(name)] {
			for _, dep := range it.DependsOn() {
				// Only post items constrain order; pre items all run first.
				if _, ok := byName[dep]; ok {
					deps = append(deps, dependency.NodeID(dep))
				}
			}
		}
		g.AddNode(dependency.Node{ID: name, DependsOn: lo.Uniq(deps)})
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, &ConfigurationException{Reason: "post_upgrade depends_on", Err: err}
	}

	out := append(pre, none...)
	for _, id := range order {
		out = append(out, byName[string(id)]...)
	}
	return out, nil
}

// DataSource tells whether a pre-upgrade test saved data.
type DataSource interface {
	Has(test string) bool
}

// UpgradeGate skips a post_upgrade item when a dependency produced no saved
// data.
func UpgradeGate(item Item, data DataSource) *Skip {
	if PhaseOf(item) != PhasePost {
		return nil
	}
	for _, dep := range item.DependsOn() {
		if data == nil || !data.Has(dep) {
			return &Skip{Reason: fmt.Sprintf("pre-upgrade test %s saved no data", dep), Keys: []string{dep}}
		}
	}
	return nil
}
