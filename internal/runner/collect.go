package runner

import (
	"fmt"

	"robottelo/internal/fixture"
	"robottelo/internal/selection"
)

type deselectedItem struct {
	idx    int
	item   selection.Item
	reason string
}

type skippedItem struct {
	idx  int
	item selection.Item
	skip *fixture.Skip
}

type collection struct {
	deselected []deselectedItem
	skipped    []skippedItem
	runnable   []job
}

func (c *collection) size() int {
	return len(c.deselected) + len(c.skipped) + len(c.runnable)
}

// collect expands parametrizations and applies the selection policy:
// tiers, marker expression, subset, upgrade ordering and capability skips.
func collect(cfg Config, cases []Case) (*collection, error) {
	funcs := make(map[string]TestFunc)
	var items []selection.Item
	for _, c := range cases {
		expanded, err := selection.ExpandFixtures(selection.ExpandParametrize([]selection.Item{c.Item}), cfg.Registry)
		if err != nil {
			return nil, &selection.ConfigurationException{Reason: fmt.Sprintf("collecting %s", c.Item.ID), Err: err}
		}
		for _, it := range expanded {
			key := itemKey(it)
			if _, dup := funcs[key]; dup {
				return nil, &selection.ConfigurationException{Reason: fmt.Sprintf("duplicate item %s in %s", it.ID, it.Module)}
			}
			funcs[key] = c.Func
			items = append(items, it)
		}
	}

	col := &collection{}
	idx := 0
	deselect := func(dropped []selection.Item, reason func(selection.Item) string) {
		for _, it := range dropped {
			col.deselected = append(col.deselected, deselectedItem{idx: idx, item: it, reason: reason(it)})
			idx++
		}
	}

	kept, dropped := selection.FilterTiers(items, cfg.Tiers...)
	deselect(dropped, func(it selection.Item) string { return fmt.Sprintf("tier %d not selected", it.Tier()) })

	kept, dropped, err := selection.FilterMarkers(kept, cfg.Markers)
	if err != nil {
		return nil, err
	}
	deselect(dropped, func(selection.Item) string { return fmt.Sprintf("deselected by %q", cfg.Markers) })

	var caps fixture.Capabilities
	if cfg.Settings != nil {
		caps = cfg.Settings
	}
	if cfg.Subset != "" {
		policy := selection.SubsetPolicy{
			Name:         cfg.Subset,
			Whitelist:    cfg.Whitelist,
			Registry:     cfg.Registry,
			Capabilities: caps,
		}
		kept, dropped, err = selection.SelectSubset(kept, policy)
		if err != nil {
			return nil, err
		}
		deselect(dropped, func(it selection.Item) string { return selection.SubsetReason(it, policy) })
	}

	ordered, err := selection.OrderUpgrade(kept)
	if err != nil {
		return nil, err
	}

	for _, o := range selection.CapabilityFilter(ordered, caps) {
		if o.Skip != nil {
			col.skipped = append(col.skipped, skippedItem{idx: idx, item: o.Item, skip: o.Skip})
		} else {
			col.runnable = append(col.runnable, job{idx: idx, c: Case{Item: o.Item, Func: funcs[itemKey(o.Item)]}})
		}
		idx++
	}
	return col, nil
}

func itemKey(it selection.Item) string {
	return it.Module + "::" + it.ID
}
