package selection

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"robottelo/internal/fixture"
)

// Skip is the structured skip reason shared with the fixture engine.
type Skip = fixture.Skip

// Marker names.
const (
	MarkRequires       = "requires"
	MarkDestructive    = "destructive"
	MarkRunInOneThread = "run_in_one_thread"
	MarkFirstInSubset  = "first_in_subset"
	MarkPreUpgrade     = "pre_upgrade"
	MarkPostUpgrade    = "post_upgrade"
	MarkParametrize    = "parametrize"
	tierPrefix         = "tier"
)

// Marker is a labeled attribute of a test item.
type Marker struct {
	Name   string         `json:"name" yaml:"name"`
	Args   []any          `json:"args,omitempty" yaml:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty" yaml:"kwargs,omitempty"`
}

func (m Marker) String() string {
	if len(m.Args) == 0 && len(m.Kwargs) == 0 {
		return m.Name
	}
	parts := lo.Map(m.Args, func(a any, _ int) string { return fmt.Sprint(a) })
	keys := lo.Keys(m.Kwargs)
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m.Kwargs[k]))
	}
	return fmt.Sprintf("%s(%s)", m.Name, strings.Join(parts, ", "))
}

func (m Marker) strings() []string {
	return lo.Map(m.Args, func(a any, _ int) string { return fmt.Sprint(a) })
}

// Requires gates an item on configured settings sections.
func Requires(sections ...string) Marker {
	return Marker{Name: MarkRequires, Args: lo.ToAnySlice(sections)}
}

// Tier marks criticality, 1 to 4.
func Tier(n int) Marker { return Marker{Name: tierPrefix + strconv.Itoa(n)} }

func Destructive() Marker    { return Marker{Name: MarkDestructive} }
func RunInOneThread() Marker { return Marker{Name: MarkRunInOneThread} }
func FirstInSubset() Marker  { return Marker{Name: MarkFirstInSubset} }
func PreUpgrade() Marker     { return Marker{Name: MarkPreUpgrade} }

// Subset marks membership of a curated subset such as "sanity".
func Subset(name string) Marker { return Marker{Name: name} }

// PostUpgrade marks a post-upgrade item and the pre-upgrade items whose
// saved data it needs.
func PostUpgrade(dependsOn ...string) Marker {
	return Marker{Name: MarkPostUpgrade, Kwargs: map[string]any{"depends_on": dependsOn}}
}

// Parametrize declares one parameter axis of the item.
func Parametrize(name string, values ...any) Marker {
	return Marker{Name: MarkParametrize, Args: append([]any{name}, values...)}
}

// Item is a collected test item.
type Item struct {
	ID       string         `json:"id"`
	Module   string         `json:"module"`
	Name     string         `json:"name"`
	Fixtures []string       `json:"fixtures,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Markers  []Marker       `json:"markers,omitempty"`
}

// TestName is the name other items refer to in depends_on.
func (it Item) TestName() string {
	if it.Name != "" {
		return it.Name
	}
	return it.ID
}

// HasMarker reports whether the item carries a marker with that name.
func (it Item) HasMarker(name string) bool {
	return lo.ContainsBy(it.Markers, func(m Marker) bool { return m.Name == name })
}

// Marker returns the first marker with that name.
func (it Item) Marker(name string) (Marker, bool) {
	return lo.Find(it.Markers, func(m Marker) bool { return m.Name == name })
}

// Tier returns the item's tier, or 0 when it has none.
func (it Item) Tier() int {
	for _, m := range it.Markers {
		if n, ok := strings.CutPrefix(m.Name, tierPrefix); ok {
			if v, err := strconv.Atoi(n); err == nil {
				return v
			}
		}
	}
	return 0
}

// Serial reports whether the item must not run next to other items.
func (it Item) Serial() bool {
	return it.HasMarker(MarkDestructive) || it.HasMarker(MarkRunInOneThread)
}

// RequiredSections lists every section named by requires markers.
func (it Item) RequiredSections() []string {
	var out []string
	for _, m := range it.Markers {
		if m.Name == MarkRequires {
			out = append(out, m.strings()...)
		}
	}
	return lo.Uniq(out)
}

// DependsOn lists the post_upgrade dependencies.
func (it Item) DependsOn() []string {
	m, ok := it.Marker(MarkPostUpgrade)
	if !ok {
		return nil
	}
	switch v := m.Kwargs["depends_on"].(type) {
	case []string:
		return v
	case []any:
		return lo.Map(v, func(a any, _ int) string { return fmt.Sprint(a) })
	case string:
		return []string{v}
	}
	return nil
}

// FixtureItem converts the item for the fixture engine.
func (it Item) FixtureItem() fixture.Item {
	return fixture.Item{ID: it.ID, Module: it.Module, Fixtures: it.Fixtures, Params: it.Params}
}

func (it Item) clone() Item {
	c := it
	c.Fixtures = append([]string(nil), it.Fixtures...)
	c.Markers = append([]Marker(nil), it.Markers...)
	c.Params = make(map[string]any, len(it.Params))
	for k, v := range it.Params {
		c.Params[k] = v
	}
	return c
}

// ExpandParametrize applies the item's parametrize markers, producing one
// item per combination of values with the values appended to the ID.
func ExpandParametrize(items []Item) []Item {
	var out []Item
	for _, item := range items {
		variants := []Item{item.clone()}
		for _, m := range item.Markers {
			if m.Name != MarkParametrize || len(m.Args) < 2 {
				continue
			}
			name := fmt.Sprint(m.Args[0])
			var next []Item
			for _, v := range variants {
				for _, value := range m.Args[1:] {
					c := v.clone()
					c.Params[name] = value
					c.ID = appendID(c.ID, fmt.Sprint(value))
					next = append(next, c)
				}
			}
			variants = next
		}
		out = append(out, variants...)
	}
	return out
}

func appendID(id, param string) string {
	if strings.HasSuffix(id, "]") {
		if i := strings.LastIndex(id, "["); i >= 0 {
			return id[:len(id)-1] + "-" + param + "]"
		}
	}
	return id + "[" + param + "]"
}

// ExpandFixtures multiplies items by the Params of parametrized fixtures in
// their closure, as fixture.Expand does for engine items.
func ExpandFixtures(items []Item, reg *fixture.Registry) ([]Item, error) {
	var out []Item
	for _, item := range items {
		variants, err := fixture.Expand([]fixture.Item{item.FixtureItem()}, reg)
		if err != nil {
			return nil, err
		}
		for _, v := range variants {
			c := item.clone()
			c.ID = v.ID
			c.Params = v.Params
			out = append(out, c)
		}
	}
	return out, nil
}
