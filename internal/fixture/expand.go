package fixture

import (
	"strings"
)

// Expand multiplies items by the Params of parametrized fixtures in their
// closure. A fixture whose indirect key the item already carries is not
// expanded; the item's value is used instead. Expanded items get the chosen
// values appended to their ID, e.g. test_login[ad].
func Expand(items []Item, reg *Registry) ([]Item, error) {
	var out []Item
	for _, item := range items {
		plan, err := reg.Plan(item.Fixtures...)
		if err != nil {
			return nil, err
		}
		variants := []Item{cloneItem(item)}
		for _, d := range plan {
			if len(d.Params) == 0 || hasIndirect(d, item) {
				continue
			}
			if _, set := item.Params[d.Name]; set {
				continue
			}
			var next []Item
			for _, v := range variants {
				for i, p := range d.Params {
					c := cloneItem(v)
					c.Params[d.Name] = p
					c.ID = appendParamID(c.ID, d.paramID(i))
					next = append(next, c)
				}
			}
			variants = next
		}
		out = append(out, variants...)
	}
	return out, nil
}

func hasIndirect(d *Descriptor, item Item) bool {
	for _, k := range d.IndirectKeys {
		if _, ok := item.Params[k]; ok {
			return true
		}
	}
	return false
}

func cloneItem(item Item) Item {
	c := item
	c.Fixtures = append([]string(nil), item.Fixtures...)
	c.Params = make(map[string]any, len(item.Params)+1)
	for k, v := range item.Params {
		c.Params[k] = v
	}
	return c
}

// appendParamID turns "a" into "a[x]" and "a[x]" into "a[x-y]".
func appendParamID(id, param string) string {
	if strings.HasSuffix(id, "]") {
		if i := strings.LastIndex(id, "["); i >= 0 {
			return id[:len(id)-1] + "-" + param + "]"
		}
	}
	return id + "[" + param + "]"
}
