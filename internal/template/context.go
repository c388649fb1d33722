package template

import "github.com/samber/lo"

// MergeContexts merges data maps into a new map. Later maps win on key
// collisions and nil maps are ignored.
func MergeContexts(contexts ...map[string]any) map[string]any {
	return lo.Assign(contexts...)
}
