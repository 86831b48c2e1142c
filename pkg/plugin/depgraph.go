package plugin

import "sort"

// topoOrder returns the subset of deps' keys orderable so every entry
// appears after all of its listed dependencies, plus whatever's left over
// when no further progress can be made (a cycle). A dependency that is not
// itself a key of deps counts as already satisfied.
func topoOrder(deps map[string][]string) (ordered []string, stuck []string) {
	remaining := make(map[string][]string, len(deps))
	for name, d := range deps {
		remaining[name] = d
	}

	for len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for name := range remaining {
			names = append(names, name)
		}
		sort.Strings(names)

		progressed := false
		for _, name := range names {
			ready := true
			for _, dep := range remaining[name] {
				if _, pending := remaining[dep]; pending {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, name)
				delete(remaining, name)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	for name := range remaining {
		stuck = append(stuck, name)
	}
	sort.Strings(stuck)
	return ordered, stuck
}

// reverseTopoOrder returns dependents before their dependencies, the order
// plugin removal must proceed in.
func reverseTopoOrder(deps map[string][]string) []string {
	ordered, stuck := topoOrder(deps)
	out := make([]string, 0, len(ordered)+len(stuck))
	for i := len(ordered) - 1; i >= 0; i-- {
		out = append(out, ordered[i])
	}
	return append(out, stuck...)
}
