package extract

import (
	"strings"

	"github.com/sells-group/prospector/internal/geo"
)

// FilterTerritory drops candidates whose state is not in states. Comparison
// ignores case and treats postal abbreviations as their full state names.
// Kept candidates carry the canonical state name.
func FilterTerritory(cands []Candidate, states []string) []Candidate {
	allowed := make(map[string]struct{}, len(states))
	for _, s := range states {
		allowed[canonical(s)] = struct{}{}
	}

	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		key := canonical(c.State)
		if _, ok := allowed[key]; !ok {
			continue
		}
		c.State = geo.CanonicalState(c.State)
		out = append(out, c)
	}
	return out
}

func canonical(s string) string {
	return strings.ToLower(geo.CanonicalState(s))
}
