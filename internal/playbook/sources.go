package playbook

import (
	"net/url"
	"strings"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/model"
)

// Sources flattens the citations of every memory row into one list, in row
// order, keeping the first occurrence of each URL.
func Sources(memories []model.AgentMemory) []model.Citation {
	out := []model.Citation{}
	seen := map[string]bool{}
	for _, m := range memories {
		for _, raw := range m.Content.Sources {
			u := strings.TrimSpace(raw)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, model.Citation{URL: u, Hostname: Hostname(u), MemoryType: m.MemoryType})
		}
	}
	return out
}

// Hostname returns the display host of a citation URL without a leading
// "www.". Bare domains without a scheme are accepted.
func Hostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// LatestOutcomes keeps the most recent memory row per memory type, in
// report order. Earlier rows from retried runs stay in the store as history.
func LatestOutcomes(memories []model.AgentMemory) []agents.Outcome {
	latest := map[model.MemoryType]model.AgentMemory{}
	for _, m := range memories {
		latest[m.MemoryType] = m
	}
	out := make([]agents.Outcome, 0, len(latest))
	for _, mt := range model.AllMemoryTypes {
		if m, ok := latest[mt]; ok {
			out = append(out, agents.FromMemory(m))
		}
	}
	return out
}
