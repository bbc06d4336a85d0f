package agents

import (
	"time"

	"github.com/sells-group/prospector/internal/model"
)

// Outcome is the tagged result of one agent run: Ok carries data parsed from
// the model, Degraded carries the agent's default and the reason it was used.
type Outcome struct {
	MemoryType model.MemoryType
	Data       map[string]any
	Sources    []string
	Raw        string
	Reason     string
	Latency    time.Duration
	degraded   bool
}

// Ok builds a successful outcome.
func Ok(mt model.MemoryType, data map[string]any, sources []string, raw string) Outcome {
	return Outcome{MemoryType: mt, Data: data, Sources: nonNil(sources), Raw: raw}
}

// Degraded builds an outcome that substitutes def for a failed run.
func Degraded(mt model.MemoryType, def map[string]any, reason string, sources []string, raw string) Outcome {
	return Outcome{MemoryType: mt, Data: def, Sources: nonNil(sources), Raw: raw, Reason: reason, degraded: true}
}

// IsDegraded reports whether the default was substituted.
func (o Outcome) IsDegraded() bool { return o.degraded }

// Memory converts the outcome into the append-only memory row for requestID.
func (o Outcome) Memory(requestID string) *model.AgentMemory {
	return &model.AgentMemory{
		RequestID:  requestID,
		MemoryType: o.MemoryType,
		Content: model.MemoryContent{
			Data:     o.Data,
			Sources:  o.Sources,
			Degraded: o.degraded,
			Reason:   o.Reason,
			Raw:      o.Raw,
		},
	}
}

// FromMemory rebuilds an outcome from a stored memory row.
func FromMemory(m model.AgentMemory) Outcome {
	return Outcome{
		MemoryType: m.MemoryType,
		Data:       m.Content.Data,
		Sources:    nonNil(m.Content.Sources),
		Raw:        m.Content.Raw,
		Reason:     m.Content.Reason,
		degraded:   m.Content.Degraded,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
