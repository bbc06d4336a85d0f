package model

import (
	"encoding/json"
	"time"
)

// RequestStatus represents the lifecycle state of a deep-research request.
type RequestStatus string

const (
	RequestStatusPending     RequestStatus = "pending"
	RequestStatusResearching RequestStatus = "researching"
	RequestStatusCompleted   RequestStatus = "completed"
	RequestStatusFailed      RequestStatus = "failed"
)

// Terminal reports whether the status ends a research run.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// CanTransition reports whether moving from s to next is a forward move in
// the request lifecycle. Reset to pending is a retry and is checked separately.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case RequestStatusPending:
		return next == RequestStatusResearching
	case RequestStatusResearching:
		return next == RequestStatusCompleted || next == RequestStatusFailed
	default:
		return false
	}
}

// ResearchRequest is one deep-research run for a single named account.
type ResearchRequest struct {
	ID                 string        `json:"id"`
	OwnerID            string        `json:"owner_id,omitempty"`
	TargetAccount      string        `json:"target_account"`
	ProductDescription string        `json:"product_description"`
	States             []string      `json:"states"`
	TargetCategories   []string      `json:"target_categories"`
	Competitors        []string      `json:"competitors"`
	Status             RequestStatus `json:"status"`
	Error              string        `json:"error,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// MemoryType identifies one research agent specialty.
type MemoryType string

const (
	MemoryOrgProfile       MemoryType = "org_profile"
	MemoryPeopleIntel      MemoryType = "people_intel"
	MemoryProcurement      MemoryType = "procurement"
	MemoryCompetitiveIntel MemoryType = "competitive_intel"
	MemoryNewsTiming       MemoryType = "news_timing"
)

// AllMemoryTypes lists the agent specialties in report order.
var AllMemoryTypes = []MemoryType{
	MemoryOrgProfile,
	MemoryPeopleIntel,
	MemoryProcurement,
	MemoryCompetitiveIntel,
	MemoryNewsTiming,
}

// Valid reports whether t is one of the known specialties.
func (t MemoryType) Valid() bool {
	for _, mt := range AllMemoryTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// MemoryContent is the JSON payload persisted for one agent run.
type MemoryContent struct {
	Data     map[string]any `json:"data"`
	Sources  []string       `json:"sources"`
	Degraded bool           `json:"degraded"`
	Reason   string         `json:"reason,omitempty"`
	Raw      string         `json:"raw,omitempty"`
}

// AgentMemory is an append-only record of one agent run for a request.
type AgentMemory struct {
	ID         string        `json:"id"`
	RequestID  string        `json:"request_id"`
	MemoryType MemoryType    `json:"memory_type"`
	Content    MemoryContent `json:"content"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Citation is a flattened source reference shown alongside a report.
type Citation struct {
	URL        string     `json:"url"`
	Hostname   string     `json:"hostname"`
	MemoryType MemoryType `json:"memory_type"`
}

// ResearchReport is the single latest synthesized report for a request.
type ResearchReport struct {
	RequestID   string     `json:"request_id"`
	Content     Playbook   `json:"content"`
	Summary     string     `json:"summary"`
	Sources     []Citation `json:"sources"`
	Fallback    bool       `json:"fallback"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// MarshalContent encodes the memory payload for storage.
func (m AgentMemory) MarshalContent() ([]byte, error) {
	return json.Marshal(m.Content)
}
