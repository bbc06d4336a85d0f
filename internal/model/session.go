// Package model defines the domain types shared by the discovery and deep-research pipelines.
package model

import (
	"time"
)

// SessionStatus represents the lifecycle state of a discovery session.
type SessionStatus string

const (
	SessionStatusCreated     SessionStatus = "created"
	SessionStatusDiscovering SessionStatus = "discovering"
	SessionStatusDiscovered  SessionStatus = "prospects_discovered"
)

// Criteria holds the sales criteria a discovery session was created with.
// Criteria are immutable once the session exists.
type Criteria struct {
	ProductDescription string   `json:"product_description"`
	States             []string `json:"states"`
	TargetCategories   []string `json:"target_categories"`
	Competitors        []string `json:"competitors"`
}

// DiscoverySession is one discovery run scoped to a set of sales criteria.
type DiscoverySession struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id,omitempty"`
	Criteria  Criteria      `json:"criteria"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// OwnedBy reports whether userID may act on the session. Sessions without
// an owner are accessible to anyone.
func (s *DiscoverySession) OwnedBy(userID string) bool {
	return s.OwnerID == "" || s.OwnerID == userID
}
