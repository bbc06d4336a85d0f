package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DossierStatus tracks research progress for one prospect.
type DossierStatus string

const (
	DossierStatusQueued      DossierStatus = "queued"
	DossierStatusResearching DossierStatus = "researching"
	DossierStatusReady       DossierStatus = "ready"
	DossierStatusFailed      DossierStatus = "failed"
)

// Dossier is the enrichment blob produced by discovery for one prospect.
type Dossier struct {
	Score   float64  `json:"score"`
	Angles  []string `json:"angles"`
	Summary string   `json:"summary,omitempty"`
}

// ProspectDossier is one organization within a discovery session. The pair
// (SessionID, ProspectKey) is unique.
type ProspectDossier struct {
	SessionID   string        `json:"session_id"`
	ProspectKey string        `json:"prospect_key"`
	Name        string        `json:"name"`
	City        string        `json:"city,omitempty"`
	State       string        `json:"state"`
	Lat         float64       `json:"lat"`
	Lng         float64       `json:"lng"`
	Dossier     Dossier       `json:"dossier"`
	Status      DossierStatus `json:"status"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProspectKey derives the deterministic key identifying an organization
// within a session: slug(name) + "_" + slug(state).
func ProspectKey(name, state string) string {
	return Slugify(name) + "_" + Slugify(state)
}

// Slugify lowercases s, folds diacritics and replaces every rune outside
// [a-z0-9] with an underscore.
func Slugify(s string) string {
	// transform.Chain is stateful, so build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
