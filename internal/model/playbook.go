package model

// Playbook is the fixed-shape report synthesized for one account.
type Playbook struct {
	Title              string          `json:"title"`
	TopInsight         string          `json:"topInsight"`
	AccountSnapshot    AccountSnapshot `json:"accountSnapshot"`
	Sections           []Section       `json:"sections"`
	Playbook           Plan            `json:"playbook"`
	RecommendedActions []string        `json:"recommendedActions"`
}

// AccountSnapshot summarizes the target account.
type AccountSnapshot struct {
	Type         string `json:"type"`
	Size         string `json:"size"`
	Budget       string `json:"budget"`
	Location     string `json:"location"`
	Jurisdiction string `json:"jurisdiction"`
}

// Section is one titled block of the report.
type Section struct {
	ID      string   `json:"id"`
	Heading string   `json:"heading"`
	Content string   `json:"content"`
	Bullets []string `json:"bullets"`
	Sources []string `json:"sources"`
}

// Plan holds the outreach guidance.
type Plan struct {
	OutreachSequence []string  `json:"outreachSequence"`
	TalkingPoints    []string  `json:"talkingPoints"`
	WhatToAvoid      []string  `json:"whatToAvoid"`
	KeyDates         []KeyDate `json:"keyDates"`
}

// KeyDate is a dated event relevant to outreach timing.
type KeyDate struct {
	Date      string `json:"date"`
	Event     string `json:"event"`
	Relevance string `json:"relevance"`
}

// Backfill fills every empty field of p from fb and replaces nil slices
// with empty ones, so the result is schema-complete.
func (p *Playbook) Backfill(fb Playbook) {
	p.Title = orString(p.Title, fb.Title)
	p.TopInsight = orString(p.TopInsight, fb.TopInsight)

	s := &p.AccountSnapshot
	s.Type = orString(s.Type, fb.AccountSnapshot.Type)
	s.Size = orString(s.Size, fb.AccountSnapshot.Size)
	s.Budget = orString(s.Budget, fb.AccountSnapshot.Budget)
	s.Location = orString(s.Location, fb.AccountSnapshot.Location)
	s.Jurisdiction = orString(s.Jurisdiction, fb.AccountSnapshot.Jurisdiction)

	if len(p.Sections) == 0 {
		p.Sections = fb.Sections
	}
	for i := range p.Sections {
		sec := &p.Sections[i]
		sec.Bullets = nonNil(sec.Bullets)
		sec.Sources = nonNil(sec.Sources)
	}

	pl := &p.Playbook
	pl.OutreachSequence = orSlice(pl.OutreachSequence, fb.Playbook.OutreachSequence)
	pl.TalkingPoints = orSlice(pl.TalkingPoints, fb.Playbook.TalkingPoints)
	pl.WhatToAvoid = orSlice(pl.WhatToAvoid, fb.Playbook.WhatToAvoid)
	if len(pl.KeyDates) == 0 {
		pl.KeyDates = fb.Playbook.KeyDates
	}
	if pl.KeyDates == nil {
		pl.KeyDates = []KeyDate{}
	}
	p.RecommendedActions = orSlice(p.RecommendedActions, fb.RecommendedActions)
	if p.Sections == nil {
		p.Sections = []Section{}
	}
}

func orString(v, fb string) string {
	if v != "" {
		return v
	}
	return fb
}

func orSlice(v, fb []string) []string {
	if len(v) > 0 {
		return v
	}
	return nonNil(fb)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
