package playbook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/model"
)

var headings = map[model.MemoryType]string{
	model.MemoryOrgProfile:       "Organization profile",
	model.MemoryPeopleIntel:      "Key people",
	model.MemoryProcurement:      "Procurement activity",
	model.MemoryCompetitiveIntel: "Competitive landscape",
	model.MemoryNewsTiming:       "News and timing",
}

// labelKeys are tried in order to name an entity inside an agent array.
var labelKeys = []string{"name", "title", "vendor", "headline", "event", "item", "competitor", "description"}

// detailKeys qualify the label when present.
var detailKeys = []string{"title", "product", "status", "value", "amount", "date", "context"}

// Fallback derives a complete playbook from agent outcomes alone. It is
// deterministic for a given input and never returns nil slices.
func Fallback(req *model.ResearchRequest, outcomes []agents.Outcome) model.Playbook {
	byType := make(map[model.MemoryType]agents.Outcome, len(outcomes))
	for _, o := range outcomes {
		byType[o.MemoryType] = o
	}
	org := byType[model.MemoryOrgProfile].Data

	pb := model.Playbook{
		Title:      "Account playbook: " + req.TargetAccount,
		TopInsight: topInsight(req, byType),
		AccountSnapshot: model.AccountSnapshot{
			Type:         orDefault(strings.Join(req.TargetCategories, ", "), str(org, "orgType"), "Unknown"),
			Size:         orDefault(str(org, "size"), "Unknown"),
			Budget:       orDefault(str(org, "budget"), "Unknown"),
			Location:     orDefault(str(org, "location"), strings.Join(req.States, ", "), "Unknown"),
			Jurisdiction: orDefault(str(org, "jurisdiction"), strings.Join(req.States, ", "), "Unknown"),
		},
		Sections: []model.Section{},
	}

	for _, mt := range model.AllMemoryTypes {
		o, ok := byType[mt]
		if !ok {
			continue
		}
		pb.Sections = append(pb.Sections, section(o))
	}

	pb.Playbook = model.Plan{
		OutreachSequence: outreach(req, byType),
		TalkingPoints:    talkingPoints(req, byType),
		WhatToAvoid:      whatToAvoid(byType),
		KeyDates:         keyDates(byType[model.MemoryNewsTiming].Data),
	}
	pb.RecommendedActions = actions(req, byType)
	return pb
}

func section(o agents.Outcome) model.Section {
	bullets := entityBullets(o.Data)
	content := str(o.Data, "overview")
	switch {
	case o.IsDegraded():
		content = "No reliable findings: " + o.Reason
	case content == "" && len(bullets) == 0:
		content = "Nothing notable found."
	case content == "":
		content = fmt.Sprintf("%d findings.", len(bullets))
	}
	return model.Section{
		ID:      string(o.MemoryType),
		Heading: headings[o.MemoryType],
		Content: content,
		Bullets: bullets,
		Sources: nonNil(o.Sources),
	}
}

// entityBullets lists every named entity in the array fields of data, in
// key order.
func entityBullets(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []string{}
	for _, k := range keys {
		items, ok := data[k].([]any)
		if !ok {
			continue
		}
		for _, it := range items {
			if b := entityLabel(it); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func entityLabel(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		label, used := "", ""
		for _, k := range labelKeys {
			if s := str(t, k); s != "" {
				label, used = s, k
				break
			}
		}
		if label == "" {
			return ""
		}
		var details []string
		for _, k := range detailKeys {
			if k == used {
				continue
			}
			if s := str(t, k); s != "" {
				details = append(details, s)
			}
		}
		if len(details) > 0 {
			return label + " (" + strings.Join(details, ", ") + ")"
		}
		return label
	default:
		return ""
	}
}

func topInsight(req *model.ResearchRequest, byType map[model.MemoryType]agents.Outcome) string {
	if sigs := keyDates(byType[model.MemoryNewsTiming].Data); len(sigs) > 0 {
		return fmt.Sprintf("%s: %s", sigs[0].Date, sigs[0].Event)
	}
	if angles := stringItems(byType[model.MemoryCompetitiveIntel].Data, "displacementAngles"); len(angles) > 0 {
		return angles[0]
	}
	if o := str(byType[model.MemoryOrgProfile].Data, "overview"); o != "" {
		return o
	}
	return fmt.Sprintf("Limited public information on %s; open with discovery outreach.", req.TargetAccount)
}

func outreach(req *model.ResearchRequest, byType map[model.MemoryType]agents.Outcome) []string {
	var steps []string
	people, _ := byType[model.MemoryPeopleIntel].Data["people"].([]any)
	for i, p := range people {
		if i == 3 {
			break
		}
		if l := entityLabel(p); l != "" {
			steps = append(steps, "Reach out to "+l)
		}
	}
	if len(steps) == 0 {
		steps = append(steps, "Identify the budget owner at "+req.TargetAccount)
	}
	return append(steps,
		"Share a short case study relevant to "+orDefault(strings.Join(req.TargetCategories, ", "), "the agency"),
		"Propose a discovery call",
	)
}

func talkingPoints(req *model.ResearchRequest, byType map[model.MemoryType]agents.Outcome) []string {
	points := stringItems(byType[model.MemoryCompetitiveIntel].Data, "displacementAngles")
	points = append(points, stringItems(byType[model.MemoryProcurement].Data, "procurementNotes")...)
	if len(points) == 0 && req.ProductDescription != "" {
		points = append(points, "How "+req.ProductDescription+" fits current priorities")
	}
	return nonNil(points)
}

func whatToAvoid(byType map[model.MemoryType]agents.Outcome) []string {
	var out []string
	incumbents, _ := byType[model.MemoryCompetitiveIntel].Data["incumbents"].([]any)
	for _, inc := range incumbents {
		if m, ok := inc.(map[string]any); ok {
			if n := str(m, "name"); n != "" {
				out = append(out, "Disparaging the incumbent "+n)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, "Pitching before confirming budget timing")
	}
	return out
}

// keyDates copies the news_timing signals.
func keyDates(data map[string]any) []model.KeyDate {
	out := []model.KeyDate{}
	sigs, _ := data["signals"].([]any)
	for _, s := range sigs {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		kd := model.KeyDate{Date: str(m, "date"), Event: str(m, "event"), Relevance: str(m, "relevance")}
		if kd.Event == "" && kd.Date == "" {
			continue
		}
		out = append(out, kd)
	}
	return out
}

func actions(req *model.ResearchRequest, byType map[model.MemoryType]agents.Outcome) []string {
	var out []string
	rfps, _ := byType[model.MemoryProcurement].Data["rfps"].([]any)
	for _, r := range rfps {
		if l := entityLabel(r); l != "" {
			out = append(out, "Review solicitation: "+l)
		}
	}
	for _, kd := range keyDates(byType[model.MemoryNewsTiming].Data) {
		if kd.Date != "" {
			out = append(out, "Schedule outreach ahead of "+kd.Date)
			break
		}
	}
	return append(out, "Add "+req.TargetAccount+" to the active pipeline")
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func stringItems(m map[string]any, key string) []string {
	items, _ := m[key].([]any)
	var out []string
	for _, it := range items {
		if s := entityLabel(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orDefault(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
