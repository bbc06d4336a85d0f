package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Candidate is one organization proposed by the discovery model.
type Candidate struct {
	Name      string   `json:"name"`
	City      string   `json:"city,omitempty"`
	State     string   `json:"state"`
	Score     float64  `json:"score"`
	Angles    []string `json:"angles"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// ModelOutput is the part of a model response the extractor inspects.
type ModelOutput struct {
	// ToolInputs holds the raw arguments of every tool call in the response.
	ToolInputs []json.RawMessage
	// Text is the concatenated free text of the response.
	Text string
}

var (
	arraySpanRe     = regexp.MustCompile(`(?s)\[.*\]`)
	fencedBlockRe   = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)
)

// ExtractCandidates returns the candidates found in out by the first strategy
// that yields a non-empty valid list, or an empty slice when none does.
func ExtractCandidates(out ModelOutput) []Candidate {
	p := Cascade(out)
	if !p.OK() {
		return []Candidate{}
	}
	return p.Value
}

// Cascade runs the candidate strategies in order and returns the first
// success, or the last failure.
func Cascade(out ModelOutput) Parse[[]Candidate] {
	log := zap.L().With(zap.String("component", "extract"))

	steps := []func() Parse[[]Candidate]{
		func() Parse[[]Candidate] { return fromToolInputs(out.ToolInputs) },
		func() Parse[[]Candidate] { return fromArraySpan(out.Text, TierArraySpan) },
		func() Parse[[]Candidate] { return fromFenced(out.Text) },
		func() Parse[[]Candidate] {
			return fromArraySpan(trailingCommaRe.ReplaceAllString(out.Text, "$1"), TierRepaired)
		},
		func() Parse[[]Candidate] { return fromBraceScan(out.Text) },
	}

	var last Parse[[]Candidate]
	for i, step := range steps {
		last = step()
		if last.OK() {
			log.Debug("extract: candidates parsed",
				zap.String("tier", last.Tier.String()),
				zap.Int("count", len(last.Value)),
			)
			return last
		}
		log.Debug("extract: tier failed",
			zap.Int("step", i+1),
			zap.String("reason", last.Reason),
		)
	}
	return last
}

func fromToolInputs(inputs []json.RawMessage) Parse[[]Candidate] {
	if len(inputs) == 0 {
		return Failure[[]Candidate]("no tool call in response")
	}
	for _, raw := range inputs {
		var probe any
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		items := candidateArray(probe)
		if cands := validCandidates(items); len(cands) > 0 {
			return Success(cands, TierToolCall)
		}
	}
	return Failure[[]Candidate]("tool call input holds no valid candidates")
}

func fromArraySpan(text string, tier Tier) Parse[[]Candidate] {
	span := arraySpanRe.FindString(text)
	if span == "" {
		return Failure[[]Candidate]("no array span")
	}
	return decodeArray(span, tier)
}

func fromFenced(text string) Parse[[]Candidate] {
	m := fencedBlockRe.FindStringSubmatch(text)
	if m == nil {
		return Failure[[]Candidate]("no fenced block")
	}
	body := strings.TrimSpace(m[1])
	var probe any
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return Failure[[]Candidate]("fenced block is not json: %v", err)
	}
	if cands := validCandidates(candidateArray(probe)); len(cands) > 0 {
		return Success(cands, TierFenced)
	}
	return Failure[[]Candidate]("fenced block holds no valid candidates")
}

func decodeArray(span string, tier Tier) Parse[[]Candidate] {
	var items []any
	if err := json.Unmarshal([]byte(span), &items); err != nil {
		return Failure[[]Candidate]("array span is not json: %v", err)
	}
	if cands := validCandidates(items); len(cands) > 0 {
		return Success(cands, tier)
	}
	return Failure[[]Candidate]("array span holds no valid candidates")
}

// fromBraceScan walks the text tracking object depth outside of strings and
// decodes every complete {...} span on its own.
func fromBraceScan(text string) Parse[[]Candidate] {
	var (
		starts   []int
		inString bool
		escaped  bool
		out      []Candidate
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			// Quotes only delimit strings inside an object.
			if len(starts) > 0 {
				inString = true
			}
		case '{':
			starts = append(starts, i)
		case '}':
			if len(starts) == 0 {
				continue
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			var obj map[string]any
			if err := json.Unmarshal([]byte(text[start:i+1]), &obj); err != nil {
				continue
			}
			if cand, ok := toCandidate(obj); ok {
				out = append(out, cand)
			}
		}
	}
	if len(out) == 0 {
		return Failure[[]Candidate]("no complete object with name and state")
	}
	return Success(out, TierBraceScan)
}

// candidateArray accepts either a bare array or an object wrapping one.
func candidateArray(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, key := range []string{"prospects", "candidates", "organizations", "results"} {
			if arr, ok := t[key].([]any); ok {
				return arr
			}
		}
		if _, ok := toCandidate(t); ok {
			return []any{t}
		}
	}
	return nil
}

func validCandidates(items []any) []Candidate {
	out := make([]Candidate, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := toCandidate(obj); ok {
			out = append(out, c)
		}
	}
	return out
}

// toCandidate validates one decoded object. name and state are required.
func toCandidate(obj map[string]any) (Candidate, bool) {
	name := stringField(obj, "name")
	state := stringField(obj, "state")
	if name == "" || state == "" {
		return Candidate{}, false
	}
	return Candidate{
		Name:      name,
		City:      stringField(obj, "city"),
		State:     state,
		Score:     clampScore(numberField(obj, "score")),
		Angles:    stringList(obj["angles"]),
		Reasoning: stringField(obj, "reasoning"),
	}, true
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func numberField(obj map[string]any, key string) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, a := range arr {
		s, ok := a.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampScore(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(100, f))
}
