package agents

import (
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospector/internal/model"
)

//go:embed agents.yaml
var embeddedSpecs []byte

// Spec declares one research agent.
type Spec struct {
	MemoryType model.MemoryType `yaml:"memory_type"`
	Name       string           `yaml:"name"`
	System     string           `yaml:"system"`
	Prompt     string           `yaml:"prompt"`
	Default    map[string]any   `yaml:"default"`

	tmpl *template.Template
}

// PromptData is the template context for an agent prompt.
type PromptData struct {
	TargetAccount      string
	ProductDescription string
	States             []string
	TargetCategories   []string
	Competitors        []string
}

var promptFuncs = template.FuncMap{"join": strings.Join}

// DefaultSpecs returns the embedded agent definitions, one per memory type.
func DefaultSpecs() ([]Spec, error) {
	return ParseSpecs(embeddedSpecs)
}

// ParseSpecs decodes and validates agent definitions from YAML.
func ParseSpecs(data []byte) ([]Spec, error) {
	var wrapper struct {
		Agents []Spec `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "agents: parse specs")
	}

	seen := make(map[model.MemoryType]bool, len(wrapper.Agents))
	for i := range wrapper.Agents {
		s := &wrapper.Agents[i]
		if !s.MemoryType.Valid() {
			return nil, eris.Errorf("agents: unknown memory type %q", s.MemoryType)
		}
		if seen[s.MemoryType] {
			return nil, eris.Errorf("agents: duplicate memory type %q", s.MemoryType)
		}
		seen[s.MemoryType] = true
		if len(s.Default) == 0 {
			return nil, eris.Errorf("agents: %s has no default", s.MemoryType)
		}
		tmpl, err := template.New(string(s.MemoryType)).Funcs(promptFuncs).Option("missingkey=error").Parse(s.Prompt)
		if err != nil {
			return nil, eris.Wrapf(err, "agents: parse %s prompt", s.MemoryType)
		}
		s.tmpl = tmpl
	}
	return wrapper.Agents, nil
}

// Render fills the prompt template for one request.
func (s Spec) Render(req *model.ResearchRequest) (string, error) {
	if s.tmpl == nil {
		return "", eris.Errorf("agents: %s prompt not parsed", s.MemoryType)
	}
	var b strings.Builder
	err := s.tmpl.Execute(&b, PromptData{
		TargetAccount:      req.TargetAccount,
		ProductDescription: req.ProductDescription,
		States:             req.States,
		TargetCategories:   req.TargetCategories,
		Competitors:        req.Competitors,
	})
	if err != nil {
		return "", eris.Wrapf(err, "agents: render %s prompt", s.MemoryType)
	}
	return strings.TrimSpace(b.String()), nil
}

// DefaultData returns a fresh copy of the agent's empty, well-typed result.
func (s Spec) DefaultData() map[string]any {
	raw, err := json.Marshal(s.Default)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// conform validates a parsed object against the default's shape. Keys whose
// kind disagrees with the default are replaced by the default value and
// missing keys are filled in. It fails when none of the expected keys are
// present.
func (s Spec) conform(obj map[string]any) (map[string]any, error) {
	def := s.DefaultData()
	matched := 0
	for key, want := range def {
		got, ok := obj[key]
		if !ok || got == nil {
			continue
		}
		if sameKind(want, got) {
			def[key] = got
			matched++
		}
	}
	if matched == 0 {
		return nil, eris.Errorf("agents: %s response has none of the expected fields", s.MemoryType)
	}
	return def, nil
}

func sameKind(want, got any) bool {
	switch want.(type) {
	case []any:
		_, ok := got.([]any)
		return ok
	case map[string]any:
		_, ok := got.(map[string]any)
		return ok
	case string:
		_, ok := got.(string)
		return ok
	case float64:
		_, ok := got.(float64)
		return ok
	case bool:
		_, ok := got.(bool)
		return ok
	default:
		return true
	}
}
