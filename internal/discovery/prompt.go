package discovery

import "github.com/sells-group/prospector/pkg/anthropic"

const systemPrompt = `You are a public-sector sales researcher. Given a product and a sales territory,
you name real government agencies and public organizations that would plausibly buy it. Only propose
organizations located inside the listed states. Always answer by calling the propose_prospects tool.`

var proposeTool = anthropic.Tool{
	Name:        toolName,
	Description: "Record the proposed prospect organizations.",
	Properties: map[string]any{
		"prospects": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":      map[string]any{"type": "string", "description": "Official organization name"},
					"city":      map[string]any{"type": "string"},
					"state":     map[string]any{"type": "string", "description": "Full US state name"},
					"score":     map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					"angles":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"reasoning": map[string]any{"type": "string"},
				},
				"required": []string{"name", "state", "score", "angles"},
			},
		},
	},
	Required: []string{"prospects"},
}
