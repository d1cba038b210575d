package agents

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

func sourceArray() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"url":   map[string]any{"type": "string"},
			},
			"required": []any{"url"},
		},
	}
}

var profileSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"idea":            map[string]any{"type": "string"},
		"problem":         map[string]any{"type": "string"},
		"customer":        map[string]any{"type": "string"},
		"solution":        map[string]any{"type": "string"},
		"differentiation": map[string]any{"type": "string"},
		"alternatives":    map[string]any{"type": "string"},
		"validation":      map[string]any{"type": "string"},
		"industry":        map[string]any{"type": "string"},
		"websites":        map[string]any{"type": "string"},
		"assumptions":     stringArray(),
		"search_queries": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"purpose": map[string]any{"type": "string"},
					"query":   map[string]any{"type": "string"},
				},
				"required": []any{"query"},
			},
		},
	},
	"required": []any{"idea", "problem", "customer", "solution", "industry"},
}

var marketSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tam":         map[string]any{"type": "number", "minimum": 0},
		"sam":         map[string]any{"type": "number", "minimum": 0},
		"som":         map[string]any{"type": "number", "minimum": 0},
		"methodology": map[string]any{"type": "string"},
		"growth_rate": map[string]any{"type": "number"},
		"sources":     sourceArray(),
		"confidence":  map[string]any{"enum": []any{"high", "medium", "low"}},
	},
	"required": []any{"tam", "sam", "som", "methodology"},
}

func competitorArray() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":         map[string]any{"type": "string"},
				"description":  map[string]any{"type": "string"},
				"strengths":    stringArray(),
				"weaknesses":   stringArray(),
				"threat_level": map[string]any{"type": "string"},
				"source_url":   map[string]any{"type": "string"},
			},
			"required": []any{"name"},
		},
	}
}

var competitorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"direct_competitors":   competitorArray(),
		"indirect_competitors": competitorArray(),
		"market_gaps":          stringArray(),
		"sources":              sourceArray(),
	},
	"required": []any{"direct_competitors"},
}

func factorArray() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":        map[string]any{"type": "string"},
				"score":       map[string]any{"type": "number", "minimum": 1, "maximum": 10},
				"description": map[string]any{"type": "string"},
			},
			"required": []any{"name", "score"},
		},
	}
}

func dimensionScore() map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 100}
}

var scoringSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dimension_scores": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"problemClarity":   dimensionScore(),
				"solutionStrength": dimensionScore(),
				"marketSize":       dimensionScore(),
				"competition":      dimensionScore(),
				"businessModel":    dimensionScore(),
				"teamFit":          dimensionScore(),
				"timing":           dimensionScore(),
			},
		},
		"market_factors":    factorArray(),
		"execution_factors": factorArray(),
		"highlights":        stringArray(),
		"red_flags":         stringArray(),
		"risks_assumptions": stringArray(),
		"rationale":         map[string]any{"type": "object"},
	},
	"required": []any{"dimension_scores"},
}

var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"mvp_scope": map[string]any{"type": "string"},
		"phases": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phase": map[string]any{"type": "integer"},
					"name":  map[string]any{"type": "string"},
					"tasks": stringArray(),
				},
				"required": []any{"name"},
			},
		},
		"next_steps": stringArray(),
	},
	"required": []any{"mvp_scope", "next_steps"},
}
