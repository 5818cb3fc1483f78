package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FHIRSearchTool queries a FHIR R4 server. Supports plain search, direct
// read, and the Patient $everything operation.
type FHIRSearchTool struct {
	client    *http.Client
	baseURL   string
	authValue string
	logger    *zap.Logger
}

// FHIRConfig configures the FHIR client. Username/Password are optional;
// when both are set, requests carry HTTP Basic auth.
type FHIRConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

func NewFHIRSearchTool(cfg FHIRConfig, logger *zap.Logger) *FHIRSearchTool {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	authValue := ""
	if cfg.Username != "" && cfg.Password != "" {
		authValue = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}

	return &FHIRSearchTool{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authValue: authValue,
		logger:    logger,
	}
}

func (t *FHIRSearchTool) Name() string { return "fhir_search" }

func (t *FHIRSearchTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: "Search and retrieve FHIR resources from the server",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_type": map[string]any{
					"type": "string",
					"enum": []any{"Patient", "Observation", "Condition", "MedicationRequest",
						"Encounter", "Procedure", "DiagnosticReport", "AllergyIntolerance"},
					"description": "FHIR resource type to search",
				},
				"patient_id": map[string]any{
					"type":        "string",
					"description": "Patient ID to filter results",
				},
				"search_params": map[string]any{
					"type":        "object",
					"description": "Additional FHIR search parameters",
					"properties": map[string]any{
						"code":     map[string]any{"type": "string"},
						"date":     map[string]any{"type": "string"},
						"_count":   map[string]any{"type": "integer"},
						"_sort":    map[string]any{"type": "string"},
						"status":   map[string]any{"type": "string"},
						"category": map[string]any{"type": "string"},
					},
				},
				"operation": map[string]any{
					"type":        "string",
					"enum":        []any{"search", "read", "$everything"},
					"default":     "search",
					"description": "FHIR operation to perform",
				},
			},
			"required": []any{"resource_type"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resource_type": map[string]any{"type": "string"},
				"total":         map[string]any{"type": "integer"},
				"entries":       map[string]any{"type": "array"},
				"url":           map[string]any{"type": "string"},
			},
		},
	}
}

func (t *FHIRSearchTool) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	if t.baseURL == "" {
		return nil, fmt.Errorf("no FHIR base URL configured")
	}

	resourceType, _ := params["resource_type"].(string)
	operation, _ := params["operation"].(string)
	patientID, _ := params["patient_id"].(string)

	switch {
	case operation == "read" && patientID != "":
		return t.read(ctx, resourceType, patientID)
	case operation == "$everything" && patientID != "":
		return t.everything(ctx, patientID)
	default:
		return t.search(ctx, resourceType, patientID, params)
	}
}

func (t *FHIRSearchTool) read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	u := fmt.Sprintf("%s/%s/%s", t.baseURL, resourceType, id)
	resource, err := t.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"resource_type": resourceType,
		"total":         1,
		"entries":       []any{resource},
		"url":           u,
	}, nil
}

func (t *FHIRSearchTool) everything(ctx context.Context, patientID string) (map[string]any, error) {
	u := fmt.Sprintf("%s/Patient/%s/$everything", t.baseURL, patientID)
	bundle, err := t.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"resource_type": "Bundle",
		"total":         bundleTotal(bundle),
		"entries":       bundleResources(bundle),
		"url":           u,
	}, nil
}

func (t *FHIRSearchTool) search(ctx context.Context, resourceType, patientID string, params map[string]any) (map[string]any, error) {
	query := url.Values{}
	if sp, ok := params["search_params"].(map[string]any); ok {
		for k, v := range sp {
			query.Set(k, fmt.Sprintf("%v", v))
		}
	}

	// A patient filter means _id for Patient searches and a patient
	// reference for everything else.
	if patientID != "" {
		if resourceType == "Patient" {
			query.Set("_id", patientID)
		} else {
			query.Set("patient", patientID)
		}
	}

	if query.Get("_count") == "" {
		query.Set("_count", "10")
	}

	u := fmt.Sprintf("%s/%s?%s", t.baseURL, resourceType, query.Encode())
	bundle, err := t.getJSON(ctx, u)
	if err != nil {
		return nil, err
	}

	entries := bundleResources(bundle)
	total := bundleTotal(bundle)
	if total == 0 {
		total = len(entries)
	}

	return map[string]any{
		"resource_type": resourceType,
		"total":         total,
		"entries":       entries,
		"url":           u,
	}, nil
}

func (t *FHIRSearchTool) getJSON(ctx context.Context, u string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fhir: build request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if t.authValue != "" {
		req.Header.Set("Authorization", t.authValue)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fhir: request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fhir: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("fhir: HTTP %d: %s", resp.StatusCode, snippet)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("fhir: decode response: %w", err)
	}
	return obj, nil
}

func bundleTotal(bundle map[string]any) int {
	if n, ok := bundle["total"].(float64); ok {
		return int(n)
	}
	return 0
}

func bundleResources(bundle map[string]any) []any {
	raw, ok := bundle["entry"].([]any)
	if !ok {
		return []any{}
	}
	resources := make([]any, 0, len(raw))
	for _, e := range raw {
		if entry, ok := e.(map[string]any); ok {
			if res, ok := entry["resource"]; ok {
				resources = append(resources, res)
			}
		}
	}
	return resources
}
