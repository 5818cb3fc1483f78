package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pmanko/med-agent-hub/internal/schema"
	"github.com/pmanko/med-agent-hub/internal/warehouse"
)

// PopulationAnalyticsTool answers population-level questions against the
// analytics warehouse. Every table and column reference is resolved through
// the schema profile before any query text is emitted.
type PopulationAnalyticsTool struct {
	profile *schema.Profile
	querier warehouse.Querier
	logger  *zap.Logger
}

func NewPopulationAnalyticsTool(profile *schema.Profile, querier warehouse.Querier, logger *zap.Logger) *PopulationAnalyticsTool {
	return &PopulationAnalyticsTool{profile: profile, querier: querier, logger: logger}
}

func (t *PopulationAnalyticsTool) Name() string { return "warehouse_population_analytics" }

func (t *PopulationAnalyticsTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: "Query population-level health statistics from the analytics warehouse",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"analysis_type": map[string]any{
					"type":        "string",
					"enum":        []any{"prevalence", "trends", "demographics", "comorbidities", "custom"},
					"description": "Type of population analysis",
				},
				"condition": map[string]any{
					"type":        "string",
					"description": "Condition name or ICD code to analyze",
				},
				"timeframe": map[string]any{
					"type":    "string",
					"enum":    []any{"all_time", "last_year", "last_month", "last_week"},
					"default": "all_time",
				},
				"filters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"age_min":     map[string]any{"type": "integer"},
						"age_max":     map[string]any{"type": "integer"},
						"gender":      map[string]any{"type": "string", "enum": []any{"male", "female", "other"}},
						"facility_id": map[string]any{"type": "string"},
					},
				},
				"custom_sql": map[string]any{
					"type":        "string",
					"description": "Custom SQL query (only for analysis_type='custom')",
				},
			},
			"required": []any{"analysis_type"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"results":        map[string]any{"type": "array"},
				"summary":        map[string]any{"type": "string"},
				"row_count":      map[string]any{"type": "integer"},
				"query_executed": map[string]any{"type": "string"},
			},
		},
	}
}

func (t *PopulationAnalyticsTool) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	analysisType, _ := params["analysis_type"].(string)

	if analysisType != "custom" && t.profile.CapabilitiesComputed() && !t.profile.IsSupported(analysisType) {
		return nil, fmt.Errorf("analysis type %q is not supported by the connected warehouse", analysisType)
	}

	sql, err := t.buildQuery(params)
	if err != nil {
		return nil, err
	}

	results, err := t.querier.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	return map[string]any{
		"results":        results,
		"summary":        t.summarize(params, results),
		"row_count":      len(results),
		"query_executed": sql,
	}, nil
}

var identShaped = regexp.MustCompile(`^\w+$`)

// qualify prefixes identifier-shaped column expressions with a table alias.
// Computed expressions are emitted verbatim; qualifying names inside them is
// the profile author's responsibility.
func qualify(alias, expr string) string {
	if identShaped.MatchString(expr) {
		return alias + "." + expr
	}
	return expr
}

func (t *PopulationAnalyticsTool) buildQuery(params map[string]any) (string, error) {
	analysisType, _ := params["analysis_type"].(string)

	// Custom bypasses mapping entirely. The normalizer guarantees a custom
	// string exists before this branch is chosen; no sanitization happens
	// here.
	if analysisType == "custom" {
		customSQL, _ := params["custom_sql"].(string)
		if customSQL == "" {
			return "", fmt.Errorf("analysis_type=custom requires custom_sql")
		}
		return customSQL, nil
	}

	condTable, err := t.profile.ResolveTable("condition")
	if err != nil {
		return "", err
	}
	codeCol, err := t.profile.ResolveColumn("condition", "code")
	if err != nil {
		return "", err
	}
	patientCol, err := t.profile.ResolveColumn("condition", "patient_id")
	if err != nil {
		return "", err
	}

	condName, _ := params["condition"].(string)
	var conditionFilter string
	if condName != "" {
		conditionFilter = fmt.Sprintf("%s LIKE '%%%s%%'", codeCol, condName)
	}

	switch analysisType {
	case "prevalence":
		where := ""
		if conditionFilter != "" {
			where = "WHERE " + conditionFilter
		}
		return fmt.Sprintf(
			"SELECT %[1]s AS code, COUNT(DISTINCT %[2]s) AS patient_count, COUNT(*) AS condition_instances FROM %[3]s %[4]s GROUP BY %[1]s ORDER BY patient_count DESC LIMIT 20",
			codeCol, patientCol, condTable, where), nil

	case "trends":
		onsetCol, err := t.profile.ResolveColumn("condition", "onset")
		if err != nil {
			return "", err
		}
		timeframe, _ := params["timeframe"].(string)
		if timeframe == "" {
			timeframe = "all_time"
		}
		timeFilter, err := timeframeClause(onsetCol, timeframe)
		if err != nil {
			return "", err
		}
		clauses := joinClauses(conditionFilter, timeFilter)
		return fmt.Sprintf(
			"SELECT DATE_TRUNC('month', %[1]s) AS month, COUNT(DISTINCT %[2]s) AS patient_count, COUNT(*) AS total_cases FROM %[3]s %[4]s GROUP BY month ORDER BY month DESC LIMIT 12",
			onsetCol, patientCol, condTable, clauses), nil

	case "demographics":
		patientTable, err := t.profile.ResolveTable("patient")
		if err != nil {
			return "", err
		}
		patientIDCol, err := t.profile.ResolveColumn("patient", "id")
		if err != nil {
			return "", err
		}
		genderCol, err := t.profile.ResolveColumn("patient", "gender")
		if err != nil {
			return "", err
		}
		ageExpr, err := t.profile.ResolveColumn("patient", "age")
		if err != nil {
			return "", err
		}
		where := ""
		if condName != "" {
			where = fmt.Sprintf("WHERE %s LIKE '%%%s%%'", qualify("c", codeCol), condName)
		}
		return fmt.Sprintf(
			"SELECT %[1]s AS gender, %[2]s AS age, COUNT(DISTINCT %[3]s) AS patient_count FROM %[4]s c JOIN %[5]s p ON %[3]s = %[6]s %[7]s GROUP BY gender, age ORDER BY patient_count DESC",
			qualify("p", genderCol), ageExpr, qualify("c", patientCol), condTable, patientTable, qualify("p", patientIDCol), where), nil

	case "comorbidities":
		cond := condName
		if cond == "" {
			cond = "diabetes"
		}
		return fmt.Sprintf(
			"WITH target_patients AS (SELECT DISTINCT %[1]s FROM %[2]s WHERE %[3]s LIKE '%%%[4]s%%') "+
				"SELECT %[3]s AS code, COUNT(DISTINCT %[1]s) AS patient_count FROM %[2]s "+
				"WHERE %[1]s IN (SELECT %[1]s FROM target_patients) AND %[3]s NOT LIKE '%%%[4]s%%' "+
				"GROUP BY %[3]s ORDER BY patient_count DESC LIMIT 10",
			patientCol, condTable, codeCol, cond), nil

	default:
		return "", fmt.Errorf("unknown analysis type %q", analysisType)
	}
}

// timeframeClause maps a timeframe to its relative-date filter. The set is
// exhaustive; an unrecognized value is a caller error, never all_time.
func timeframeClause(dateCol, timeframe string) (string, error) {
	switch timeframe {
	case "all_time":
		return "", nil
	case "last_year":
		return fmt.Sprintf("%s >= CURRENT_DATE - INTERVAL 1 YEAR", dateCol), nil
	case "last_month":
		return fmt.Sprintf("%s >= CURRENT_DATE - INTERVAL 1 MONTH", dateCol), nil
	case "last_week":
		return fmt.Sprintf("%s >= CURRENT_DATE - INTERVAL 1 WEEK", dateCol), nil
	default:
		return "", fmt.Errorf("unrecognized timeframe %q", timeframe)
	}
}

func joinClauses(clauses ...string) string {
	var parts []string
	for _, c := range clauses {
		if c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(parts, " AND ")
}

func (t *PopulationAnalyticsTool) summarize(params map[string]any, results []map[string]any) string {
	analysisType, _ := params["analysis_type"].(string)
	condition, _ := params["condition"].(string)
	if condition == "" {
		condition = "specified condition"
	}

	if len(results) == 0 {
		return fmt.Sprintf("No data found for %s", condition)
	}

	switch analysisType {
	case "prevalence":
		total := int64(0)
		for _, r := range results {
			total += toInt64(r["patient_count"])
		}
		return fmt.Sprintf("Found %d patients with %s across %d condition codes", total, condition, len(results))
	case "trends":
		return fmt.Sprintf("Retrieved %d months of trend data for %s", len(results), condition)
	case "demographics":
		return fmt.Sprintf("Demographic breakdown for %s across %d groups", condition, len(results))
	default:
		return fmt.Sprintf("Analysis completed with %d results", len(results))
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
