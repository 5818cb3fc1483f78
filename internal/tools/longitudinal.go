package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pmanko/med-agent-hub/internal/schema"
	"github.com/pmanko/med-agent-hub/internal/warehouse"
)

// Record sections in their canonical order.
var allSections = []string{"demographics", "conditions", "medications", "observations", "encounters", "procedures"}

// PatientLongitudinalTool assembles a patient's longitudinal health record
// from per-section warehouse queries. One section's query failure empties
// that section without aborting the rest: a partial record beats no record.
type PatientLongitudinalTool struct {
	profile *schema.Profile
	querier warehouse.Querier
	logger  *zap.Logger
}

func NewPatientLongitudinalTool(profile *schema.Profile, querier warehouse.Querier, logger *zap.Logger) *PatientLongitudinalTool {
	return &PatientLongitudinalTool{profile: profile, querier: querier, logger: logger}
}

func (t *PatientLongitudinalTool) Name() string { return "warehouse_patient_longitudinal" }

func (t *PatientLongitudinalTool) Schema() Schema {
	sectionEnum := make([]any, len(allSections))
	for i, s := range allSections {
		sectionEnum[i] = s
	}
	return Schema{
		Name:        t.Name(),
		Description: "Retrieve a comprehensive longitudinal health record for a patient",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patient_id": map[string]any{
					"type":        "string",
					"description": "Patient identifier",
				},
				"format": map[string]any{
					"type":        "string",
					"enum":        []any{"ips", "timeline", "summary", "full"},
					"default":     "summary",
					"description": "Output format for the health record",
				},
				"sections": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": sectionEnum},
					"description": "Sections to include (default: all)",
				},
				"date_range": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"start": map[string]any{"type": "string", "format": "date"},
						"end":   map[string]any{"type": "string", "format": "date"},
					},
				},
			},
			"required": []any{"patient_id"},
		},
	}
}

func (t *PatientLongitudinalTool) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	patientID, _ := params["patient_id"].(string)
	format, _ := params["format"].(string)
	if format == "" {
		format = "summary"
	}

	sections := requestedSections(params)
	dateRange, _ := params["date_range"].(map[string]any)

	record := make(map[string][]map[string]any, len(sections))
	for _, section := range sections {
		sql, err := t.buildSectionQuery(section, patientID, dateRange)
		if err != nil {
			// Resolution failure is a profile mismatch, not a backend fault.
			return nil, err
		}
		rows, err := t.querier.Query(ctx, sql)
		if err != nil {
			t.logger.Warn("section query failed, returning empty section",
				zap.String("section", section),
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
			record[section] = []map[string]any{}
			continue
		}
		record[section] = rows
	}

	total := 0
	included := make([]string, 0, len(record))
	for _, s := range sections {
		included = append(included, s)
		total += len(record[s])
	}

	return map[string]any{
		"patient_id":        patientID,
		"format":            format,
		"record":            formatRecord(record, format),
		"sections_included": included,
		"record_count":      total,
	}, nil
}

func requestedSections(params map[string]any) []string {
	raw, ok := params["sections"].([]any)
	if !ok || len(raw) == 0 {
		return allSections
	}
	var sections []string
	for _, r := range raw {
		if s, ok := r.(string); ok {
			sections = append(sections, s)
		}
	}
	if len(sections) == 0 {
		return allSections
	}
	return sections
}

func (t *PatientLongitudinalTool) buildSectionQuery(section, patientID string, dateRange map[string]any) (string, error) {
	switch section {
	case "demographics":
		return t.sectionQuery("patient", []string{"id", "gender", "birth_date", "deceased", "city", "state"},
			"id", patientID, "", false, 0)
	case "conditions":
		return t.sectionQuery("condition", []string{"code", "clinical_status", "onset", "abatement"},
			"patient_id", patientID, "onset", true, 0)
	case "medications":
		return t.sectionQuery("medication", []string{"medication", "dosage", "status", "authored_on"},
			"patient_id", patientID, "authored_on", true, 0)
	case "observations":
		base, err := t.sectionQuery("observation", []string{"code", "value", "unit", "effective"},
			"patient_id", patientID, "effective", true, 100)
		if err != nil {
			return "", err
		}
		return t.applyDateRange(base, dateRange)
	case "encounters":
		return t.sectionQuery("encounter", []string{"type", "period_start", "period_end", "reason"},
			"patient_id", patientID, "period_start", true, 50)
	case "procedures":
		return t.sectionQuery("procedure", []string{"code", "performed", "outcome"},
			"patient_id", patientID, "performed", true, 0)
	default:
		return "", fmt.Errorf("unknown record section %q", section)
	}
}

// sectionQuery builds SELECT <cols> FROM <table> WHERE <filter>='id'
// [ORDER BY <order> DESC] [LIMIT n] with everything resolved through the
// profile. Column aliases keep result keys logical regardless of the
// physical names.
func (t *PatientLongitudinalTool) sectionQuery(view string, columns []string, filterCol, patientID, orderCol string, desc bool, limit int) (string, error) {
	table, err := t.profile.ResolveTable(view)
	if err != nil {
		return "", err
	}

	selects := make([]string, len(columns))
	for i, c := range columns {
		expr, err := t.profile.ResolveColumn(view, c)
		if err != nil {
			return "", err
		}
		selects[i] = fmt.Sprintf("%s AS %s", expr, c)
	}

	filterExpr, err := t.profile.ResolveColumn(view, filterCol)
	if err != nil {
		return "", err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = '%s'",
		strings.Join(selects, ", "), table, filterExpr, patientID)

	if orderCol != "" {
		orderExpr, err := t.profile.ResolveColumn(view, orderCol)
		if err != nil {
			return "", err
		}
		sql += " ORDER BY " + orderExpr
		if desc {
			sql += " DESC"
		}
	}
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return sql, nil
}

func (t *PatientLongitudinalTool) applyDateRange(sql string, dateRange map[string]any) (string, error) {
	if dateRange == nil {
		return sql, nil
	}
	effective, err := t.profile.ResolveColumn("observation", "effective")
	if err != nil {
		return "", err
	}
	// Splice additional predicates before the ORDER BY.
	var extra string
	if start, _ := dateRange["start"].(string); start != "" {
		extra += fmt.Sprintf(" AND %s >= '%s'", effective, start)
	}
	if end, _ := dateRange["end"].(string); end != "" {
		extra += fmt.Sprintf(" AND %s <= '%s'", effective, end)
	}
	if extra == "" {
		return sql, nil
	}
	idx := strings.Index(sql, " ORDER BY ")
	if idx < 0 {
		return sql + extra, nil
	}
	return sql[:idx] + extra + sql[idx:], nil
}

// formatRecord shapes the raw section rows into the requested view.
func formatRecord(record map[string][]map[string]any, format string) any {
	switch format {
	case "full":
		return record

	case "summary":
		var active []map[string]any
		for _, c := range record["conditions"] {
			if s, _ := c["clinical_status"].(string); s == "active" {
				active = append(active, c)
			}
		}
		return map[string]any{
			"patient_info":        record["demographics"],
			"active_conditions":   active,
			"current_medications": head(record["medications"], 5),
			"recent_observations": head(record["observations"], 10),
			"recent_encounters":   head(record["encounters"], 3),
		}

	case "timeline":
		var timeline []map[string]any
		for _, c := range record["conditions"] {
			if date, ok := c["onset"].(string); ok && date != "" {
				timeline = append(timeline, map[string]any{"date": date, "type": "condition", "data": c})
			}
		}
		for _, o := range record["observations"] {
			if date, ok := o["effective"].(string); ok && date != "" {
				timeline = append(timeline, map[string]any{"date": date, "type": "observation", "data": o})
			}
		}
		sort.SliceStable(timeline, func(i, j int) bool {
			return timeline[i]["date"].(string) > timeline[j]["date"].(string)
		})
		return head(timeline, 50)

	case "ips":
		return map[string]any{
			"patient":       record["demographics"],
			"problems":      record["conditions"],
			"medications":   record["medications"],
			"allergies":     []map[string]any{},
			"immunizations": []map[string]any{},
			"results":       head(record["observations"], 20),
		}

	default:
		return record
	}
}

func head(rows []map[string]any, n int) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	if len(rows) <= n {
		return rows
	}
	return rows[:n]
}
