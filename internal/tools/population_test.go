package tools

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestPopulationPrevalenceQuery(t *testing.T) {
	q := &fakeQuerier{rows: []map[string]any{
		{"code": "Diabetes mellitus type 2", "patient_count": int64(42), "condition_instances": int64(60)},
	}}
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"analysis_type": "prevalence",
		"condition":     "diabetes",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	sql := out["query_executed"].(string)
	for _, want := range []string{
		"FROM wh.conditions",
		"condition_display LIKE '%diabetes%'",
		"COUNT(DISTINCT patient_uuid)",
		"GROUP BY condition_display",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("query missing %q:\n%s", want, sql)
		}
	}
	if out["row_count"] != 1 {
		t.Fatalf("expected row_count 1, got %v", out["row_count"])
	}
	summary := out["summary"].(string)
	if !strings.Contains(summary, "42 patients") {
		t.Fatalf("unexpected summary: %s", summary)
	}
}

func TestPopulationTrendsTimeframe(t *testing.T) {
	q := &fakeQuerier{}
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"analysis_type": "trends",
		"condition":     "asthma",
		"timeframe":     "last_month",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	sql := out["query_executed"].(string)
	if !strings.Contains(sql, "onset_datetime >= CURRENT_DATE - INTERVAL 1 MONTH") {
		t.Fatalf("missing timeframe filter:\n%s", sql)
	}
	if !strings.Contains(sql, "DATE_TRUNC('month', onset_datetime)") {
		t.Fatalf("missing month bucketing:\n%s", sql)
	}
}

func TestPopulationUnrecognizedTimeframe(t *testing.T) {
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), &fakeQuerier{}, zap.NewNop())

	// A bad timeframe must error rather than silently widen to all time.
	_, err := tool.Invoke(context.Background(), map[string]any{
		"analysis_type": "trends",
		"timeframe":     "last_decade",
	})
	if err == nil || !strings.Contains(err.Error(), "timeframe") {
		t.Fatalf("expected timeframe error, got %v", err)
	}
}

func TestPopulationDemographicsJoin(t *testing.T) {
	q := &fakeQuerier{}
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"analysis_type": "demographics",
		"condition":     "hypertension",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	sql := out["query_executed"].(string)
	for _, want := range []string{
		"JOIN wh.patients p ON c.patient_uuid = p.patient_uuid",
		"p.gender AS gender",
		"dateDiff('year', birth_date, today()) AS age",
		"c.condition_display LIKE '%hypertension%'",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("query missing %q:\n%s", want, sql)
		}
	}
}

func TestPopulationComorbiditiesDefaultsCondition(t *testing.T) {
	q := &fakeQuerier{}
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"analysis_type": "comorbidities",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	sql := out["query_executed"].(string)
	if !strings.Contains(sql, "WITH target_patients AS") {
		t.Fatalf("missing CTE:\n%s", sql)
	}
	if !strings.Contains(sql, "'%diabetes%'") {
		t.Fatalf("expected default condition:\n%s", sql)
	}
	if !strings.Contains(sql, "NOT LIKE '%diabetes%'") {
		t.Fatalf("expected target condition excluded:\n%s", sql)
	}
}

func TestPopulationCustomRequiresSQL(t *testing.T) {
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), &fakeQuerier{}, zap.NewNop())

	_, err := tool.Invoke(context.Background(), map[string]any{"analysis_type": "custom"})
	if err == nil || !strings.Contains(err.Error(), "custom_sql") {
		t.Fatalf("expected custom_sql error, got %v", err)
	}
}

func TestPopulationCustomPassthrough(t *testing.T) {
	q := &fakeQuerier{}
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), q, zap.NewNop())

	const raw = "SELECT 1"
	out, err := tool.Invoke(context.Background(), map[string]any{
		"analysis_type": "custom",
		"custom_sql":    raw,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["query_executed"] != raw {
		t.Fatalf("custom SQL was altered: %v", out["query_executed"])
	}
}

func TestPopulationCapabilityGate(t *testing.T) {
	profile := loadTestProfile(t)
	q := &fakeQuerier{columns: map[string][]string{
		// conditions table lacks onset_datetime, so trends is unsupported.
		"wh.conditions": {"condition_display", "patient_uuid", "clinical_status"},
		"wh.patients":   {"patient_uuid", "gender", "birth_date"},
	}}
	tool := NewPopulationAnalyticsTool(profile, q, zap.NewNop())

	// Before capability computation every analysis type passes the gate.
	if _, err := tool.Invoke(context.Background(), map[string]any{"analysis_type": "trends"}); err != nil {
		t.Fatalf("pre-compute invoke: %v", err)
	}

	profile.ComputeCapabilities(context.Background(), q)

	_, err := tool.Invoke(context.Background(), map[string]any{"analysis_type": "trends"})
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected capability error, got %v", err)
	}

	// prevalence needs only columns that exist and stays available.
	if _, err := tool.Invoke(context.Background(), map[string]any{"analysis_type": "prevalence"}); err != nil {
		t.Fatalf("prevalence after compute: %v", err)
	}
}

func TestPopulationUnknownAnalysisType(t *testing.T) {
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), &fakeQuerier{}, zap.NewNop())

	_, err := tool.Invoke(context.Background(), map[string]any{"analysis_type": "forecast"})
	if err == nil || !strings.Contains(err.Error(), "unknown analysis type") {
		t.Fatalf("expected unknown analysis type error, got %v", err)
	}
}

func TestPopulationQueryFailure(t *testing.T) {
	q := &fakeQuerier{failOn: "wh.conditions"}
	tool := NewPopulationAnalyticsTool(loadTestProfile(t), q, zap.NewNop())

	_, err := tool.Invoke(context.Background(), map[string]any{"analysis_type": "prevalence"})
	if err == nil || !strings.Contains(err.Error(), "query execution failed") {
		t.Fatalf("expected execution failure, got %v", err)
	}
}
