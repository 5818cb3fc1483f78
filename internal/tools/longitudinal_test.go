package tools

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestLongitudinalDefaultsToAllSections(t *testing.T) {
	q := &fakeQuerier{rows: []map[string]any{{"code": "x"}}}
	tool := NewPatientLongitudinalTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"patient_id": "pat-1",
		"format":     "full",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	included := out["sections_included"].([]string)
	if len(included) != len(allSections) {
		t.Fatalf("expected %d sections, got %v", len(allSections), included)
	}
	if out["record_count"] != len(allSections) {
		t.Fatalf("expected one row per section, got %v", out["record_count"])
	}
	if len(q.queries) != len(allSections) {
		t.Fatalf("expected %d queries, got %d", len(allSections), len(q.queries))
	}
}

func TestLongitudinalSectionSubset(t *testing.T) {
	q := &fakeQuerier{}
	tool := NewPatientLongitudinalTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"patient_id": "pat-1",
		"sections":   []any{"conditions", "medications"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	included := out["sections_included"].([]string)
	if len(included) != 2 || included[0] != "conditions" || included[1] != "medications" {
		t.Fatalf("unexpected sections: %v", included)
	}
}

func TestLongitudinalSectionFailureDoesNotAbort(t *testing.T) {
	q := &fakeQuerier{
		rows:   []map[string]any{{"code": "x"}},
		failOn: "wh.medication_requests",
	}
	tool := NewPatientLongitudinalTool(loadTestProfile(t), q, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{
		"patient_id": "pat-1",
		"format":     "full",
	})
	if err != nil {
		t.Fatalf("invoke should survive a single section failure, got %v", err)
	}

	record := out["record"].(map[string][]map[string]any)
	if len(record["medications"]) != 0 {
		t.Fatalf("failed section should be empty, got %v", record["medications"])
	}
	if len(record["conditions"]) != 1 {
		t.Fatalf("healthy section lost its rows: %v", record["conditions"])
	}
	if out["record_count"] != len(allSections)-1 {
		t.Fatalf("record_count should exclude failed section, got %v", out["record_count"])
	}
}

func TestLongitudinalSectionQueryShape(t *testing.T) {
	tool := NewPatientLongitudinalTool(loadTestProfile(t), &fakeQuerier{}, zap.NewNop())

	sql, err := tool.buildSectionQuery("conditions", "pat-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"condition_display AS code",
		"FROM wh.conditions",
		"WHERE patient_uuid = 'pat-1'",
		"ORDER BY onset_datetime DESC",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("query missing %q:\n%s", want, sql)
		}
	}
}

func TestLongitudinalDateRangeBeforeOrderBy(t *testing.T) {
	tool := NewPatientLongitudinalTool(loadTestProfile(t), &fakeQuerier{}, zap.NewNop())

	sql, err := tool.buildSectionQuery("observations", "pat-1", map[string]any{
		"start": "2024-01-01",
		"end":   "2024-06-30",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	startIdx := strings.Index(sql, "effective_datetime >= '2024-01-01'")
	endIdx := strings.Index(sql, "effective_datetime <= '2024-06-30'")
	orderIdx := strings.Index(sql, " ORDER BY ")
	if startIdx < 0 || endIdx < 0 {
		t.Fatalf("date predicates missing:\n%s", sql)
	}
	if orderIdx < 0 || startIdx > orderIdx || endIdx > orderIdx {
		t.Fatalf("date predicates must precede ORDER BY:\n%s", sql)
	}
}

func TestLongitudinalSummaryFormat(t *testing.T) {
	record := map[string][]map[string]any{
		"demographics": {{"id": "pat-1", "gender": "female"}},
		"conditions": {
			{"code": "Asthma", "clinical_status": "active"},
			{"code": "Fracture", "clinical_status": "resolved"},
		},
		"medications": {
			{"medication": "m1"}, {"medication": "m2"}, {"medication": "m3"},
			{"medication": "m4"}, {"medication": "m5"}, {"medication": "m6"},
		},
		"observations": {},
		"encounters":   {},
	}

	out := formatRecord(record, "summary").(map[string]any)

	active := out["active_conditions"].([]map[string]any)
	if len(active) != 1 || active[0]["code"] != "Asthma" {
		t.Fatalf("expected only active conditions, got %v", active)
	}
	meds := out["current_medications"].([]map[string]any)
	if len(meds) != 5 {
		t.Fatalf("medications should cap at 5, got %d", len(meds))
	}
}

func TestLongitudinalTimelineFormat(t *testing.T) {
	record := map[string][]map[string]any{
		"conditions": {
			{"code": "Asthma", "onset": "2023-05-01"},
		},
		"observations": {
			{"code": "HbA1c", "effective": "2024-02-10"},
			{"code": "BP", "effective": "2022-11-03"},
		},
	}

	timeline := formatRecord(record, "timeline").([]map[string]any)
	if len(timeline) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(timeline))
	}
	dates := []string{
		timeline[0]["date"].(string),
		timeline[1]["date"].(string),
		timeline[2]["date"].(string),
	}
	if dates[0] != "2024-02-10" || dates[1] != "2023-05-01" || dates[2] != "2022-11-03" {
		t.Fatalf("timeline not newest-first: %v", dates)
	}
}

func TestLongitudinalUnknownSection(t *testing.T) {
	tool := NewPatientLongitudinalTool(loadTestProfile(t), &fakeQuerier{}, zap.NewNop())

	_, err := tool.Invoke(context.Background(), map[string]any{
		"patient_id": "pat-1",
		"sections":   []any{"allergies"},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown record section") {
		t.Fatalf("expected unknown section error, got %v", err)
	}
}
