package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pmanko/med-agent-hub/internal/schema"
)

const testProfileYAML = `
views:
  patient:
    table: wh.patients
    columns:
      id: patient_uuid
      gender: gender
      birth_date: birth_date
      deceased: deceased
      city: city
      state: state
      age: "dateDiff('year', birth_date, today())"
  condition:
    table: wh.conditions
    columns:
      code: condition_display
      clinical_status: clinical_status
      onset: onset_datetime
      abatement: abatement_datetime
      patient_id: patient_uuid
  medication:
    table: wh.medication_requests
    columns:
      medication: medication_display
      dosage: dosage_text
      status: status
      authored_on: authored_on
      patient_id: patient_uuid
  observation:
    table: wh.observations
    columns:
      code: obs_display
      value: value_quantity
      unit: value_unit
      effective: effective_datetime
      patient_id: patient_uuid
  encounter:
    table: wh.encounters
    columns:
      type: encounter_type
      period_start: period_start
      period_end: period_end
      reason: reason_display
      patient_id: patient_uuid
  procedure:
    table: wh.procedures
    columns:
      code: procedure_display
      performed: performed_datetime
      outcome: outcome_display
      patient_id: patient_uuid
features:
  prevalence:
    requires: [condition.code, condition.patient_id]
  trends:
    requires: [condition.onset, condition.code]
  demographics:
    requires: [patient.gender, patient.age]
`

func loadTestProfile(t *testing.T) *schema.Profile {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testProfileYAML), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	p, err := schema.LoadProfile(dir, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return p
}

// fakeQuerier records executed SQL and serves canned rows. failOn makes any
// statement containing that substring fail.
type fakeQuerier struct {
	rows    []map[string]any
	queries []string
	failOn  string
	columns map[string][]string
	closed  bool
}

func (f *fakeQuerier) Query(_ context.Context, sql string) ([]map[string]any, error) {
	f.queries = append(f.queries, sql)
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return nil, errors.New("backend unavailable")
	}
	return f.rows, nil
}

func (f *fakeQuerier) ListColumns(_ context.Context, table string) ([]string, error) {
	cols, ok := f.columns[table]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return cols, nil
}

func (f *fakeQuerier) Close() error {
	f.closed = true
	return nil
}

// stubTool is a minimal tool for registry and invocation tests.
type stubTool struct {
	name      string
	schema    Schema
	invokeErr error
	closed    bool
}

func (s *stubTool) Name() string   { return s.name }
func (s *stubTool) Schema() Schema { return s.schema }

func (s *stubTool) Invoke(_ context.Context, params map[string]any) (map[string]any, error) {
	if s.invokeErr != nil {
		return nil, s.invokeErr
	}
	return map[string]any{"echo": params["message"]}, nil
}

func (s *stubTool) Close() error {
	s.closed = true
	return nil
}

func messageSchema(name string) Schema {
	return Schema{
		Name: name,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"mode": map[string]any{
					"type": "string",
					"enum": []any{"fast", "slow"},
				},
			},
			"required": []any{"message"},
		},
	}
}

func TestSafeInvokeSuccess(t *testing.T) {
	tool := &stubTool{name: "echo", schema: messageSchema("echo")}
	res := SafeInvoke(context.Background(), tool, map[string]any{"message": "hi"}, zap.NewNop())
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Result["echo"] != "hi" {
		t.Fatalf("unexpected result: %v", res.Result)
	}
}

func TestSafeInvokeValidationError(t *testing.T) {
	tool := &stubTool{name: "echo", schema: messageSchema("echo")}
	res := SafeInvoke(context.Background(), tool, map[string]any{}, zap.NewNop())
	if res.Success {
		t.Fatal("expected failure for missing required field")
	}
	if !strings.HasPrefix(res.Error, "validation error:") {
		t.Fatalf("expected validation error, got %q", res.Error)
	}
}

func TestSafeInvokeExecutionError(t *testing.T) {
	tool := &stubTool{name: "echo", schema: messageSchema("echo"), invokeErr: errors.New("boom")}
	res := SafeInvoke(context.Background(), tool, map[string]any{"message": "hi"}, zap.NewNop())
	if res.Success {
		t.Fatal("expected failure when tool errors")
	}
	if !strings.HasPrefix(res.Error, "execution error:") {
		t.Fatalf("expected execution error, got %q", res.Error)
	}
}

func TestSafeInvokeEnumViolation(t *testing.T) {
	tool := &stubTool{name: "echo", schema: messageSchema("echo")}
	res := SafeInvoke(context.Background(), tool, map[string]any{"message": "hi", "mode": "warp"}, zap.NewNop())
	if res.Success {
		t.Fatal("expected failure for out-of-enum value")
	}
	if !strings.HasPrefix(res.Error, "validation error:") {
		t.Fatalf("expected validation error, got %q", res.Error)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	b := &stubTool{name: "beta", schema: messageSchema("beta")}
	a := &stubTool{name: "alpha", schema: messageSchema("alpha")}
	r.Register(b)
	r.Register(a)

	if !r.Has("alpha") || !r.Has("beta") {
		t.Fatal("registered tools not found")
	}
	if r.Get("gamma") != nil {
		t.Fatal("expected nil for unknown tool")
	}

	schemas := r.List()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	if schemas[0].Name != "alpha" || schemas[1].Name != "beta" {
		t.Fatalf("schemas not sorted by name: %s, %s", schemas[0].Name, schemas[1].Name)
	}

	r.Close()
	if !a.closed || !b.closed {
		t.Fatal("registry close did not close tools")
	}
}

func TestRequiredFields(t *testing.T) {
	s := messageSchema("echo")
	got := RequiredFields(s.InputSchema)
	if len(got) != 1 || got[0] != "message" {
		t.Fatalf("unexpected required fields: %v", got)
	}
	if RequiredFields(map[string]any{"type": "object"}) != nil {
		t.Fatal("expected nil for schema without required")
	}
}

func TestEnumValues(t *testing.T) {
	s := messageSchema("echo")
	got := EnumValues(s.InputSchema, "mode")
	if len(got) != 2 || got[0] != "fast" || got[1] != "slow" {
		t.Fatalf("unexpected enum values: %v", got)
	}
	if EnumValues(s.InputSchema, "message") != nil {
		t.Fatal("expected nil for non-enum property")
	}
	if EnumValues(s.InputSchema, "missing") != nil {
		t.Fatal("expected nil for unknown property")
	}
}
