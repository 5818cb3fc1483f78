package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestAppointmentSampleReviewWithoutBackend(t *testing.T) {
	tool := NewAppointmentTool(AppointmentConfig{}, zap.NewNop())

	out, err := tool.Invoke(context.Background(), map[string]any{"action": "review"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["total"] != 2 {
		t.Fatalf("expected 2 sample appointments, got %v", out["total"])
	}
	if !strings.Contains(out["message"].(string), "Sample data") {
		t.Fatalf("sample response must say so: %v", out["message"])
	}
	summary := out["summary"].(string)
	if !strings.Contains(summary, "John Doe with Dr. Smith") {
		t.Errorf("expected per-appointment summary line, got %q", summary)
	}
}

func TestAppointmentReviewForwardsFilters(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"patient":  r.URL.Query().Get("patient"),
			"fromDate": r.URL.Query().Get("fromDate"),
			"toDate":   r.URL.Query().Get("toDate"),
			"status":   r.URL.Query().Get("status"),
		}
		json.NewEncoder(w).Encode(map[string]any{"results": []any{ //nolint:errcheck
			map[string]any{
				"uuid":            "apt-9",
				"patient":         map[string]any{"display": "John Doe"},
				"timeSlot":        map[string]any{"startDate": "2026-09-01T09:00:00"},
				"provider":        map[string]any{"display": "Dr. Smith"},
				"appointmentType": map[string]any{"display": "Follow-up"},
				"status":          "scheduled",
			},
		}})
	}))
	defer srv.Close()

	tool := NewAppointmentTool(AppointmentConfig{BaseURL: srv.URL}, zap.NewNop())
	out, err := tool.Invoke(context.Background(), map[string]any{
		"action":     "review",
		"patient_id": "pat-1",
		"filters": map[string]any{
			"start_date": "2026-09-01",
			"end_date":   "2026-09-30",
			"status":     "scheduled",
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if gotQuery["patient"] != "pat-1" || gotQuery["fromDate"] != "2026-09-01" ||
		gotQuery["toDate"] != "2026-09-30" || gotQuery["status"] != "scheduled" {
		t.Fatalf("filters not forwarded: %v", gotQuery)
	}

	appointments := out["appointments"].([]any)
	if len(appointments) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appointments))
	}
	apt := appointments[0].(map[string]any)
	if apt["patient"] != "John Doe" || apt["provider"] != "Dr. Smith" {
		t.Fatalf("nested display fields not flattened: %v", apt)
	}
}

func TestAppointmentScheduleComputesEndTime(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"uuid": "apt-new"}) //nolint:errcheck
	}))
	defer srv.Close()

	tool := NewAppointmentTool(AppointmentConfig{BaseURL: srv.URL}, zap.NewNop())
	out, err := tool.Invoke(context.Background(), map[string]any{
		"action":     "schedule",
		"patient_id": "pat-1",
		"appointment_details": map[string]any{
			"date":             "2026-09-15",
			"time":             "14:30",
			"duration_minutes": float64(45),
			"reason":           "Follow-up",
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if gotPayload["startDateTime"] != "2026-09-15T14:30:00" {
		t.Fatalf("unexpected start: %v", gotPayload["startDateTime"])
	}
	if gotPayload["endDateTime"] != "2026-09-15T15:15:00" {
		t.Fatalf("end time must be start plus duration, got %v", gotPayload["endDateTime"])
	}
	if gotPayload["appointmentType"] != "General Consultation" {
		t.Fatalf("expected default service, got %v", gotPayload["appointmentType"])
	}
	if out["appointment_id"] != "apt-new" {
		t.Fatalf("created id not returned: %v", out["appointment_id"])
	}
}

func TestAppointmentScheduleIntDuration(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload) //nolint:errcheck
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"uuid": "apt-new"}) //nolint:errcheck
	}))
	defer srv.Close()

	// Durations from Go callers arrive as int, not the decoder's float64.
	tool := NewAppointmentTool(AppointmentConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{
		"action":     "schedule",
		"patient_id": "pat-1",
		"appointment_details": map[string]any{
			"date":             "2026-09-15",
			"time":             "09:00",
			"duration_minutes": 20,
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if gotPayload["endDateTime"] != "2026-09-15T09:20:00" {
		t.Fatalf("int duration must be honored, got end %v", gotPayload["endDateTime"])
	}
}

func TestAppointmentScheduleWithoutDetails(t *testing.T) {
	tool := NewAppointmentTool(AppointmentConfig{}, zap.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{"action": "schedule"})
	if err == nil || !strings.Contains(err.Error(), "appointment_details") {
		t.Fatalf("expected details error, got %v", err)
	}
}

func TestAppointmentScheduleBadTime(t *testing.T) {
	tool := NewAppointmentTool(AppointmentConfig{}, zap.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{
		"action": "schedule",
		"appointment_details": map[string]any{
			"date": "2026-09-15",
			"time": "25:99",
		},
	})
	if err == nil {
		t.Fatal("expected error for invalid time")
	}
}

func TestAppointmentUnknownAction(t *testing.T) {
	tool := NewAppointmentTool(AppointmentConfig{}, zap.NewNop())
	_, err := tool.Invoke(context.Background(), map[string]any{"action": "cancel"})
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}
