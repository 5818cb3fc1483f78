package tools

import (
	"bytes"
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

const appointmentPath = "/appointmentscheduling/appointment"

// AppointmentTool reviews and schedules appointments against the scheduling
// REST API. With no base URL configured it serves deterministic sample data
// so the agent stays usable in demos.
type AppointmentTool struct {
	client    *http.Client
	baseURL   string
	authValue string
	logger    *zap.Logger
}

type AppointmentConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

func NewAppointmentTool(cfg AppointmentConfig, logger *zap.Logger) *AppointmentTool {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	authValue := ""
	if cfg.Username != "" && cfg.Password != "" {
		authValue = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}

	t := &AppointmentTool{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authValue: authValue,
		logger:    logger,
	}
	if t.baseURL == "" {
		logger.Warn("no appointment REST URL configured, serving sample data")
	}
	return t
}

func (t *AppointmentTool) Name() string { return "appointment_manager" }

func (t *AppointmentTool) Schema() Schema {
	return Schema{
		Name:        t.Name(),
		Description: "Review and schedule patient appointments",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []any{"review", "schedule"},
					"description": "Action to perform",
				},
				"patient_id": map[string]any{
					"type":        "string",
					"description": "Patient UUID for filtering or scheduling",
				},
				"appointment_details": map[string]any{
					"type":        "object",
					"description": "Details for scheduling a new appointment",
					"properties": map[string]any{
						"date": map[string]any{
							"type":        "string",
							"format":      "date",
							"description": "Appointment date (YYYY-MM-DD)",
						},
						"time": map[string]any{
							"type":        "string",
							"pattern":     "^([01]?[0-9]|2[0-3]):[0-5][0-9]$",
							"description": "Appointment time (HH:MM)",
						},
						"duration_minutes": map[string]any{
							"type":    "integer",
							"default": 30,
						},
						"provider_uuid": map[string]any{"type": "string"},
						"service":       map[string]any{"type": "string"},
						"location_uuid": map[string]any{"type": "string"},
						"reason":        map[string]any{"type": "string"},
					},
					"required": []any{"date", "time"},
				},
				"filters": map[string]any{
					"type":        "object",
					"description": "Filters when reviewing appointments",
					"properties": map[string]any{
						"start_date":    map[string]any{"type": "string", "format": "date"},
						"end_date":      map[string]any{"type": "string", "format": "date"},
						"provider_uuid": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []any{"scheduled", "checked_in", "completed", "cancelled", "missed"},
						},
					},
				},
			},
			"required": []any{"action"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":         map[string]any{"type": "string"},
				"appointments":   map[string]any{"type": "array"},
				"appointment_id": map[string]any{"type": "string"},
				"total":          map[string]any{"type": "integer"},
				"summary":        map[string]any{"type": "string"},
				"message":        map[string]any{"type": "string"},
			},
		},
	}
}

func (t *AppointmentTool) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	action, _ := params["action"].(string)
	switch action {
	case "review":
		return t.review(ctx, params)
	case "schedule":
		return t.schedule(ctx, params)
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func (t *AppointmentTool) review(ctx context.Context, params map[string]any) (map[string]any, error) {
	if t.baseURL == "" {
		return t.sampleAppointments(params), nil
	}

	query := url.Values{}
	if pid, _ := params["patient_id"].(string); pid != "" {
		query.Set("patient", pid)
	}
	if filters, ok := params["filters"].(map[string]any); ok {
		if v, _ := filters["start_date"].(string); v != "" {
			query.Set("fromDate", v)
		}
		if v, _ := filters["end_date"].(string); v != "" {
			query.Set("toDate", v)
		}
		if v, _ := filters["status"].(string); v != "" {
			query.Set("status", v)
		}
	}

	u := t.baseURL + appointmentPath
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	data, err := t.doJSON(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	raw, _ := data["results"].([]any)
	appointments := make([]any, 0, len(raw))
	for _, r := range raw {
		apt, ok := r.(map[string]any)
		if !ok {
			continue
		}
		appointments = append(appointments, map[string]any{
			"id":       apt["uuid"],
			"patient":  nestedDisplay(apt, "patient"),
			"date":     nestedField(apt, "timeSlot", "startDate"),
			"provider": nestedDisplay(apt, "provider"),
			"service":  nestedDisplay(apt, "appointmentType"),
			"status":   apt["status"],
			"reason":   apt["reason"],
		})
	}

	return map[string]any{
		"action":       "review",
		"appointments": appointments,
		"total":        len(appointments),
		"summary":      formatAppointments(appointments),
		"message":      fmt.Sprintf("Found %d appointments", len(appointments)),
	}, nil
}

// formatAppointments renders one line per appointment for the synthesis
// step, so the model sees a readable schedule instead of raw JSON only.
func formatAppointments(appointments []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d appointment(s):\n", len(appointments))
	for _, a := range appointments {
		apt, ok := a.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %v: %v with %v (%v, %v)\n",
			orDefault(apt["date"], "Date TBD"),
			orDefault(apt["patient"], "Patient"),
			orDefault(apt["provider"], "Provider"),
			orDefault(apt["service"], "General"),
			orDefault(apt["status"], "Unknown"),
		)
	}
	return b.String()
}

func orDefault(v any, fallback string) any {
	if v == nil || v == "" {
		return fallback
	}
	return v
}

func (t *AppointmentTool) schedule(ctx context.Context, params map[string]any) (map[string]any, error) {
	details, ok := params["appointment_details"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("appointment_details required for scheduling")
	}
	date, _ := details["date"].(string)
	timeOfDay, _ := details["time"].(string)
	if date == "" || timeOfDay == "" {
		return nil, fmt.Errorf("appointment_details must include date and time")
	}

	start, err := time.Parse("2006-01-02T15:04", date+"T"+timeOfDay)
	if err != nil {
		return nil, fmt.Errorf("invalid appointment date/time: %w", err)
	}

	duration := int64(30)
	if n := toInt64(details["duration_minutes"]); n > 0 {
		duration = n
	}
	end := start.Add(time.Duration(duration) * time.Minute)

	if t.baseURL == "" {
		return map[string]any{
			"action":         "schedule",
			"appointment_id": "sample-apt-123",
			"message":        fmt.Sprintf("Sample appointment recorded for %s at %s (no scheduling backend)", date, timeOfDay),
		}, nil
	}

	service, _ := details["service"].(string)
	if service == "" {
		service = "General Consultation"
	}
	payload := map[string]any{
		"patient":         params["patient_id"],
		"appointmentType": service,
		"startDateTime":   start.Format("2006-01-02T15:04:05"),
		"endDateTime":     end.Format("2006-01-02T15:04:05"),
		"provider":        details["provider_uuid"],
		"location":        details["location_uuid"],
		"reason":          details["reason"],
		"status":          "Scheduled",
	}

	created, err := t.doJSON(ctx, http.MethodPost, t.baseURL+appointmentPath, payload)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"action":         "schedule",
		"appointment_id": created["uuid"],
		"message":        fmt.Sprintf("Appointment scheduled for %s at %s", date, timeOfDay),
	}, nil
}

func (t *AppointmentTool) doJSON(ctx context.Context, method, u string, payload map[string]any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("appointment: encode payload: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("appointment: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.authValue != "" {
		req.Header.Set("Authorization", t.authValue)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appointment: request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("appointment: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("appointment: HTTP %d", resp.StatusCode)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("appointment: decode response: %w", err)
	}
	return obj, nil
}

func (t *AppointmentTool) sampleAppointments(params map[string]any) map[string]any {
	today := time.Now()
	appointments := []any{
		map[string]any{
			"id":       "apt-001",
			"patient":  "John Doe",
			"date":     today.AddDate(0, 0, 1).Format("2006-01-02") + " 09:00",
			"provider": "Dr. Smith",
			"service":  "Follow-up",
			"status":   "scheduled",
			"reason":   "Diabetes follow-up",
		},
		map[string]any{
			"id":       "apt-002",
			"patient":  "Jane Smith",
			"date":     today.AddDate(0, 0, 3).Format("2006-01-02") + " 14:30",
			"provider": "Dr. Jones",
			"service":  "Consultation",
			"status":   "scheduled",
			"reason":   "Hypertension management",
		},
	}

	if pid, _ := params["patient_id"].(string); pid != "" {
		filtered := make([]any, 0, len(appointments))
		for _, a := range appointments {
			apt := a.(map[string]any)
			if strings.Contains(apt["patient"].(string), pid) {
				filtered = append(filtered, a)
			}
		}
		appointments = filtered
	}

	return map[string]any{
		"action":       "review",
		"appointments": appointments,
		"total":        len(appointments),
		"summary":      formatAppointments(appointments),
		"message":      fmt.Sprintf("Sample data, %d appointments", len(appointments)),
	}
}

func nestedDisplay(obj map[string]any, key string) any {
	return nestedField(obj, key, "display")
}

func nestedField(obj map[string]any, key, field string) any {
	if inner, ok := obj[key].(map[string]any); ok {
		return inner[field]
	}
	return nil
}
