package router

import (
	"regexp"
	"strings"
	"time"

	"github.com/pmanko/med-agent-hub/internal/tools"
)

// Pre-compiled lexical cues used to repair missing or invalid fields from
// the original query text. When a query carries both recency and historical
// cues, recency wins: the rules below are checked in declaration order and
// the first match sticks.
var (
	trendCues = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btrend`),
		regexp.MustCompile(`(?i)\brecent`),
		regexp.MustCompile(`(?i)\bincreas`),
		regexp.MustCompile(`(?i)\bcommon\s+now\b`),
		regexp.MustCompile(`(?i)\bmore\s+common\b`),
		regexp.MustCompile(`(?i)\bon\s+the\s+rise\b`),
	}
	recencyCues = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brecent`),
		regexp.MustCompile(`(?i)\bnow\b`),
		regexp.MustCompile(`(?i)\bcurrent`),
		regexp.MustCompile(`(?i)\bthis\s+(month|week)\b`),
		regexp.MustCompile(`(?i)\blately\b`),
	}
	historicalCues = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bhistor`),
		regexp.MustCompile(`(?i)\ball\s+time\b`),
		regexp.MustCompile(`(?i)\bever\b`),
		regexp.MustCompile(`(?i)\bover\s+the\s+years\b`),
	}
	observationCues = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\blabs?\b`),
		regexp.MustCompile(`(?i)\bresults?\b`),
		regexp.MustCompile(`(?i)\bobservations?\b`),
		regexp.MustCompile(`(?i)\bvitals?\b`),
		regexp.MustCompile(`(?i)\bmeasurements?\b`),
	}
	allSectionCues = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcomplete\b`),
		regexp.MustCompile(`(?i)\bhistory\b`),
		regexp.MustCompile(`(?i)\ball\b`),
		regexp.MustCompile(`(?i)\bfull\b`),
	}
)

// Known condition vocabulary for extracting a condition name from free
// text. Common aliases map onto the canonical term.
var conditionVocab = []struct {
	re        *regexp.Regexp
	canonical string
}{
	{regexp.MustCompile(`(?i)\bdiabet`), "diabetes"},
	{regexp.MustCompile(`(?i)\bhypertens`), "hypertension"},
	{regexp.MustCompile(`(?i)\bhigh\s+blood\s+pressure\b`), "hypertension"},
	{regexp.MustCompile(`(?i)\basthma\b`), "asthma"},
	{regexp.MustCompile(`(?i)\binfluenza\b`), "influenza"},
	{regexp.MustCompile(`(?i)\bflu\b`), "influenza"},
	{regexp.MustCompile(`(?i)\bcovid`), "covid"},
	{regexp.MustCompile(`(?i)\bmalaria\b`), "malaria"},
	{regexp.MustCompile(`(?i)\btuberculosis\b`), "tuberculosis"},
	{regexp.MustCompile(`(?i)\bhiv\b`), "hiv"},
	{regexp.MustCompile(`(?i)\bcancer\b`), "cancer"},
	{regexp.MustCompile(`(?i)\bdepress`), "depression"},
	{regexp.MustCompile(`(?i)\banxiety\b`), "anxiety"},
	{regexp.MustCompile(`(?i)\bobesity\b`), "obesity"},
	{regexp.MustCompile(`(?i)\bpneumonia\b`), "pneumonia"},
	{regexp.MustCompile(`(?i)\bstroke\b`), "stroke"},
}

// Synonym table mapping literature-search phrasing to declared categories.
var searchTypeSynonyms = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`(?i)literature`), "literature"},
	{regexp.MustCompile(`(?i)guideline`), "guidelines"},
	{regexp.MustCompile(`(?i)protocol`), "protocols"},
	{regexp.MustCompile(`(?i)\bdrug`), "drug_info"},
	{regexp.MustCompile(`(?i)medication\s+info`), "drug_info"},
}

// patientIDRe captures an identifier token following the word "patient".
var patientIDRe = regexp.MustCompile(`(?i)\bpatient\s+(?:id\s+)?([A-Za-z0-9][\w.-]*)`)

var longitudinalSections = []string{"demographics", "conditions", "medications", "observations", "encounters", "procedures"}

// Normalize repairs an extracted parameter object so it conforms to the
// target tool's declared input schema. It never fails: every rule prefers a
// wrong-but-valid guess over blocking the pipeline, and a final guard fills
// any required field the skill rules left unset. schema is the target
// tool's input schema.
func Normalize(skillName string, extracted map[string]any, queryText string, schema map[string]any) map[string]any {
	params := make(map[string]any, len(extracted))
	for k, v := range extracted {
		params[k] = v
	}

	switch skillName {
	case "population_analytics":
		normalizePopulation(params, queryText, schema)
	case "patient_longitudinal":
		normalizeLongitudinal(params, queryText)
	case "fhir_patient_search":
		normalizeFHIRSearch(params, queryText, schema)
	case "medical_search":
		normalizeMedicalSearch(params, queryText)
	case "review_appointments":
		normalizeReviewAppointments(params, queryText, schema)
	case "schedule_appointment":
		normalizeScheduleAppointment(params, queryText)
	}

	fillRequired(params, queryText, schema)
	return params
}

func normalizePopulation(params map[string]any, queryText string, schema map[string]any) {
	analysisTypes := tools.EnumValues(schema, "analysis_type")

	at, present := params["analysis_type"].(string)
	switch {
	case present && contains(analysisTypes, at):
		// declared value, keep
	case present:
		// A value the schema does not declare always collapses to
		// prevalence; cues only apply when the field is absent.
		at = "prevalence"
		params["analysis_type"] = at
	default:
		at = "prevalence"
		if anyMatch(trendCues, queryText) {
			at = "trends"
		}
		params["analysis_type"] = at
	}

	// Custom without SQL text cannot run; downgrade to a cue-derived type.
	if at == "custom" {
		if sqlText, _ := params["custom_sql"].(string); strings.TrimSpace(sqlText) == "" {
			at = "prevalence"
			if anyMatch(trendCues, queryText) {
				at = "trends"
			}
			params["analysis_type"] = at
		}
	}

	if cond, _ := params["condition"].(string); cond == "" {
		if name := matchCondition(queryText); name != "" {
			params["condition"] = name
		}
	}

	timeframes := tools.EnumValues(schema, "timeframe")
	tf, present := params["timeframe"].(string)
	switch {
	case present && contains(timeframes, tf):
		// declared value, keep
	case present:
		params["timeframe"] = "all_time"
	case anyMatch(recencyCues, queryText):
		params["timeframe"] = "last_month"
	case anyMatch(historicalCues, queryText):
		params["timeframe"] = "all_time"
	default:
		params["timeframe"] = "all_time"
	}
}

func normalizeLongitudinal(params map[string]any, queryText string) {
	if pid, _ := params["patient_id"].(string); pid == "" {
		if id := extractPatientID(queryText); id != "" {
			params["patient_id"] = id
		}
	}

	if f, _ := params["format"].(string); !contains([]string{"ips", "timeline", "summary", "full"}, f) {
		params["format"] = "summary"
	}

	switch raw := params["sections"].(type) {
	case []any:
		var kept []any
		wantAll := false
		for _, s := range raw {
			name, ok := s.(string)
			if !ok {
				continue
			}
			if anyMatch(allSectionCues, name) {
				wantAll = true
				break
			}
			if contains(longitudinalSections, strings.ToLower(name)) {
				kept = append(kept, strings.ToLower(name))
			}
		}
		if wantAll || len(kept) == 0 {
			delete(params, "sections")
		} else {
			params["sections"] = kept
		}
	default:
		delete(params, "sections")
	}
}

func normalizeFHIRSearch(params map[string]any, queryText string, schema map[string]any) {
	resourceTypes := tools.EnumValues(schema, "resource_type")

	rt, present := params["resource_type"].(string)
	canonical := canonicalCase(resourceTypes, rt)
	switch {
	case canonical != "":
		params["resource_type"] = canonical
	case present:
		params["resource_type"] = "Observation"
	case anyMatch(observationCues, queryText):
		params["resource_type"] = "Observation"
	default:
		params["resource_type"] = "Patient"
	}

	if pid, _ := params["patient_id"].(string); pid == "" {
		if id := extractPatientID(queryText); id != "" {
			params["patient_id"] = id
		}
	}

	sp, ok := params["search_params"].(map[string]any)
	if !ok {
		sp = map[string]any{}
	}
	if _, ok := sp["_count"]; !ok {
		sp["_count"] = 10
	}
	params["search_params"] = sp
}

func normalizeMedicalSearch(params map[string]any, queryText string) {
	if q, _ := params["query"].(string); strings.TrimSpace(q) == "" {
		params["query"] = queryText
	}

	st, _ := params["search_type"].(string)
	if mapped := matchSearchType(st); mapped != "" {
		params["search_type"] = mapped
	} else if mapped := matchSearchType(queryText); mapped != "" {
		params["search_type"] = mapped
	} else {
		params["search_type"] = "general"
	}
}

func normalizeReviewAppointments(params map[string]any, queryText string, schema map[string]any) {
	params["action"] = "review"

	if pid, _ := params["patient_id"].(string); pid == "" {
		if id := extractPatientID(queryText); id != "" {
			params["patient_id"] = id
		} else {
			delete(params, "patient_id")
		}
	}

	filters, ok := params["filters"].(map[string]any)
	if !ok {
		delete(params, "filters")
		return
	}
	if status, _ := filters["status"].(string); status != "" {
		statuses := tools.EnumValues(propertySchema(schema, "filters"), "status")
		if canonical := canonicalCase(statuses, status); canonical != "" {
			filters["status"] = canonical
		} else {
			delete(filters, "status")
		}
	}
	params["filters"] = filters
}

func normalizeScheduleAppointment(params map[string]any, queryText string) {
	params["action"] = "schedule"

	if pid, _ := params["patient_id"].(string); pid == "" {
		if id := extractPatientID(queryText); id != "" {
			params["patient_id"] = id
		}
	}

	details, ok := params["appointment_details"].(map[string]any)
	if !ok {
		details = map[string]any{}
	}
	// Next-available default: tomorrow morning.
	if d, _ := details["date"].(string); d == "" {
		details["date"] = time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	}
	if tm, _ := details["time"].(string); tm == "" {
		details["time"] = "10:00"
	}
	params["appointment_details"] = details
}

// fillRequired backstops the skill rules: any required field still unset
// gets a schema-derived default so invocation never fails validation on a
// missing field.
func fillRequired(params map[string]any, queryText string, schema map[string]any) {
	for _, field := range tools.RequiredFields(schema) {
		if v, ok := params[field]; ok && v != nil {
			if s, isStr := v.(string); !isStr || s != "" {
				continue
			}
		}
		if enum := tools.EnumValues(schema, field); len(enum) > 0 {
			params[field] = enum[0]
			continue
		}
		if field == "query" {
			params[field] = queryText
			continue
		}
		params[field] = "unknown"
	}
}

func anyMatch(cues []*regexp.Regexp, text string) bool {
	for _, re := range cues {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func matchCondition(text string) string {
	for _, c := range conditionVocab {
		if c.re.MatchString(text) {
			return c.canonical
		}
	}
	return ""
}

func matchSearchType(text string) string {
	for _, s := range searchTypeSynonyms {
		if s.re.MatchString(text) {
			return s.category
		}
	}
	return ""
}

func extractPatientID(text string) string {
	m := patientIDRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// canonicalCase returns the declared value matching v case-insensitively,
// or empty when v matches nothing.
func canonicalCase(declared []string, v string) string {
	for _, d := range declared {
		if strings.EqualFold(d, v) {
			return d
		}
	}
	return ""
}

func propertySchema(schema map[string]any, field string) map[string]any {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	inner, _ := props[field].(map[string]any)
	return inner
}
