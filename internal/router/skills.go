package router

import "strings"

// Skill binds a routable capability to the tool that serves it and the
// prompt used to extract that tool's parameters from free text.
type Skill struct {
	Name           string
	Description    string
	Tool           string
	PromptTemplate string
}

// Prompt renders the skill's parameter-extraction prompt for a query.
func (s Skill) Prompt(query string) string {
	return strings.ReplaceAll(s.PromptTemplate, "{query}", query)
}

// ClinicalSkills returns the skill set of the clinical research agent.
func ClinicalSkills() []Skill {
	return []Skill{
		{
			Name:        "population_analytics",
			Description: "Analyze population-level health statistics",
			Tool:        "warehouse_population_analytics",
			PromptTemplate: `You are a clinical data analyst. Convert this query into population analytics parameters.

Query: {query}

Determine the appropriate analysis type and parameters.
Examples:
- "Is flu common now?" -> {"analysis_type": "trends", "condition": "influenza", "timeframe": "last_month"}
- "Diabetes prevalence" -> {"analysis_type": "prevalence", "condition": "diabetes"}
- "Comorbidities with hypertension" -> {"analysis_type": "comorbidities", "condition": "hypertension"}

Respond with JSON only.`,
		},
		{
			Name:        "patient_longitudinal",
			Description: "Retrieve complete patient health record",
			Tool:        "warehouse_patient_longitudinal",
			PromptTemplate: `Extract patient ID and format requirements from this query.

Query: {query}

Determine:
1. Patient ID (if mentioned)
2. Desired format (ips, timeline, summary, full)
3. Specific sections needed

Respond with JSON: {"patient_id": "...", "format": "...", "sections": [...]}`,
		},
		{
			Name:        "fhir_patient_search",
			Description: "Search specific FHIR resources",
			Tool:        "fhir_search",
			PromptTemplate: `Convert this query into FHIR search parameters.

Query: {query}

Determine:
1. Resource type (Patient, Observation, Condition, etc.)
2. Patient ID (if mentioned)
3. Search parameters (code, date, status, etc.)

Respond with JSON: {"resource_type": "...", "patient_id": "...", "search_params": {}}`,
		},
		{
			Name:        "medical_search",
			Description: "Search medical literature and resources",
			Tool:        "medical_search",
			PromptTemplate: `Convert this medical literature query into search parameters.

Query: {query}

Determine search type and filters.
Respond with JSON: {"query": "...", "search_type": "...", "filters": {}}`,
		},
	}
}

// AdminSkills returns the skill set of the administrative agent.
func AdminSkills() []Skill {
	return []Skill{
		{
			Name:        "review_appointments",
			Description: "Check existing appointments, view schedule",
			Tool:        "appointment_manager",
			PromptTemplate: `Extract appointment review parameters from this query.

Query: {query}

Extract:
- patient_id (if mentioned)
- date range (start_date, end_date)
- status filter (scheduled, completed, cancelled)

Respond with JSON: {"patient_id": "...", "filters": {"start_date": "YYYY-MM-DD", ...}}`,
		},
		{
			Name:        "schedule_appointment",
			Description: "Book a new appointment",
			Tool:        "appointment_manager",
			PromptTemplate: `Extract appointment scheduling details from this query.

Query: {query}

Extract:
- patient_id (required)
- date (YYYY-MM-DD format)
- time (HH:MM format)
- provider_uuid (if mentioned)
- service/type of appointment
- reason for visit
- location

If date/time not specific, suggest next available (use tomorrow 10:00 as default).

Respond with JSON: {"patient_id": "...", "appointment_details": {"date": "YYYY-MM-DD", "time": "HH:MM", ...}}`,
		},
	}
}

// AdminKeywordFallback picks an administrative skill from query keywords
// when routing produced nothing usable. Review is the safer default.
func AdminKeywordFallback(query string) string {
	q := strings.ToLower(query)
	if strings.Contains(q, "schedule") || strings.Contains(q, "book") {
		return "schedule_appointment"
	}
	return "review_appointments"
}
