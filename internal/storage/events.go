package storage

import "time"

// EventWriter is the interface for persisting task events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *TaskEvent)
	Close()
}

// TaskEvent records the outcome of one routed request.
type TaskEvent struct {
	RequestID    string
	AgentName    string
	TaskID       string
	Timestamp    time.Time
	QueryPreview string // First 500 chars
	Skill        string
	ToolName     string
	State        string
	Success      bool
	ErrorText    string
	LatencyMs    float32
}

// QueryPreviewLength is the max chars stored in query_preview.
const QueryPreviewLength = 500

// TruncateQuery returns the first N characters (runes) of a query for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateQuery(query string, maxLen int) string {
	runes := []rune(query)
	if len(runes) <= maxLen {
		return query
	}
	return string(runes[:maxLen])
}
