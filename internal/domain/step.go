package domain

import "time"

// StepStatus classifies a captured step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusError   StepStatus = "error"
	StatusWarning StepStatus = "warning"
)

// Valid reports whether s is one of the known statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusWarning:
		return true
	}
	return false
}

// Variables maps scope name -> variable name -> adapter-rendered textual value.
// Values are stored verbatim; structured reconstruction belongs to consumers.
type Variables map[string]map[string]string

// CapturedStep is one persisted line report: a single stop of the debuggee.
// Rows are immutable once written except Observations, which is append-only.
type CapturedStep struct {
	ID           int64      `json:"id,omitempty"`
	SessionID    string     `json:"session_id"`
	File         string     `json:"file"`
	LineNumber   int        `json:"line_number"`
	Code         string     `json:"code"`
	Timestamp    string     `json:"timestamp"`
	Variables    Variables  `json:"variables"`
	StackDepth   int        `json:"stack_depth"`
	ThreadID     int        `json:"thread_id"`
	Observations string     `json:"observations,omitempty"`
	Status       StepStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorType    string     `json:"error_type,omitempty"`
	StackTrace   string     `json:"stack_trace,omitempty"`
}

// Provenance records where the debugged code came from.
type Provenance struct {
	RepoRoot string `json:"repo_root,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Dirty    bool   `json:"dirty"`
}

// SessionSummary is the per-session aggregate row. The counters always equal
// the count of corresponding CapturedStep rows: both are updated in one
// transaction by the store.
type SessionSummary struct {
	SessionID       string     `json:"session_id"`
	File            string     `json:"file"`
	Language        string     `json:"language"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time,omitempty"`
	TotalSteps      int        `json:"total_steps"`
	SuccessfulSteps int        `json:"successful_steps"`
	ErrorSteps      int        `json:"error_steps"`
	CrashCount      int        `json:"crash_count"`
	Provenance      Provenance `json:"provenance"`
}

// UTCNow returns the canonical timestamp format used across the store.
func UTCNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
