package store

import (
	"github.com/samber/lo"

	"github.com/vburojevic/adbg/internal/domain"
)

// Crash is one error step distilled for collaborators.
type Crash struct {
	LineNumber   int    `json:"line_number"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	StackTrace   string `json:"stack_trace,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// Rollup repeats the summary counters in the export document so consumers
// need not join back to the summary row.
type Rollup struct {
	TotalSteps      int    `json:"total_steps"`
	SuccessfulSteps int    `json:"successful_steps"`
	ErrorSteps      int    `json:"error_steps"`
	CrashCount      int    `json:"crash_count"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time,omitempty"`
}

// SessionExport is the full hand-off document for presentation layers.
type SessionExport struct {
	SessionInfo domain.SessionSummary `json:"session_info"`
	Steps       []domain.CapturedStep `json:"line_reports"`
	Crashes     []Crash               `json:"crashes"`
	Summary     Rollup                `json:"summary"`
}

// ExportSession reconstructs a full session view: summary, ordered steps,
// extracted crash list and rollup counters. Pure read, no mutation.
func (s *Store) ExportSession(sessionID string) (*SessionExport, error) {
	summary, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.Steps(sessionID)
	if err != nil {
		return nil, err
	}

	errorSteps := lo.Filter(steps, func(st domain.CapturedStep, _ int) bool {
		return st.Status == domain.StatusError
	})
	crashes := lo.Map(errorSteps, func(st domain.CapturedStep, _ int) Crash {
		return Crash{
			LineNumber:   st.LineNumber,
			ErrorType:    st.ErrorType,
			ErrorMessage: st.ErrorMessage,
			StackTrace:   st.StackTrace,
			Timestamp:    st.Timestamp,
		}
	})

	return &SessionExport{
		SessionInfo: summary,
		Steps:       steps,
		Crashes:     crashes,
		Summary: Rollup{
			TotalSteps:      summary.TotalSteps,
			SuccessfulSteps: summary.SuccessfulSteps,
			ErrorSteps:      summary.ErrorSteps,
			CrashCount:      summary.CrashCount,
			StartTime:       summary.StartTime,
			EndTime:         summary.EndTime,
		},
	}, nil
}
