// Package output renders capture results for machine consumers: an NDJSON
// event stream with a stable schema version, and a cross-run memory of crash
// signatures.
package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/vburojevic/adbg/internal/domain"
)

// SchemaVersion is stamped on every NDJSON line so consumers can detect
// incompatible changes.
const SchemaVersion = 1

// NDJSONWriter emits one JSON object per line. Safe for concurrent use; the
// capture hook and the CLI error path may both write.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter creates a writer emitting to w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

func (w *NDJSONWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// WriteSessionStart emits a session_start event.
func (w *NDJSONWriter) WriteSessionStart(ev *domain.SessionStart) error {
	return w.write(ev)
}

// WriteSessionEnd emits a session_end event.
func (w *NDJSONWriter) WriteSessionEnd(ev *domain.SessionEnd) error {
	return w.write(ev)
}

// stepEvent wraps one captured step for the stream.
type stepEvent struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	StepID        int64  `json:"step_id"`
	domain.CapturedStep
}

// WriteStep emits one captured step as a step event.
func (w *NDJSONWriter) WriteStep(stepID int64, step domain.CapturedStep) error {
	return w.write(stepEvent{
		Type:          "step",
		SchemaVersion: SchemaVersion,
		StepID:        stepID,
		CapturedStep:  step,
	})
}

// ErrorEvent is the machine-readable error shape.
type ErrorEvent struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// WriteError emits a structured error line. An optional first hint is
// included when present.
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	ev := ErrorEvent{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		ev.Hint = hint[0]
	}
	return w.write(ev)
}

// WriteSummary emits a stored session summary as a session_end event; used by
// the sessions and export commands when streaming NDJSON.
func (w *NDJSONWriter) WriteSummary(summary domain.SessionSummary) error {
	return w.write(domain.NewSessionEnd(summary))
}

// WriteValue emits an arbitrary value, for export documents.
func (w *NDJSONWriter) WriteValue(v any) error {
	return w.write(v)
}
