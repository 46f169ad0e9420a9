package domain

// SessionStart is emitted when a capture session begins
type SessionStart struct {
	Type          string `json:"type"`          // "session_start"
	SchemaVersion int    `json:"schemaVersion"` // 1
	SessionID     string `json:"session_id"`
	File          string `json:"file"`
	AdapterPID    int    `json:"adapter_pid,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// SessionEnd is emitted when a capture session ends (terminated event or failure)
type SessionEnd struct {
	Type          string         `json:"type"`          // "session_end"
	SchemaVersion int            `json:"schemaVersion"` // 1
	SessionID     string         `json:"session_id"`
	Summary       SessionSummary `json:"summary"`
}

// NewSessionStart creates a new SessionStart event
func NewSessionStart(sessionID, file string, adapterPID int) *SessionStart {
	return &SessionStart{
		Type:          "session_start",
		SchemaVersion: 1,
		SessionID:     sessionID,
		File:          file,
		AdapterPID:    adapterPID,
		Timestamp:     UTCNow(),
	}
}

// NewSessionEnd creates a new SessionEnd event
func NewSessionEnd(summary SessionSummary) *SessionEnd {
	return &SessionEnd{
		Type:          "session_end",
		SchemaVersion: 1,
		SessionID:     summary.SessionID,
		Summary:       summary,
	}
}
