package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// lastRunState remembers the most recent capture so query commands can say
// --last (or nothing) instead of pasting a session UUID.
type lastRunState struct {
	Type          string `json:"type"` // "last_run"
	SchemaVersion int    `json:"schemaVersion"`
	SessionID     string `json:"session_id"`
	DBPath        string `json:"db_path,omitempty"`
	Script        string `json:"script,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func defaultLastRunPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".adbg")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "last_run.json"), nil
}

func loadLastRun() (*lastRunState, error) {
	path, err := defaultLastRunPath()
	if err != nil {
		return nil, err
	}
	return loadLastRunFrom(path)
}

func loadLastRunFrom(path string) (*lastRunState, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("last run state path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st lastRunState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// saveLastRun is best-effort; a failed write never fails the capture.
func saveLastRun(sessionID, dbPath, script string) error {
	path, err := defaultLastRunPath()
	if err != nil {
		return err
	}
	return saveLastRunTo(path, &lastRunState{
		Type:          "last_run",
		SchemaVersion: 1,
		SessionID:     sessionID,
		DBPath:        dbPath,
		Script:        script,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func saveLastRunTo(path string, st *lastRunState) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("last run state path is required")
	}
	if st == nil {
		return errors.New("last run state is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
