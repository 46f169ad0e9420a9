// Package store persists captured steps and session summaries to a SQLite
// file. One store file per working directory by default; the capture core is
// the only writer, readers may open independent connections.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vburojevic/adbg/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath returns the per-working-directory store file location.
func DefaultPath() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, ".adbg", "line_reports.db")
}

// ErrSessionNotFound is returned by reads against an unknown session id.
var ErrSessionNotFound = errors.New("store: session not found")

// Store wraps the SQLite connection. AppendStep commits the step row and the
// summary counter bump in one transaction, so counters always equal row counts.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates the store file (and parent directory) if needed, applies the
// schema and any additive migrations, and returns a ready store.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer by contract; one connection keeps transactions serial.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	s := &Store{path: path, db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the on-disk location of the store file.
func (s *Store) Path() string { return s.path }

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS line_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			file TEXT NOT NULL,
			line_number INTEGER NOT NULL,
			code TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			variables TEXT,
			variables_delta TEXT,
			stack_depth INTEGER,
			thread_id INTEGER,
			observations TEXT,
			status TEXT CHECK(status IN ('success','error','warning')),
			error_message TEXT,
			error_type TEXT,
			stack_trace TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_id ON line_reports(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_file_line ON line_reports(file, line_number);`,
		`CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			file TEXT NOT NULL,
			language TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			total_lines_executed INTEGER DEFAULT 0,
			successful_lines INTEGER DEFAULT 0,
			lines_with_errors INTEGER DEFAULT 0,
			total_crashes INTEGER DEFAULT 0,
			git_root TEXT,
			git_commit TEXT,
			git_dirty INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS file_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, path)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create tables: %w", err)
		}
	}
	return nil
}

// migrate adds columns introduced by later versions. Additive only: older
// store files stay readable, nothing is dropped or rewritten.
func (s *Store) migrate() error {
	wanted := map[string][]struct{ name, def string }{
		"line_reports": {
			{"variables_delta", "TEXT"},
			{"observations", "TEXT"},
		},
		"session_summaries": {
			{"git_root", "TEXT"},
			{"git_commit", "TEXT"},
			{"git_dirty", "INTEGER DEFAULT 0"},
		},
	}
	for table, cols := range wanted {
		have, err := s.columns(table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if have[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.def)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("store: migrate %s.%s: %w", table, col.name, err)
			}
		}
	}
	return nil
}

func (s *Store) columns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("store: table_info %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid           int
			name, coltype string
			notnull       int
			dflt          sql.NullString
			pk            int
		)
		if err := rows.Scan(&cid, &name, &coltype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// OpenSession inserts or replaces the summary row. Idempotent by session id.
func (s *Store) OpenSession(summary domain.SessionSummary) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO session_summaries(
			session_id, file, language, start_time, end_time,
			total_lines_executed, successful_lines, lines_with_errors, total_crashes,
			git_root, git_commit, git_dirty
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		summary.SessionID,
		summary.File,
		summary.Language,
		summary.StartTime,
		nullStr(summary.EndTime),
		summary.TotalSteps,
		summary.SuccessfulSteps,
		summary.ErrorSteps,
		summary.CrashCount,
		nullStr(summary.Provenance.RepoRoot),
		nullStr(summary.Provenance.Commit),
		boolInt(summary.Provenance.Dirty),
	)
	if err != nil {
		return fmt.Errorf("store: open session: %w", err)
	}
	return nil
}

// AppendStep inserts the step row and bumps the owning summary's counters in
// one transaction. A crash between the two effects leaves neither applied.
func (s *Store) AppendStep(step domain.CapturedStep) (int64, error) {
	if !step.Status.Valid() {
		return 0, fmt.Errorf("store: invalid step status %q", step.Status)
	}
	varsJSON, err := json.Marshal(orEmpty(step.Variables))
	if err != nil {
		return 0, fmt.Errorf("store: marshal variables: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO line_reports(
			session_id, file, line_number, code, timestamp,
			variables, variables_delta, stack_depth, thread_id, observations,
			status, error_message, error_type, stack_trace
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		step.SessionID,
		step.File,
		step.LineNumber,
		step.Code,
		step.Timestamp,
		string(varsJSON),
		"{}", // delta reserved for collaborators; the core never computes it
		step.StackDepth,
		step.ThreadID,
		nullStr(step.Observations),
		string(step.Status),
		nullStr(step.ErrorMessage),
		nullStr(step.ErrorType),
		nullStr(step.StackTrace),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert step: %w", err)
	}
	stepID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	update := "UPDATE session_summaries SET total_lines_executed = total_lines_executed + 1"
	switch step.Status {
	case domain.StatusSuccess:
		update += ", successful_lines = successful_lines + 1"
	case domain.StatusError:
		update += ", lines_with_errors = lines_with_errors + 1, total_crashes = total_crashes + 1"
	}
	update += ", updated_at = CURRENT_TIMESTAMP WHERE session_id = ?"
	res, err = tx.Exec(update, step.SessionID)
	if err != nil {
		return 0, fmt.Errorf("store: update counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Rolling back keeps the step row out too: a step may never exist
		// without a summary counting it.
		return 0, fmt.Errorf("store: session %s not found", step.SessionID)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit step: %w", err)
	}
	return stepID, nil
}

// CloseSession records the session end time.
func (s *Store) CloseSession(sessionID, endTime string) error {
	_, err := s.db.Exec(`
		UPDATE session_summaries
		SET end_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_id = ?`,
		endTime, sessionID)
	if err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	return nil
}

// AppendObservation appends free text to a step's observations. The rest of
// the row is immutable; observations are the single append-only exception.
func (s *Store) AppendObservation(stepID int64, text string) error {
	res, err := s.db.Exec(`
		UPDATE line_reports
		SET observations = CASE
			WHEN observations IS NULL OR observations = '' THEN ?
			ELSE observations || char(10) || ?
		END
		WHERE id = ?`,
		text, text, stepID)
	if err != nil {
		return fmt.Errorf("store: append observation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: step %d not found", stepID)
	}
	return nil
}

// AddFileSnapshot stores a source file's content for the session, once per
// (session, path). Duplicate snapshots are ignored.
func (s *Store) AddFileSnapshot(sessionID, path string, content []byte) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO file_snapshots(session_id, path, content)
		VALUES (?,?,?)`,
		sessionID, path, content)
	if err != nil {
		return fmt.Errorf("store: add snapshot: %w", err)
	}
	return nil
}

// Session returns the summary row for one session.
func (s *Store) Session(sessionID string) (domain.SessionSummary, error) {
	row := s.db.QueryRow(`
		SELECT session_id, file, language, start_time, end_time,
		       total_lines_executed, successful_lines, lines_with_errors, total_crashes,
		       git_root, git_commit, git_dirty
		FROM session_summaries WHERE session_id = ?`, sessionID)
	return scanSummary(row)
}

// Sessions returns all summaries, most recent first.
func (s *Store) Sessions() ([]domain.SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT session_id, file, language, start_time, end_time,
		       total_lines_executed, successful_lines, lines_with_errors, total_crashes,
		       git_root, git_commit, git_dirty
		FROM session_summaries ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()
	var out []domain.SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Steps returns all captured steps for a session in insertion order.
func (s *Store) Steps(sessionID string) ([]domain.CapturedStep, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, file, line_number, code, timestamp,
		       variables, stack_depth, thread_id, observations,
		       status, error_message, error_type, stack_trace
		FROM line_reports WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list steps: %w", err)
	}
	defer rows.Close()
	var out []domain.CapturedStep
	for rows.Next() {
		var (
			step     domain.CapturedStep
			varsJSON sql.NullString
			obs      sql.NullString
			status   string
			errMsg   sql.NullString
			errType  sql.NullString
			trace    sql.NullString
		)
		if err := rows.Scan(&step.ID, &step.SessionID, &step.File, &step.LineNumber,
			&step.Code, &step.Timestamp, &varsJSON, &step.StackDepth, &step.ThreadID,
			&obs, &status, &errMsg, &errType, &trace); err != nil {
			return nil, err
		}
		step.Status = domain.StepStatus(status)
		step.Observations = obs.String
		step.ErrorMessage = errMsg.String
		step.ErrorType = errType.String
		step.StackTrace = trace.String
		step.Variables = domain.Variables{}
		if varsJSON.Valid && varsJSON.String != "" {
			if err := json.Unmarshal([]byte(varsJSON.String), &step.Variables); err != nil {
				// Tolerate rows written by other tools; keep the step readable.
				step.Variables = domain.Variables{}
			}
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (domain.SessionSummary, error) {
	var (
		sum                domain.SessionSummary
		endTime            sql.NullString
		gitRoot, gitCommit sql.NullString
		gitDirty           sql.NullInt64
	)
	err := row.Scan(&sum.SessionID, &sum.File, &sum.Language, &sum.StartTime, &endTime,
		&sum.TotalSteps, &sum.SuccessfulSteps, &sum.ErrorSteps, &sum.CrashCount,
		&gitRoot, &gitCommit, &gitDirty)
	if errors.Is(err, sql.ErrNoRows) {
		return sum, ErrSessionNotFound
	}
	if err != nil {
		return sum, fmt.Errorf("store: scan summary: %w", err)
	}
	sum.EndTime = endTime.String
	sum.Provenance = domain.Provenance{
		RepoRoot: gitRoot.String,
		Commit:   gitCommit.String,
		Dirty:    gitDirty.Int64 != 0,
	}
	return sum, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmpty(v domain.Variables) domain.Variables {
	if v == nil {
		return domain.Variables{}
	}
	return v
}
