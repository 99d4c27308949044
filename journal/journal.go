package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrRunNotFound = errors.New("run not found")

// Run states.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store keeps a history of catalog runs and the problems met during each,
// using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one invocation of a catalog action.
type Run struct {
	RunID       uuid.UUID      `json:"run_id"`
	Action      string         `json:"action"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Target      int            `json:"target"`
	Added       int            `json:"added"`
	IssueCount  int            `json:"issue_count"`
	PerPlatform map[string]int `json:"per_platform,omitempty"`
	Error       *string        `json:"error,omitempty"`
}

// Issue is a non-fatal problem recorded against a run.
type Issue struct {
	RunID     uuid.UUID `json:"run_id"`
	Platform  string    `json:"platform"`
	URL       string    `json:"url,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	Added       int
	PerPlatform map[string]int
	Err         error
}

// RunFilter represents pagination and filtering options for ListRuns.
type RunFilter struct {
	Action string
	Limit  int
	Offset int
}

// Open opens or creates the journal database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		target INTEGER DEFAULT 0,
		added INTEGER DEFAULT 0,
		issue_count INTEGER DEFAULT 0,
		per_platform TEXT,
		error TEXT
	);
	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		platform TEXT NOT NULL,
		url TEXT,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issues_run ON issues(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records the start of an action.
func (s *Store) StartRun(action string, target int) (*Run, error) {
	run := &Run{
		RunID:     uuid.New(),
		Action:    action,
		Status:    StatusRunning,
		StartedAt: s.now().Truncate(0),
		Target:    target,
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, action, status, started_at, target) VALUES (?, ?, ?, ?, ?)`,
		run.RunID.String(), run.Action, run.Status, formatTime(&run.StartedAt), run.Target,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// FinishRun closes a run. A non-nil outcome error marks it failed.
func (s *Store) FinishRun(runID uuid.UUID, outcome Outcome) error {
	now := s.now()
	status := StatusSucceeded
	var errText *string
	if outcome.Err != nil {
		status = StatusFailed
		msg := outcome.Err.Error()
		errText = &msg
	}

	var perPlatform *string
	if len(outcome.PerPlatform) > 0 {
		data, err := json.Marshal(outcome.PerPlatform)
		if err != nil {
			return fmt.Errorf("failed to marshal per_platform: %w", err)
		}
		text := string(data)
		perPlatform = &text
	}

	result, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, finished_at = ?, added = ?, per_platform = ?, error = ?,
		    issue_count = (SELECT COUNT(*) FROM issues WHERE run_id = ?)
		WHERE run_id = ?`,
		status, formatTime(&now), outcome.Added, perPlatform, errText,
		runID.String(), runID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}

	return nil
}

// RecordIssues appends issues to a run in one transaction.
func (s *Store) RecordIssues(runID uuid.UUID, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to query run: %w", err)
	}
	if exists == 0 {
		return ErrRunNotFound
	}

	stmt, err := tx.Prepare(`
		INSERT INTO issues (run_id, platform, url, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, issue := range issues {
		_, err := stmt.Exec(runID.String(), issue.Platform, issue.URL, issue.Kind, issue.Message, formatTime(&now))
		if err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit issues: %w", err)
	}
	return nil
}

const runColumns = `run_id, action, status, started_at, finished_at, target, added, issue_count, per_platform, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var runIDStr, action, status, startedAtStr string
	var finishedAtStr, perPlatform, errText sql.NullString
	var target, added, issueCount int

	if err := row.Scan(
		&runIDStr, &action, &status, &startedAtStr, &finishedAtStr,
		&target, &added, &issueCount, &perPlatform, &errText,
	); err != nil {
		return nil, err
	}

	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run ID: %w", err)
	}

	run := &Run{
		RunID:      runID,
		Action:     action,
		Status:     status,
		StartedAt:  parseTime(startedAtStr),
		Target:     target,
		Added:      added,
		IssueCount: issueCount,
	}
	if finishedAtStr.Valid {
		t := parseTime(finishedAtStr.String)
		run.FinishedAt = &t
	}
	if errText.Valid {
		run.Error = &errText.String
	}
	if perPlatform.Valid {
		if err := json.Unmarshal([]byte(perPlatform.String), &run.PerPlatform); err != nil {
			return nil, fmt.Errorf("failed to unmarshal per_platform: %w", err)
		}
	}

	return run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID uuid.UUID) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID.String())

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs, newest first.
func (s *Store) ListRuns(filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`

	var args []any
	if filter.Action != "" {
		query += " WHERE action = ?"
		args = append(args, filter.Action)
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// ListIssues returns a run's issues in the order they were recorded.
func (s *Store) ListIssues(runID uuid.UUID) ([]Issue, error) {
	rows, err := s.db.Query(`
		SELECT platform, url, kind, message, created_at
		FROM issues
		WHERE run_id = ?
		ORDER BY id`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var url sql.NullString
		var createdAtStr string
		issue := Issue{RunID: runID}

		if err := rows.Scan(&issue.Platform, &url, &issue.Kind, &issue.Message, &createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.URL = url.String
		issue.CreatedAt = parseTime(createdAtStr)
		issues = append(issues, issue)
	}

	return issues, rows.Err()
}

// timeLayout has a fixed-width fraction so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Truncate(0).UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
