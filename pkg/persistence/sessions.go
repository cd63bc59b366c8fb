package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"programmer/pkg/agent"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session status values.
const (
	SessionStatusActive      = "active"
	SessionStatusCompleted   = "completed"
	SessionStatusTimeLimit   = "time_limit"
	SessionStatusInterrupted = "interrupted" // canceled by the user, resumable
	SessionStatusFailed      = "failed"      // model failure, resumable
	SessionStatusCrashed     = "crashed"     // found active at startup
)

// Session is a stored session header.
type Session struct {
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	SessionID  string     `json:"session_id"`
	Status     string     `json:"status"`
	Model      string     `json:"model"`
	WorkDir    string     `json:"work_dir"`
	Task       string     `json:"task"`
	ConfigJSON string     `json:"config_json"`
	StepCount  int        `json:"step_count"`
}

// Resumable reports whether the session may be continued.
func (s *Session) Resumable() bool {
	return s.Status != SessionStatusActive
}

func isTerminal(status string) bool {
	return status != SessionStatusActive
}

// CreateSession records a new active session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if sess.ConfigJSON == "" {
		sess.ConfigJSON = "{}"
	}
	sess.Status = SessionStatusActive
	sess.StartedAt = parseTime(s.timestamp())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at, status, model, work_dir, task, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.SessionID, sess.StartedAt.Format(time.RFC3339Nano), sess.Status, sess.Model, sess.WorkDir, sess.Task, sess.ConfigJSON)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus sets the status of a session. Terminal statuses also
// set ended_at; returning to active clears it.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	var endedAt any
	if isTerminal(status) {
		endedAt = s.timestamp()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ? WHERE session_id = ?
	`, status, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `session_id, started_at, ended_at, status, model, work_dir, task, config_json, step_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	err := row.Scan(&sess.SessionID, &startedAt, &endedAt, &sess.Status, &sess.Model,
		&sess.WorkDir, &sess.Task, &sess.ConfigJSON, &sess.StepCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// GetSession returns a session by id, or ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns up to limit sessions, newest first. A limit of zero
// or less returns all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// MarkStaleSessions marks sessions left active by a previous process as
// crashed. Call it at startup before creating new sessions.
func (s *Store) MarkStaleSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?
	`, SessionStatusCrashed, s.timestamp(), SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale sessions: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.logger.Warn("Marked %d stale sessions as crashed", affected)
	}
	return affected, nil
}

// SaveState stores state as the latest state of the session.
func (s *Store) SaveState(ctx context.Context, sessionID string, state agent.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET state_json = ? WHERE session_id = ?`, string(data), sessionID)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// LoadState returns the latest stored state of a session.
func (s *Store) LoadState(ctx context.Context, sessionID string) (agent.State, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.State{}, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return agent.State{}, fmt.Errorf("failed to load state: %w", err)
	}
	if !data.Valid {
		return agent.NewState(), nil
	}
	var state agent.State
	if err := json.Unmarshal([]byte(data.String), &state); err != nil {
		return agent.State{}, fmt.Errorf("failed to decode state of %s: %w", sessionID, err)
	}
	return state, nil
}
