package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"programmer/pkg/agent"
	"programmer/pkg/llm"
	"programmer/pkg/snapshot"
)

// ToolCall is the stored form of one tool invocation.
type ToolCall struct {
	CallID     string `json:"call_id"`
	Tool       string `json:"tool"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Step is one stored step of a session trace.
type Step struct {
	StartedAt       time.Time    `json:"started_at"`
	Message         llm.Message  `json:"message"`
	SessionID       string       `json:"session_id"`
	Tools           []ToolCall   `json:"tools"`
	Snapshot        snapshot.Key `json:"snapshot"`
	Index           int          `json:"index"`
	DurationMS      int64        `json:"duration_ms"`
	ModelDurationMS int64        `json:"model_duration_ms"`
	PromptTokens    int          `json:"prompt_tokens"`
}

// Edit is one stored buffer edit.
type Edit struct {
	SessionID    string `json:"session_id"`
	Path         string `json:"path"`
	Patch        string `json:"patch"`
	StepIndex    int    `json:"step_index"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// ObserveStep implements agent.StepObserver. The step, its edits and the
// session's latest state are written in one transaction. Recording a step
// index that already exists, as happens after resuming from an older state,
// replaces it and drops every later step.
func (s *Store) ObserveStep(ctx context.Context, rec agent.StepRecord) error {
	message, err := json.Marshal(rec.Message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	calls := make([]ToolCall, 0, len(rec.Tools))
	for _, out := range rec.Tools {
		call := ToolCall{CallID: out.CallID, Tool: out.Tool, Status: out.Status, DurationMS: out.Duration.Milliseconds()}
		if out.Err != nil {
			call.Error = out.Err.Error()
		}
		calls = append(calls, call)
	}
	toolsJSON, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot key: %w", err)
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := replaceStep(ctx, tx, rec, string(message), string(toolsJSON), string(snap)); err != nil {
		return err
	}
	for _, e := range rec.Edits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edits (session_id, step_index, path, patch, lines_added, lines_removed)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.SessionID, rec.Index, e.Path, e.Patch, e.LinesAdded, e.LinesRemoved); err != nil {
			return fmt.Errorf("failed to record edit of %s: %w", e.Path, err)
		}
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state_json = ?, step_count = ? WHERE session_id = ?
	`, string(state), rec.Index, rec.SessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", rec.SessionID, ErrSessionNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step: %w", err)
	}
	return nil
}

func replaceStep(ctx context.Context, tx *sql.Tx, rec agent.StepRecord, message, toolsJSON, snap string) error {
	for _, q := range []string{
		`DELETE FROM edits WHERE session_id = ? AND step_index >= ?`,
		`DELETE FROM steps WHERE session_id = ? AND step_index >= ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, rec.SessionID, rec.Index); err != nil {
			return fmt.Errorf("failed to clear step %d: %w", rec.Index, err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO steps (session_id, step_index, started_at, duration_ms, model_duration_ms,
			prompt_tokens, message_json, tools_json, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Index, rec.Started.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds(),
		rec.ModelDuration.Milliseconds(), rec.PromptTokens, message, toolsJSON, snap)
	if err != nil {
		return fmt.Errorf("failed to record step %d: %w", rec.Index, err)
	}
	return nil
}

// ListSteps returns the trace of a session in step order.
func (s *Store) ListSteps(ctx context.Context, sessionID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, started_at, duration_ms, model_duration_ms, prompt_tokens,
			message_json, tools_json, snapshot_json
		FROM steps WHERE session_id = ? ORDER BY step_index
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []Step
	for rows.Next() {
		step := Step{SessionID: sessionID}
		var startedAt, message, toolsJSON, snap string
		if err := rows.Scan(&step.Index, &startedAt, &step.DurationMS, &step.ModelDurationMS, &step.PromptTokens,
			&message, &toolsJSON, &snap); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.StartedAt = parseTime(startedAt)
		if err := json.Unmarshal([]byte(message), &step.Message); err != nil {
			return nil, fmt.Errorf("failed to decode message of step %d: %w", step.Index, err)
		}
		if err := json.Unmarshal([]byte(toolsJSON), &step.Tools); err != nil {
			return nil, fmt.Errorf("failed to decode tools of step %d: %w", step.Index, err)
		}
		if err := json.Unmarshal([]byte(snap), &step.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot of step %d: %w", step.Index, err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// LatestSnapshot returns the snapshot key of the last step of a session.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (snapshot.Key, error) {
	var snap string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_json FROM steps WHERE session_id = ? ORDER BY step_index DESC LIMIT 1
	`, sessionID).Scan(&snap)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Key{}, fmt.Errorf("session %s has no recorded steps", sessionID)
	}
	if err != nil {
		return snapshot.Key{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return snapshot.ParseKey([]byte(snap))
}

// ListEdits returns the edits of a session in the order they were applied.
func (s *Store) ListEdits(ctx context.Context, sessionID string) ([]Edit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, path, patch, lines_added, lines_removed
		FROM edits WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edits []Edit
	for rows.Next() {
		e := Edit{SessionID: sessionID}
		if err := rows.Scan(&e.StepIndex, &e.Path, &e.Patch, &e.LinesAdded, &e.LinesRemoved); err != nil {
			return nil, fmt.Errorf("failed to scan edit: %w", err)
		}
		edits = append(edits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edits: %w", err)
	}
	return edits, nil
}
