package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
)

const taskColumns = `id, project_id, capability, description, status, context, output, error,
	origin_change_id, created_at, completed_at`

// TaskFilter for filtering tasks
type TaskFilter struct {
	ProjectID      string
	Status         models.TaskStatus
	OriginChangeID string
	Limit          int
}

// TaskResult carries the terminal payload of a transition.
type TaskResult struct {
	Output *models.TaskOutput
	Error  string
}

// InsertTask persists a new task. ID, status and CreatedAt are filled in when empty.
func (s *Store) InsertTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}

	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return perrors.Internal("store.InsertTask", fmt.Errorf("marshal context: %w", err))
	}
	var outJSON sql.NullString
	if t.Output != nil {
		b, err := json.Marshal(t.Output)
		if err != nil {
			return perrors.Internal("store.InsertTask", fmt.Errorf("marshal output: %w", err))
		}
		outJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, project_id, capability, description, status, context, output, error,
			origin_change_id, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, string(t.Capability), t.Description, string(t.Status),
		string(ctxJSON), outJSON, nullString(t.Error), nullString(t.OriginChangeID),
		millis(t.CreatedAt), millis(t.CreatedAt), nullMillis(t.CompletedAt),
	)
	return classify("store.InsertTask", err)
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getTask(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, db querier, id string) (*models.Task, error) {
	row := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, lookupErr("store.GetTask", "task", id, err)
	}
	return t, nil
}

// ListTasks retrieves tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + taskColumns + ` FROM tasks`
	var where []string
	var args []any
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.OriginChangeID != "" {
		where = append(where, "origin_change_id = ?")
		args = append(args, f.OriginChangeID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("store.ListTasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, classify("store.ListTasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.ListTasks", err)
	}
	return tasks, nil
}

// TransitionTask moves a task from one status to another. The update is
// conditional on the stored status still being from; a task that has moved
// on yields ConflictingUpdate. Terminal transitions record CompletedAt and
// the payload in res.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to models.TaskStatus, res TaskResult) (*models.Task, error) {
	const op = "store.TransitionTask"
	if !from.CanTransition(to) {
		return nil, perrors.Validation(op, "task cannot move from %s to %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	var completed sql.NullInt64
	if to.IsTerminal() {
		completed = sql.NullInt64{Int64: millis(ts), Valid: true}
	}
	var outJSON sql.NullString
	if res.Output != nil {
		b, err := json.Marshal(res.Output)
		if err != nil {
			return nil, perrors.Internal(op, fmt.Errorf("marshal output: %w", err))
		}
		outJSON = sql.NullString{String: string(b), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, output = COALESCE(?, output), error = COALESCE(?, error),
		    updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?`,
		string(to), outJSON, nullString(res.Error), millis(ts), completed, id, string(from),
	)
	if err != nil {
		return nil, classify(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, classify(op, err)
	}

	t, err := getTask(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return t, perrors.Conflict(op, "task %s is %s, not %s", id, t.Status, from)
	}
	return t, nil
}

// FailStuckTasks marks tasks left pending or in progress by a previous
// process as failed (startup recovery).
func (s *Store) FailStuckTasks(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UnixMilli()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', error = 'interrupted by restart', completed_at = ?, updated_at = ?
		WHERE status IN ('pending', 'in_progress')`,
		ts, ts,
	)
	if err != nil {
		return 0, classify("store.FailStuckTasks", err)
	}
	return result.RowsAffected()
}

// CountTasks returns how many tasks a project has.
func (s *Store) CountTasks(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, classify("store.CountTasks", err)
	}
	return n, nil
}

// DeleteTasks removes every task of a project. Code changes must be deleted first.
func (s *Store) DeleteTasks(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, classify("store.DeleteTasks", err)
	}
	return res.RowsAffected()
}

func scanTask(r rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var capability, status, ctxJSON string
	var output, errMsg, origin sql.NullString
	var created int64
	var completed sql.NullInt64

	err := r.Scan(&t.ID, &t.ProjectID, &capability, &t.Description, &status, &ctxJSON,
		&output, &errMsg, &origin, &created, &completed)
	if err != nil {
		return nil, err
	}

	t.Capability = models.Capability(capability)
	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(ctxJSON), &t.Context); err != nil {
		return nil, fmt.Errorf("unmarshal task context: %w", err)
	}
	if output.Valid {
		t.Output = &models.TaskOutput{}
		if err := json.Unmarshal([]byte(output.String), t.Output); err != nil {
			return nil, fmt.Errorf("unmarshal task output: %w", err)
		}
	}
	t.Error = errMsg.String
	t.OriginChangeID = origin.String
	t.CreatedAt = fromMillis(created)
	t.CompletedAt = timePtr(completed)
	return t, nil
}
