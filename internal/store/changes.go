package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
)

const changeColumns = `c.id, c.task_id, c.file_path, c.change_type, c.diff, c.capability, c.reasoning,
	c.approved, c.created_at, c.decided_at, c.decided_by`

// ChangeFilter for filtering code changes
type ChangeFilter struct {
	TaskID      string
	ProjectID   string
	FilePath    string
	PendingOnly bool
	Limit       int
}

// ChangeCounts tallies a project's code changes by decision.
type ChangeCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// InsertCodeChanges persists a batch of changes atomically: either all rows
// land or none do.
func (s *Store) InsertCodeChanges(ctx context.Context, changes []*models.CodeChange) error {
	if len(changes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO code_changes (
				id, task_id, file_path, change_type, diff, capability, reasoning,
				approved, created_at, decided_at, decided_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, NULL, NULL)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range changes {
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = ts
			}
			c.Approved = nil
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.TaskID, c.FilePath, string(c.Kind), c.Diff, string(c.Capability), c.Reasoning,
				millis(c.CreatedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
	return classify("store.InsertCodeChanges", err)
}

// GetCodeChange retrieves a change by ID.
func (s *Store) GetCodeChange(ctx context.Context, id string) (*models.CodeChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM code_changes c WHERE c.id = ?`, id)
	c, err := scanChange(row)
	if err != nil {
		return nil, lookupErr("store.GetCodeChange", "code change", id, err)
	}
	return c, nil
}

// ListCodeChanges returns changes matching the filter, newest first.
// ProjectID joins through the owning task.
func (s *Store) ListCodeChanges(ctx context.Context, f ChangeFilter) ([]*models.CodeChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + changeColumns + ` FROM code_changes c`
	var where []string
	var args []any
	if f.ProjectID != "" {
		query += ` JOIN tasks t ON t.id = c.task_id`
		where = append(where, "t.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.TaskID != "" {
		where = append(where, "c.task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.FilePath != "" {
		where = append(where, "c.file_path = ?")
		args = append(args, f.FilePath)
	}
	if f.PendingOnly {
		where = append(where, "c.approved IS NULL")
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY c.created_at DESC, c.rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("store.ListCodeChanges", err)
	}
	defer rows.Close()

	var changes []*models.CodeChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, classify("store.ListCodeChanges", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.ListCodeChanges", err)
	}
	return changes, nil
}

// DecideCodeChange records an approval decision. The update only applies
// while the change is still pending; a decided change yields ConflictingUpdate
// and is left untouched.
func (s *Store) DecideCodeChange(ctx context.Context, id string, approved bool, decidedBy string) (*models.CodeChange, error) {
	const op = "store.DecideCodeChange"

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE code_changes
		SET approved = ?, decided_at = ?, decided_by = ?
		WHERE id = ? AND approved IS NULL`,
		approved, millis(now()), decidedBy, id,
	)
	if err != nil {
		return nil, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify(op, err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM code_changes c WHERE c.id = ?`, id)
	c, err := scanChange(row)
	if err != nil {
		return nil, lookupErr(op, "code change", id, err)
	}
	if n == 0 {
		return c, perrors.Conflict(op, "code change %s was already decided", id)
	}
	return c, nil
}

// CountCodeChanges tallies a project's changes by decision.
func (s *Store) CountCodeChanges(ctx context.Context, projectID string) (ChangeCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts ChangeCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN c.approved IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.approved = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN c.approved = 0 THEN 1 ELSE 0 END), 0)
		FROM code_changes c JOIN tasks t ON t.id = c.task_id
		WHERE t.project_id = ?`, projectID,
	).Scan(&counts.Pending, &counts.Approved, &counts.Rejected)
	if err != nil {
		return ChangeCounts{}, classify("store.CountCodeChanges", err)
	}
	return counts, nil
}

// DeleteCodeChanges removes every change belonging to a project's tasks.
func (s *Store) DeleteCodeChanges(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM code_changes
		WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)`,
		projectID)
	if err != nil {
		return 0, classify("store.DeleteCodeChanges", err)
	}
	return res.RowsAffected()
}

func scanChange(r rowScanner) (*models.CodeChange, error) {
	c := &models.CodeChange{}
	var kind, capability string
	var approved sql.NullBool
	var created int64
	var decidedAt sql.NullInt64
	var decidedBy sql.NullString

	err := r.Scan(&c.ID, &c.TaskID, &c.FilePath, &kind, &c.Diff, &capability, &c.Reasoning,
		&approved, &created, &decidedAt, &decidedBy)
	if err != nil {
		return nil, err
	}

	c.Kind = models.ChangeKind(kind)
	c.Capability = models.Capability(capability)
	if approved.Valid {
		v := approved.Bool
		c.Approved = &v
	}
	c.CreatedAt = fromMillis(created)
	c.DecidedAt = timePtr(decidedAt)
	c.DecidedBy = decidedBy.String
	return c, nil
}
