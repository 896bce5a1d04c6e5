package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/p-blackswan/specforge/internal/models"
)

const projectColumns = `id, owner_id, name, description, status, tier, created_at, updated_at`

// ProjectFilter for filtering projects
type ProjectFilter struct {
	OwnerID string
	Status  models.ProjectStatus
	Limit   int
}

// ProjectPatch lists the mutable project fields. Nil fields are left alone.
type ProjectPatch struct {
	Name        *string
	Description *string
	Status      *models.ProjectStatus
}

// InsertProject inserts a project. ID and timestamps are filled in when empty.
func (s *Store) InsertProject(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Status == "" {
		p.Status = models.ProjectDraft
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Description, string(p.Status), string(p.Tier),
		millis(p.CreatedAt), millis(p.UpdatedAt),
	)
	return classify("store.InsertProject", err)
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, lookupErr("store.GetProject", "project", id, err)
	}
	return p, nil
}

// ListProjects returns projects matching the filter, most recently updated first.
func (s *Store) ListProjects(ctx context.Context, f ProjectFilter) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + projectColumns + ` FROM projects`
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("store.ListProjects", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, classify("store.ListProjects", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.ListProjects", err)
	}
	return projects, nil
}

// CountProjects returns how many projects the owner has.
func (s *Store) CountProjects(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, classify("store.CountProjects", err)
	}
	return n, nil
}

// UpdateProject applies patch and bumps updated_at.
func (s *Store) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{millis(now())}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, classify("store.UpdateProject", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, lookupErr("store.UpdateProject", "project", id, errNoRows)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, lookupErr("store.UpdateProject", "project", id, err)
	}
	return p, nil
}

// SetProjectStatusIf moves the project to status `to` only while its current
// status is one of from. It reports whether the row changed.
func (s *Store) SetProjectStatusIf(ctx context.Context, id string, to models.ProjectStatus, from ...models.ProjectStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), millis(now()), id}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, classify("store.SetProjectStatusIf", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("store.SetProjectStatusIf", err)
	}
	return n > 0, nil
}

// DeleteProject removes the project row. Dependent rows must be deleted first.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return classify("store.DeleteProject", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lookupErr("store.DeleteProject", "project", id, errNoRows)
	}
	return nil
}

func scanProject(r rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var status, tier string
	var created, updated int64
	if err := r.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &status, &tier, &created, &updated); err != nil {
		return nil, err
	}
	p.Status = models.ProjectStatus(status)
	p.Tier = models.Tier(tier)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}
