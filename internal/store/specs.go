package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
)

const (
	specDocumentColumns = `id, project_id, doc_type, content, version, last_edited_by, created_at, updated_at`
	specVersionColumns  = `id, spec_document_id, version, content, change_summary, created_by, created_at`
)

// Revision describes a compare-and-swap edit of a spec document.
type Revision struct {
	DocumentID      string
	ExpectedVersion int
	Content         string
	EditedBy        string
	// Summary is recorded on the snapshot of the pre-edit state.
	Summary string
}

// InsertSpecDocument inserts a live document. Version defaults to 1.
func (s *Store) InsertSpecDocument(ctx context.Context, d *models.SpecDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spec_documents (`+specDocumentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, string(d.DocType), d.Content, d.Version, d.LastEditedBy,
		millis(d.CreatedAt), millis(d.UpdatedAt),
	)
	return classify("store.InsertSpecDocument", err)
}

// GetSpecDocument retrieves the live document of a type within a project.
func (s *Store) GetSpecDocument(ctx context.Context, projectID string, docType models.DocType) (*models.SpecDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+specDocumentColumns+` FROM spec_documents WHERE project_id = ? AND doc_type = ?`,
		projectID, string(docType))
	d, err := scanSpecDocument(row)
	if err != nil {
		return nil, lookupErr("store.GetSpecDocument", "spec document", projectID+"/"+string(docType), err)
	}
	return d, nil
}

// GetSpecDocumentByID retrieves a document by its ID.
func (s *Store) GetSpecDocumentByID(ctx context.Context, id string) (*models.SpecDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+specDocumentColumns+` FROM spec_documents WHERE id = ?`, id)
	d, err := scanSpecDocument(row)
	if err != nil {
		return nil, lookupErr("store.GetSpecDocumentByID", "spec document", id, err)
	}
	return d, nil
}

// ListSpecDocuments returns every live document of a project ordered by type.
func (s *Store) ListSpecDocuments(ctx context.Context, projectID string) ([]*models.SpecDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+specDocumentColumns+` FROM spec_documents WHERE project_id = ? ORDER BY doc_type`,
		projectID)
	if err != nil {
		return nil, classify("store.ListSpecDocuments", err)
	}
	defer rows.Close()

	var docs []*models.SpecDocument
	for rows.Next() {
		d, err := scanSpecDocument(rows)
		if err != nil {
			return nil, classify("store.ListSpecDocuments", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.ListSpecDocuments", err)
	}
	return docs, nil
}

// ReviseSpecDocument snapshots the current state of a document and replaces
// its content in one transaction. The write only lands while the stored
// version still equals rev.ExpectedVersion; otherwise it fails with
// ConflictingUpdate and nothing is written.
func (s *Store) ReviseSpecDocument(ctx context.Context, rev Revision) (*models.SpecDocument, *models.SpecVersion, error) {
	const op = "store.ReviseSpecDocument"

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc *models.SpecDocument
	var snap *models.SpecVersion

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		var version int
		err := tx.QueryRowContext(ctx,
			`SELECT content, version FROM spec_documents WHERE id = ?`, rev.DocumentID,
		).Scan(&current, &version)
		if err != nil {
			return lookupErr(op, "spec document", rev.DocumentID, err)
		}
		if version != rev.ExpectedVersion {
			return perrors.Conflict(op, "spec document %s is at version %d, expected %d",
				rev.DocumentID, version, rev.ExpectedVersion)
		}

		ts := now()
		snap = &models.SpecVersion{
			ID:             uuid.New().String(),
			SpecDocumentID: rev.DocumentID,
			Version:        version,
			Content:        current,
			ChangeSummary:  rev.Summary,
			CreatedBy:      rev.EditedBy,
			CreatedAt:      ts,
		}
		if err := insertSpecVersion(ctx, tx, snap); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE spec_documents
			SET content = ?, version = version + 1, last_edited_by = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			rev.Content, rev.EditedBy, millis(ts), rev.DocumentID, rev.ExpectedVersion,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return perrors.Conflict(op, "spec document %s changed concurrently", rev.DocumentID)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+specDocumentColumns+` FROM spec_documents WHERE id = ?`, rev.DocumentID)
		doc, err = scanSpecDocument(row)
		return err
	})
	if err != nil {
		return nil, nil, classify(op, err)
	}

	s.logger.Debug().
		Str("spec_document_id", doc.ID).
		Int("version", doc.Version).
		Str("summary", rev.Summary).
		Msg("spec document revised")
	return doc, snap, nil
}

// InsertSpecVersion appends a snapshot.
func (s *Store) InsertSpecVersion(ctx context.Context, v *models.SpecVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now()
	}
	return classify("store.InsertSpecVersion", insertSpecVersion(ctx, s.db, v))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSpecVersion(ctx context.Context, db execer, v *models.SpecVersion) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO spec_versions (`+specVersionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SpecDocumentID, v.Version, v.Content, v.ChangeSummary, v.CreatedBy, millis(v.CreatedAt),
	)
	return err
}

// GetSpecVersion retrieves a snapshot by ID.
func (s *Store) GetSpecVersion(ctx context.Context, id string) (*models.SpecVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+specVersionColumns+` FROM spec_versions WHERE id = ?`, id)
	v, err := scanSpecVersion(row)
	if err != nil {
		return nil, lookupErr("store.GetSpecVersion", "spec version", id, err)
	}
	return v, nil
}

// ListSpecVersions returns a document's snapshots, newest first.
func (s *Store) ListSpecVersions(ctx context.Context, documentID string) ([]*models.SpecVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+specVersionColumns+` FROM spec_versions WHERE spec_document_id = ? ORDER BY version DESC`,
		documentID)
	if err != nil {
		return nil, classify("store.ListSpecVersions", err)
	}
	defer rows.Close()

	var versions []*models.SpecVersion
	for rows.Next() {
		v, err := scanSpecVersion(rows)
		if err != nil {
			return nil, classify("store.ListSpecVersions", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.ListSpecVersions", err)
	}
	return versions, nil
}

// DeleteSpecVersions removes every snapshot of every document in a project.
func (s *Store) DeleteSpecVersions(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM spec_versions
		WHERE spec_document_id IN (SELECT id FROM spec_documents WHERE project_id = ?)`,
		projectID)
	if err != nil {
		return 0, classify("store.DeleteSpecVersions", err)
	}
	return res.RowsAffected()
}

// DeleteSpecDocuments removes the live documents of a project.
func (s *Store) DeleteSpecDocuments(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM spec_documents WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, classify("store.DeleteSpecDocuments", err)
	}
	return res.RowsAffected()
}

// CountSpecDocuments returns how many live documents a project has.
func (s *Store) CountSpecDocuments(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spec_documents WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, classify("store.CountSpecDocuments", err)
	}
	return n, nil
}

func scanSpecDocument(r rowScanner) (*models.SpecDocument, error) {
	d := &models.SpecDocument{}
	var docType string
	var created, updated int64
	err := r.Scan(&d.ID, &d.ProjectID, &docType, &d.Content, &d.Version, &d.LastEditedBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	d.DocType = models.DocType(docType)
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	return d, nil
}

func scanSpecVersion(r rowScanner) (*models.SpecVersion, error) {
	v := &models.SpecVersion{}
	var created int64
	err := r.Scan(&v.ID, &v.SpecDocumentID, &v.Version, &v.Content, &v.ChangeSummary, &v.CreatedBy, &created)
	if err != nil {
		return nil, err
	}
	v.CreatedAt = fromMillis(created)
	return v, nil
}
