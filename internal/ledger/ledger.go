// Package ledger keeps the edit history of spec documents: every update or
// rollback snapshots the prior state before replacing the live content.
package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/requestid"
	"github.com/p-blackswan/specforge/internal/store"
)

const editorSummary = "Updated via editor"

// Ledger serialises writes per document and records snapshots.
type Ledger struct {
	store   *store.Store
	locks   *keyedMutex
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a ledger. m may be nil.
func New(st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:   st,
		locks:   newKeyedMutex(),
		metrics: m,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// Get returns the live document of a type.
func (l *Ledger) Get(ctx context.Context, projectID string, docType models.DocType, actor models.Actor) (*models.SpecDocument, error) {
	return l.load(ctx, "ledger.Get", projectID, docType, actor)
}

// List returns every live document of a project.
func (l *Ledger) List(ctx context.Context, projectID string, actor models.Actor) ([]*models.SpecDocument, error) {
	if err := l.checkOwner(ctx, "ledger.List", projectID, actor); err != nil {
		return nil, err
	}
	return l.store.ListSpecDocuments(ctx, projectID)
}

// ListVersions returns a document's snapshots, newest first.
func (l *Ledger) ListVersions(ctx context.Context, projectID string, docType models.DocType, actor models.Actor) ([]*models.SpecVersion, error) {
	doc, err := l.load(ctx, "ledger.ListVersions", projectID, docType, actor)
	if err != nil {
		return nil, err
	}
	return l.store.ListSpecVersions(ctx, doc.ID)
}

// Update snapshots the current content and replaces it, bumping the version.
func (l *Ledger) Update(ctx context.Context, projectID string, docType models.DocType, content string, actor models.Actor) (*models.SpecDocument, error) {
	const op = "ledger.Update"
	doc, err := l.load(ctx, op, projectID, docType, actor)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(doc.ID)
	defer unlock()

	return l.revise(ctx, op, "update", doc.ID, content, editorSummary, actor)
}

// Rollback restores the content of a snapshot. The current state is
// snapshotted first, so history only grows.
func (l *Ledger) Rollback(ctx context.Context, projectID string, docType models.DocType, versionID string, actor models.Actor) (*models.SpecDocument, error) {
	const op = "ledger.Rollback"
	doc, err := l.load(ctx, op, projectID, docType, actor)
	if err != nil {
		return nil, err
	}

	target, err := l.store.GetSpecVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target.SpecDocumentID != doc.ID {
		return nil, perrors.NotFound(op, "spec version %s not found for %s", versionID, docType)
	}

	unlock := l.locks.Lock(doc.ID)
	defer unlock()

	summary := fmt.Sprintf("Before rollback to version %d", target.Version)
	return l.revise(ctx, op, "rollback", doc.ID, target.Content, summary, actor)
}

// revise runs one compare-and-swap edit. The caller holds the document lock,
// so a conflict here means a writer outside this process got in first.
func (l *Ledger) revise(ctx context.Context, op, operation, docID, content, summary string, actor models.Actor) (*models.SpecDocument, error) {
	current, err := l.store.GetSpecDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}

	doc, snap, err := l.store.ReviseSpecDocument(ctx, store.Revision{
		DocumentID:      docID,
		ExpectedVersion: current.Version,
		Content:         content,
		EditedBy:        actor.ID,
		Summary:         summary,
	})
	if err != nil {
		l.metrics.RecordRevision(operation, string(perrors.KindOf(err)))
		return nil, err
	}
	l.metrics.RecordRevision(operation, "ok")

	requestid.Logger(ctx, l.logger).Info().
		Str("op", op).
		Str("spec_document_id", doc.ID).
		Str("doc_type", string(doc.DocType)).
		Int("snapshot_version", snap.Version).
		Int("version", doc.Version).
		Msg("spec document revised")
	return doc, nil
}

func (l *Ledger) load(ctx context.Context, op, projectID string, docType models.DocType, actor models.Actor) (*models.SpecDocument, error) {
	if !docType.Valid() {
		return nil, perrors.Validation(op, "unknown document type %q", docType)
	}
	if err := l.checkOwner(ctx, op, projectID, actor); err != nil {
		return nil, err
	}
	return l.store.GetSpecDocument(ctx, projectID, docType)
}

func (l *Ledger) checkOwner(ctx context.Context, op, projectID string, actor models.Actor) error {
	project, err := l.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != actor.ID {
		return perrors.Forbidden(op, "project %s belongs to another user", projectID)
	}
	return nil
}
