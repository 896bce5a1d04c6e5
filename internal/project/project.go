// Package project manages projects: creation with initial spec documents,
// tier limits, updates and the explicit delete cascade.
package project

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/requestid"
	"github.com/p-blackswan/specforge/internal/store"
)

// CreateInput describes a new project.
type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// IncludeBackend also creates the backend extension documents.
	IncludeBackend bool `json:"include_backend"`
}

// UpdateInput lists the editable fields. Nil fields are left alone.
type UpdateInput struct {
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Status      *models.ProjectStatus `json:"status,omitempty"`
}

// Summary is a project with counts of its dependent records.
type Summary struct {
	Project       *models.Project    `json:"project"`
	SpecDocuments int                `json:"spec_documents"`
	Tasks         int                `json:"tasks"`
	Changes       store.ChangeCounts `json:"changes"`
}

// Subscription describes a user's tier and how much of it is used.
type Subscription struct {
	Tier          models.Tier `json:"tier"`
	ProjectsCount int         `json:"projects_count"`
	// ProjectsLimit is nil when the tier is unlimited.
	ProjectsLimit *int `json:"projects_limit"`
}

// Service implements project operations.
type Service struct {
	store   *store.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// createMu keeps the limit check and the insert together.
	createMu sync.Mutex
}

// NewService creates a project service. m may be nil.
func NewService(st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:   st,
		metrics: m,
		logger:  logger.With().Str("component", "project").Logger(),
	}
}

// Create inserts a project owned by actor with its initial documents at
// version 1. The project's tier is frozen from the owner's current tier.
func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.Project, error) {
	const op = "project.Create"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, perrors.Validation(op, "project name must not be empty")
	}

	user, err := s.store.GetUser(ctx, actor.ID)
	if err != nil {
		if perrors.KindOf(err) == perrors.KindNotFound {
			return nil, perrors.Unauthorized(op, "unknown user %s", actor.ID)
		}
		return nil, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if limit := user.Tier.ProjectLimit(); limit > 0 {
		n, err := s.store.CountProjects(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if n >= limit {
			s.metrics.RecordError("project", string(perrors.KindForbidden))
			return nil, perrors.Forbidden(op, "Project limit reached for %s tier. Please upgrade your subscription.", user.Tier)
		}
	}

	p := &models.Project{
		OwnerID:     user.ID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Status:      models.ProjectDraft,
		Tier:        user.Tier,
	}
	if err := s.store.InsertProject(ctx, p); err != nil {
		return nil, err
	}

	docTypes := append([]models.DocType{}, models.CoreDocTypes...)
	if in.IncludeBackend {
		docTypes = append(docTypes, models.BackendDocTypes...)
	}
	if err := s.initDocuments(ctx, p, docTypes); err != nil {
		s.cleanup(p.ID)
		return nil, err
	}

	requestid.Logger(ctx, s.logger).Info().
		Str("project_id", p.ID).
		Str("owner_id", p.OwnerID).
		Str("tier", string(p.Tier)).
		Int("documents", len(docTypes)).
		Msg("project created")
	return p, nil
}

func (s *Service) initDocuments(ctx context.Context, p *models.Project, docTypes []models.DocType) error {
	data := newTemplateData(p.Name, p.Description)
	for _, dt := range docTypes {
		content, err := renderTemplate(dt, data)
		if err != nil {
			return perrors.Internal("project.initDocuments", err)
		}
		if err := s.store.InsertSpecDocument(ctx, &models.SpecDocument{
			ProjectID:    p.ID,
			DocType:      dt,
			Content:      content,
			Version:      1,
			LastEditedBy: p.OwnerID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// cleanup removes a half-created project.
func (s *Service) cleanup(projectID string) {
	ctx := context.Background()
	if _, err := s.store.DeleteSpecDocuments(ctx, projectID); err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("cleanup: deleting documents failed")
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("cleanup: deleting project failed")
	}
}

// Get returns a project the actor owns.
func (s *Service) Get(ctx context.Context, projectID string, actor models.Actor) (*models.Project, error) {
	return s.owned(ctx, "project.Get", projectID, actor)
}

// List returns the actor's projects, most recently updated first.
func (s *Service) List(ctx context.Context, actor models.Actor, status models.ProjectStatus) ([]*models.Project, error) {
	if status != "" && !status.Valid() {
		return nil, perrors.Validation("project.List", "unknown project status %q", status)
	}
	return s.store.ListProjects(ctx, store.ProjectFilter{OwnerID: actor.ID, Status: status})
}

// Update applies in to a project the actor owns. An empty update returns the
// project unchanged.
func (s *Service) Update(ctx context.Context, projectID string, actor models.Actor, in UpdateInput) (*models.Project, error) {
	const op = "project.Update"
	p, err := s.owned(ctx, op, projectID, actor)
	if err != nil {
		return nil, err
	}

	var patch store.ProjectPatch
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, perrors.Validation(op, "project name must not be empty")
		}
		patch.Name = &name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		patch.Description = &desc
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, perrors.Validation(op, "unknown project status %q", *in.Status)
		}
		patch.Status = in.Status
	}
	if patch.Name == nil && patch.Description == nil && patch.Status == nil {
		return p, nil
	}
	return s.store.UpdateProject(ctx, projectID, patch)
}

// Delete removes a project and everything under it: code changes, tasks,
// spec versions, spec documents, then the project row.
func (s *Service) Delete(ctx context.Context, projectID string, actor models.Actor) error {
	const op = "project.Delete"
	if _, err := s.owned(ctx, op, projectID, actor); err != nil {
		return err
	}

	steps := []struct {
		what string
		fn   func(context.Context, string) (int64, error)
	}{
		{"code changes", s.store.DeleteCodeChanges},
		{"tasks", s.store.DeleteTasks},
		{"spec versions", s.store.DeleteSpecVersions},
		{"spec documents", s.store.DeleteSpecDocuments},
	}
	log := requestid.Logger(ctx, s.logger).With().Str("project_id", projectID).Logger()
	for _, step := range steps {
		n, err := step.fn(ctx, projectID)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", step.what, err)
		}
		log.Debug().Int64("rows", n).Str("what", step.what).Msg("cascade step done")
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}

	log.Info().Msg("project deleted")
	return nil
}

// Summary returns counts of a project's documents, tasks and changes.
func (s *Service) Summary(ctx context.Context, projectID string, actor models.Actor) (*Summary, error) {
	p, err := s.owned(ctx, "project.Summary", projectID, actor)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.CountSpecDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.CountTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	changes, err := s.store.CountCodeChanges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Summary{Project: p, SpecDocuments: docs, Tasks: tasks, Changes: changes}, nil
}

// Subscription reports the actor's tier and project usage.
func (s *Service) Subscription(ctx context.Context, actor models.Actor) (*Subscription, error) {
	user, err := s.store.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountProjects(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{Tier: user.Tier, ProjectsCount: n}
	if limit := user.Tier.ProjectLimit(); limit > 0 {
		sub.ProjectsLimit = &limit
	}
	return sub, nil
}

func (s *Service) owned(ctx context.Context, op, projectID string, actor models.Actor) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != actor.ID {
		return nil, perrors.Forbidden(op, "project %s belongs to another user", projectID)
	}
	return p, nil
}
