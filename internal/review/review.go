// Package review implements the approve/reject/modify decisions on
// generated code changes.
package review

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/requestid"
	"github.com/p-blackswan/specforge/internal/store"
)

// Modifier starts a modification task for a rejected change.
type Modifier interface {
	Modify(ctx context.Context, origin *models.CodeChange, originTask *models.Task, feedback string, actor models.Actor) (*models.Task, error)
}

// Dispatcher receives change-approved events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.ChangeApproved)
}

// Engine records review decisions.
type Engine struct {
	store    *store.Store
	modifier Modifier
	events   Dispatcher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a review engine. events and m may be nil.
func New(st *store.Store, modifier Modifier, events Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		modifier: modifier,
		events:   events,
		metrics:  m,
		logger:   logger.With().Str("component", "review").Logger(),
	}
}

// target is a change with the task and project it belongs to.
type target struct {
	change  *models.CodeChange
	task    *models.Task
	project *models.Project
}

// resolve loads change, task and project and checks ownership.
func (e *Engine) resolve(ctx context.Context, op, changeID string, actor models.Actor) (*target, error) {
	change, err := e.store.GetCodeChange(ctx, changeID)
	if err != nil {
		return nil, err
	}
	task, err := e.store.GetTask(ctx, change.TaskID)
	if err != nil {
		return nil, err
	}
	project, err := e.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != actor.ID {
		return nil, perrors.Forbidden(op, "code change %s belongs to another user's project", changeID)
	}
	return &target{change: change, task: task, project: project}, nil
}

// GetChange returns a change the actor owns.
func (e *Engine) GetChange(ctx context.Context, changeID string, actor models.Actor) (*models.CodeChange, error) {
	t, err := e.resolve(ctx, "review.GetChange", changeID, actor)
	if err != nil {
		return nil, err
	}
	return t.change, nil
}

// ListPending returns a project's undecided changes, newest first.
func (e *Engine) ListPending(ctx context.Context, projectID string, actor models.Actor) ([]*models.CodeChange, error) {
	if err := e.checkProject(ctx, "review.ListPending", projectID, actor); err != nil {
		return nil, err
	}
	return e.store.ListCodeChanges(ctx, store.ChangeFilter{ProjectID: projectID, PendingOnly: true})
}

// ListByTask returns every change a task produced, newest first.
func (e *Engine) ListByTask(ctx context.Context, taskID string, actor models.Actor) ([]*models.CodeChange, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.checkProject(ctx, "review.ListByTask", task.ProjectID, actor); err != nil {
		return nil, err
	}
	return e.store.ListCodeChanges(ctx, store.ChangeFilter{TaskID: taskID})
}

func (e *Engine) checkProject(ctx context.Context, op, projectID string, actor models.Actor) error {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != actor.ID {
		return perrors.Forbidden(op, "project %s belongs to another user", projectID)
	}
	return nil
}

// Approve marks a pending change approved and emits a change.approved event.
func (e *Engine) Approve(ctx context.Context, changeID string, actor models.Actor) (*models.CodeChange, error) {
	const op = "review.Approve"
	t, err := e.resolve(ctx, op, changeID, actor)
	if err != nil {
		return nil, err
	}
	change, err := e.decide(ctx, t.change.ID, true, actor, "approve")
	if err != nil {
		return nil, err
	}

	if e.events != nil {
		approvedAt := time.Now().UTC()
		if change.DecidedAt != nil {
			approvedAt = *change.DecidedAt
		}
		e.events.Dispatch(ctx, models.ChangeApproved{
			Type:       models.EventChangeApproved,
			ChangeID:   change.ID,
			TaskID:     change.TaskID,
			ProjectID:  t.project.ID,
			FilePath:   change.FilePath,
			Kind:       change.Kind,
			Capability: change.Capability,
			Diff:       change.Diff,
			ApprovedBy: actor.ID,
			ApprovedAt: approvedAt,
		})
	}
	return change, nil
}

// Reject marks a pending change rejected.
func (e *Engine) Reject(ctx context.Context, changeID string, actor models.Actor) (*models.CodeChange, error) {
	t, err := e.resolve(ctx, "review.Reject", changeID, actor)
	if err != nil {
		return nil, err
	}
	return e.decide(ctx, t.change.ID, false, actor, "reject")
}

// RequestModification rejects a pending change and starts a new task that
// revises the same file with the given feedback. The new task is returned;
// when its generation fails it is returned together with the error.
func (e *Engine) RequestModification(ctx context.Context, changeID string, actor models.Actor, feedback string) (*models.Task, error) {
	const op = "review.RequestModification"
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, perrors.Validation(op, "feedback must not be empty")
	}
	t, err := e.resolve(ctx, op, changeID, actor)
	if err != nil {
		return nil, err
	}
	change, err := e.decide(ctx, t.change.ID, false, actor, "modify")
	if err != nil {
		return nil, err
	}
	return e.modifier.Modify(ctx, change, t.task, feedback, actor)
}

func (e *Engine) decide(ctx context.Context, changeID string, approved bool, actor models.Actor, decision string) (*models.CodeChange, error) {
	change, err := e.store.DecideCodeChange(ctx, changeID, approved, actor.ID)
	if err != nil {
		e.metrics.RecordError("review", string(perrors.KindOf(err)))
		return nil, err
	}
	e.metrics.RecordDecision(decision)
	requestid.Logger(ctx, e.logger).Info().
		Str("change_id", changeID).
		Str("decision", decision).
		Str("actor", actor.ID).
		Msg("change decided")
	return change, nil
}
