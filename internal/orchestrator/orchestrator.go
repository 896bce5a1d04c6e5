// Package orchestrator owns the task lifecycle: it snapshots project context,
// calls the generation gateway and turns the result into pending code changes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/gateway"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/requestid"
	"github.com/p-blackswan/specforge/internal/store"
	"github.com/p-blackswan/specforge/internal/tier"
)

// Config holds orchestrator settings.
type Config struct {
	// Timeout bounds each gateway call.
	Timeout time.Duration
	// ExcerptLimit caps each spec excerpt in the task context, in runes.
	ExcerptLimit int
	Workers      int
	QueueSize    int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.ExcerptLimit <= 0 {
		c.ExcerptLimit = 2000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
}

// Orchestrator runs tasks against the generation gateway.
type Orchestrator struct {
	cfg     Config
	store   *store.Store
	gateway gateway.Gateway
	router  *tier.Router
	metrics *metrics.Metrics
	logger  zerolog.Logger

	queue chan *job
	wg    sync.WaitGroup

	// mu guards running and cancel. Jobs are only enqueued while it is held
	// and running is true, so Stop's drain sees every queued job.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates an orchestrator. m may be nil.
func New(cfg Config, st *store.Store, gw gateway.Gateway, router *tier.Router, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		gateway: gw,
		router:  router,
		metrics: m,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		queue:   make(chan *job, cfg.QueueSize),
	}
}

// Submit creates a task and runs generation before returning. On a gateway
// failure or timeout the failed task is returned together with an error of
// kind GenerationFailed.
func (o *Orchestrator) Submit(ctx context.Context, projectID string, capability models.Capability, description string, actor models.Actor) (*models.Task, error) {
	task, err := o.prepare(ctx, "orchestrator.Submit", projectID, capability, description, actor, nil)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, task)
}

// Modify starts a modification task for a change whose review asked for
// changes. The caller has already resolved ownership and recorded the
// rejection of origin.
func (o *Orchestrator) Modify(ctx context.Context, origin *models.CodeChange, originTask *models.Task, feedback string, actor models.Actor) (*models.Task, error) {
	description := fmt.Sprintf("Revise %s: %s", origin.FilePath, feedback)
	task, err := o.prepare(ctx, "orchestrator.Modify", originTask.ProjectID, originTask.Capability, description, actor, &modification{
		change:   origin,
		feedback: feedback,
	})
	if err != nil {
		return nil, err
	}
	return o.run(ctx, task)
}

// GetTask returns a task after checking that actor owns its project.
func (o *Orchestrator) GetTask(ctx context.Context, taskID string, actor models.Actor) (*models.Task, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := o.ownedProject(ctx, "orchestrator.GetTask", task.ProjectID, actor); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns a project's tasks, newest first, optionally filtered by status.
func (o *Orchestrator) ListTasks(ctx context.Context, projectID string, actor models.Actor, status models.TaskStatus) ([]*models.Task, error) {
	const op = "orchestrator.ListTasks"
	if status != "" && !status.Valid() {
		return nil, perrors.Validation(op, "unknown task status %q", status)
	}
	if _, err := o.ownedProject(ctx, op, projectID, actor); err != nil {
		return nil, err
	}
	return o.store.ListTasks(ctx, store.TaskFilter{ProjectID: projectID, Status: status})
}

type modification struct {
	change   *models.CodeChange
	feedback string
}

// prepare validates a request and persists the pending task with its
// context snapshot. No generation happens here.
func (o *Orchestrator) prepare(ctx context.Context, op, projectID string, capability models.Capability, description string, actor models.Actor, mod *modification) (*models.Task, error) {
	if !capability.Valid() {
		return nil, perrors.Validation(op, "unknown capability %q", capability)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, perrors.Validation(op, "description must not be empty")
	}

	project, err := o.ownedProject(ctx, op, projectID, actor)
	if err != nil {
		return nil, err
	}

	docs, err := o.store.ListSpecDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	specs := make(map[models.DocType]string, len(docs))
	for _, d := range docs {
		specs[d.DocType] = excerpt(d.Content, o.cfg.ExcerptLimit)
	}

	task := &models.Task{
		ProjectID:   projectID,
		Capability:  capability,
		Description: description,
		Status:      models.TaskPending,
		Context: models.TaskContext{
			ProjectName: project.Name,
			Tier:        project.Tier,
			Specs:       specs,
		},
	}
	if mod != nil {
		task.OriginChangeID = mod.change.ID
		task.Context.Feedback = mod.feedback
		task.Context.OriginChangeID = mod.change.ID
		task.Context.OriginFilePath = mod.change.FilePath
	}

	if err := o.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}

	requestid.Logger(ctx, o.logger).Info().
		Str("task_id", task.ID).
		Str("project_id", projectID).
		Str("capability", string(capability)).
		Str("origin_change_id", task.OriginChangeID).
		Msg("task created")
	return task, nil
}

// run drives a pending task to a terminal state.
func (o *Orchestrator) run(ctx context.Context, task *models.Task) (*models.Task, error) {
	const op = "orchestrator.run"
	log := requestid.Logger(ctx, o.logger).With().Str("task_id", task.ID).Logger()

	// Bookkeeping after generation must land even if the caller goes away.
	bg := context.WithoutCancel(ctx)

	task, err := o.store.TransitionTask(bg, task.ID, models.TaskPending, models.TaskInProgress, store.TaskResult{})
	if err != nil {
		return task, err
	}

	cfg := o.router.Resolve(task.Context.Tier)
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	start := time.Now()
	res, err := o.gateway.Generate(genCtx, gateway.Request{
		Config:      cfg,
		Capability:  task.Capability,
		Description: task.Description,
		Context:     task.Context,
	})
	// Only the orchestrator's own deadline counts as a timeout; a caller
	// deadline or cancellation ends the parent too.
	timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	o.metrics.ObserveGeneration(string(task.Context.Tier), time.Since(start).Seconds())

	if err == nil && (res == nil || len(res.Files) == 0) {
		err = errors.New("generation returned no files")
	}
	if err != nil {
		reason := "generation failed: " + err.Error()
		switch {
		case timedOut:
			if !errors.Is(err, perrors.ErrTimeout) {
				err = fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
			}
			reason = fmt.Sprintf("generation timed out after %s", o.cfg.Timeout)
		case ctx.Err() != nil:
			reason = "generation cancelled: " + ctx.Err().Error()
		}
		return o.fail(bg, log, task, reason, perrors.Generation(op, err))
	}

	changes, err := o.buildChanges(bg, task, res)
	if err != nil {
		return o.fail(bg, log, task, perrors.Reason(err), err)
	}
	if err := o.store.InsertCodeChanges(bg, changes); err != nil {
		return o.fail(bg, log, task, "storing code changes: "+err.Error(), err)
	}

	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.FilePath
	}
	out := &models.TaskOutput{
		Summary:   fmt.Sprintf("Generated %d file(s): %s", len(paths), strings.Join(paths, ", ")),
		Paths:     paths,
		Reasoning: res.Reasoning,
	}
	task, err = o.store.TransitionTask(bg, task.ID, models.TaskInProgress, models.TaskCompleted, store.TaskResult{Output: out})
	if err != nil {
		return task, err
	}

	if _, err := o.store.SetProjectStatusIf(bg, task.ProjectID, models.ProjectReady, models.ProjectDraft, models.ProjectBuilding); err != nil {
		log.Warn().Err(err).Msg("failed to mark project ready")
	}

	o.metrics.RecordTask(string(task.Capability), string(task.Status))
	log.Info().
		Int("changes", len(changes)).
		Strs("paths", paths).
		Msg("task completed")
	return task, nil
}

func (o *Orchestrator) fail(ctx context.Context, log zerolog.Logger, task *models.Task, reason string, cause error) (*models.Task, error) {
	failed, err := o.store.TransitionTask(ctx, task.ID, task.Status, models.TaskFailed, store.TaskResult{Error: reason})
	if err != nil {
		log.Error().Err(err).Msg("failed to record task failure")
		if failed == nil {
			failed = task
		}
	}
	o.metrics.RecordTask(string(task.Capability), string(models.TaskFailed))
	o.metrics.RecordError("orchestrator", string(perrors.KindOf(cause)))
	log.Warn().Err(cause).Str("reason", reason).Msg("task failed")
	return failed, cause
}

// ownedProject loads a project and checks that actor owns it.
func (o *Orchestrator) ownedProject(ctx context.Context, op, projectID string, actor models.Actor) (*models.Project, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != actor.ID {
		return nil, perrors.Forbidden(op, "project %s belongs to another user", projectID)
	}
	return project, nil
}

// excerpt truncates s to at most limit runes.
func excerpt(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
