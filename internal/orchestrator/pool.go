package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/requestid"
	"github.com/p-blackswan/specforge/internal/store"
)

type job struct {
	task      *models.Task
	requestID string
}

// Start launches worker goroutines for SubmitAsync.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true

	ctx, o.cancel = context.WithCancel(ctx)

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	o.logger.Info().Int("workers", o.cfg.Workers).Int("queue_size", o.cfg.QueueSize).Msg("orchestrator started")
}

// Stop shuts the pool down. Tasks still queued are marked failed.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	o.cancel()
	o.wg.Wait()

	for {
		select {
		case j := <-o.queue:
			o.abandon(j.task, "orchestrator stopped before the task ran")
		default:
			o.metrics.SetQueueDepth(0)
			o.logger.Info().Msg("orchestrator stopped")
			return
		}
	}
}

// SubmitAsync validates and persists a task like Submit, then hands it to
// the worker pool and returns the pending task at once. When the queue is
// full or the pool stopped meanwhile, the task is marked failed and an
// Unavailable error is returned with it.
func (o *Orchestrator) SubmitAsync(ctx context.Context, projectID string, capability models.Capability, description string, actor models.Actor) (*models.Task, error) {
	const op = "orchestrator.SubmitAsync"
	if !o.isRunning() {
		return nil, perrors.E(perrors.KindUnavailable, op, "task workers are not running")
	}

	task, err := o.prepare(ctx, op, projectID, capability, description, actor, nil)
	if err != nil {
		return nil, err
	}

	rid, _ := requestid.Get(ctx)
	reason, ok := o.enqueue(&job{task: task, requestID: rid})
	if !ok {
		failed := o.abandon(task, reason)
		return failed, perrors.E(perrors.KindUnavailable, op, reason)
	}
	requestid.Logger(ctx, o.logger).Info().Str("task_id", task.ID).Msg("task enqueued")
	return task, nil
}

// enqueue hands j to the workers. It fails when the pool has stopped or the
// queue is full, returning the reason.
func (o *Orchestrator) enqueue(j *job) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return "orchestrator stopped before the task ran", false
	}
	select {
	case o.queue <- j:
		o.metrics.SetQueueDepth(len(o.queue))
		return "", true
	default:
		return "task queue is full", false
	}
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	log := o.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case j, ok := <-o.queue:
			if !ok {
				return
			}
			o.metrics.SetQueueDepth(len(o.queue))
			o.execute(ctx, j, log)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, j *job, log zerolog.Logger) {
	if j.requestID != "" {
		ctx = requestid.WithRequestID(ctx, j.requestID)
	}
	if _, err := o.run(ctx, j.task); err != nil {
		log.Debug().Err(err).Str("task_id", j.task.ID).Msg("async task ended with error")
	}
}

// abandon fails a task that never reached a worker.
func (o *Orchestrator) abandon(task *models.Task, reason string) *models.Task {
	failed, err := o.store.TransitionTask(context.Background(), task.ID, models.TaskPending, models.TaskFailed, store.TaskResult{Error: reason})
	if err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark abandoned task")
		return task
	}
	o.metrics.RecordTask(string(task.Capability), string(models.TaskFailed))
	o.logger.Warn().Str("task_id", task.ID).Str("reason", reason).Msg("task abandoned")
	return failed
}
