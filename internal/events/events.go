// Package events fans change-approved notifications out to publishers.
// Applying an approved change is left to whoever subscribes.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/models"
)

// Publisher delivers a change-approved event to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev models.ChangeApproved) error
}

// Bus is an in-process publisher. Handlers run synchronously in
// subscription order.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers []subscription
}

type subscription struct {
	id int
	fn func(models.ChangeApproved)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(models.ChangeApproved)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Name() string { return "bus" }

// Publish hands ev to every current subscriber.
func (b *Bus) Publish(_ context.Context, ev models.ChangeApproved) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers))
	copy(subs, b.handlers)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
	return nil
}

// CountApprovals subscribes a handler on b that counts every approved change
// in m.
func CountApprovals(b *Bus, m *metrics.Metrics) (unsubscribe func()) {
	return b.Subscribe(func(ev models.ChangeApproved) {
		m.RecordApprovedChange(string(ev.Capability), string(ev.Kind))
	})
}

// LogPublisher writes each event to the log.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, ev models.ChangeApproved) error {
	p.logger.Info().
		Str("event", string(ev.Type)).
		Str("change_id", ev.ChangeID).
		Str("task_id", ev.TaskID).
		Str("project_id", ev.ProjectID).
		Str("file_path", ev.FilePath).
		Str("approved_by", ev.ApprovedBy).
		Msg("change approved")
	return nil
}

// Dispatcher delivers events to every publisher in the background. A failing
// publisher is logged and does not affect the others.
type Dispatcher struct {
	publishers []Publisher
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher. timeout bounds each delivery; m may be nil.
func NewDispatcher(timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger, publishers ...Publisher) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		publishers: publishers,
		timeout:    timeout,
		metrics:    m,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Publishers returns the configured publisher names.
func (d *Dispatcher) Publishers() []string {
	names := make([]string, len(d.publishers))
	for i, p := range d.publishers {
		names[i] = p.Name()
	}
	return names
}

// Dispatch starts delivery of ev and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.ChangeApproved) {
	if ev.Type == "" {
		ev.Type = models.EventChangeApproved
	}
	base := context.WithoutCancel(ctx)
	for _, p := range d.publishers {
		d.wg.Add(1)
		go func(p Publisher) {
			defer d.wg.Done()
			pctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := p.Publish(pctx, ev); err != nil {
				d.metrics.RecordError("events", string(perrors.KindOf(err)))
				d.logger.Error().Err(err).
					Str("publisher", p.Name()).
					Str("change_id", ev.ChangeID).
					Msg("event delivery failed")
				return
			}
			d.logger.Debug().
				Str("publisher", p.Name()).
				Str("change_id", ev.ChangeID).
				Msg("event delivered")
		}(p)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
