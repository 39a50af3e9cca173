package stats

import (
	"context"
	"fmt"
)

// Pipeline wires a queue, a worker and the persistence store together and
// exposes the scorer-facing EventSink surface. The engine knows nothing about
// it beyond the Publish method.
type Pipeline struct {
	queue  Queue
	dlq    DeadLetter
	worker *Worker
}

// NewPipeline builds the queue backend selected by the config and a worker
// writing to store. archiver may be nil.
func NewPipeline(cfg *Config, store Store, archiver Archiver) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig("stats")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	var (
		q   Queue
		dlq DeadLetter
		err error
	)
	if cfg.UseRedis {
		q, err = NewRedisQueue(cfg)
		if err != nil {
			return nil, err
		}
		dlq, err = NewRedisDeadLetter(cfg)
		if err != nil {
			q.Close()
			return nil, err
		}
	} else {
		q = NewMemoryQueue(cfg)
		dlq = NewMemoryDeadLetter()
	}

	return &Pipeline{
		queue:  q,
		dlq:    dlq,
		worker: NewWorker(q, dlq, store, archiver, cfg),
	}, nil
}

// Publish enqueues one event. Implements the scorer's EventSink; a full or
// closed queue surfaces as an error and the scorer drops the event.
func (p *Pipeline) Publish(ctx context.Context, ev Event) error {
	return p.queue.Enqueue(ctx, ev)
}

// Start launches the persistence worker.
func (p *Pipeline) Start(ctx context.Context) {
	p.worker.Start(ctx)
}

// Stop drains the worker and closes both queues.
func (p *Pipeline) Stop() error {
	if err := p.worker.Stop(); err != nil {
		return err
	}
	if err := p.queue.Close(); err != nil {
		return err
	}
	return p.dlq.Close()
}

// QueueLength reports the current backlog.
func (p *Pipeline) QueueLength(ctx context.Context) (int, error) {
	return p.queue.Length(ctx)
}

// DeadLetterItems lists events the worker gave up on.
func (p *Pipeline) DeadLetterItems(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	return p.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves a dead-letter item back onto the queue.
func (p *Pipeline) RetryDeadLetterItem(ctx context.Context, id string) error {
	items, err := p.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := p.queue.Enqueue(ctx, item.Event); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := p.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}
	return ErrItemNotFound
}
