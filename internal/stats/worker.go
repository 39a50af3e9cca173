package stats

import (
	"context"
	"fmt"
	"time"

	"llm_relay/internal/logging"
)

// Store persists event batches. The Postgres repository implements it; tests
// substitute fakes.
type Store interface {
	InsertEvents(ctx context.Context, events []Event) error
}

// Archiver receives successfully persisted batches for long-term storage.
// Optional; the S3 writer implements it.
type Archiver interface {
	WriteBatch(ctx context.Context, events []Event) (string, error)
}

// Worker drains the queue in batches and writes them to the store. A batch
// that fails wholesale falls back to per-event inserts with exponential
// backoff; events that still fail land in the dead-letter queue.
type Worker struct {
	queue    Queue
	dlq      DeadLetter
	store    Store
	archiver Archiver
	cfg      *Config
	logger   *logging.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a worker. dlq and archiver may be nil.
func NewWorker(q Queue, dlq DeadLetter, store Store, archiver Archiver, cfg *Config) *Worker {
	if cfg == nil {
		cfg = DefaultConfig("stats")
	}
	return &Worker{
		queue:       q,
		dlq:         dlq,
		store:       store,
		archiver:    archiver,
		cfg:         cfg,
		logger:      logging.NewLogger("stats-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop blocks until the worker loop has exited.
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("stats worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("stats worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	events, err := w.queue.DequeueWithTimeout(ctx, w.cfg.BatchSize, w.cfg.BatchTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to dequeue events", "error", err)
			time.Sleep(time.Second)
		}
		return
	}
	if len(events) == 0 {
		return
	}

	w.logger.Debug("processing event batch", "count", len(events))

	if err := w.store.InsertEvents(ctx, events); err != nil {
		w.logger.Error("batch insert failed, retrying per event", "error", err)
		for _, ev := range events {
			if err := w.processEvent(ctx, ev); err != nil {
				w.logger.Error("failed to persist event", "provider", ev.Provider, "error", err)
			}
		}
		return
	}

	w.archive(ctx, events)
}

// processEvent retries a single event with exponential backoff, routing it
// to the dead-letter queue once retries are exhausted.
func (w *Worker) processEvent(ctx context.Context, ev Event) error {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("retrying event", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.store.InsertEvents(ctx, []Event{ev}); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, ev, lastErr); err != nil {
			w.logger.Error("failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("event moved to DLQ", "provider", ev.Provider, "error", lastErr)
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (w *Worker) archive(ctx context.Context, events []Event) {
	if w.archiver == nil {
		return
	}
	key, err := w.archiver.WriteBatch(ctx, events)
	if err != nil {
		w.logger.Error("failed to archive batch", "error", err)
		return
	}
	w.logger.Debug("archived batch", "key", key, "count", len(events))
}
