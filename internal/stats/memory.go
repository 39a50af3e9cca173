package stats

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is a channel-backed queue with no persistence. Suitable for
// standalone deployments where losing buffered events on restart is fine.
type MemoryQueue struct {
	events chan Event
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue buffered for several batches.
func NewMemoryQueue(cfg *Config) *MemoryQueue {
	if cfg == nil {
		cfg = DefaultConfig("memory")
	}
	return &MemoryQueue{events: make(chan Event, cfg.BatchSize*10)}
}

// Enqueue never blocks: a full buffer rejects the event with ErrQueueFull so
// a stalled worker cannot back-pressure the request path.
func (q *MemoryQueue) Enqueue(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Event, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var events []Event
	deadline := time.After(timeout)

	select {
	case ev := <-q.events:
		events = append(events, ev)
	case <-deadline:
		return events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Drain whatever else is immediately available, up to the batch size.
	for len(events) < maxItems {
		select {
		case ev := <-q.events:
			events = append(events, ev)
		default:
			return events, nil
		}
	}
	return events, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.events), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.events)
	return nil
}

// MemoryDeadLetter keeps failed events in a slice.
type MemoryDeadLetter struct {
	mu     sync.RWMutex
	items  []DeadLetterItem
	closed bool
}

// NewMemoryDeadLetter creates an in-memory dead-letter queue.
func NewMemoryDeadLetter() *MemoryDeadLetter {
	return &MemoryDeadLetter{items: make([]DeadLetterItem, 0)}
}

func (q *MemoryDeadLetter) Add(ctx context.Context, ev Event, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, DeadLetterItem{
		ID:        generateID(),
		Event:     ev,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	})
	return nil
}

func (q *MemoryDeadLetter) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}
	out := make([]DeadLetterItem, maxItems)
	copy(out, q.items[:maxItems])
	return out, nil
}

func (q *MemoryDeadLetter) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (q *MemoryDeadLetter) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}
