package stats

import (
	"context"
	"errors"
	"time"

	"llm_relay/internal/scoring"
)

// Event is the per-call performance outcome the pipeline persists. It is the
// scorer's event type; the alias keeps the pipeline's public surface local.
type Event = scoring.Event

var (
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned when an enqueue would have to wait for the
	// worker. Publishers drop the event rather than block the request path.
	ErrQueueFull = errors.New("queue is full")

	// ErrItemNotFound is returned when a dead-letter item id does not exist.
	ErrItemNotFound = errors.New("item not found")
)

// Queue buffers events between the scorer and the persistence worker.
// Implementations: in-memory channel queue for standalone deployments,
// Redis list queue for deployments that need persistence across restarts.
type Queue interface {
	// Enqueue adds an event to the queue.
	Enqueue(ctx context.Context, ev Event) error

	// DequeueWithTimeout retrieves up to maxItems events, waiting at most
	// timeout for the first one. An empty slice means the timeout elapsed.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Event, error)

	// Length returns the current queue depth.
	Length(ctx context.Context) (int, error)

	// Close shuts the queue down.
	Close() error
}

// DeadLetter holds events the worker gave up on, for operator inspection and
// manual replay.
type DeadLetter interface {
	Add(ctx context.Context, ev Event, cause error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is one failed event with the error that exhausted it.
type DeadLetterItem struct {
	ID        string    `json:"id"`
	Event     Event     `json:"event"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config tunes the pipeline's queue and worker.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	UseRedis      bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string
}

// DefaultConfig returns the pipeline defaults: small batches, short flush
// interval, in-memory backend.
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}

// generateID returns a sortable id for dead-letter items.
func generateID() string {
	return time.Now().Format("20060102150405.000000")
}
