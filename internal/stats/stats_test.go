package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(provider string, success bool) Event {
	return Event{
		Provider: provider,
		Success:  success,
		Latency:  150 * time.Millisecond,
		Requests: 1,
		Score:    92.0,
		At:       time.Now().UTC().Truncate(time.Second),
	}
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []Event
	failures int // first N calls fail
	calls    int
}

func (f *fakeStore) InsertEvents(_ context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return errors.New("insert failed")
	}
	f.inserted = append(f.inserted, events...)
	return nil
}

func (f *fakeStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]Event
}

func (f *fakeArchiver) WriteBatch(_ context.Context, events []Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
	return "stats/test.jsonl", nil
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, event("alpha", true)))
	require.NoError(t, q.Enqueue(ctx, event("beta", false)))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	events, err := q.DequeueWithTimeout(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "alpha", events[0].Provider)
	assert.Equal(t, "beta", events[1].Provider)
}

func TestMemoryQueueTimeoutReturnsEmpty(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	events, err := q.DequeueWithTimeout(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryQueueFullRejectsWithoutBlocking(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.BatchSize = 1 // buffer capacity 10
	q := NewMemoryQueue(cfg)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, event("alpha", true)))
	}

	// With no worker draining, the next enqueue returns immediately instead
	// of waiting for space.
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, event("alpha", true)) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("enqueue on a full queue blocked")
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), event("alpha", true))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := DefaultConfig("test-redis")
	cfg.UseRedis = true
	cfg.RedisAddr = srv.Addr()

	q, err := NewRedisQueue(cfg)
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	sent := event("alpha", true)
	require.NoError(t, q.Enqueue(ctx, sent))
	require.NoError(t, q.Enqueue(ctx, event("beta", false)))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	events, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, sent.Provider, events[0].Provider)
	assert.Equal(t, sent.Score, events[0].Score)
	assert.True(t, sent.At.Equal(events[0].At))
}

func TestRedisDeadLetterAddListRemove(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := DefaultConfig("test-dlq")
	cfg.RedisAddr = srv.Addr()

	dlq, err := NewRedisDeadLetter(cfg)
	require.NoError(t, err)
	defer dlq.Close()
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, event("alpha", false), errors.New("insert failed")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "alpha", items[0].Event.Provider)
	assert.Equal(t, "insert failed", items[0].Error)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWorkerPersistsBatches(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.BatchTimeout = 20 * time.Millisecond

	q := NewMemoryQueue(cfg)
	store := &fakeStore{}
	archiver := &fakeArchiver{}
	w := NewWorker(q, NewMemoryDeadLetter(), store, archiver, cfg)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, event("alpha", true)))
	require.NoError(t, q.Enqueue(ctx, event("beta", true)))

	w.Start(ctx)
	require.Eventually(t, func() bool { return store.insertedCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	require.Len(t, archiver.batches, 1)
	assert.Len(t, archiver.batches[0], 2)
}

func TestWorkerRoutesPoisonedEventsToDLQ(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond

	q := NewMemoryQueue(cfg)
	dlq := NewMemoryDeadLetter()
	store := &fakeStore{failures: 10} // batch insert and every retry fail
	w := NewWorker(q, dlq, store, nil, cfg)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, event("alpha", false)))

	w.Start(ctx)
	require.Eventually(t, func() bool {
		items, err := dlq.List(ctx, 0)
		return err == nil && len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", items[0].Event.Provider)
}

func TestPipelinePublishAndRetryDeadLetter(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.BatchTimeout = 20 * time.Millisecond

	store := &fakeStore{}
	p, err := NewPipeline(cfg, store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Publish implements the scorer's sink contract.
	require.NoError(t, p.Publish(ctx, event("alpha", true)))
	length, err := p.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// Seed the DLQ directly and replay through the pipeline.
	require.NoError(t, p.dlq.Add(ctx, event("beta", false), errors.New("boom")))
	items, err := p.DeadLetterItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, p.RetryDeadLetterItem(ctx, items[0].ID))
	items, err = p.DeadLetterItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	length, err = p.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	assert.ErrorIs(t, p.RetryDeadLetterItem(ctx, "missing"), ErrItemNotFound)
	require.NoError(t, p.Stop())
}

func TestNewPipelineRequiresStore(t *testing.T) {
	_, err := NewPipeline(DefaultConfig("test"), nil, nil)
	assert.Error(t, err)
}
