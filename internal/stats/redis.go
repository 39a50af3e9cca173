package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-list-backed queue. Events survive process restarts
// and can be drained by workers in other processes.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects to Redis and verifies the connection before
// returning.
func NewRedisQueue(cfg *Config) (*RedisQueue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("queue:%s", cfg.QueueName),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]Event, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return []Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	events := make([]Event, 0, maxItems)
	if ev, ok := decodeEvent([]byte(result[1])); ok {
		events = append(events, ev)
	}

	// Drain without blocking up to the batch size.
	for len(events) < maxItems {
		raw, err := q.client.LPop(ctx, q.key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return events, nil
		}
		if ev, ok := decodeEvent([]byte(raw)); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func decodeEvent(data []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisDeadLetter stores failed events in a Redis hash keyed by item id.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
}

// NewRedisDeadLetter connects to Redis and verifies the connection.
func NewRedisDeadLetter(cfg *Config) (*RedisDeadLetter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDeadLetter{
		client: client,
		key:    fmt.Sprintf("dlq:%s", cfg.QueueName),
	}, nil
}

func (q *RedisDeadLetter) Add(ctx context.Context, ev Event, cause error) error {
	item := DeadLetterItem{
		ID:        generateID(),
		Event:     ev,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", err)
	}
	if err := q.client.HSet(ctx, q.key, item.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}
	return nil
}

func (q *RedisDeadLetter) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var item DeadLetterItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue
		}
		items = append(items, item)
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}
	return items, nil
}

func (q *RedisDeadLetter) Remove(ctx context.Context, id string) error {
	if err := q.client.HDel(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	return nil
}

func (q *RedisDeadLetter) Close() error {
	return q.client.Close()
}
