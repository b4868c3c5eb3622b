package counter

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const webhookCountersKey = "webhook:counters"

// Webhook outcome fields.
const (
	FieldReceived         = "received"
	FieldInvalidSignature = "invalid_signature"
	FieldDuplicate        = "duplicate"
	FieldProcessed        = "processed"
	FieldFailed           = "failed"
	FieldReplayed         = "replayed"
	FieldMalformed        = "malformed"
)

// Counter counts webhook outcomes.
type Counter interface {
	Incr(ctx context.Context, field string) error
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// RedisCounter keeps counters in one Redis hash so every instance shares them.
type RedisCounter struct {
	client *redis.Client
	key    string
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, key: webhookCountersKey}
}

// Incr increments the counter for field in Redis
func (c *RedisCounter) Incr(ctx context.Context, field string) error {
	return c.client.HIncrBy(ctx, c.key, field, 1).Err()
}

// Snapshot returns all counters; unparsable values are skipped.
func (c *RedisCounter) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Memory is an in-process Counter.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) Incr(_ context.Context, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[field]++
	return nil
}

func (m *Memory) Snapshot(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// Get returns one counter value.
func (m *Memory) Get(field string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[field]
}
