// Package scheduler provides the delayed-task queue that fires batch
// windows and delivery retries. Tasks live in a redis sorted set scored
// by due time and are claimed by polling workers with at-least-once
// semantics, so every handler must be idempotent with respect to
// "nothing to do".
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const tasksKey = "sched:tasks"

// Kind discriminates scheduled task types.
type Kind string

const (
	// KindProcessBatch closes a batch window and runs the processor.
	KindProcessBatch Kind = "process_batch"
	// KindRetryDelivery resends an already-persisted outbound message.
	KindRetryDelivery Kind = "retry_delivery"
)

// Task is one scheduled unit of work.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	SessionKey string    `json:"session_key,omitempty"`
	OrgID      string    `json:"org_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	// ScheduledAt is the instant the task was armed. The batch processor
	// compares it against the latest inbound timestamp to detect stale
	// windows.
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Queue stores tasks until their due time.
type Queue interface {
	// Enqueue schedules a task to become claimable at due.
	Enqueue(ctx context.Context, task Task, due time.Time) error

	// Claim atomically removes and returns one due task, or nil when
	// nothing is due.
	Claim(ctx context.Context, now time.Time) (*Task, error)
}

// RedisQueue implements Queue on a sorted set.
type RedisQueue struct {
	client redis.UniversalClient
}

// NewRedisQueue constructs the redis-backed queue.
func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task, due time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	err = q.client.ZAdd(ctx, tasksKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// claimScript pops one due member so two workers can never claim the
// same task.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
	return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

func (q *RedisQueue) Claim(ctx context.Context, now time.Time) (*Task, error) {
	raw, err := claimScript.Run(ctx, q.client, []string{tasksKey},
		strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}

	payload, ok := raw.(string)
	if !ok || payload == "" {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

var _ Queue = (*RedisQueue)(nil)

// MemoryQueue is an in-process Queue for unit tests.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []memoryTask
}

type memoryTask struct {
	task Task
	due  time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, memoryTask{task: task, due: due})
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].due.Before(q.tasks[j].due)
	})
	for i, entry := range q.tasks {
		if !entry.due.After(now) {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			task := entry.task
			return &task, nil
		}
	}
	return nil, nil
}

// Pending returns the queued tasks. Test use only.
func (q *MemoryQueue) Pending() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.tasks))
	for _, entry := range q.tasks {
		out = append(out, entry.task)
	}
	return out
}

var _ Queue = (*MemoryQueue)(nil)
