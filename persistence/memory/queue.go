package memory

import (
	"sync"
	"time"

	"github.com/commflow/commflow/persistence"
)

// Queue is an in-memory FIFO work queue.
type Queue struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

var _ persistence.Queue = new(Queue)

func NewQueue() *Queue {
	return &Queue{
		queues: make(map[string][][]byte),
	}
}

func (q *Queue) Push(queueName string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[queueName] = append(q.queues[queueName], message)
	return nil
}

func (q *Queue) Pop(queueName string, batchSize int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.queues[queueName]
	if len(queue) == 0 {
		return []string{}, nil
	}
	n := batchSize
	if n > len(queue) {
		n = len(queue)
	}
	out := make([]string, 0, n)
	for _, msg := range queue[:n] {
		out = append(out, string(msg))
	}
	q.queues[queueName] = queue[n:]
	return out, nil
}

type delayedItem struct {
	due     time.Time
	message []byte
}

// DelayQueue holds messages until their due time.
type DelayQueue struct {
	mu      sync.Mutex
	delayed map[string][]delayedItem
	// now is swappable in tests
	now func() time.Time
}

var _ persistence.DelayQueue = new(DelayQueue)

func NewDelayQueue() *DelayQueue {
	return &DelayQueue{
		delayed: make(map[string][]delayedItem),
		now:     time.Now,
	}
}

// SetClock overrides the queue's clock; tests use it to move time forward
// without sleeping.
func (q *DelayQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *DelayQueue) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[queueName] = append(q.delayed[queueName], delayedItem{
		due:     q.now().Add(delay),
		message: message,
	})
	return nil
}

func (q *DelayQueue) Pop(queueName string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	remaining := make([]delayedItem, 0, len(q.delayed[queueName]))
	due := make([]string, 0)
	for _, item := range q.delayed[queueName] {
		if item.due.After(now) {
			remaining = append(remaining, item)
		} else {
			due = append(due, string(item.message))
		}
	}
	q.delayed[queueName] = remaining
	return due, nil
}
