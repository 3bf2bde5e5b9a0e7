package jobs

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of job ids connecting submission to processing.
// Entries carry no payload: the consumer re-fetches authoritative state from
// the registry, so nothing read at enqueue time can go stale.
type Queue struct {
	mu     sync.Mutex
	ids    []string
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Enqueue never blocks.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue suspends the caller until an item is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			id := q.ids[0]
			q.ids = q.ids[1:]
			remaining := len(q.ids)
			q.mu.Unlock()
			if remaining > 0 {
				// Keep the signal armed for items left behind.
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		}
	}
}

// Len reports the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
