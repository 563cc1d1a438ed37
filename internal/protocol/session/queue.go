package session

import (
	"context"
	"sync"
)

// Outbound is one serialized request waiting for the wire.
type Outbound struct {
	ConversationID string
	RequestID      string
	Seq            uint64
	Payload        []byte
}

// SendQueue is an unbounded FIFO shared by request producers and the single link writer.
type SendQueue struct {
	mu     sync.Mutex
	items  []Outbound
	notify chan struct{}
}

func NewSendQueue() *SendQueue {
	return &SendQueue{notify: make(chan struct{}, 1)}
}

// Push appends item at the tail.
func (q *SendQueue) Push(item Outbound) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

// PushFront places items ahead of everything queued, keeping their relative order.
func (q *SendQueue) PushFront(items ...Outbound) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	merged := make([]Outbound, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged
	q.mu.Unlock()
	q.signal()
}

// Pop blocks until an item is available or ctx is done.
func (q *SendQueue) Pop(ctx context.Context) (Outbound, error) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return Outbound{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *SendQueue) TryPop() (Outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Outbound{}, false
	}
	item := q.items[0]
	q.items[0] = Outbound{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *SendQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
