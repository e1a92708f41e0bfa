package task

import (
	"container/list"
	"sync"
)

// queue is a FIFO of pending task ids that supports removal from the middle.
type queue struct {
	mu    sync.Mutex
	items *list.List
	index map[string]*list.Element
	// ready holds at most one wake-up token for idle workers.
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{
		items: list.New(),
		index: make(map[string]*list.Element),
		ready: make(chan struct{}, 1),
	}
}

func (q *queue) push(id string) {
	q.mu.Lock()
	q.index[id] = q.items.PushBack(id)
	q.mu.Unlock()
	q.signal()
}

// pop removes the oldest id. Another worker is woken if more remain.
func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	front := q.items.Front()
	if front == nil {
		q.mu.Unlock()
		return "", false
	}
	id := q.items.Remove(front).(string)
	delete(q.index, id)
	more := q.items.Len() > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return id, true
}

func (q *queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[id]
	if !ok {
		return false
	}
	q.items.Remove(el)
	delete(q.index, id)
	return true
}

// drain empties the queue and returns the ids in FIFO order.
func (q *queue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(string))
	}
	q.items.Init()
	q.index = make(map[string]*list.Element)
	return ids
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
