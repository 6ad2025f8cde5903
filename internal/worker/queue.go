package worker

import (
	"sync"
)

// Queue is a de-duplicating trigger queue. A key stays pending until it is
// dequeued, so a burst of events for the same root collapses into one run.
type Queue struct {
	ch        chan string
	mu        sync.Mutex
	enqueued  map[string]struct{}
	accepting bool
}

func NewQueue(buf int) *Queue {
	return &Queue{
		ch:        make(chan string, buf*2+10),
		enqueued:  make(map[string]struct{}),
		accepting: true,
	}
}

// Enqueue adds key unless it is already pending, the queue is closed or
// its buffer is full.
func (q *Queue) Enqueue(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.accepting {
		return false
	}
	if _, ok := q.enqueued[key]; ok {
		return false
	}
	select {
	case q.ch <- key:
		q.enqueued[key] = struct{}{}
		return true
	default:
		return false
	}
}

// Dequeued releases key so it can be enqueued again.
func (q *Queue) Dequeued(key string) {
	q.mu.Lock()
	delete(q.enqueued, key)
	q.mu.Unlock()
}

func (q *Queue) StopAccepting() {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()
}

func (q *Queue) Chan() <-chan string { return q.ch }

// Len is the number of pending keys.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}
