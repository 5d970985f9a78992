package engine

import "github.com/polysim/polysim/wire"

// UpdateQueue is a FIFO of inbound updates waiting to be applied to a
// runner's state.
type UpdateQueue struct {
	queue []*wire.Update
}

func NewUpdateQueue() *UpdateQueue {
	return &UpdateQueue{queue: make([]*wire.Update, 0)}
}

// Enqueue appends an update to the back of the queue. Nil updates are
// dropped.
func (q *UpdateQueue) Enqueue(u *wire.Update) {
	if u == nil {
		return
	}
	q.queue = append(q.queue, u)
}

func (q *UpdateQueue) Len() int {
	return len(q.queue)
}

// Peek returns the update at the front of the queue without removing it.
// Returns nil if the queue is empty.
func (q *UpdateQueue) Peek() *wire.Update {
	if len(q.queue) == 0 {
		return nil
	}
	return q.queue[0]
}

// Dequeue removes and returns the update at the front of the queue.
// Returns nil if the queue is empty.
func (q *UpdateQueue) Dequeue() *wire.Update {
	if len(q.queue) == 0 {
		return nil
	}
	u := q.queue[0]
	q.queue = q.queue[1:]
	return u
}
