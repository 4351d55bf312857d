// Package sendqueue implements the connection's outbound FIFO on top of
// github.com/eapache/queue's ring-buffer Queue — the retry buffer a
// non-blocking send pipeline needs once a write comes back short.
package sendqueue

import "github.com/eapache/queue"

// Callback fires once an Item's frame has left the socket (cancelled
// when the connection closed with the item still pending).
type Callback func(userData any, cancelled bool)

// Item is one outbound frame awaiting a full, non-blocking write.
type Item struct {
	Data     []byte
	Callback Callback
	UserData any
}

// Queue is a FIFO of pending Items, not safe for concurrent use; callers
// serialize access under the owning connection's lock.
type Queue struct {
	q *queue.Queue
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// PushBack enqueues item at the tail.
func (q *Queue) PushBack(item *Item) {
	q.q.Add(item)
}

// Front returns the head item without removing it, or nil if empty.
func (q *Queue) Front() *Item {
	if q.q.Length() == 0 {
		return nil
	}
	return q.q.Peek().(*Item)
}

// PopFront removes and returns the head item, or nil if empty.
func (q *Queue) PopFront() *Item {
	if q.q.Length() == 0 {
		return nil
	}
	return q.q.Remove().(*Item)
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	return q.q.Length()
}

// DrainCancelled pops every remaining item in FIFO order and invokes its
// callback with cancelled=true.
func (q *Queue) DrainCancelled() {
	for q.q.Length() > 0 {
		item := q.q.Remove().(*Item)
		if item.Callback != nil {
			item.Callback(item.UserData, true)
		}
	}
}
