// Package pipeline provides the bounded-queue, worker-pool machinery the
// client drives its upload path through: fixed-size worker pools read
// from one shared input queue and tag their results with the input's
// original sequence number, and a deterministic reorder buffer
// reassembles strict input order before the next stage sees it.
package pipeline

// Record is one item moving through the pipeline, tagged with its
// original sequence number so a fan-out stage's workers can finish out
// of order while the result stream stays in input order.
type Record struct {
	Seq     uint64
	Payload interface{}
	Err     error
}

// Queue is a bounded, closable channel of Records: the Go-native
// counterpart of a bounded single-producer/single-consumer queue with a
// sticky done flag. Pushing to a full Queue blocks until a consumer
// makes room; popping from an empty, still-open Queue blocks until an
// item arrives or the queue is closed and drained. A closed channel
// still yields its buffered items before reporting closed, so a
// producer's Close is enough to let every consumer drain what's already
// queued before it sees end-of-stream.
type Queue struct {
	ch chan Record
}

// NewQueue creates a Queue with the given bounded capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Record, capacity)}
}

// Push enqueues r, blocking while the queue is full.
func (q *Queue) Push(r Record) { q.ch <- r }

// Pop dequeues the next Record, or returns ok=false once the queue is
// closed and fully drained.
func (q *Queue) Pop() (Record, bool) {
	r, ok := <-q.ch
	return r, ok
}

// Close marks the queue done. A producer must call this exactly once
// after its last Push so consumers can observe end-of-stream.
func (q *Queue) Close() { close(q.ch) }
