package audit

import (
	"context"
	"sync"
)

// Queue serializes writes to a slower sink through a single writer
// goroutine. Records reach the underlying sink in the order Record was
// entered, and a caller whose context expires stops waiting without
// losing its place: the record is still written.
type Queue struct {
	next Sink
	jobs chan queued
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

type queued struct {
	rec  Record
	errc chan error
}

// NewQueue starts the writer goroutine. size bounds the number of pending
// records; callers block once it is full.
func NewQueue(next Sink, size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		next: next,
		jobs: make(chan queued, size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for j := range q.jobs {
		j.errc <- q.next.Record(context.Background(), j.rec)
	}
}

// Record enqueues r and waits for the write or for ctx to end.
func (q *Queue) Record(ctx context.Context, r Record) error {
	errc := make(chan error, 1)

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return &WriteError{Sink: "queue", Err: ErrClosed}
	}
	select {
	case q.jobs <- queued{rec: r, errc: errc}:
	case <-ctx.Done():
		q.mu.RUnlock()
		return &WriteError{Sink: "queue", Err: ctx.Err()}
	}
	q.mu.RUnlock()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return &WriteError{Sink: "queue", Err: ctx.Err()}
	}
}

// Close drains pending records and closes the underlying sink.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
		<-q.done
		q.closeErr = q.next.Close()
	})
	return q.closeErr
}
