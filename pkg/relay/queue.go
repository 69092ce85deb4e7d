package relay

import "context"

// dispatchQueue serializes driver-touching commands onto a single worker so
// concurrent client commands cannot interleave navigation state on the one
// shared browser page. Submission order is execution order.
type dispatchQueue struct {
	tasks chan func(context.Context)
}

func newDispatchQueue(buffer int) *dispatchQueue {
	return &dispatchQueue{
		tasks: make(chan func(context.Context), buffer),
	}
}

// run executes queued tasks until the context is cancelled. Exactly one
// run loop should be active per queue.
func (q *dispatchQueue) run(ctx context.Context) {
	for {
		select {
		case task := <-q.tasks:
			task(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues a task. Blocks when the queue is full, which backpressures
// the submitting client's read loop without affecting other clients.
func (q *dispatchQueue) submit(task func(context.Context)) {
	q.tasks <- task
}
