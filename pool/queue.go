package pool

// pending is the result handed to a queued borrower.
type pending struct {
	client *Client
	err    error
}

// waiter is one queued borrow request. Its channel has capacity 1 so that
// fulfillment never blocks on a borrower that stopped listening.
type waiter struct {
	ch chan pending
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan pending, 1)}
}

// waitQueue is a FIFO of borrowers waiting for a connection. All access is
// guarded by the pool mutex. A waiter can be withdrawn without disturbing
// the order of the rest.
type waitQueue struct {
	ws []*waiter
}

func (q *waitQueue) push(w *waiter) {
	q.ws = append(q.ws, w)
}

func (q *waitQueue) pop() *waiter {
	if len(q.ws) == 0 {
		return nil
	}
	w := q.ws[0]
	q.ws = q.ws[1:]
	return w
}

// remove withdraws w, reporting false when w was already popped.
func (q *waitQueue) remove(w *waiter) bool {
	for i, x := range q.ws {
		if x == w {
			q.ws = append(q.ws[:i], q.ws[i+1:]...)
			return true
		}
	}
	return false
}

func (q *waitQueue) len() int {
	return len(q.ws)
}

// drain empties the queue, returning the waiters in arrival order.
func (q *waitQueue) drain() []*waiter {
	ws := q.ws
	q.ws = nil
	return ws
}
