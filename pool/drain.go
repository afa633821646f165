package pool

import (
	"context"
	"errors"
	"log"
)

// End drains the pool. Atomically with Get: the ended flag is set, every
// queued borrower fails with ErrPoolClosed, idle connections are destroyed
// now, and in-use connections are destroyed as their borrowers release
// them; End does not interrupt in-flight work. It resolves only once the
// total count reaches zero.
//
// Concurrent calls observe the same single drain and resolve together. The
// first caller gets the accumulated close errors; every later call reports
// ErrPoolClosed once the drain completes.
func (p *ConnPool) End(ctx context.Context) error {
	first := false
	p.drainOnce.Do(func() {
		first = true
		p.beginDrain()
	})

	select {
	case <-p.drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !first {
		return ErrPoolClosed
	}
	p.emit(EventDrained, nil, nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drainErr
}

func (p *ConnPool) beginDrain() {
	log.Printf("pool: end: draining")

	p.mu.Lock()
	p.ended = true
	ws := p.waiters.drain()
	idle := p.idle
	for _, c := range idle {
		c.state = stateEnded
	}
	if p.reapCancel != nil {
		p.reapCancel()
	}
	p.mu.Unlock()

	for _, w := range ws {
		w.ch <- pending{err: ErrPoolClosed}
	}

	// Wait for the reaper to exit; its sweep must not race the drain's
	// destroys.
	if p.reapDone != nil {
		<-p.reapDone
	}

	// Idle connections stay counted until destroyed so that the drain
	// cannot resolve with factory teardown still running.
	go func() {
		var err error
		for _, c := range idle {
			err = errors.Join(err, p.destroyClient(c, "pool draining"))
		}

		p.mu.Lock()
		p.idle = nil
		p.drainErr = errors.Join(p.drainErr, err)
		p.checkQuiescedLocked()
		p.mu.Unlock()
	}()
}

// destroyDialedAfterEnd tears down a connection whose dial lost the race
// with End. The dial stays counted as pending until the teardown is done
// so the drain cannot resolve with factory teardown still running.
func (p *ConnPool) destroyDialedAfterEnd(c *Client) {
	err := p.destroyClient(c, "pool closed during dial")

	p.mu.Lock()
	p.pendingCreate--
	p.drainErr = errors.Join(p.drainErr, err)
	p.checkQuiescedLocked()
	p.mu.Unlock()
}

func (p *ConnPool) checkQuiescedLocked() {
	if !p.ended || p.quiesced {
		return
	}
	if p.totalLocked() == 0 {
		p.quiesced = true
		close(p.drained)
	}
}
