package pool

import (
	"context"
	"log"
	"time"

	"github.com/samber/lo"
)

func sleepWithContext(ctx context.Context, dt time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(dt):
		return nil
	}
}

// reap periodically evicts idle connections unused for longer than
// IdleTimeout. It is an optional policy on top of the same eviction path
// that handles idle faults; no pool invariant depends on it.
func (p *ConnPool) reap(ctx context.Context) {
	defer close(p.reapDone)

	// Sweep at the idle timeout itself for short timeouts, and at most
	// once a second otherwise.
	every := p.idleTimeout
	if every > time.Second {
		every = time.Second
	}

	log.Printf("pool: reaper started")
	for {
		if err := sleepWithContext(ctx, every); err != nil {
			log.Printf("pool: reaper exiting")
			return
		}

		cutoff := p.now().Add(-p.idleTimeout)
		p.mu.Lock()
		if p.ended {
			p.mu.Unlock()
			return
		}
		expired, keep := lo.FilterReject(p.idle, func(c *Client, _ int) bool {
			return c.idleSince.Before(cutoff)
		})
		p.idle = keep
		for _, c := range expired {
			c.state = stateEnded
		}
		p.mu.Unlock()

		for _, c := range expired {
			if err := p.destroyClient(c, "idle timeout"); err != nil {
				log.Printf("pool: reap %s: %v", c.ID, err)
			}
			p.emit(EventEviction, c, ErrIdleExpired)
		}
	}
}
