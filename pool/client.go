package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type clientState int

const (
	stateCreating clientState = iota
	stateIdle
	stateInUse
	stateEnded
)

// Client is a pooled connection handle. The pool owns the underlying
// connection for the connection's whole life; a borrower holds the handle
// from Get until Release and must release exactly once.
type Client struct {
	ID string

	pool *ConnPool
	conn Conn

	// guarded by pool.mu
	state     clientState
	errored   bool
	released  bool
	idleSince time.Time

	stopWatch chan struct{}
}

func newClient(p *ConnPool, conn Conn) *Client {
	c := &Client{
		ID:        uuid.NewString(),
		pool:      p,
		conn:      conn,
		state:     stateCreating,
		stopWatch: make(chan struct{}),
	}
	go c.watch()
	return c
}

// Conn exposes the raw factory connection to the borrower.
func (c *Client) Conn() Conn {
	return c.conn
}

// Release returns the connection to the pool. Pass fault=true when the
// borrower observed a connection-level failure; the pool then destroys the
// connection instead of reusing it. Releasing a handle that was already
// released fails with ErrDoubleRelease, every time.
//
// A borrower that never releases a faulted handle leaks it: the release
// contract keeps the borrower the single owner, so the pool does not
// reclaim in-use handles on its own.
func (c *Client) Release(fault bool) error {
	p := c.pool

	p.mu.Lock()
	if c.released || c.state != stateInUse {
		p.mu.Unlock()
		return fmt.Errorf("release %s: %w", c.ID, ErrDoubleRelease)
	}
	c.released = true
	p.mu.Unlock()

	p.put(c, fault)
	return nil
}

// Exec runs one unit of work on the borrowed connection. Work failures are
// the factory's own errors and do not condemn the connection unless the
// connection also signals a fault.
func (c *Client) Exec(ctx context.Context, cmd string, args ...any) (any, error) {
	p := c.pool

	p.mu.Lock()
	if c.released || c.state != stateInUse {
		p.mu.Unlock()
		return nil, fmt.Errorf("exec on %s: client is not checked out", c.ID)
	}
	p.mu.Unlock()

	dt := p.timings.Start(statsExec)
	defer dt.End()
	return c.conn.Exec(ctx, cmd, args...)
}

// watch forwards the connection's asynchronous fault signal to the pool
// for as long as the connection lives. The subscription is installed at
// creation and removed at destruction.
func (c *Client) watch() {
	for {
		select {
		case <-c.stopWatch:
			return
		case err, ok := <-c.conn.Faults():
			if !ok {
				return
			}
			c.pool.fault(c, err)
		}
	}
}
