package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/poolworks/connpool/stats"
)

const (
	statsConnect = "connect"
	statsAcquire = "acquire"
	statsExec    = "exec"
	statsDestroy = "destroy"
)

// ConnPool is a bounded pool of factory-built connections. The zero value
// is not usable; construct with New.
//
// One mutex serializes all bookkeeping (idle list, in-use set, pending
// creates, wait queue, ended flag); the connections' own I/O runs outside
// the lock.
type ConnPool struct {
	factory Factory
	max     int

	acquireTimeout time.Duration
	idleTimeout    time.Duration
	limiter        *rate.Limiter
	monitor        Monitor
	now            func() time.Time

	timings *stats.Set

	reapCancel context.CancelFunc
	reapDone   chan struct{}

	drainOnce sync.Once
	drained   chan struct{}

	mu            sync.Mutex
	ended         bool
	quiesced      bool
	drainErr      error
	idle          []*Client
	inUse         map[string]*Client
	pendingCreate int
	waiters       waitQueue
}

var _ Pool = (*ConnPool)(nil)

type Opt func(*ConnPool)

// Max caps the number of live connections. Values below 1 are clamped to 1.
func Max(n int) Opt {
	if n < 1 {
		n = 1
	}
	return func(p *ConnPool) { p.max = n }
}

// AcquireTimeout bounds how long a borrower may sit in the wait queue
// before failing with ErrAcquireTimeout. Zero means wait indefinitely.
func AcquireTimeout(d time.Duration) Opt {
	return func(p *ConnPool) { p.acquireTimeout = d }
}

// IdleTimeout evicts idle connections unused for longer than d. Zero
// disables the reaper.
func IdleTimeout(d time.Duration) Opt {
	return func(p *ConnPool) { p.idleTimeout = d }
}

// ConnectRate throttles factory dials.
func ConnectRate(r rate.Limit, burst int) Opt {
	return func(p *ConnPool) { p.limiter = rate.NewLimiter(r, burst) }
}

// WithMonitor subscribes m to pool lifecycle events.
func WithMonitor(m Monitor) Opt {
	return func(p *ConnPool) { p.monitor = m }
}

// WithClock overrides the pool's clock, for tests.
func WithClock(now func() time.Time) Opt {
	return func(p *ConnPool) { p.now = now }
}

// New creates a pool of up to Max connections built by factory. Every pool
// is an explicitly owned object; the caller manages its lifecycle from
// construction through End.
func New(factory Factory, opts ...Opt) *ConnPool {
	if factory == nil {
		panic("pool: nil factory")
	}

	p := &ConnPool{
		factory: factory,
		max:     10,
		now:     time.Now,
		timings: stats.NewSet(statsConnect, statsAcquire, statsExec, statsDestroy),
		inUse:   make(map[string]*Client),
		drained: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.idleTimeout > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		p.reapCancel = cancel
		p.reapDone = make(chan struct{})
		go p.reap(ctx)
	}
	return p
}

// Get borrows a connection: an idle one when available (most recently
// released first), a fresh dial when under capacity, and otherwise the
// caller joins the wait queue in arrival order.
func (p *ConnPool) Get(ctx context.Context) (*Client, error) {
	dt := p.timings.Start(statsAcquire)
	defer dt.End()

	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkOutLocked(c)
		p.mu.Unlock()
		p.emit(EventCheckedOut, c, nil)
		return c, nil
	}

	if p.totalLocked() < p.max {
		p.pendingCreate++
		p.mu.Unlock()

		c, err := p.dial(ctx)

		p.mu.Lock()
		if err != nil {
			// The failure belongs to this caller alone. A freed slot
			// with borrowers still queued gets a fresh dial of its own.
			p.pendingCreate--
			p.fillLocked()
			p.checkQuiescedLocked()
			p.mu.Unlock()
			return nil, err
		}
		if p.ended {
			c.state = stateEnded
			p.mu.Unlock()
			p.destroyDialedAfterEnd(c)
			return nil, ErrPoolClosed
		}
		p.pendingCreate--
		p.checkOutLocked(c)
		p.mu.Unlock()
		p.emit(EventCreated, c, nil)
		p.emit(EventCheckedOut, c, nil)
		return c, nil
	}

	w := newWaiter()
	p.waiters.push(w)
	p.mu.Unlock()

	log.Printf("pool: get: at capacity, waiting")
	return p.wait(ctx, w)
}

// wait blocks a queued borrower until it is handed a connection, its
// deadline expires, its context ends, or the pool ends.
func (p *ConnPool) wait(ctx context.Context, w *waiter) (*Client, error) {
	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		p.emit(EventCheckedOut, res.client, nil)
		return res.client, nil
	case <-timeout:
		return nil, p.withdraw(w, ErrAcquireTimeout)
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			// A deadline waiter times out the same way an
			// AcquireTimeout waiter does.
			err = ErrAcquireTimeout
		}
		return nil, p.withdraw(w, err)
	}
}

// withdraw removes w from the queue without disturbing the order of the
// remaining waiters. If fulfillment won the race, the handed connection
// goes straight back to the pool.
func (p *ConnPool) withdraw(w *waiter, cause error) error {
	p.mu.Lock()
	removed := p.waiters.remove(w)
	p.mu.Unlock()
	if removed {
		return cause
	}

	res := <-w.ch
	if res.client != nil {
		if err := res.client.Release(false); err != nil {
			log.Printf("pool: withdraw %s: %v", res.client.ID, err)
		}
	}
	if res.err != nil {
		log.Printf("pool: withdraw: dropping dial error: %v", res.err)
	}
	return cause
}

// dial builds one connection through the factory, honoring the optional
// connect throttle.
func (p *ConnPool) dial(ctx context.Context) (*Client, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("connect throttle: %w", err)
		}
	}

	dt := p.timings.Start(statsConnect)
	defer dt.End()

	conn, err := p.factory.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("factory.Connect: %w", err)
	}

	c := newClient(p, conn)
	log.Printf("pool: dial: connected %s", c.ID)
	return c, nil
}

// put takes back a released connection. A faulted connection is destroyed
// and its slot re-dialed for the head waiter; a healthy one is handed to
// the head waiter directly (it never visits the idle list) or parked idle.
func (p *ConnPool) put(c *Client, fault bool) {
	p.mu.Lock()

	if fault || c.errored || p.ended {
		bad := fault || c.errored
		c.state = stateEnded
		p.mu.Unlock()

		reason := "pool draining"
		if bad {
			reason = "returned with fault"
		}
		err := p.destroyClient(c, reason)

		p.mu.Lock()
		delete(p.inUse, c.ID)
		if bad && !p.ended {
			p.fillLocked()
		}
		if p.ended {
			p.drainErr = errors.Join(p.drainErr, err)
			p.checkQuiescedLocked()
		}
		p.mu.Unlock()
		p.emit(EventDestroyed, c, nil)
		return
	}

	if w := p.waiters.pop(); w != nil {
		p.checkOutLocked(c)
		p.mu.Unlock()
		w.ch <- pending{client: c}
		return
	}

	c.state = stateIdle
	c.idleSince = p.now()
	delete(p.inUse, c.ID)
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.emit(EventCheckedIn, c, nil)
}

// fault handles a connection's asynchronous failure signal. An idle
// connection is evicted on the spot; an in-use one is only marked, and the
// removal happens when the borrower releases it.
func (p *ConnPool) fault(c *Client, cause error) {
	p.mu.Lock()
	switch c.state {
	case stateInUse:
		c.errored = true
		p.mu.Unlock()
		log.Printf("pool: fault on in-use %s: %v", c.ID, cause)

	case stateIdle:
		p.removeIdleLocked(c)
		c.state = stateEnded
		p.mu.Unlock()

		log.Printf("pool: fault on idle %s, evicting: %v", c.ID, cause)
		if err := p.destroyClient(c, "idle fault"); err != nil {
			log.Printf("pool: evict %s: %v", c.ID, err)
		}
		p.emit(EventEviction, c, cause)

		p.mu.Lock()
		p.fillLocked()
		p.mu.Unlock()

	default:
		p.mu.Unlock()
	}
}

// fillLocked dials replacements for queued borrowers when capacity allows.
func (p *ConnPool) fillLocked() {
	for !p.ended && p.waiters.len() > 0 && p.totalLocked() < p.max {
		p.pendingCreate++
		go p.fillOne()
	}
}

// fillOne dials one connection on behalf of the head waiter. A dial
// failure is reported to that waiter alone; the rest stay queued and, if
// capacity still allows, get dials of their own.
func (p *ConnPool) fillOne() {
	c, err := p.dial(context.Background())

	p.mu.Lock()

	if err != nil {
		p.pendingCreate--
		w := p.waiters.pop()
		p.fillLocked()
		p.checkQuiescedLocked()
		p.mu.Unlock()
		if w != nil {
			w.ch <- pending{err: err}
		}
		return
	}

	if p.ended {
		c.state = stateEnded
		p.mu.Unlock()
		p.destroyDialedAfterEnd(c)
		return
	}

	p.pendingCreate--
	if w := p.waiters.pop(); w != nil {
		p.checkOutLocked(c)
		p.mu.Unlock()
		p.emit(EventCreated, c, nil)
		w.ch <- pending{client: c}
		return
	}

	// Everyone withdrew while we dialed.
	c.state = stateIdle
	c.idleSince = p.now()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.emit(EventCreated, c, nil)
}

// destroyClient tears down one connection: the fault subscription ends and
// the factory closes the raw connection. Callers transition the client to
// stateEnded under the lock first, which guarantees a single destroy.
func (p *ConnPool) destroyClient(c *Client, reason string) error {
	log.Printf("pool: destroy %s: %s", c.ID, reason)
	close(c.stopWatch)

	dt := p.timings.Start(statsDestroy)
	defer dt.End()

	if err := p.factory.Close(context.Background(), c.conn); err != nil {
		return fmt.Errorf("factory.Close %s: %w", c.ID, err)
	}
	return nil
}

func (p *ConnPool) checkOutLocked(c *Client) {
	c.state = stateInUse
	c.released = false
	p.inUse[c.ID] = c
}

func (p *ConnPool) removeIdleLocked(c *Client) {
	for i, x := range p.idle {
		if x == c {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

func (p *ConnPool) totalLocked() int {
	return len(p.idle) + len(p.inUse) + p.pendingCreate
}

// Total reports live connections: idle, in use, and being established.
func (p *ConnPool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLocked()
}

// Idle reports connections ready to be borrowed.
func (p *ConnPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Waiting reports queued borrowers.
func (p *ConnPool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.len()
}

// Stats snapshots the pool's operation timings.
func (p *ConnPool) Stats() map[string]stats.Snapshot {
	return p.timings.Snapshot()
}
