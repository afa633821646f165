package pool

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/sourcegraph/conc"
)

func TestEndWaitsForInUse(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.End(ctx) }()

	// End must not interrupt in-flight work.
	select {
	case err := <-done:
		t.Fatalf("end resolved with connection still borrowed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	assert.NoError(t, c.Release(false))
	assert.NoError(t, <-done)
	assertCounts(t, p, 0, 0, 0)
	assert.Equal(t, 1, f.Closes())
}

func TestEndDestroysIdleNow(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(2))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)
	assert.NoError(t, c.Release(false))
	assertCounts(t, p, 1, 1, 0)

	assert.NoError(t, p.End(ctx))
	assertCounts(t, p, 0, 0, 0)
	assert.Equal(t, 1, f.Closes())
}

func TestEndFailsWaiters(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)

	werr := make(chan error, 1)
	var wg conc.WaitGroup
	wg.Go(func() {
		_, err := p.Get(ctx)
		werr <- err
	})
	eventually(t, "borrower queued", func() bool { return p.Waiting() == 1 })

	done := make(chan error, 1)
	go func() { done <- p.End(ctx) }()

	assert.IsError(t, <-werr, ErrPoolClosed)
	wg.Wait()
	assert.Equal(t, 0, p.Waiting())

	assert.NoError(t, c.Release(false))
	assert.NoError(t, <-done)
}

func TestEndIdempotentConcurrent(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)

	res := make(chan error, 2)
	go func() { res <- p.End(ctx) }()
	go func() { res <- p.End(ctx) }()

	// Both calls must observe the same single drain.
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, c.Release(false))

	first, second := <-res, <-res
	if first == nil {
		assert.IsError(t, second, ErrPoolClosed)
	} else {
		assert.IsError(t, first, ErrPoolClosed)
		assert.NoError(t, second)
	}
	assert.Equal(t, 1, f.Closes())
}

func TestPostEndRejection(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	assert.NoError(t, p.End(ctx))

	_, err := p.Get(ctx)
	assert.IsError(t, err, ErrPoolClosed)

	_, err = p.Do(ctx, "SELECT 1")
	assert.IsError(t, err, ErrPoolClosed)

	assert.IsError(t, p.End(ctx), ErrPoolClosed)
	assertCounts(t, p, 0, 0, 0)
	assert.Equal(t, 0, f.Connects())
}

func TestEndHonorsCallerContext(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	// The borrower never releases, so the drain cannot finish; the
	// caller's context bounds the wait.
	c, err := p.Get(ctx)
	assert.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.IsError(t, p.End(shortCtx), context.DeadlineExceeded)

	assert.NoError(t, c.Release(false))
	// The drain itself still completes; later calls observe it done.
	assert.IsError(t, p.End(ctx), ErrPoolClosed)
	assertCounts(t, p, 0, 0, 0)
}
