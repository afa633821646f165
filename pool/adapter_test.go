package pool

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/sourcegraph/conc"
)

func TestDoAutoReleases(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	res, err := p.Do(ctx, "SELECT 1")
	assert.NoError(t, err)
	assert.Equal(t, "ok:SELECT 1", res.(string))
	assertCounts(t, p, 1, 1, 0)

	// A failing unit of work still releases.
	_, err = p.Do(ctx, "boom")
	assert.IsError(t, err, ErrMockExec)
	assertCounts(t, p, 1, 1, 0)

	assert.NoError(t, p.End(ctx))
}

func TestDoEmptyCommand(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	_, err := p.Do(ctx, "")
	assert.IsError(t, err, ErrInvalidWork)

	// The misuse is reported through the callback convention too,
	// not by panicking or hanging.
	got := make(chan error, 1)
	p.DoFunc(ctx, "", nil, func(_ any, err error) {
		got <- err
	})
	assert.IsError(t, <-got, ErrInvalidWork)

	// No dial happened for either misuse.
	assert.Equal(t, 0, f.Connects())
	assert.NoError(t, p.End(ctx))
}

func TestGetFunc(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	type result struct {
		c   *Client
		err error
	}
	got := make(chan result, 1)
	p.GetFunc(ctx, func(c *Client, err error) {
		got <- result{c, err}
	})

	res := <-got
	assert.NoError(t, res.err)
	assert.NoError(t, res.c.Release(false))
	assert.NoError(t, p.End(ctx))
}

func TestEndFunc(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)
	assert.NoError(t, c.Release(false))

	got := make(chan error, 1)
	p.EndFunc(func(err error) { got <- err })
	assert.NoError(t, <-got)
	assertCounts(t, p, 0, 0, 0)
}

func TestFiveFailingCallbacksThenSuccess(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	fails := make(chan error, 5)
	var wg conc.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Go(func() {
			done := make(chan error, 1)
			p.DoFunc(ctx, "boom", nil, func(_ any, err error) {
				done <- err
			})
			fails <- <-done
		})
	}
	wg.Wait()
	close(fails)

	n := 0
	for err := range fails {
		assert.IsError(t, err, ErrMockExec)
		n++
	}
	assert.Equal(t, 5, n)

	res, err := p.Do(ctx, "SELECT NOW()")
	assert.NoError(t, err)
	assert.Equal(t, "ok:SELECT NOW()", res.(string))
	assert.Equal(t, 1, f.Connects())

	assert.NoError(t, p.End(ctx))
}
