package pool

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestExecAfterReleaseFails(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)
	assert.NoError(t, c.Release(false))

	_, err = c.Exec(ctx, "SELECT 1")
	assert.Error(t, err)

	assert.NoError(t, p.End(ctx))
}

func TestWorkFailureKeepsConnectionUsable(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)

	_, err = c.Exec(ctx, "boom")
	assert.IsError(t, err, ErrMockExec)

	// A failed unit of work alone does not condemn the connection.
	res, err := c.Exec(ctx, "SELECT 1")
	assert.NoError(t, err)
	assert.Equal(t, "ok:SELECT 1", res.(string))

	assert.NoError(t, c.Release(false))
	assertCounts(t, p, 1, 1, 0)
	assert.Equal(t, 0, f.Closes())

	assert.NoError(t, p.End(ctx))
}

func TestConnExposesRawConnection(t *testing.T) {
	f := NewMockFactory()
	p := New(f, Max(1))
	ctx := context.Background()

	c, err := p.Get(ctx)
	assert.NoError(t, err)

	mc, ok := c.Conn().(*MockConn)
	assert.True(t, ok)
	assert.Equal(t, 1, mc.Seq)

	assert.NoError(t, c.Release(false))
	assert.NoError(t, p.End(ctx))
}
