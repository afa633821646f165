package pool

import (
	"context"
	"fmt"
)

// The callback variants below are thin wrappers over the result-returning
// core: the same state machine serves both calling conventions, and errors
// always arrive through whichever convention the caller picked.

// GetFunc borrows a connection and delivers (client, err) to cb.
func (p *ConnPool) GetFunc(ctx context.Context, cb func(*Client, error)) {
	go func() {
		cb(p.Get(ctx))
	}()
}

// Do borrows a connection, runs one unit of work on it, and releases it in
// all cases, so callers never need a manual release for the common case.
// An empty cmd fails with ErrInvalidWork instead of dialing.
func (p *ConnPool) Do(ctx context.Context, cmd string, args ...any) (any, error) {
	if cmd == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidWork)
	}

	c, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}

	res, workErr := c.Exec(ctx, cmd, args...)
	relErr := c.Release(false)
	if workErr != nil {
		return nil, workErr
	}
	if relErr != nil {
		return nil, relErr
	}
	return res, nil
}

// DoFunc runs Do and delivers (result, err) to cb.
func (p *ConnPool) DoFunc(ctx context.Context, cmd string, args []any, cb func(any, error)) {
	go func() {
		cb(p.Do(ctx, cmd, args...))
	}()
}

// EndFunc drains the pool and delivers the drain result to cb.
func (p *ConnPool) EndFunc(cb func(error)) {
	go func() {
		cb(p.End(context.Background()))
	}()
}
