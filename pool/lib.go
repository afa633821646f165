// Package pool implements a bounded pool of expensive, long-lived
// connections. Connection setup, teardown, and work execution are delegated
// to a Factory; the pool tracks idle and in-use connections, queues excess
// borrowers in arrival order, isolates failures to the connection that
// caused them, and supports an orderly total shutdown.
package pool

import "context"

// Pool is the consumer-facing surface of a connection pool.
type Pool interface {
	// Get borrows a connection, waiting if the pool is at capacity.
	Get(ctx context.Context) (*Client, error)

	// Do borrows a connection, runs one unit of work, and releases it
	// in all cases.
	Do(ctx context.Context, cmd string, args ...any) (any, error)

	// End drains the pool. Idempotent; see ConnPool.End.
	End(ctx context.Context) error

	// Point-in-time counts for introspection.
	Total() int
	Idle() int
	Waiting() int
}
