package pool

import "errors"

var (
	// ErrPoolClosed fails any operation begun after shutdown has started.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrDoubleRelease reports a second release of the same handle. It is
	// a programmer error and is returned synchronously, every time.
	ErrDoubleRelease = errors.New("client already released")

	// ErrAcquireTimeout fails a queued borrower whose wait deadline
	// expired.
	ErrAcquireTimeout = errors.New("timed out waiting for a connection")

	// ErrInvalidWork rejects a convenience call with no work payload.
	ErrInvalidWork = errors.New("no work given")

	// ErrIdleExpired is the eviction cause reported when the reaper
	// closes an idle connection.
	ErrIdleExpired = errors.New("idle connection expired")
)
