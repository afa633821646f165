package pool

import "context"

// Conn is a raw connection owned by a Factory. The pool treats it as opaque
// apart from the fault signal and the ability to run one unit of work.
type Conn interface {
	// Exec runs one unit of work against the connection. The pool does
	// not interpret cmd, args, or the result.
	Exec(ctx context.Context, cmd string, args ...any) (any, error)

	// Faults delivers asynchronous connection failures. The channel is
	// closed when the factory destroys the connection.
	Faults() <-chan error
}

// Factory builds and tears down connections on behalf of a pool.
type Factory interface {
	Connect(ctx context.Context) (Conn, error)
	Close(ctx context.Context, conn Conn) error
}
