package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMockExec is the work failure produced by a MockConn given the command
// "boom".
var ErrMockExec = errors.New("mock exec failed")

// MockFactory is an in-memory Factory for tests and benchmarks. Work sent
// to its connections echoes back as "ok:<cmd>"; the command "boom" fails
// with ErrMockExec.
type MockFactory struct {
	// ConnectHook, when set, is consulted on each connect with the
	// 1-based attempt number; a non-nil return fails that connect.
	ConnectHook func(attempt int) error

	mu       sync.Mutex
	connects int
	closes   int
	open     int
}

var _ Factory = (*MockFactory)(nil)

func NewMockFactory() *MockFactory {
	return &MockFactory{}
}

func (f *MockFactory) Connect(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	f.connects++
	n := f.connects
	hook := f.ConnectHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.open++
	f.mu.Unlock()
	return &MockConn{Seq: n, faults: make(chan error, 4)}, nil
}

func (f *MockFactory) Close(ctx context.Context, conn Conn) error {
	mc := conn.(*MockConn)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return fmt.Errorf("mock conn %d closed twice", mc.Seq)
	}
	mc.closed = true
	close(mc.faults)

	f.mu.Lock()
	f.closes++
	f.open--
	f.mu.Unlock()
	return nil
}

// Connects reports how many connects were attempted.
func (f *MockFactory) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Closes reports how many connections were destroyed.
func (f *MockFactory) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Open reports connections currently alive.
func (f *MockFactory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// MockConn is a connection built by MockFactory. Seq is the 1-based
// connect attempt that produced it.
type MockConn struct {
	Seq int

	mu     sync.Mutex
	closed bool
	faults chan error
}

func (c *MockConn) Exec(ctx context.Context, cmd string, args ...any) (any, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("mock conn %d: use after close", c.Seq)
	}

	if cmd == "boom" {
		return nil, ErrMockExec
	}
	return "ok:" + cmd, nil
}

func (c *MockConn) Faults() <-chan error {
	return c.faults
}

// Fault injects an asynchronous connection failure, as a broken socket
// would. A no-op after the connection is destroyed.
func (c *MockConn) Fault(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.faults <- err
	}
}
