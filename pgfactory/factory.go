// Package pgfactory provides a postgres-backed connection factory for
// pool.New, built on pgx. Each pooled connection is a single *pgx.Conn
// with a liveness watcher that reports silent disconnects through the
// fault channel.
package pgfactory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/poolworks/connpool/pool"
)

const (
	defaultDialTries   = 3
	defaultPingEvery   = 5 * time.Second
	maxDialInterval    = 2 * time.Second
	defaultDialTimeout = 10 * time.Second
)

// Factory dials postgres connections for a pool.
type Factory struct {
	connString string
	dialTries  int
	pingEvery  time.Duration
}

var _ pool.Factory = (*Factory)(nil)

type Opt func(*Factory)

// DialTries sets how many connect attempts a single Connect call makes
// before giving up.
func DialTries(n int) Opt {
	return func(f *Factory) {
		if n < 1 {
			n = 1
		}
		f.dialTries = n
	}
}

// PingEvery sets how often each connection checks its own liveness.
func PingEvery(d time.Duration) Opt {
	return func(f *Factory) { f.pingEvery = d }
}

// New returns a factory that dials connString.
func New(connString string, opts ...Opt) *Factory {
	f := &Factory{
		connString: connString,
		dialTries:  defaultDialTries,
		pingEvery:  defaultPingEvery,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect dials postgres, retrying transient failures with exponential
// backoff. The caller's context bounds the whole attempt.
func (f *Factory) Connect(ctx context.Context) (pool.Conn, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxDialInterval

	var lastErr error
	for try := 1; try <= f.dialTries; try++ {
		dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		conn, err := pgx.Connect(dialCtx, f.connString)
		cancel()
		if err == nil {
			return newPgConn(conn, f.pingEvery), nil
		}
		lastErr = err
		log.Printf("pgfactory: dial attempt %d/%d: %v", try, f.dialTries, err)

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxDialInterval
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, fmt.Errorf("dial postgres after %d tries: %w", f.dialTries, lastErr)
}

// Close stops the connection's watcher and closes the underlying
// *pgx.Conn. The fault channel is closed once the watcher has exited.
func (f *Factory) Close(ctx context.Context, conn pool.Conn) error {
	c, ok := conn.(*pgConn)
	if !ok {
		return fmt.Errorf("close: connection not built by this factory")
	}
	close(c.stop)
	<-c.done
	close(c.faults)
	if err := c.conn.Close(ctx); err != nil {
		return fmt.Errorf("close postgres connection: %w", err)
	}
	return nil
}

type pgConn struct {
	conn      *pgx.Conn
	pingEvery time.Duration
	faults    chan error
	stop      chan struct{}
	done      chan struct{}
}

var _ pool.Conn = (*pgConn)(nil)

func newPgConn(conn *pgx.Conn, pingEvery time.Duration) *pgConn {
	c := &pgConn{
		conn:      conn,
		pingEvery: pingEvery,
		faults:    make(chan error, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.watch()
	return c
}

// watch reports the underlying connection dying out from under us.
// It only inspects local connection state. Sending a probe query here
// would race with Exec on the same *pgx.Conn.
func (c *pgConn) watch() {
	defer close(c.done)
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.conn.IsClosed() {
				c.faults <- fmt.Errorf("postgres connection closed")
				return
			}
		}
	}
}

// Exec runs cmd and returns the result rows as []map[string]any with
// driver-specific values flattened to plain JSON types.
func (c *pgConn) Exec(ctx context.Context, cmd string, args ...any) (any, error) {
	rows, err := c.conn.Query(ctx, cmd, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var cols []string
	for _, fd := range rows.FieldDescriptions() {
		cols = append(cols, fd.Name)
	}

	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return normalizeRows(out)
}

// normalizeRows round-trips rows through JSON so callers see plain
// strings, float64s and bools instead of pgtype values.
func normalizeRows(rows []map[string]any) (any, error) {
	if rows == nil {
		return []map[string]any{}, nil
	}
	buf, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return out, nil
}

func (c *pgConn) Faults() <-chan error {
	return c.faults
}
