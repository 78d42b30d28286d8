package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/hse-digital/datalayer/internal/domain"
	"github.com/hse-digital/datalayer/internal/health"
)

// Conn is a checked-out pooled connection bound to one endpoint. Every
// command that fails with a connection-level error (not an application
// error) immediately marks the endpoint unhealthy in the shared health
// table, so routing reacts before the next probe cycle.
type Conn struct {
	conn   *sql.Conn
	key    string
	region domain.RegionID
	health *health.Table
}

// Region returns the region the connection belongs to.
func (c *Conn) Region() domain.RegionID { return c.region }

// ExecContext runs a statement on the endpoint.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	c.observe(err)
	return res, err
}

// QueryContext runs a query on the endpoint.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	c.observe(err)
	return rows, err
}

// QueryRowContext runs a single-row query on the endpoint.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on the endpoint.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, opts)
	c.observe(err)
	return tx, err
}

// Close returns the connection to its pool.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) observe(err error) {
	if err == nil {
		return
	}
	if IsConnectionError(err) {
		c.health.ReportFailure(c.key, err)
	}
}

// IsConnectionError reports whether err is a transport-level failure as
// opposed to an application error (constraint violation, bad SQL, …).
// Only the former invalidates endpoint health.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
