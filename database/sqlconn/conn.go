// Package sqlconn implements types.Conn and types.Tx on top of database/sql.
//
// A Conn pins exactly one *sql.Conn from its *sql.DB so that every operation,
// including the transaction, runs on the same server session.
package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"slices"

	"github.com/gaborage/dbscope/database/types"
)

// Opener creates the *sql.DB backing a Conn. It is called once, on first Open.
type Opener func() (*sql.DB, error)

// Options tune vendor-specific behavior of a Conn.
type Options struct {
	// Levels lists the isolation levels the vendor accepts. Empty means all.
	Levels []types.IsolationLevel

	// IsBroken reports errors that mean the session is no longer usable, in
	// addition to driver.ErrBadConn and sql.ErrConnDone.
	IsBroken func(error) bool
}

// Conn implements types.Conn over a single *sql.Conn.
type Conn struct {
	open     Opener
	opts     Options
	db       *sql.DB
	conn     *sql.Conn
	broken   bool
	released bool
}

var _ types.Conn = (*Conn)(nil)

// New returns an unopened Conn.
func New(open Opener, opts Options) *Conn {
	return &Conn{open: open, opts: opts}
}

// Open acquires a session and verifies it with a ping. A previously broken
// session is returned to database/sql before a new one is acquired.
func (c *Conn) Open(ctx context.Context) error {
	if c.released {
		return types.ErrReleased
	}

	if c.db == nil {
		db, err := c.open()
		if err != nil {
			return fmt.Errorf("failed to open database handle: %w", err)
		}
		c.db = db
	}

	if c.conn != nil {
		// best effort: a broken session may refuse to close cleanly
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	c.conn = conn
	c.broken = false
	return nil
}

// State reports the last observed state of the session.
func (c *Conn) State() types.ConnState {
	switch {
	case c.released, c.broken:
		return types.StateClosed
	case c.conn == nil:
		return types.StateUnopened
	default:
		return types.StateOpen
	}
}

// BeginTx starts a transaction on the pinned session.
func (c *Conn) BeginTx(ctx context.Context, level types.IsolationLevel) (types.Tx, error) {
	if c.released {
		return nil, types.ErrReleased
	}
	if c.conn == nil || c.broken {
		return nil, fmt.Errorf("cannot begin transaction: connection is %s", c.State())
	}
	if !level.Valid() || (len(c.opts.Levels) > 0 && !slices.Contains(c.opts.Levels, level)) {
		return nil, fmt.Errorf("isolation level %s is not supported", level)
	}

	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: level.SQL()})
	if err != nil {
		c.observe(err)
		return nil, err
	}
	return &Transaction{tx: tx, conn: c}, nil
}

// Close returns the session to database/sql and closes the handle.
func (c *Conn) Close() error {
	if c.released {
		return nil
	}
	c.released = true

	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, fmt.Errorf("failed to close session: %w", err))
		}
		c.conn = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database handle: %w", err))
		}
		c.db = nil
	}
	return errors.Join(errs...)
}

// Raw exposes the pinned session, or nil when not open.
func (c *Conn) Raw() *sql.Conn {
	return c.conn
}

// observe marks the session broken when err says it can no longer be used.
func (c *Conn) observe(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		(c.opts.IsBroken != nil && c.opts.IsBroken(err)) {
		c.broken = true
	}
}
