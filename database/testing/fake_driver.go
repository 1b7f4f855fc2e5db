// Package testing provides in-memory fakes of the dbscope driver contracts.
//
// TestDriver hands out TestConn values that record every call and can be told
// to fail, so unit-of-work code can be exercised without a database:
//
//	drv := dbtest.NewTestDriver(types.SQLServer)
//	drv.OnConnect(func(c *dbtest.TestConn) {
//	    c.OnBegin(func(tx *dbtest.TestTx) {
//	        tx.WillFailCommit(dbtest.NewClientError(1205, "was deadlocked"))
//	    })
//	})
//	m, _ := scope.New("Server=x;Database=y;", drv)
//	...
//	dbtest.AssertRolledBack(t, drv.LastConn().LastTx())
//
// Fakes are safe for concurrent use so they can be inspected while a
// finalizer runs.
package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/types"
)

// Event names recorded by TestDriver.Events, in call order.
const (
	EventOpen      = "open"
	EventBegin     = "begin"
	EventCommit    = "commit"
	EventRollback  = "rollback"
	EventTxClose   = "tx.close"
	EventConnClose = "conn.close"
)

// ClientError is the error kind TestDriver classifies as a database client
// error, playing the role of pgconn.PgError or mssql.Error.
type ClientError struct {
	Code    int
	Message string
	Cause   error
}

// NewClientError returns a client error with the given code and message.
func NewClientError(code int, message string) *ClientError {
	return &ClientError{Code: code, Message: message}
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// TestDriver implements types.Driver
type TestDriver struct {
	vendor      types.Vendor
	validateErr error
	connectErr  error
	setup       func(*TestConn)
	conns       []*TestConn
	events      []string
	mu          sync.Mutex
}

var _ types.Driver = (*TestDriver)(nil)

// NewTestDriver creates a driver reporting vendor.
func NewTestDriver(vendor types.Vendor) *TestDriver {
	return &TestDriver{vendor: vendor}
}

// WillFailValidate makes Validate return err.
func (d *TestDriver) WillFailValidate(err error) *TestDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validateErr = err
	return d
}

// WillFailConnect makes Connect return err.
func (d *TestDriver) WillFailConnect(err error) *TestDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
	return d
}

// OnConnect registers fn to configure every connection Connect creates.
func (d *TestDriver) OnConnect(fn func(*TestConn)) *TestDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setup = fn
	return d
}

// Vendor returns the configured vendor.
func (d *TestDriver) Vendor() types.Vendor {
	return d.vendor
}

// Validate returns the error set by WillFailValidate.
func (d *TestDriver) Validate(*connstr.Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.validateErr
}

// Connect returns a new unopened TestConn.
func (d *TestDriver) Connect(*connstr.Descriptor) (types.Conn, error) {
	d.mu.Lock()
	if d.connectErr != nil {
		err := d.connectErr
		d.mu.Unlock()
		return nil, err
	}
	c := &TestConn{driver: d, state: types.StateUnopened}
	d.conns = append(d.conns, c)
	setup := d.setup
	d.mu.Unlock()

	if setup != nil {
		setup(c)
	}
	return c, nil
}

// IsClientError reports whether err itself is a *ClientError.
func (d *TestDriver) IsClientError(err error) bool {
	_, ok := err.(*ClientError)
	return ok
}

// Conns returns every connection created so far.
func (d *TestDriver) Conns() []*TestConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*TestConn(nil), d.conns...)
}

// LastConn returns the most recent connection, or nil.
func (d *TestDriver) LastConn() *TestConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Events returns the lifecycle calls made on all connections and
// transactions, in order.
func (d *TestDriver) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *TestDriver) record(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

// TestConn implements types.Conn in memory.
type TestConn struct {
	driver   *TestDriver
	state    types.ConnState
	released bool
	opens    int
	closes   int
	openErrs []error
	beginErr []error
	closeErr error
	onBegin  func(*TestTx)
	levels   []types.IsolationLevel
	txs      []*TestTx
	mu       sync.Mutex
}

var _ types.Conn = (*TestConn)(nil)

// WillFailOpen queues errors returned by successive Open calls. Once the
// queue is drained Open succeeds.
func (c *TestConn) WillFailOpen(errs ...error) *TestConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErrs = append(c.openErrs, errs...)
	return c
}

// WillFailBegin queues errors returned by successive BeginTx calls.
func (c *TestConn) WillFailBegin(errs ...error) *TestConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginErr = append(c.beginErr, errs...)
	return c
}

// WillFailClose makes Close return err.
func (c *TestConn) WillFailClose(err error) *TestConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
	return c
}

// OnBegin registers fn to configure every transaction BeginTx creates.
func (c *TestConn) OnBegin(fn func(*TestTx)) *TestConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBegin = fn
	return c
}

// Drop simulates the server closing the session.
func (c *TestConn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = types.StateClosed
}

// Open marks the connection open unless a queued failure is pending.
func (c *TestConn) Open(context.Context) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return types.ErrReleased
	}
	c.opens++
	var err error
	if len(c.openErrs) > 0 {
		err, c.openErrs = c.openErrs[0], c.openErrs[1:]
	} else {
		c.state = types.StateOpen
	}
	c.mu.Unlock()

	c.driver.record(EventOpen)
	return err
}

// State returns the simulated connection state.
func (c *TestConn) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BeginTx starts a TestTx on an open connection.
func (c *TestConn) BeginTx(_ context.Context, level types.IsolationLevel) (types.Tx, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, types.ErrReleased
	}
	if c.state != types.StateOpen {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot begin transaction: connection is %s", state)
	}
	c.levels = append(c.levels, level)
	if len(c.beginErr) > 0 {
		var err error
		err, c.beginErr = c.beginErr[0], c.beginErr[1:]
		c.mu.Unlock()
		c.driver.record(EventBegin)
		return nil, err
	}
	tx := &TestTx{conn: c, level: level}
	c.txs = append(c.txs, tx)
	onBegin := c.onBegin
	c.mu.Unlock()

	if onBegin != nil {
		onBegin(tx)
	}
	c.driver.record(EventBegin)
	return tx, nil
}

// Close releases the connection.
func (c *TestConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.released = true
	c.state = types.StateClosed
	err := c.closeErr
	c.mu.Unlock()

	c.driver.record(EventConnClose)
	return err
}

// Opens returns the number of Open calls.
func (c *TestConn) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Closes returns the number of Close calls.
func (c *TestConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Levels returns the isolation level of every BeginTx call.
func (c *TestConn) Levels() []types.IsolationLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.IsolationLevel(nil), c.levels...)
}

// Txs returns every transaction begun on the connection.
func (c *TestConn) Txs() []*TestTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TestTx(nil), c.txs...)
}

// LastTx returns the most recent transaction, or nil.
func (c *TestConn) LastTx() *TestTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.txs) == 0 {
		return nil
	}
	return c.txs[len(c.txs)-1]
}
