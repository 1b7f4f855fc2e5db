// Package scope manages one logical database connection and at most one
// ambient transaction for a unit of work.
//
// A Manager opens its connection lazily and at most once, begins and commits
// the transaction, and on Close rolls back anything left uncommitted before
// releasing the transaction and the connection:
//
//	m, err := scope.New(cs, sqlserver.NewDriver(), scope.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.BeginTransaction(ctx, types.LevelReadCommitted); err != nil {
//	    return err
//	}
//	// ... work through m.Connection() and m.Transaction() ...
//	return m.Commit(ctx)
//
// Run wraps that pattern. A Manager is owned by a single caller and is not
// safe for concurrent use.
package scope

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/internal/tracking"
	"github.com/gaborage/dbscope/database/types"
	"github.com/gaborage/dbscope/logger"
)

// Manager owns a connection and its ambient transaction.
type Manager struct {
	id               string
	desc             *connstr.Descriptor
	driver           types.Driver
	log              logger.Logger
	tracker          *tracking.Tracker
	pattern          string
	maxDepth         int
	openTimeout      time.Duration
	defaultIsolation types.IsolationLevel

	res     *resources
	cleanup runtime.Cleanup
}

// resources is the state released on Close. It is kept apart from Manager so
// the fallback cleanup hook can reach it without keeping the Manager alive.
type resources struct {
	conn      types.Conn
	tx        types.Tx
	committed bool
	disposed  atomic.Bool
	log       logger.Logger
	tracker   *tracking.Tracker

	// leakTimeout bounds the release run by the cleanup hook.
	leakTimeout time.Duration
}

// DefaultLeakReleaseTimeout bounds the release of a scope that became
// unreachable without Close, unless an open timeout is configured.
const DefaultLeakReleaseTimeout = 30 * time.Second

// New validates connectionString eagerly and returns a Manager that has not
// connected yet. Malformed input is reported as ErrConfiguration wrapping a
// *config.ConfigError.
func New(connectionString string, driver types.Driver, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}

	if driver == nil {
		return nil, &Error{Op: OpNew, Kind: ErrConfiguration, Err: errors.New("driver is required")}
	}

	desc, err := connstr.Parse(connectionString)
	if err != nil {
		return nil, &Error{Op: OpNew, Kind: ErrConfiguration, Err: err}
	}
	if err := driver.Validate(desc); err != nil {
		return nil, &Error{Op: OpNew, Kind: ErrConfiguration, Err: err}
	}

	id := uuid.NewString()
	log := o.log.WithFields(map[string]any{
		"scope_id": id,
		"vendor":   driver.Vendor(),
	})
	log.Trace().Str("connection", desc.Redacted()).Msg("Valid connection string retrieved")

	var tracker *tracking.Tracker
	if o.tracking {
		tp, mp := o.tracerProvider, o.meterProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		tracker = tracking.New(tp, mp, driver.Vendor(), id, log)
	}

	m := &Manager{
		id:               id,
		desc:             desc,
		driver:           driver,
		log:              log,
		tracker:          tracker,
		pattern:          o.pattern,
		maxDepth:         o.maxDepth,
		openTimeout:      o.openTimeout,
		defaultIsolation: o.defaultIsolation,
		res:              &resources{log: log, tracker: tracker, leakTimeout: DefaultLeakReleaseTimeout},
	}
	if o.openTimeout > 0 {
		m.res.leakTimeout = o.openTimeout
	}
	m.cleanup = runtime.AddCleanup(m, releaseLeaked, m.res)
	return m, nil
}

// releaseLeaked runs when a Manager becomes unreachable without Close. All
// cleanups share one runtime goroutine, so the release, which may wait on the
// network, runs on its own goroutine under leakTimeout.
func releaseLeaked(r *resources) {
	if r.disposed.Load() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.leakTimeout)
		defer cancel()

		r.log.Warn().Msg("Scope was not closed; releasing connection from cleanup hook")
		if err := r.release(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Cleanup hook release failed")
		}
	}()
}

// ID returns the instance identifier attached to every log line.
func (m *Manager) ID() string {
	return m.id
}

// DefaultIsolation returns the isolation level configured for this scope.
func (m *Manager) DefaultIsolation() types.IsolationLevel {
	return m.defaultIsolation
}

// Connection returns the connection handle, or nil before the first
// EnsureOpenConnection and after Close.
func (m *Manager) Connection() types.Conn {
	return m.res.conn
}

// Transaction returns the current transaction, or nil.
func (m *Manager) Transaction() types.Tx {
	return m.res.tx
}

// Committed reports whether the current transaction was committed.
func (m *Manager) Committed() bool {
	return m.res.committed
}

// Closed reports whether Close has run.
func (m *Manager) Closed() bool {
	return m.res.disposed.Load()
}

// EnsureOpenConnection returns the scope's connection, creating it on first
// use and opening it whenever it is not open. The same handle is returned on
// every call.
func (m *Manager) EnsureOpenConnection(ctx context.Context) (types.Conn, error) {
	if m.Closed() {
		return nil, &Error{Op: OpOpen, Kind: ErrClosed}
	}
	conn, err := m.ensureOpen(ctx)
	if err != nil {
		return nil, &Error{Op: OpOpen, Kind: ErrOpen, Err: err}
	}
	return conn, nil
}

func (m *Manager) ensureOpen(ctx context.Context) (types.Conn, error) {
	r := m.res
	if r.conn == nil {
		m.log.Debug().Msg("Initiating connection")
		conn, err := m.driver.Connect(m.desc)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection: %w", err)
		}
		r.conn = conn
	}

	state := r.conn.State()
	if state == types.StateOpen {
		m.log.Trace().Msg("Reusing open connection")
		return r.conn, nil
	}

	m.log.Debug().Str("state", state.String()).Msg("Connection hasn't opened yet or it was closed")

	spanCtx, end := m.tracker.Start(ctx, tracking.SpanOpen, OpOpen)
	openCtx := spanCtx
	if m.openTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(spanCtx, m.openTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.conn.Open(openCtx)
	end(err)
	m.tracker.ConnectionOpened(ctx, err)
	if err != nil {
		m.log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Failed to open connection")
		return nil, err
	}

	m.log.Debug().Dur("elapsed", time.Since(start)).Msg("Connection opened")
	return r.conn, nil
}

// BeginTransaction opens the connection if needed and starts a transaction
// at level. It fails with ErrAlreadyInTransaction while an uncommitted
// transaction is held; a committed one is released first. Start failures
// keep the open connection for a retry.
func (m *Manager) BeginTransaction(ctx context.Context, level types.IsolationLevel) error {
	if m.Closed() {
		return &Error{Op: OpBegin, Kind: ErrClosed}
	}

	r := m.res
	if r.tx != nil {
		if !r.committed {
			return &Error{Op: OpBegin, Kind: ErrAlreadyInTransaction}
		}
		if err := r.tx.Close(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to release committed transaction")
		}
		r.tx = nil
		r.committed = false
	}

	conn, err := m.ensureOpen(ctx)
	if err != nil {
		return m.startFailed(ctx, err)
	}

	spanCtx, end := m.tracker.Start(ctx, tracking.SpanBegin, OpBegin, tracking.Isolation(level.String()))
	tx, err := conn.BeginTx(spanCtx, level)
	end(err)
	if err != nil {
		return m.startFailed(ctx, err)
	}

	r.tx = tx
	r.committed = false
	m.tracker.Transaction(ctx, tracking.OutcomeBegun)
	m.log.Debug().Str("isolation", level.String()).Msg("Transaction started")
	return nil
}

func (m *Manager) startFailed(ctx context.Context, err error) error {
	m.tracker.Transaction(ctx, tracking.OutcomeStartFailed)
	m.noteDeadlock(ctx, OpBegin, err)
	m.log.Warn().Err(err).Msg("Failed to start transaction")
	return &Error{Op: OpBegin, Kind: ErrTransactionStart, Err: err}
}

// Commit commits the current transaction. Without a transaction, or when it
// is already committed, Commit does nothing. On failure the transaction stays
// uncommitted so Close rolls it back.
func (m *Manager) Commit(ctx context.Context) error {
	if m.Closed() {
		return &Error{Op: OpCommit, Kind: ErrClosed}
	}

	r := m.res
	if r.tx == nil || r.committed {
		return nil
	}

	spanCtx, end := m.tracker.Start(ctx, tracking.SpanCommit, OpCommit)
	err := r.tx.Commit(spanCtx)
	end(err)
	if err != nil {
		m.tracker.Transaction(ctx, tracking.OutcomeCommitFailed)
		m.noteDeadlock(ctx, OpCommit, err)
		m.log.Warn().Err(err).Msg("Failed to commit transaction")
		return &Error{Op: OpCommit, Kind: ErrCommit, Err: err}
	}

	r.committed = true
	m.tracker.Transaction(ctx, tracking.OutcomeCommitted)
	m.log.Debug().Msg("Transaction committed")
	return nil
}

// IsDeadlock reports whether err was caused by a deadlock reported by this
// scope's driver. See the package-level IsDeadlock.
func (m *Manager) IsDeadlock(err error) bool {
	return isDeadlock(err, m.driver.IsClientError, m.pattern, m.maxDepth)
}

func (m *Manager) noteDeadlock(ctx context.Context, op string, err error) {
	if m.IsDeadlock(err) {
		m.tracker.Deadlock(ctx, op)
		m.log.Warn().Str("operation", op).Msg("Deadlock detected")
	}
}

// Close rolls back an uncommitted transaction, then releases the transaction
// and the connection. It runs at most once; later calls return nil. Rollback
// failures are logged and returned but never stop the release.
func (m *Manager) Close() error {
	return m.CloseContext(context.Background())
}

// CloseContext is Close with a context passed to the rollback.
func (m *Manager) CloseContext(ctx context.Context) error {
	m.cleanup.Stop()
	return m.res.release(ctx)
}

func (r *resources) release(ctx context.Context) error {
	if !r.disposed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if r.tx != nil {
		if !r.committed {
			spanCtx, end := r.tracker.Start(ctx, tracking.SpanRollback, OpRollback)
			err := r.tx.Rollback(spanCtx)
			end(err)
			if err != nil {
				r.tracker.Transaction(ctx, tracking.OutcomeRollbackFailed)
				r.log.Warn().Err(err).Msg("Failed to roll back transaction")
				errs = append(errs, &Error{Op: OpRollback, Kind: ErrRollback, Err: err})
			} else {
				r.tracker.Transaction(ctx, tracking.OutcomeRolledBack)
				r.log.Debug().Msg("Transaction rolled back")
			}
		}
		if err := r.tx.Close(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to release transaction")
			errs = append(errs, fmt.Errorf("failed to release transaction: %w", err))
		}
		r.tx = nil
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to release connection")
			errs = append(errs, fmt.Errorf("failed to release connection: %w", err))
		}
		r.conn = nil
	}

	r.log.Debug().Msg("Scope released")
	return errors.Join(errs...)
}
