package scope

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/dbscope/config"
	"github.com/gaborage/dbscope/database/connstr"
	"github.com/gaborage/dbscope/database/internal/tracking"
	dbtest "github.com/gaborage/dbscope/database/testing"
	"github.com/gaborage/dbscope/database/types"
	"github.com/gaborage/dbscope/logger"
	obtest "github.com/gaborage/dbscope/observability/testing"
)

const scenarioConnectionString = "Server=x;Database=y;User Id=u;Password=p;"

func newTestManager(t *testing.T, drv types.Driver, opts ...Option) *Manager {
	t.Helper()
	m, err := New(scenarioConnectionString, drv, append([]Option{WithTracking(false)}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestScenarioCommitThenCleanup(t *testing.T) {
	drv := dbtest.NewTestDriver(types.SQLServer)
	m := newTestManager(t, drv)
	ctx := context.Background()

	assert.Nil(t, m.Connection())
	assert.NotEmpty(t, m.ID())

	conn, err := m.EnsureOpenConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateOpen, conn.State())

	require.NoError(t, m.BeginTransaction(ctx, types.LevelReadCommitted))
	assert.NotNil(t, m.Transaction())
	assert.False(t, m.Committed())

	require.NoError(t, m.Commit(ctx))
	assert.True(t, m.Committed())

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())

	fake := drv.LastConn()
	dbtest.AssertOpenCount(t, fake, 1)
	dbtest.AssertCommitted(t, fake.LastTx())
	dbtest.AssertReleased(t, fake)
	assert.Equal(t, []types.IsolationLevel{types.LevelReadCommitted}, fake.Levels())
	assert.Equal(t, []string{
		dbtest.EventOpen, dbtest.EventBegin, dbtest.EventCommit, dbtest.EventTxClose, dbtest.EventConnClose,
	}, drv.Events())
}

func TestEnsureOpenConnectionOpensOnce(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	defer m.Close()
	ctx := context.Background()

	first, err := m.EnsureOpenConnection(ctx)
	require.NoError(t, err)
	for range 4 {
		conn, err := m.EnsureOpenConnection(ctx)
		require.NoError(t, err)
		assert.Same(t, first, conn)
	}

	require.Len(t, drv.Conns(), 1)
	dbtest.AssertOpenCount(t, drv.LastConn(), 1)
}

func TestEnsureOpenConnectionReopensClosedConnection(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	defer m.Close()
	ctx := context.Background()

	first, err := m.EnsureOpenConnection(ctx)
	require.NoError(t, err)

	drv.LastConn().Drop()
	assert.Equal(t, types.StateClosed, m.Connection().State())

	second, err := m.EnsureOpenConnection(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, types.StateOpen, second.State())
	dbtest.AssertOpenCount(t, drv.LastConn(), 2)
	require.Len(t, drv.Conns(), 1)
}

func TestEnsureOpenConnectionFailureIsRetryable(t *testing.T) {
	openErr := errors.New("connection refused")
	drv := dbtest.NewTestDriver(types.Oracle).OnConnect(func(c *dbtest.TestConn) {
		c.WillFailOpen(openErr)
	})
	m := newTestManager(t, drv)
	defer m.Close()
	ctx := context.Background()

	_, err := m.EnsureOpenConnection(ctx)
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, openErr)

	var scopeErr *Error
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, OpOpen, scopeErr.Op)

	_, err = m.EnsureOpenConnection(ctx)
	require.NoError(t, err)
	dbtest.AssertOpenCount(t, drv.LastConn(), 2)
}

func TestEnsureOpenConnectionConnectFailure(t *testing.T) {
	connectErr := errors.New("no route to host")
	drv := dbtest.NewTestDriver(types.Oracle).WillFailConnect(connectErr)
	m := newTestManager(t, drv)

	_, err := m.EnsureOpenConnection(context.Background())
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, connectErr)
	assert.Nil(t, m.Connection())
	assert.NoError(t, m.Close())
}

func TestCommitPreventsRollbackOnClose(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelSerializable))
	require.NoError(t, m.Commit(ctx))
	require.NoError(t, m.Commit(ctx), "committing twice is a no-op")
	require.NoError(t, m.Close())

	tx := drv.LastConn().LastTx()
	assert.Equal(t, 1, tx.Commits())
	assert.Equal(t, 0, tx.Rollbacks())
}

func TestCloseRollsBackAbandonedTransaction(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	require.NoError(t, m.Close())

	dbtest.AssertRolledBack(t, drv.LastConn().LastTx())
	dbtest.AssertReleased(t, drv.LastConn())
	assert.Equal(t, []string{
		dbtest.EventOpen, dbtest.EventBegin, dbtest.EventRollback, dbtest.EventTxClose, dbtest.EventConnClose,
	}, drv.Events())
}

func TestCloseIsIdempotent(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	require.NoError(t, m.Close())
	events := drv.Events()

	require.NoError(t, m.Close())
	require.NoError(t, m.CloseContext(ctx))

	assert.Equal(t, events, drv.Events())
	assert.Equal(t, 1, drv.LastConn().LastTx().Rollbacks())
	dbtest.AssertReleased(t, drv.LastConn())
}

func TestCloseWithoutConnection(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)

	require.NoError(t, m.Close())
	assert.Empty(t, drv.Conns())
	assert.Empty(t, drv.Events())
}

func TestCloseWithOpenConnectionOnly(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)

	_, err := m.EnsureOpenConnection(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.Equal(t, []string{dbtest.EventOpen, dbtest.EventConnClose}, drv.Events())
}

func TestRollbackFailureDoesNotAbortRelease(t *testing.T) {
	rollbackErr := errors.New("session lost")
	drv := dbtest.NewTestDriver(types.SQLServer).OnConnect(func(c *dbtest.TestConn) {
		c.OnBegin(func(tx *dbtest.TestTx) { tx.WillFailRollback(rollbackErr) })
	})
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	err := m.Close()

	assert.ErrorIs(t, err, ErrRollback)
	assert.ErrorIs(t, err, rollbackErr)
	assert.Equal(t, 1, drv.LastConn().LastTx().Closes())
	dbtest.AssertReleased(t, drv.LastConn())
	assert.True(t, m.Closed())
	assert.NoError(t, m.Close())
}

func TestCloseJoinsReleaseFailures(t *testing.T) {
	txErr := errors.New("tx release failed")
	connErr := errors.New("conn release failed")
	drv := dbtest.NewTestDriver(types.SQLServer).OnConnect(func(c *dbtest.TestConn) {
		c.WillFailClose(connErr)
		c.OnBegin(func(tx *dbtest.TestTx) { tx.WillFailClose(txErr) })
	})
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	require.NoError(t, m.Commit(ctx))

	err := m.Close()
	assert.ErrorIs(t, err, txErr)
	assert.ErrorIs(t, err, connErr)
	assert.NotErrorIs(t, err, ErrRollback)
}

func TestBeginTransactionRejectsActiveTransaction(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	first := m.Transaction()

	err := m.BeginTransaction(ctx, types.LevelDefault)
	assert.ErrorIs(t, err, ErrAlreadyInTransaction)
	assert.Same(t, first, m.Transaction())
	assert.Len(t, drv.LastConn().Txs(), 1)
}

func TestBeginTransactionAfterCommitStartsNewTransaction(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	require.NoError(t, m.Commit(ctx))

	require.NoError(t, m.BeginTransaction(ctx, types.LevelRepeatableRead))
	assert.False(t, m.Committed())
	require.NoError(t, m.Close())

	txs := drv.LastConn().Txs()
	require.Len(t, txs, 2)
	dbtest.AssertCommitted(t, txs[0])
	dbtest.AssertRolledBack(t, txs[1])
	dbtest.AssertOpenCount(t, drv.LastConn(), 1)
}

func TestBeginTransactionFailureKeepsConnection(t *testing.T) {
	beginErr := errors.New("too many sessions")
	drv := dbtest.NewTestDriver(types.PostgreSQL).OnConnect(func(c *dbtest.TestConn) {
		c.WillFailBegin(beginErr)
	})
	m := newTestManager(t, drv)
	ctx := context.Background()

	err := m.BeginTransaction(ctx, types.LevelDefault)
	assert.ErrorIs(t, err, ErrTransactionStart)
	assert.ErrorIs(t, err, beginErr)
	assert.Nil(t, m.Transaction())
	assert.Equal(t, types.StateOpen, m.Connection().State())

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	dbtest.AssertOpenCount(t, drv.LastConn(), 1)
	require.NoError(t, m.Close())
}

func TestBeginTransactionOpenFailureIsStartError(t *testing.T) {
	openErr := errors.New("login failed")
	drv := dbtest.NewTestDriver(types.SQLServer).OnConnect(func(c *dbtest.TestConn) {
		c.WillFailOpen(openErr)
	})
	m := newTestManager(t, drv)
	defer m.Close()

	err := m.BeginTransaction(context.Background(), types.LevelDefault)
	assert.ErrorIs(t, err, ErrTransactionStart)
	assert.NotErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, openErr)
}

func TestCommitFailureLeavesTransactionForRollback(t *testing.T) {
	commitErr := dbtest.NewClientError(1205, "Transaction was deadlocked on lock resources")
	drv := dbtest.NewTestDriver(types.SQLServer).OnConnect(func(c *dbtest.TestConn) {
		c.OnBegin(func(tx *dbtest.TestTx) { tx.WillFailCommit(commitErr) })
	})
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelDefault))
	err := m.Commit(ctx)
	assert.ErrorIs(t, err, ErrCommit)
	assert.False(t, m.Committed())
	assert.True(t, m.IsDeadlock(err))

	require.NoError(t, m.Close())
	dbtest.AssertRolledBack(t, drv.LastConn().LastTx())
}

func TestCommitWithoutTransactionIsNoop(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	defer m.Close()

	require.NoError(t, m.Commit(context.Background()))
	assert.Empty(t, drv.Events())
}

func TestOperationsAfterClose(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	ctx := context.Background()
	require.NoError(t, m.Close())

	_, err := m.EnsureOpenConnection(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.BeginTransaction(ctx, types.LevelDefault), ErrClosed)
	assert.ErrorIs(t, m.Commit(ctx), ErrClosed)
	assert.Empty(t, drv.Conns())
}

func TestNewRejectsMalformedConfiguration(t *testing.T) {
	tests := []struct {
		name       string
		connString string
		driver     types.Driver
	}{
		{name: "empty", connString: "", driver: dbtest.NewTestDriver(types.PostgreSQL)},
		{name: "segment_without_equals", connString: "Server=x;nonsense", driver: dbtest.NewTestDriver(types.PostgreSQL)},
		{name: "unterminated_quote", connString: "Password='p", driver: dbtest.NewTestDriver(types.PostgreSQL)},
		{name: "driver_rejects", connString: scenarioConnectionString, driver: dbtest.NewTestDriver(types.PostgreSQL).WillFailValidate(errors.New("server required"))},
		{name: "nil_driver", connString: scenarioConnectionString, driver: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.connString, tt.driver)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}

	_, err := New("Server=x;garbage", dbtest.NewTestDriver(types.PostgreSQL))
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "database.connectionstring", cfgErr.Field)
}

func TestNewDoesNotConnect(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	require.NoError(t, m.Close())
	assert.Empty(t, drv.Conns())
}

func TestLifecycleLogging(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "trace", false, nil)
	drv := dbtest.NewTestDriver(types.SQLServer)
	m := newTestManager(t, drv, WithLogger(log))
	ctx := context.Background()

	_, err := m.EnsureOpenConnection(ctx)
	require.NoError(t, err)
	_, err = m.EnsureOpenConnection(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	out := buf.String()
	for _, msg := range []string{
		"Valid connection string retrieved",
		"Initiating connection",
		"Connection hasn't opened yet or it was closed",
		"Reusing open connection",
		"Scope released",
	} {
		assert.Contains(t, out, msg)
	}
	assert.Contains(t, out, m.ID())
	assert.NotContains(t, out, "Password=p")
	assert.NotContains(t, out, "password=p;")
}

func TestTrackingRecordsLifecycle(t *testing.T) {
	tp := obtest.NewTestTraceProvider()
	mp := obtest.NewTestMeterProvider()
	commitErr := dbtest.NewClientError(40001, "deadlock detected")
	drv := dbtest.NewTestDriver(types.PostgreSQL).OnConnect(func(c *dbtest.TestConn) {
		c.OnBegin(func(tx *dbtest.TestTx) { tx.WillFailCommit(commitErr) })
	})

	m, err := New(scenarioConnectionString, drv, WithTracerProvider(tp), WithMeterProvider(mp))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.BeginTransaction(ctx, types.LevelSerializable))
	require.Error(t, m.Commit(ctx))
	require.NoError(t, m.Close())

	spans := obtest.NewSpanCollector(t, tp.Exporter)
	assert.Equal(t, []string{tracking.SpanOpen, tracking.SpanBegin, tracking.SpanCommit, tracking.SpanRollback}, spans.Names())

	begin := spans.WithName(tracking.SpanBegin).First()
	obtest.AssertSpanAttribute(t, &begin, tracking.AttrIsolation, "serializable")
	obtest.AssertSpanAttribute(t, &begin, tracking.AttrScopeID, m.ID())
	commit := spans.WithName(tracking.SpanCommit).First()
	obtest.AssertSpanError(t, &commit)

	rm := mp.Collect(t)
	assert.Equal(t, int64(1), obtest.SumTotal(t, rm, tracking.MetricConnectionOpens))
	obtest.AssertSumWithAttribute(t, rm, tracking.MetricTransactions, tracking.AttrOutcome, tracking.OutcomeBegun, 1)
	obtest.AssertSumWithAttribute(t, rm, tracking.MetricTransactions, tracking.AttrOutcome, tracking.OutcomeCommitFailed, 1)
	obtest.AssertSumWithAttribute(t, rm, tracking.MetricTransactions, tracking.AttrOutcome, tracking.OutcomeRolledBack, 1)
	obtest.AssertSumWithAttribute(t, rm, tracking.MetricDeadlocks, tracking.AttrOperation, OpCommit, 1)
	assert.Equal(t, uint64(4), obtest.HistogramCount(t, rm, tracking.MetricOperationDuration))
}

func TestCleanupHookReleasesLeakedScope(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	leakScope(t, drv)

	require.Eventually(t, func() bool {
		runtime.GC()
		conn := drv.LastConn()
		return conn != nil && conn.Closes() == 1
	}, 5*time.Second, 10*time.Millisecond)

	dbtest.AssertRolledBack(t, drv.LastConn().LastTx())
}

func TestCleanupHookReleasesOffTheRuntimeGoroutine(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	stuck := dbtest.NewTestDriver(types.PostgreSQL).OnConnect(func(c *dbtest.TestConn) {
		c.OnBegin(func(tx *dbtest.TestTx) { tx.WillStallRollback(unblock) })
	})
	leakScope(t, stuck)
	require.Eventually(t, func() bool {
		runtime.GC()
		conn := stuck.LastConn()
		return conn != nil && conn.LastTx() != nil && conn.LastTx().Rollbacks() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// the first release hangs in Rollback; later leaks are still released
	healthy := dbtest.NewTestDriver(types.PostgreSQL)
	leakScope(t, healthy)
	require.Eventually(t, func() bool {
		runtime.GC()
		conn := healthy.LastConn()
		return conn != nil && conn.Closes() == 1
	}, 5*time.Second, 10*time.Millisecond)

	dbtest.AssertRolledBack(t, healthy.LastConn().LastTx())
	assert.Zero(t, stuck.LastConn().Closes())
}

func TestLeakReleaseTimeout(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	m := newTestManager(t, drv)
	assert.Equal(t, DefaultLeakReleaseTimeout, m.res.leakTimeout)
	require.NoError(t, m.Close())

	m = newTestManager(t, drv, WithOpenTimeout(3*time.Second))
	assert.Equal(t, 3*time.Second, m.res.leakTimeout)
	require.NoError(t, m.Close())
}

func TestCleanupHookDoesNotRepeatClose(t *testing.T) {
	drv := dbtest.NewTestDriver(types.PostgreSQL)
	closeScope(t, drv)

	for range 3 {
		runtime.GC()
	}
	time.Sleep(20 * time.Millisecond)
	dbtest.AssertReleased(t, drv.LastConn())
	assert.Equal(t, 1, drv.LastConn().LastTx().Rollbacks())
}

//go:noinline
func leakScope(t *testing.T, drv *dbtest.TestDriver) {
	m := newTestManager(t, drv)
	require.NoError(t, m.BeginTransaction(context.Background(), types.LevelDefault))
}

//go:noinline
func closeScope(t *testing.T, drv *dbtest.TestDriver) {
	m := newTestManager(t, drv)
	require.NoError(t, m.BeginTransaction(context.Background(), types.LevelDefault))
	require.NoError(t, m.Close())
}

type deadlineConn struct {
	*dbtest.TestConn
	deadline time.Time
	ok       bool
}

func (c *deadlineConn) Open(ctx context.Context) error {
	c.deadline, c.ok = ctx.Deadline()
	return c.TestConn.Open(ctx)
}

type deadlineDriver struct {
	*dbtest.TestDriver
	conn *deadlineConn
}

func (d *deadlineDriver) Connect(desc *connstr.Descriptor) (types.Conn, error) {
	conn, err := d.TestDriver.Connect(desc)
	if err != nil {
		return nil, err
	}
	d.conn = &deadlineConn{TestConn: conn.(*dbtest.TestConn)}
	return d.conn, nil
}

func TestEnsureOpenConnectionAppliesOpenTimeout(t *testing.T) {
	drv := &deadlineDriver{TestDriver: dbtest.NewTestDriver(types.PostgreSQL)}
	m := newTestManager(t, drv)
	defer m.Close()

	_, err := m.EnsureOpenConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, drv.conn.ok, "no deadline without an open timeout")

	m2 := newTestManager(t, drv, WithOpenTimeout(time.Minute))
	defer m2.Close()

	before := time.Now()
	_, err = m2.EnsureOpenConnection(context.Background())
	require.NoError(t, err)
	require.True(t, drv.conn.ok)
	assert.WithinDuration(t, before.Add(time.Minute), drv.conn.deadline, 5*time.Second)
}
