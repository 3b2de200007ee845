package clients

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/bootstrap"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
)

var mgrDesc = config.Descriptor{Host: "db", Port: 3306, User: "admin", Database: "app"}

// mockDB returns a sqlmock-backed handle expecting the given number of pings.
func mockDB(t *testing.T, pings int) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	for range pings {
		mock.ExpectPing()
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testManager wires a manager with counting fakes. Each connect call hands
// out a fresh sqlmock handle.
type testManager struct {
	*MySQLManager
	resolveCalls atomic.Int32
	readyCalls   atomic.Int32
	connectCalls atomic.Int32
}

func newTestManager(t *testing.T, pingsPerHandle int) *testManager {
	t.Helper()
	tm := &testManager{}
	tm.MySQLManager = &MySQLManager{
		resolve: func() (config.Descriptor, error) {
			tm.resolveCalls.Add(1)
			return mgrDesc, nil
		},
		waitReady: func(_ context.Context, _ config.Descriptor) error {
			tm.readyCalls.Add(1)
			return nil
		},
		connect: func(_ config.Descriptor) (*sql.DB, error) {
			tm.connectCalls.Add(1)
			return mockDB(t, pingsPerHandle), nil
		},
		cb: NewCircuitBreaker("mysql-test"),
	}
	return tm
}

func TestManager_Open(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	assert.Equal(t, int32(1), tm.resolveCalls.Load())
	assert.Equal(t, int32(1), tm.readyCalls.Load())
	assert.Equal(t, int32(1), tm.connectCalls.Load())
}

func TestManager_OpenFailsWhenResolveFails(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	cfgErr := &config.Error{Field: "database", Reason: "no connection layer configured"}
	tm.resolve = func() (config.Descriptor, error) { return config.Descriptor{}, cfgErr }

	err := tm.Open(context.Background())
	assert.ErrorIs(t, err, cfgErr)
	assert.Zero(t, tm.connectCalls.Load())
}

func TestManager_OpenFailsWhenStoreUnready(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	rdyErr := &bootstrap.ReadinessError{Kind: bootstrap.KindTimeout, Cause: errors.New("refused")}
	tm.waitReady = func(_ context.Context, _ config.Descriptor) error { return rdyErr }

	err := tm.Open(context.Background())
	assert.ErrorIs(t, err, rdyErr)
}

func TestManager_WithConnRunsUnitOfWork(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	var gotDB *sql.DB
	err := tm.WithConn(context.Background(), func(_ context.Context, db *sql.DB) error {
		gotDB = db
		return nil
	})

	require.NoError(t, err)
	assert.NotNil(t, gotDB)
	assert.Equal(t, int32(1), tm.connectCalls.Load(), "no reconnect on success")
}

// A connectivity failure between calls must be invisible to the caller: the
// manager re-resolves, re-probes, reconnects, and retries the unit of work.
func TestManager_WithConnTransparentReconnect(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	var fnCalls int
	err := tm.WithConn(context.Background(), func(_ context.Context, _ *sql.DB) error {
		fnCalls++
		if fnCalls == 1 {
			return driver.ErrBadConn // simulated disconnect
		}
		return nil
	})

	require.NoError(t, err, "caller must not observe the transient failure")
	assert.Equal(t, 2, fnCalls)
	assert.Equal(t, int32(2), tm.resolveCalls.Load(), "reconnect re-resolves the descriptor")
	assert.Equal(t, int32(2), tm.readyCalls.Load(), "reconnect re-probes readiness")
	assert.Equal(t, int32(2), tm.connectCalls.Load())
}

// A sibling caller can invalidate and close the shared handle after this
// caller acquired it. The resulting closed-handle error must trigger the same
// transparent reconnect as a dropped connection.
func TestManager_WithConnRetriesAfterSiblingInvalidation(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	var fnCalls int
	err := tm.WithConn(context.Background(), func(ctx context.Context, db *sql.DB) error {
		fnCalls++
		if fnCalls == 1 {
			tm.invalidate(db) // sibling closes the handle mid-flight
			return db.PingContext(ctx)
		}
		return nil
	})

	require.NoError(t, err, "caller must not observe the handle replacement")
	assert.Equal(t, 2, fnCalls)
	assert.Equal(t, int32(2), tm.connectCalls.Load())
}

func TestManager_WithConnDoesNotRetryQueryErrors(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	queryErr := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	var fnCalls int
	err := tm.WithConn(context.Background(), func(_ context.Context, _ *sql.DB) error {
		fnCalls++
		return queryErr
	})

	assert.ErrorIs(t, err, queryErr)
	assert.Equal(t, 1, fnCalls, "query-level errors pass through untouched")
	assert.Equal(t, int32(1), tm.connectCalls.Load())
}

func TestManager_WithConnFailsWhenReconnectFails(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	rdyErr := &bootstrap.ReadinessError{Kind: bootstrap.KindTimeout, Cause: errors.New("still down")}
	tm.waitReady = func(_ context.Context, _ config.Descriptor) error { return rdyErr }

	err := tm.WithConn(context.Background(), func(_ context.Context, _ *sql.DB) error {
		return driver.ErrBadConn
	})

	assert.ErrorIs(t, err, rdyErr)
}

// Concurrent callers hitting an invalid handle must share one reconnect:
// singleflight collapses the racing acquires into a single resolve → probe →
// connect sequence.
func TestManager_ConcurrentAcquireSingleReconnect(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	// Slow the dial down so the goroutines overlap.
	inner := tm.connect
	tm.connect = func(desc config.Descriptor) (*sql.DB, error) {
		time.Sleep(50 * time.Millisecond)
		return inner(desc)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tm.WithConn(context.Background(), func(_ context.Context, _ *sql.DB) error {
				return nil
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), tm.connectCalls.Load(), "exactly one reconnect may proceed")
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	require.NoError(t, tm.Open(context.Background()))

	tm.Close()
	tm.Close() // idempotent

	// Next use reconnects from scratch.
	require.NoError(t, tm.WithConn(context.Background(), func(_ context.Context, _ *sql.DB) error {
		return nil
	}))
	assert.Equal(t, int32(2), tm.connectCalls.Load())
}

func TestManager_Probe(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 2) // acquire ping + probe ping
	res := tm.Probe(context.Background())

	assert.Equal(t, "mysql", res.Name)
	assert.True(t, res.OK)
	assert.Empty(t, res.Error)
}

func TestManager_ProbeCircuitOpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	tm := newTestManager(t, 1)
	tm.resolve = func() (config.Descriptor, error) {
		return config.Descriptor{}, &config.Error{Field: "database", Reason: "missing"}
	}

	for i := range 3 {
		res := tm.Probe(context.Background())
		assert.False(t, res.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", res.Error, "probe %d should not be circuit-open yet", i+1)
	}

	res := tm.Probe(context.Background())
	assert.False(t, res.OK)
	assert.Equal(t, "circuit open", res.Error)
}

func TestIsConnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"invalid conn", mysql.ErrInvalidConn, true},
		{"eof", io.EOF, true},
		{"closed handle", errors.New("sql: database is closed"), true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"server shutdown", &mysql.MySQLError{Number: 1053}, true},
		{"duplicate entry", &mysql.MySQLError{Number: 1062}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isConnFailure(tc.err))
		})
	}
}
