package clients

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/bootstrap"
	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
)

const mysqlProbeName = "mysql"

// ConnError reports a request that failed because the store connection could
// not be (re)established.
type ConnError struct {
	Cause error
}

func (e *ConnError) Error() string { return fmt.Sprintf("store connection: %v", e.Cause) }
func (e *ConnError) Unwrap() error { return e.Cause }

// MySQLManager owns the single live database handle for the request path.
// Descriptors that were valid at boot go stale when the surrounding
// environment is recreated, so the manager never assumes the boot-time handle
// outlives the process: on a connectivity failure it discards the handle,
// re-resolves the descriptor, re-probes readiness, and opens a fresh one —
// without requiring a restart.
type MySQLManager struct {
	resolve   func() (config.Descriptor, error)
	waitReady func(ctx context.Context, desc config.Descriptor) error
	connect   func(desc config.Descriptor) (*sql.DB, error)
	cb        *gobreaker.CircuitBreaker

	// sf collapses concurrent reconnect attempts into one in-flight dial;
	// callers that observe a stale handle wait for that dial instead of
	// racing their own.
	sf singleflight.Group

	mu sync.RWMutex
	db *sql.DB
}

// NewMySQLManager wires the manager to the resolver and readiness probe it
// re-runs on reconnect. No connection is opened at construction time.
func NewMySQLManager(resolve func() (config.Descriptor, error), probe bootstrap.ReadinessWaiter, cb *gobreaker.CircuitBreaker) *MySQLManager {
	return &MySQLManager{
		resolve:   resolve,
		waitReady: probe.WaitUntilReady,
		connect:   openPool,
		cb:        cb,
	}
}

// Open establishes the initial handle. Called by the bootstrap coordinator
// after readiness and schema initialization; connectivity failures here are
// readiness failures.
func (m *MySQLManager) Open(ctx context.Context) error {
	_, err := m.acquire(ctx)
	return err
}

// WithConn runs one unit of work against the live handle. If fn fails with a
// connectivity-class error the handle is invalidated, rebuilt (resolve →
// probe → connect), and fn is retried once on the fresh handle, so the caller
// never observes the transient failure. Non-connectivity errors pass through
// untouched.
func (m *MySQLManager) WithConn(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := m.acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, db)
	if err == nil || !isConnFailure(err) {
		return err
	}

	slog.Warn("store connection lost, reconnecting", "err", err)
	m.invalidate(db)

	db, aerr := m.acquire(ctx)
	if aerr != nil {
		return aerr
	}
	return fn(ctx, db)
}

// Close releases the live handle. Safe to call on an already-closed manager.
func (m *MySQLManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

// Probe pings the store for the deep-health surface. The call is wrapped in
// the circuit breaker so a persistently dead store stops being dialed on
// every health check.
func (m *MySQLManager) Probe(ctx context.Context) bootstrap.ProbeResult {
	start := time.Now()

	_, err := m.cb.Execute(func() (any, error) {
		db, err := m.acquire(ctx)
		if err != nil {
			return nil, err
		}
		return nil, db.PingContext(ctx)
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return bootstrap.ProbeResult{Name: mysqlProbeName, OK: false, LatencyMs: latency, Error: errMsg}
	}
	return bootstrap.ProbeResult{Name: mysqlProbeName, OK: true, LatencyMs: latency}
}

// acquire returns the live handle, building one if none exists. Handle
// construction is serialized through singleflight: exactly one resolve →
// probe → connect sequence runs regardless of how many callers arrive.
func (m *MySQLManager) acquire(ctx context.Context) (*sql.DB, error) {
	m.mu.RLock()
	db := m.db
	m.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := m.sf.Do("reconnect", func() (any, error) {
		// Re-check under the group: a sibling caller may have just finished.
		m.mu.RLock()
		existing := m.db
		m.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		desc, err := m.resolve()
		if err != nil {
			return nil, err
		}
		if err := m.waitReady(ctx, desc); err != nil {
			return nil, err
		}

		fresh, err := m.connect(desc)
		if err != nil {
			return nil, &ConnError{Cause: err}
		}
		if err := fresh.PingContext(ctx); err != nil {
			fresh.Close()
			return nil, &ConnError{Cause: err}
		}

		m.mu.Lock()
		m.db = fresh
		m.mu.Unlock()

		slog.Info("store connection established", "descriptor", desc)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

// invalidate discards old if it is still the live handle. The comparison
// guards against a racing caller invalidating a handle that was already
// replaced.
func (m *MySQLManager) invalidate(old *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == old && m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

// isConnFailure reports whether err means the connection (not the query) is
// broken: driver-level bad-conn markers, transport errors, or a server-side
// shutdown. Query-level errors (constraint violations, syntax) are not
// connectivity failures and must reach the caller.
func isConnFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, io.EOF) {
		return true
	}
	// A sibling caller may invalidate and close the shared handle between this
	// caller's acquire and its use. database/sql exports no sentinel for the
	// closed-handle error, so match its message.
	if err.Error() == "sql: database is closed" {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1053 ER_SERVER_SHUTDOWN, 1077 ER_NORMAL_SHUTDOWN
		return myErr.Number == 1053 || myErr.Number == 1077
	}
	return false
}

// openPool opens the request-path pool for a descriptor.
func openPool(desc config.Descriptor) (*sql.DB, error) {
	db, err := sql.Open("mysql", desc.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
