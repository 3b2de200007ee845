package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
)

// BackoffPolicy governs retry pacing inside the readiness probe.
type BackoffPolicy struct {
	// InitialInterval is the delay after the first failed attempt.
	InitialInterval time.Duration
	// MaxInterval caps exponential growth.
	MaxInterval time.Duration
	// Multiplier scales the interval after each attempt.
	Multiplier float64
	// Jitter is the randomization factor applied to each interval (0 to 1).
	Jitter float64
	// Budget bounds the cumulative elapsed time of the whole cycle.
	Budget time.Duration
	// AttemptTimeout bounds each individual connect+ping attempt, so one
	// hung dial cannot consume the whole budget.
	AttemptTimeout time.Duration
}

// DefaultBackoffPolicy returns the policy used when config supplies nothing.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.25,
		Budget:          2 * time.Minute,
		AttemptTimeout:  3 * time.Second,
	}
}

// PolicyFromConfig maps bootstrap tuning values onto a BackoffPolicy,
// falling back to defaults for unset fields.
func PolicyFromConfig(bc config.BootstrapConfig) BackoffPolicy {
	p := DefaultBackoffPolicy()
	if bc.ProbeInterval > 0 {
		p.InitialInterval = bc.ProbeInterval
	}
	if bc.ProbeMaxInterval > 0 {
		p.MaxInterval = bc.ProbeMaxInterval
	}
	if bc.Timeout > 0 {
		p.Budget = bc.Timeout
	}
	if bc.AttemptTimeout > 0 {
		p.AttemptTimeout = bc.AttemptTimeout
	}
	return p
}

// ProbeState tracks one readiness cycle. It is transient: created when the
// cycle starts, discarded once the store is ready or the cycle is abandoned.
type ProbeState struct {
	Attempts    int
	LastFailure error
	Elapsed     time.Duration
}

// Probe repeatedly attempts a minimal connect+ping against a descriptor
// until the store answers, the budget runs out, or the attempt is classified
// as non-retryable.
type Probe struct {
	policy BackoffPolicy

	// attempt performs one bounded connect+ping. Overridable in tests.
	attempt func(ctx context.Context, desc config.Descriptor) error
}

// NewProbe constructs a Probe with the given pacing policy.
func NewProbe(policy BackoffPolicy) *Probe {
	return &Probe{
		policy:  policy,
		attempt: dialAndPing,
	}
}

// WaitUntilReady blocks until the store described by desc accepts a
// connection and answers a ping. Transient failures are retried with
// exponential backoff; an authentication rejection returns immediately as
// KindAuthFailed, since retrying a wrong password only burns the budget.
// When the budget is exhausted the last transient cause is surfaced as
// KindTimeout. Cancelling ctx aborts an in-progress wait promptly.
func (p *Probe) WaitUntilReady(ctx context.Context, desc config.Descriptor) error {
	state := &ProbeState{}
	start := time.Now()

	// The budget is enforced through a deadline context rather than the
	// backoff's MaxElapsedTime: MaxElapsedTime stops retrying early when the
	// next interval would overshoot, and the contract is "fail at or after
	// the budget, never before".
	budgetCtx, cancelBudget := context.WithTimeout(ctx, p.policy.Budget)
	defer cancelBudget()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.policy.InitialInterval
	bo.MaxInterval = p.policy.MaxInterval
	bo.Multiplier = p.policy.Multiplier
	bo.RandomizationFactor = p.policy.Jitter
	bo.MaxElapsedTime = 0

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(budgetCtx, p.policy.AttemptTimeout)
		defer cancel()

		err := p.attempt(attemptCtx, desc)
		if err == nil {
			return nil
		}

		state.Attempts++
		state.LastFailure = err

		if isAuthError(err) {
			return backoff.Permanent(&ReadinessError{Kind: KindAuthFailed, Cause: err})
		}

		slog.Debug("store not ready, will retry",
			"descriptor", desc,
			"attempt", state.Attempts,
			"err", err,
		)
		return &ReadinessError{Kind: KindUnreachable, Cause: err}
	}

	err := backoff.Retry(op, backoff.WithContext(bo, budgetCtx))
	state.Elapsed = time.Since(start)

	if err == nil {
		slog.Info("store ready",
			"descriptor", desc,
			"attempts", state.Attempts+1,
			"elapsed_ms", state.Elapsed.Milliseconds(),
		)
		return nil
	}

	var rerr *ReadinessError
	if errors.As(err, &rerr) && rerr.Kind == KindAuthFailed {
		return rerr
	}

	// An external cancellation is not a probe verdict; propagate it as-is so
	// shutdown does not masquerade as a store failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return &ReadinessError{Kind: KindTimeout, Cause: state.LastFailure}
}

// dialAndPing opens a short-lived connection from the descriptor and pings
// it. The connection never joins the request-path pool; readiness probing and
// serving use separate handles.
func dialAndPing(ctx context.Context, desc config.Descriptor) error {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = desc.Addr()
	cfg.User = desc.User
	cfg.Passwd = desc.Password
	cfg.DBName = desc.Database

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return err
	}

	db := sql.OpenDB(connector)
	defer db.Close()
	db.SetMaxOpenConns(1)

	return db.PingContext(ctx)
}

// Authentication error numbers reported by the server. Anything in this set
// means the credentials are wrong, not that the store is still starting.
//
//	1044 ER_DBACCESS_DENIED_ERROR
//	1045 ER_ACCESS_DENIED_ERROR
//	1698 ER_ACCESS_DENIED_NO_PASSWORD_ERROR
func isAuthError(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case 1044, 1045, 1698:
		return true
	}
	return false
}
