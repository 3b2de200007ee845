package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
)

// State is the coordinator's position in the bootstrap sequence. Failed is
// terminal for the process instance: the coordinator never self-restarts,
// restart policy belongs to the surrounding supervisor.
type State int

const (
	StateIdle State = iota
	StateResolvingConfig
	StateAwaitingReadiness
	StateInitializingSchema
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingConfig:
		return "resolving-config"
	case StateAwaitingReadiness:
		return "awaiting-readiness"
	case StateInitializingSchema:
		return "initializing-schema"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status values used across Result and StageResult.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// StageResult is the outcome of a single bootstrap stage.
type StageResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// Result is the aggregate outcome of one bootstrap run, shaped for the
// one-shot command's JSON output.
type Result struct {
	Status   string        `json:"status"`
	State    string        `json:"state"`
	ExitCode int           `json:"exitCode"`
	Stages   []StageResult `json:"stages"`
}

// ProbeResult is returned by the deep-health probes of individual backing
// services.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ErrAlreadyRun is returned when Run is invoked on a coordinator that has
// already left Idle. One bootstrap sequence runs per process.
var ErrAlreadyRun = errors.New("bootstrap already run")

// stageNames in execution order, used to mark unexecuted stages skipped.
var stageNames = []string{"resolve-config", "await-readiness", "init-schema", "open-connections"}

// ReadinessWaiter is satisfied by *Probe.
type ReadinessWaiter interface {
	WaitUntilReady(ctx context.Context, desc config.Descriptor) error
}

// ConnectionOpener is satisfied by *clients.MySQLManager.
type ConnectionOpener interface {
	Open(ctx context.Context) error
}

// schemaConn is the transient handle the schema stage opens and closes; the
// request-path pool is opened only afterwards, by the connection manager.
type schemaConn interface {
	Execer
	Close() error
}

// Coordinator runs the bootstrap sequence exactly once per process:
// resolve config, wait for store readiness, ensure the schema, open the
// request-path connections, then report Ready. Every stage blocks until its
// predecessor completes; a stage failure is terminal.
type Coordinator struct {
	resolve    func() (config.Descriptor, error)
	probe      ReadinessWaiter
	openSchema func(ctx context.Context, desc config.Descriptor) (schemaConn, error)
	manager    ConnectionOpener

	mu      sync.RWMutex
	state   State
	failure error
	stages  []StageResult
}

// New constructs a Coordinator in StateIdle.
func New(resolve func() (config.Descriptor, error), probe ReadinessWaiter, manager ConnectionOpener) *Coordinator {
	return &Coordinator{
		resolve:    resolve,
		probe:      probe,
		openSchema: defaultSchemaConn,
		manager:    manager,
		state:      StateIdle,
	}
}

// Run executes the bootstrap sequence. It returns nil once the coordinator is
// Ready, or the categorized stage error once it is Failed. Calling Run a
// second time returns ErrAlreadyRun without touching state.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.transitionFrom(StateIdle, StateResolvingConfig) {
		return ErrAlreadyRun
	}

	var desc config.Descriptor
	if err := c.runStage("resolve-config", func() error {
		var err error
		desc, err = c.resolve()
		return err
	}); err != nil {
		return c.fail(err)
	}

	c.transition(StateAwaitingReadiness)
	if err := c.runStage("await-readiness", func() error {
		return c.probe.WaitUntilReady(ctx, desc)
	}); err != nil {
		return c.fail(err)
	}

	c.transition(StateInitializingSchema)
	if err := c.runStage("init-schema", func() error {
		return c.applySchema(ctx, desc)
	}); err != nil {
		return c.fail(err)
	}

	if err := c.runStage("open-connections", func() error {
		return c.manager.Open(ctx)
	}); err != nil {
		return c.fail(err)
	}

	c.transition(StateReady)
	slog.Info("bootstrap complete, accepting traffic")
	return nil
}

// State returns the current coordinator state. Safe for concurrent readers;
// the readiness endpoint polls it.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether the hosting application may accept external traffic.
func (c *Coordinator) Ready() bool {
	return c.State() == StateReady
}

// Err returns the terminal failure, or nil while the coordinator is not
// Failed.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// Result summarizes the run for the one-shot command's JSON output. Stages
// the run never reached are reported as skipped.
func (c *Coordinator) Result() Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := Result{
		Status:   StatusOK,
		State:    c.state.String(),
		ExitCode: ExitCode(c.failure),
		Stages:   make([]StageResult, 0, len(stageNames)),
	}

	done := make(map[string]StageResult, len(c.stages))
	for _, s := range c.stages {
		done[s.Name] = s
		if s.Status == StatusError {
			res.Status = StatusError
		}
	}
	for _, name := range stageNames {
		if s, ok := done[name]; ok {
			res.Stages = append(res.Stages, s)
			continue
		}
		res.Stages = append(res.Stages, StageResult{Name: name, Status: StatusSkipped})
	}

	return res
}

// applySchema opens a short-lived connection for the DDL and closes it
// before the request-path pool exists.
func (c *Coordinator) applySchema(ctx context.Context, desc config.Descriptor) error {
	db, err := c.openSchema(ctx, desc)
	if err != nil {
		return &SchemaError{Statement: "connect", Cause: err}
	}
	defer db.Close()

	return EnsureSchema(ctx, db)
}

// runStage executes fn, records its outcome, and logs it.
func (c *Coordinator) runStage(name string, fn func() error) error {
	start := time.Now()
	err := fn()

	stage := StageResult{
		Name:      name,
		Status:    StatusOK,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		stage.Status = StatusError
		stage.Error = err.Error()
		slog.Error("bootstrap stage failed", "stage", name, "err", err)
	} else {
		slog.Info("bootstrap stage ok", "stage", name, "elapsed_ms", stage.ElapsedMs)
	}

	c.mu.Lock()
	c.stages = append(c.stages, stage)
	c.mu.Unlock()

	return err
}

func (c *Coordinator) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	slog.Info("bootstrap state", "from", from.String(), "to", to.String())
}

func (c *Coordinator) transitionFrom(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *Coordinator) fail(err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.failure = err
	c.mu.Unlock()
	slog.Error("bootstrap failed", "err", err, "exit_code", ExitCode(err))
	return err
}

// defaultSchemaConn opens a single-connection handle for the schema stage.
func defaultSchemaConn(ctx context.Context, desc config.Descriptor) (schemaConn, error) {
	db, err := sql.Open("mysql", desc.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
