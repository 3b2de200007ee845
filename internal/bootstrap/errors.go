package bootstrap

import (
	"errors"
	"fmt"

	"github.com/Anshuman-git-code/two-tier-app-eks-deployment/internal/config"
)

// ReadinessKind classifies why a readiness cycle failed.
type ReadinessKind int

const (
	// KindUnreachable covers transient transport failures (refused, reset,
	// DNS, per-attempt deadline). Retried with backoff.
	KindUnreachable ReadinessKind = iota
	// KindAuthFailed is a credential rejection by the store. Retrying with
	// the same credentials cannot succeed, so it is surfaced immediately.
	KindAuthFailed
	// KindTimeout means the cumulative retry budget was exhausted.
	KindTimeout
)

func (k ReadinessKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindAuthFailed:
		return "auth-failed"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ReadinessError wraps a probe failure with its classification.
type ReadinessError struct {
	Kind  ReadinessKind
	Cause error
}

func (e *ReadinessError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("readiness: %s", e.Kind)
	}
	return fmt.Sprintf("readiness: %s: %v", e.Kind, e.Cause)
}

func (e *ReadinessError) Unwrap() error { return e.Cause }

// SchemaError reports a DDL failure other than "object already exists".
type SchemaError struct {
	Statement string
	Cause     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %q: %v", e.Statement, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// Process exit codes, one per failure category, so an external supervisor
// can apply a different restart policy per class (e.g. back off on
// unreachable, stop on config/auth).
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 3
	ExitUnreachable = 4
	ExitAuthFailed  = 5
	ExitTimeout     = 6
	ExitSchema      = 7
)

// ExitCode maps a bootstrap failure to its process exit code.
// Unclassified errors (including nil-safety fallbacks) map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}

	var rdyErr *ReadinessError
	if errors.As(err, &rdyErr) {
		switch rdyErr.Kind {
		case KindAuthFailed:
			return ExitAuthFailed
		case KindTimeout:
			return ExitTimeout
		default:
			return ExitUnreachable
		}
	}

	var schErr *SchemaError
	if errors.As(err, &schErr) {
		return ExitSchema
	}

	return ExitFailure
}

// Category names a failure class for readiness reporting, so external
// orchestration can tell "keep waiting" apart from "replace this instance".
func Category(err error) string {
	switch ExitCode(err) {
	case ExitOK:
		return "ok"
	case ExitConfig:
		return "config"
	case ExitUnreachable:
		return "unreachable"
	case ExitAuthFailed:
		return "auth-failed"
	case ExitTimeout:
		return "timeout"
	case ExitSchema:
		return "schema"
	default:
		return "internal"
	}
}
