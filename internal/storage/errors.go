package storage

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// OperationalError marks a database failure that is systemic rather
// than job-specific: the store is unreachable or shutting down. Workers
// treat it as a signal to cool down before taking the next job.
type OperationalError struct {
	Op  string
	Err error
}

func (e *OperationalError) Error() string {
	return fmt.Sprintf("database unavailable during %s: %v", e.Op, e.Err)
}

func (e *OperationalError) Unwrap() error {
	return e.Err
}

// IsOperational reports whether err is (or wraps) an OperationalError.
func IsOperational(err error) bool {
	var oe *OperationalError
	return errors.As(err, &oe)
}

// classify wraps connectivity-level failures as OperationalError and
// leaves query-level failures (constraint violations, bad SQL) alone.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, class 57 is server
		// shutdown / operator intervention.
		code := pgErr.Code
		if len(code) >= 2 && (code[:2] == "08" || code[:2] == "57") {
			return &OperationalError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return &OperationalError{Op: op, Err: err}
	}
	if pgconn.SafeToRetry(err) {
		return &OperationalError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
