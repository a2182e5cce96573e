package pgc

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/pgcache/logger"
)

var (
	// ErrNotFound describes a lookup that matched no page. Find reports
	// a miss through its boolean result; no function in this package
	// returns ErrNotFound.
	ErrNotFound = errors.New("pgc: page not found")
	// ErrNotAcquirable describes a page that is marked for deletion.
	// Acquisition failures are reported as booleans; no function in
	// this package returns ErrNotAcquirable.
	ErrNotAcquirable = errors.New("pgc: page is being deleted")
	// ErrSectionMismatch describes passing SectionAll where a concrete
	// section is required. No function in this package returns it.
	ErrSectionMismatch = errors.New("pgc: section mismatch")
	// ErrAlreadyMigrating is returned when a second migrator attempts
	// to run a journal export against a section already being
	// exported (spec.md §4.9).
	ErrAlreadyMigrating = errors.New("pgc: journal migration already in progress for section")
)

// InvariantError marks a corrupted-state condition: a page observed
// outside its owning queue, a refcount underflow, an index node missing
// its parent. These are not recoverable and the caller is expected to
// let the process die.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("pgc: invariant violated in %s: %s", e.Op, e.Msg)
}

// fatalf logs the violation and panics with an *InvariantError. Callers
// never recover from this; it exists to make corruption loud instead of
// silently propagating bad state.
func fatalf(op, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	// Log at Fatal level without logrus's Fatal(), which would exit the
	// process before the panic below could happen.
	logger.ErrorLogger.WithField("op", op).Log(logrus.FatalLevel, msg)
	panic(&InvariantError{Op: op, Msg: msg})
}
