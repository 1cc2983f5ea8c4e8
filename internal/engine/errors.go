package engine

import (
	"errors"
	"fmt"
)

// RoutingError reports a routing decision the executor cannot run: unknown
// agents or cyclic dependencies. The engine answers it with the fallback
// decision rather than failing the turn.
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string {
	return "routing: " + e.Reason
}

// ConflictError reports two nodes in the same tier writing the same state
// field. It is a coordination bug, the one failure class that aborts the
// whole turn.
type ConflictError struct {
	Field string
	Node  string
	Owner string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state conflict: %s and %s both wrote %q in the same tier", e.Owner, e.Node, e.Field)
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a node error as non-recoverable: the node's branch is
// abandoned and its dependents are skipped. Unmarked errors degrade the
// node to an empty contribution and let dependents run.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err carries the Fatal mark.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
