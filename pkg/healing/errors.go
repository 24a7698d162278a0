package healing

import (
	"fmt"
)

// InvalidStateError is returned when an operation is attempted from a
// record (or run) state that forbids it. It carries the current status
// for diagnostics and maps to a client error, never a fatal one.
type InvalidStateError struct {
	Op      string
	Current string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s from status %q", e.Op, e.Current)
}
