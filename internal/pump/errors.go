package pump

import "fmt"

// ClosedSessionError is returned by every operation on a closed Pump.
// The transport is not touched.
type ClosedSessionError struct {
	Op string
}

func (e *ClosedSessionError) Error() string {
	return fmt.Sprintf("pump: %s: session closed", e.Op)
}

// ValidationError reports an argument rejected before any I/O.
type ValidationError struct {
	Field  string
	Value  any
	Min    any
	Max    any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("pump: invalid %s %v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("pump: invalid %s %v: must be between %v and %v", e.Field, e.Value, e.Min, e.Max)
}
