package router

import "fmt"

// ErrorKind classifies a routing failure.
type ErrorKind string

const (
	// KindNoHealthyTargets means no target was available; recoverable,
	// surface a 503-equivalent and retry later.
	KindNoHealthyTargets ErrorKind = "no_healthy_targets"
	// KindCircuitOpen means the selected target is isolated; recoverable,
	// but don't busy-retry the same target.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindTransport wraps whatever the dispatch callback returned.
	KindTransport ErrorKind = "transport_error"
)

// Error is the structured failure surfaced across the routing boundary:
// a kind, the offending target id when applicable, and a human-readable
// reason. Never a bare stack trace.
type Error struct {
	Kind     ErrorKind `json:"kind"`
	TargetID string    `json:"target_id,omitempty"`
	Reason   string    `json:"reason"`
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.TargetID != "" {
		return fmt.Sprintf("%s (target %s): %s", e.Kind, e.TargetID, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}
