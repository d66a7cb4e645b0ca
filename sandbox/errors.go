//go:build linux

package sandbox

import "fmt"

// InternalError reports an invariant violation: a launcher pre-exec
// failure the child could not attribute to the user command, or a misuse
// of the Sandbox API (such as Run on a Sandbox that was already closed).
type InternalError struct {
	Reason string
	Err    error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("internal error: %s", e.Reason)
}

func (e *InternalError) Unwrap() error { return e.Err }
