package phase

import (
	"fmt"
	"time"

	"github.com/jeanhaley32/claude-habitat/internal/duration"
)

// Error reports a failed phase. Step names the hook or default action
// that failed, when known.
type Error struct {
	Phase Name
	Step  string
	Cause error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("phase %q failed in %s: %v", e.Phase, e.Step, e.Cause)
	}
	return fmt.Sprintf("phase %q failed: %v", e.Phase, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// TimeoutError reports a phase that exceeded its allotted time.
type TimeoutError struct {
	Phase   Name
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for phase %s after %s (elapsed %s)", e.Phase, duration.Format(e.Timeout), duration.Format(e.Elapsed))
}
