package supervise

import (
	"fmt"
	"time"
)

// SpawnError means the OS could not create a backend process. Fatal to
// Start; everything already spawned is rolled back.
type SpawnError struct {
	Process string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Process, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// PrematureExitError means a backend process exited before readiness was
// confirmed. Fatal to Start.
type PrematureExitError struct {
	Process string
	Err     error
}

func (e *PrematureExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s exited before the backend became ready: %v", e.Process, e.Err)
	}
	return fmt.Sprintf("%s exited before the backend became ready", e.Process)
}

func (e *PrematureExitError) Unwrap() error { return e.Err }

// ReadinessError means the readiness probe budget was exhausted. Fatal to
// Start.
type ReadinessError struct {
	Endpoint string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("backend not ready at %s after %d attempts over %s", e.Endpoint, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

func (e *ReadinessError) Unwrap() error { return e.Err }
