package daemon

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSpawn is matched by every *SpawnError.
	ErrSpawn = errors.New("daemon spawn failed")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("daemon read timed out")

	// ErrProtocolFailure is matched by every *ProtocolFailureError.
	ErrProtocolFailure = errors.New("command in daemon failed")

	// ErrClosed is returned once the daemon's streams are closed.
	ErrClosed = errors.New("daemon closed")

	// ErrNotFound is returned when no live daemon exists for an identity.
	ErrNotFound = errors.New("daemon not found")
)

// SpawnError reports that the subprocess could not be started.
type SpawnError struct {
	Identity string
	Command  string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn daemon %q (%s): %v", e.Identity, e.Command, e.Err)
}

// Is matches ErrSpawn.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that no line arrived within the timeout. Output
// holds the redacted output accumulated before the timeout.
type TimeoutError struct {
	Identity string
	Timeout  time.Duration
	Output   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout of %s expired on reading output from daemon %q", e.Timeout, e.Identity)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ProtocolFailureError reports that an error pattern matched. Output holds
// the redacted output accumulated since the sync began, including the
// matching line.
type ProtocolFailureError struct {
	Identity string
	Line     string
	Output   string
}

func (e *ProtocolFailureError) Error() string {
	return fmt.Sprintf("command in daemon %q failed:\n%s", e.Identity, e.Output)
}

// Is matches ErrProtocolFailure.
func (e *ProtocolFailureError) Is(target error) bool { return target == ErrProtocolFailure }

// ClosedError reports that the output stream ended during a sync.
type ClosedError struct {
	Identity string
	Output   string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("daemon %q closed its output stream", e.Identity)
}

// Is matches ErrClosed.
func (e *ClosedError) Is(target error) bool { return target == ErrClosed }

// OutputOf returns the accumulated output carried by a sync error.
func OutputOf(err error) (string, bool) {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Output, true
	}
	var failErr *ProtocolFailureError
	if errors.As(err, &failErr) {
		return failErr.Output, true
	}
	var closedErr *ClosedError
	if errors.As(err, &closedErr) {
		return closedErr.Output, true
	}
	return "", false
}
