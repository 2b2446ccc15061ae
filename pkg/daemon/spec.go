package daemon

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// SuccessSentinel ends a sync successfully when a line contains it.
	SuccessSentinel = "~~~~COMMAND SUCCESSFUL~~~~"

	// FailureSentinel ends a sync with a protocol failure.
	FailureSentinel = "~~~~COMMAND FAILED~~~~"

	// DefaultSwitchUser is the privilege-switch wrapper; the target user is
	// appended as its last argument.
	DefaultSwitchUser = "su -"

	// TimeoutEnv overrides the default read timeout, in seconds.
	TimeoutEnv = "TETHER_DAEMON_READ_TIMEOUT"

	defaultReadTimeout = 120 * time.Second
)

// Spec describes the daemon to spawn for an identity.
type Spec struct {
	Identity string
	Command  string

	// User, when set, runs SwitchUser with User appended and sends Command
	// as the first input line.
	User       string
	SwitchUser string

	Filters       []string
	ErrorPatterns []string

	// ReadTimeout is used by Sync when the caller passes a negative
	// timeout. Zero selects DefaultTimeout.
	ReadTimeout time.Duration

	Dir string
	Env []string
}

// DefaultTimeout returns the per-line read timeout from TimeoutEnv, or
// 120 seconds when the variable is unset or invalid.
func DefaultTimeout() time.Duration {
	raw := strings.TrimSpace(os.Getenv(TimeoutEnv))
	if raw == "" {
		return defaultReadTimeout
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return defaultReadTimeout
	}
	return time.Duration(secs * float64(time.Second))
}

func (s Spec) readTimeout() time.Duration {
	if s.ReadTimeout > 0 {
		return s.ReadTimeout
	}
	return DefaultTimeout()
}

// argv returns the program and arguments for the subprocess.
func (s Spec) argv() (string, []string) {
	if s.User == "" {
		return "/bin/sh", []string{"-c", s.Command}
	}
	wrapper := strings.Fields(s.SwitchUser)
	if len(wrapper) == 0 {
		wrapper = strings.Fields(DefaultSwitchUser)
	}
	args := append(wrapper[1:len(wrapper):len(wrapper)], s.User)
	return wrapper[0], args
}

// Describe returns the command line for logs and errors.
func (s Spec) Describe() string {
	if s.User == "" {
		return s.Command
	}
	name, args := s.argv()
	return strings.Join(append([]string{name}, args...), " ")
}

// Wrap makes a shell command report its exit status with a sentinel.
func Wrap(command string) string {
	return "{ " + strings.TrimRight(command, "; \n") + "; } && echo '" + SuccessSentinel + "' || echo '" + FailureSentinel + "'"
}
