package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrExternalCommand is matched by every *ExternalCommandError.
var ErrExternalCommand = errors.New("external command failed")

// ExternalCommandError reports a non-zero exit of a command run through
// the process fallback.
type ExternalCommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalCommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Is matches ErrExternalCommand.
func (e *ExternalCommandError) Is(target error) bool {
	return target == ErrExternalCommand
}

func (e *ExternalCommandError) Unwrap() error {
	return e.Err
}

// Runner executes a full command line as an external process.
type Runner interface {
	Run(ctx context.Context, line string) (string, error)
}

// ShellRunner runs command lines through a POSIX shell.
type ShellRunner struct {
	// Shell defaults to /bin/sh.
	Shell string

	// Dir is the working directory; empty means the current directory.
	Dir string

	// Env is appended to the inherited environment.
	Env []string
}

// Run executes line with "<shell> -c" and returns combined output.
// A non-zero exit returns an *ExternalCommandError.
func (r ShellRunner) Run(ctx context.Context, line string) (string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", line)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.String(), &ExternalCommandError{
			Command:  line,
			ExitCode: exitErr.ExitCode(),
			Output:   out.String(),
			Err:      err,
		}
	}

	exitCode := 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return out.String(), &ExternalCommandError{
		Command:  line,
		ExitCode: exitCode,
		Output:   out.String(),
		Err:      err,
	}
}
