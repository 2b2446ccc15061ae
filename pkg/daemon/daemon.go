// Package daemon runs long-lived shell subprocesses keyed by identity and
// exchanges line-oriented input and output with them.
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	readChunk   = 4096
	waitTimeout = 5 * time.Second

	// stdoutGrace bounds how long an exchange in progress may keep reading
	// output a child wrote before it exited.
	stdoutGrace = 5 * time.Second
)

// LineFunc receives each redacted output line, without its newline.
type LineFunc func(line string)

// Daemon is a live subprocess with owned stdin, stdout and stderr.
type Daemon struct {
	spec     Spec
	logger   arbor.ILogger
	redactor *Redactor
	errors   *regexp.Regexp
	timeout  time.Duration

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	writeMu    sync.Mutex
	exchangeMu sync.Mutex
	pending    []byte

	started    time.Time
	done       chan struct{}
	drained    chan struct{}
	closeOnce  sync.Once
	stdoutOnce sync.Once
	waitErr    error

	onTerminate func(*Daemon)
}

// spawn starts the subprocess described by spec and its stderr drain.
func spawn(spec Spec, log arbor.ILogger, onTerminate func(*Daemon)) (*Daemon, error) {
	fail := func(err error) error {
		return &SpawnError{Identity: spec.Identity, Command: spec.Describe(), Err: err}
	}
	if strings.TrimSpace(spec.Identity) == "" {
		return nil, fail(errors.New("identity is required"))
	}
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fail(errors.New("command is required"))
	}

	redactor, err := NewRedactor(spec.Filters)
	if err != nil {
		return nil, fail(err)
	}
	matcher, err := compileErrors(spec.ErrorPatterns)
	if err != nil {
		return nil, fail(err)
	}

	name, args := spec.argv()
	cmd := exec.Command(name, args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcessGroup(cmd)

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fail(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, fail(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fail(err)
	}
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, fail(err)
	}
	// The child holds its own copies now.
	closeAll(inR, outW, errW)

	d := &Daemon{
		spec:        spec,
		logger:      log,
		redactor:    redactor,
		errors:      matcher,
		timeout:     spec.readTimeout(),
		cmd:         cmd,
		stdin:       inW,
		stdout:      outR,
		stderr:      errR,
		started:     time.Now(),
		done:        make(chan struct{}),
		drained:     make(chan struct{}),
		onTerminate: onTerminate,
	}

	// The wrapper reads the real command as its first line. This happens
	// before the drain starts so a failure never reaches onTerminate.
	if spec.User != "" {
		if err := d.Send(spec.Command); err != nil {
			d.abort()
			return nil, fail(err)
		}
	}

	log.Info().
		Str("identity", spec.Identity).
		Str("command", redactor.Redact(spec.Describe())).
		Str("pid", strconv.Itoa(cmd.Process.Pid)).
		Msg("Spawned daemon")

	go d.drain()
	return d, nil
}

// abort tears down a daemon whose drain never started.
func (d *Daemon) abort() {
	close(d.done)
	close(d.drained)
	closeAll(d.stdin, d.stdout, d.stderr)
	terminateProcessGroup(d.cmd)
	d.waitErr = d.reap()
}

// Identity returns the identity the daemon was created for.
func (d *Daemon) Identity() string { return d.spec.Identity }

// Spec returns the spec the daemon was spawned from.
func (d *Daemon) Spec() Spec { return d.spec }

// PID returns the subprocess id.
func (d *Daemon) PID() int { return d.cmd.Process.Pid }

// Started returns the spawn time.
func (d *Daemon) Started() time.Time { return d.started }

// Timeout returns the read timeout used when Sync gets a negative timeout.
func (d *Daemon) Timeout() time.Duration { return d.timeout }

// Done is closed once the daemon has been terminated.
func (d *Daemon) Done() <-chan struct{} { return d.done }

// Alive reports whether the daemon has not been terminated.
func (d *Daemon) Alive() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Redact applies the daemon's filters to s.
func (d *Daemon) Redact(s string) string { return d.redactor.Redact(s) }

// Send writes text as one input line. It never waits for output.
func (d *Daemon) Send(text string) error {
	if !d.Alive() {
		return fmt.Errorf("send to daemon %q: %w", d.spec.Identity, ErrClosed)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := io.WriteString(d.stdin, text); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			return fmt.Errorf("send to daemon %q: %w", d.spec.Identity, ErrClosed)
		}
		return fmt.Errorf("send to daemon %q: %w", d.spec.Identity, err)
	}

	d.logger.Debug().
		Str("identity", d.spec.Identity).
		Str("input", d.redactor.Redact(strings.TrimSuffix(text, "\n"))).
		Msg("Sent input to daemon")
	return nil
}

// Sync reads output lines until a sentinel or error pattern matches. Each
// line must arrive within timeout; zero waits forever and a negative value
// selects the daemon's default.
func (d *Daemon) Sync(ctx context.Context, timeout time.Duration, onLine LineFunc) (string, error) {
	d.exchangeMu.Lock()
	defer d.exchangeMu.Unlock()
	defer d.releaseStdout()
	return d.sync(ctx, timeout, onLine)
}

// Exec sends text and syncs as a single exchange.
func (d *Daemon) Exec(ctx context.Context, text string, timeout time.Duration, onLine LineFunc) (string, error) {
	d.exchangeMu.Lock()
	defer d.exchangeMu.Unlock()
	defer d.releaseStdout()

	if err := d.Send(text); err != nil {
		return "", err
	}
	return d.sync(ctx, timeout, onLine)
}

func (d *Daemon) sync(ctx context.Context, timeout time.Duration, onLine LineFunc) (string, error) {
	if timeout < 0 {
		timeout = d.timeout
	}

	stop := context.AfterFunc(ctx, func() {
		_ = d.stdout.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	var out strings.Builder
	for {
		raw, err := d.readLine(ctx, timeout)
		if err != nil {
			output := out.String()
			switch {
			case ctx.Err() != nil:
				return output, fmt.Errorf("sync daemon %q: %w", d.spec.Identity, ctx.Err())
			case errors.Is(err, os.ErrDeadlineExceeded):
				d.logger.Warn().
					Str("identity", d.spec.Identity).
					Str("timeout", timeout.String()).
					Msg("Timed out reading daemon output")
				return output, &TimeoutError{Identity: d.spec.Identity, Timeout: timeout, Output: output}
			default:
				d.logger.Debug().
					Str("identity", d.spec.Identity).
					Err(err).
					Msg("Daemon output stream closed")
				d.terminate()
				d.closeStdout()
				return output, &ClosedError{Identity: d.spec.Identity, Output: output}
			}
		}

		line := d.redactor.Redact(raw)
		out.WriteString(line)
		out.WriteByte('\n')

		if strings.Contains(raw, SuccessSentinel) {
			return out.String(), nil
		}
		if d.errors.MatchString(raw) {
			output := out.String()
			d.logger.Warn().
				Str("identity", d.spec.Identity).
				Str("line", line).
				Msg("Error pattern matched in daemon output")
			return output, &ProtocolFailureError{Identity: d.spec.Identity, Line: line, Output: output}
		}

		d.logger.Debug().
			Str("identity", d.spec.Identity).
			Str("stream", "stdout").
			Msg(line)
		if onLine != nil {
			onLine(line)
		}
	}
}

// readLine returns the next line from stdout. Bytes read before a timeout
// stay pending for the next call.
func (d *Daemon) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	if line, ok := d.nextPending(); ok {
		return line, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := d.stdout.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	// The cancel callback may have fired before the deadline was reset.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	buf := make([]byte, readChunk)
	for {
		n, err := d.stdout.Read(buf)
		d.pending = append(d.pending, buf[:n]...)
		if line, ok := d.nextPending(); ok {
			return line, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(d.pending) > 0 {
				line := string(d.pending)
				d.pending = nil
				return line, nil
			}
			return "", err
		}
	}
}

func (d *Daemon) nextPending() (string, bool) {
	i := bytes.IndexByte(d.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(d.pending[:i], []byte{'\r'}))
	d.pending = append(d.pending[:0], d.pending[i+1:]...)
	return line, true
}

// drain logs stderr until it closes, then tears the daemon down.
func (d *Daemon) drain() {
	defer close(d.drained)

	scanner := bufio.NewScanner(d.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		d.logger.Debug().
			Str("identity", d.spec.Identity).
			Str("stream", "stderr").
			Msg(d.redactor.Redact(scanner.Text()))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		d.logger.Warn().Str("identity", d.spec.Identity).Err(err).Msg("Daemon stderr read failed")
	}

	d.terminate()

	// An exchange in progress keeps stdout until it reads EOF, so output the
	// child wrote before exiting is not lost.
	if d.exchangeMu.TryLock() {
		d.closeStdout()
		d.exchangeMu.Unlock()
		return
	}
	time.AfterFunc(stdoutGrace, d.closeStdout)
}

// Terminate stops the daemon and waits for its stderr drain to finish.
// Repeated calls are no-ops.
func (d *Daemon) Terminate() error {
	d.terminate()
	d.closeStdout()
	<-d.drained
	return d.waitErr
}

func (d *Daemon) terminate() {
	d.closeOnce.Do(func() {
		close(d.done)

		_ = d.stdin.Close()
		terminateProcessGroup(d.cmd)
		_ = d.stderr.Close()

		d.waitErr = d.reap()

		if d.onTerminate != nil {
			d.onTerminate(d)
		}

		d.logger.Info().
			Str("identity", d.spec.Identity).
			Str("uptime", time.Since(d.started).Round(time.Millisecond).String()).
			Msg("Terminated daemon")
	})
}

func (d *Daemon) closeStdout() {
	d.stdoutOnce.Do(func() { _ = d.stdout.Close() })
}

// releaseStdout closes stdout once an exchange ends on a terminated daemon.
func (d *Daemon) releaseStdout() {
	if !d.Alive() {
		d.closeStdout()
	}
}

// reap waits a bounded time for the killed subprocess to exit.
func (d *Daemon) reap() error {
	waited := make(chan error, 1)
	go func() { waited <- d.cmd.Wait() }()
	select {
	case err := <-waited:
		if err != nil {
			d.logger.Debug().Str("identity", d.spec.Identity).Err(err).Msg("Daemon exited")
		}
		return nil
	case <-time.After(waitTimeout):
		return fmt.Errorf("wait for daemon %q: timed out after %s", d.spec.Identity, waitTimeout)
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
