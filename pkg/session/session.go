// Package session binds daemon identities to scripts and records every
// exchange in a transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/pkg/daemon"
	"github.com/ternarybob/tether/pkg/script"
)

// Verbs handled by a session.
const (
	VerbExec script.Verb = "exec"
	VerbSend script.Verb = "send"
	VerbSync script.Verb = "sync"
)

// DefaultVerbs is the allow-list for documents that declare none. exec is
// first and therefore the default verb.
var DefaultVerbs = script.NewVerbSet(VerbExec, VerbSend, VerbSync)

// Config describes a session.
type Config struct {
	Spec daemon.Spec

	// Wrap passes exec input through daemon.Wrap.
	Wrap bool
}

// Session is a daemon identity plus its transcript. The daemon is created
// on first use and recreated if it has died.
type Session struct {
	cfg        Config
	registry   *daemon.Registry
	transcript Transcript
	events     *Events
	redactor   *daemon.Redactor
	logger     arbor.ILogger
}

func newSession(cfg Config, registry *daemon.Registry, transcript Transcript, events *Events, l arbor.ILogger) (*Session, error) {
	redactor, err := daemon.NewRedactor(cfg.Spec.Filters)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", cfg.Spec.Identity, err)
	}
	return &Session{
		cfg:        cfg,
		registry:   registry,
		transcript: transcript,
		events:     events,
		redactor:   redactor,
		logger:     l,
	}, nil
}

// ID returns the session identity.
func (s *Session) ID() string { return s.cfg.Spec.Identity }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// Transcript returns the session's exchange history.
func (s *Session) Transcript() Transcript { return s.transcript }

// Daemon returns the live daemon for the session, spawning it if needed.
func (s *Session) Daemon(ctx context.Context) (*daemon.Daemon, error) {
	return s.registry.Create(ctx, s.cfg.Spec)
}

// Live returns the session's daemon without spawning one.
func (s *Session) Live() (*daemon.Daemon, bool) {
	return s.registry.Obtain(s.ID())
}

// Send writes one input line.
func (s *Session) Send(ctx context.Context, text string) error {
	d, err := s.Daemon(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = d.Send(text)
	s.record(KindSend, d.Redact(text), "", err, start)
	return err
}

// Sync reads output until a sentinel or error pattern. A negative timeout
// selects the daemon default.
func (s *Session) Sync(ctx context.Context, timeout time.Duration, onLine daemon.LineFunc) (string, error) {
	d, err := s.Daemon(ctx)
	if err != nil {
		return "", err
	}
	start := time.Now()
	out, err := d.Sync(ctx, timeout, s.publish(onLine))
	s.record(KindSync, "", out, err, start)
	return out, err
}

// Exec sends text and syncs in one exchange.
func (s *Session) Exec(ctx context.Context, text string, timeout time.Duration, onLine daemon.LineFunc) (string, error) {
	d, err := s.Daemon(ctx)
	if err != nil {
		return "", err
	}
	input := text
	if s.cfg.Wrap {
		input = daemon.Wrap(text)
	}
	start := time.Now()
	out, err := d.Exec(ctx, input, timeout, s.publish(onLine))
	s.record(KindExec, d.Redact(text), out, err, start)
	return out, err
}

// Run builds doc against the session handler and executes it.
func (s *Session) Run(ctx context.Context, doc *script.Document, opts ...script.Option) (script.Results, error) {
	opts = append([]script.Option{
		script.WithHandler(s.Handler()),
		script.WithLogger(s.logger),
	}, opts...)

	b, err := doc.Build(DefaultVerbs, opts...)
	if err != nil {
		return script.Results{}, fmt.Errorf("build script for session %q: %w", s.ID(), err)
	}
	return b.Execute(ctx)
}

// Close terminates the daemon, if any, and saves the transcript.
func (s *Session) Close() error {
	var errs []error
	if err := s.registry.Terminate(s.ID()); err != nil && !errors.Is(err, daemon.ErrNotFound) {
		errs = append(errs, err)
	}
	if err := s.transcript.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save transcript %q: %w", s.ID(), err))
	}
	return errors.Join(errs...)
}

// publish emits each output line before passing it on to onLine.
func (s *Session) publish(onLine daemon.LineFunc) daemon.LineFunc {
	if s.events == nil {
		return onLine
	}
	return func(line string) {
		s.events.Emit(NewEvent(EventOutput, s.ID()).WithData("line", line))
		if onLine != nil {
			onLine(line)
		}
	}
}

func (s *Session) record(kind, input, output string, err error, start time.Time) {
	ex := Exchange{
		Kind:     kind,
		Input:    input,
		Output:   output,
		At:       start,
		Duration: time.Since(start),
	}
	if err != nil {
		ex.Error = err.Error()
		if partial, ok := daemon.OutputOf(err); ok && output == "" {
			ex.Output = partial
		}
	}
	s.transcript.Record(ex)

	event := NewEvent(EventExchange, s.ID()).
		WithData("kind", kind).
		WithData("input", input).
		WithData("duration_ms", ex.Duration.Milliseconds())
	if ex.Error != "" {
		event = event.WithData("error", ex.Error)
	}
	s.events.Emit(event)

	if saveErr := s.transcript.Save(); saveErr != nil {
		s.logger.Warn().Str("identity", s.ID()).Err(saveErr).Msg("Failed to save transcript")
	}
}
