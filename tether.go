// Package tether drives long-lived interactive processes through
// line-oriented exchanges.
//
// A daemon is a child process (a shell, a database console, an ssh
// session) kept alive under a caller-chosen identity. Commands are written
// to its stdin and output is read line by line until a success or failure
// sentinel, or a caller-supplied error pattern, ends the exchange.
//
// # Quick Start
//
//	registry := tether.NewRegistry()
//	defer registry.TerminateAll()
//
//	d, err := registry.Create(ctx, tether.Spec{
//	    Identity: "box",
//	    Command:  "exec /bin/sh",
//	    Filters:  []string{`password=\S+`},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := d.Exec(ctx, tether.Wrap("uname -a"), -1, nil)
//
// # Scripts
//
// Scripts group commands into before, main and after phases. A session
// binds the exec, send and sync verbs to its daemon:
//
//	doc, _ := tether.LoadDocument("deploy.yaml")
//	store, _ := tether.NewStore(registry)
//	sess, _ := store.Open(ctx, tether.SessionConfig{Spec: spec, Wrap: true})
//	results, err := sess.Run(ctx, doc)
package tether

import (
	"github.com/ternarybob/tether/pkg/daemon"
	"github.com/ternarybob/tether/pkg/script"
	"github.com/ternarybob/tether/pkg/session"
)

// Daemon is an alias for a running child process.
type Daemon = daemon.Daemon

// Spec is an alias for the daemon spawn parameters.
type Spec = daemon.Spec

// Registry is an alias for the identity to daemon map.
type Registry = daemon.Registry

// RegistryOption is an alias for registry options.
type RegistryOption = daemon.Option

// Session is an alias for a daemon plus its transcript.
type Session = session.Session

// SessionConfig is an alias for session parameters.
type SessionConfig = session.Config

// Store is an alias for the session store.
type Store = session.Store

// StoreOption is an alias for store options.
type StoreOption = session.StoreOption

// Builder is an alias for the phased script builder.
type Builder = script.Builder

// BuilderOption is an alias for builder options.
type BuilderOption = script.Option

// Document is an alias for a declarative script.
type Document = script.Document

// Results is an alias for per-phase script results.
type Results = script.Results

// Sentinels and errors re-exported for callers that only import tether.
const (
	SuccessSentinel = daemon.SuccessSentinel
	FailureSentinel = daemon.FailureSentinel
)

// Script phases in execution order.
const (
	PhaseBefore = script.PhaseBefore
	PhaseMain   = script.PhaseMain
	PhaseAfter  = script.PhaseAfter
)

var (
	ErrSpawn           = daemon.ErrSpawn
	ErrTimeout         = daemon.ErrTimeout
	ErrProtocolFailure = daemon.ErrProtocolFailure
	ErrClosed          = daemon.ErrClosed
	ErrNotFound        = daemon.ErrNotFound
)

// NewRegistry creates an empty daemon registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	return daemon.NewRegistry(opts...)
}

// NewStore creates a session store over registry.
func NewStore(registry *Registry, opts ...StoreOption) (*Store, error) {
	return session.NewStore(registry, opts...)
}

// NewBuilder creates a script builder restricted to verbs. The first verb
// is the default.
func NewBuilder(verbs []string, opts ...BuilderOption) (*Builder, error) {
	return script.New(script.ParseVerbs(verbs), opts...)
}

// LoadDocument reads a YAML, TOML or JSON script document.
func LoadDocument(path string) (*Document, error) {
	return script.LoadDocument(path)
}

// Wrap appends success and failure sentinels keyed on command's exit
// status.
func Wrap(command string) string {
	return daemon.Wrap(command)
}

// OutputOf returns the partial output carried by a daemon error.
func OutputOf(err error) (string, bool) {
	return daemon.OutputOf(err)
}
