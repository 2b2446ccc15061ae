package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/pkg/daemon"
)

// ErrUnknownSession is returned for identities that are neither open nor
// predefined.
var ErrUnknownSession = errors.New("unknown session")

// Info summarizes a session for listings.
type Info struct {
	Identity  string    `json:"identity"`
	Command   string    `json:"command"`
	User      string    `json:"user,omitempty"`
	Alive     bool      `json:"alive"`
	PID       int       `json:"pid,omitempty"`
	Started   time.Time `json:"started,omitempty"`
	Exchanges int       `json:"exchanges"`
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTranscriptDir persists transcripts as JSON files in dir. Without it
// transcripts are kept in memory.
func WithTranscriptDir(dir string) StoreOption {
	return func(st *Store) { st.dir = dir }
}

// WithLogger sets the store logger.
func WithLogger(l arbor.ILogger) StoreOption {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// WithDefined registers sessions that are opened on first lookup.
func WithDefined(cfgs ...Config) StoreOption {
	return func(st *Store) {
		for _, cfg := range cfgs {
			st.defined[cfg.Spec.Identity] = cfg
		}
	}
}

// Store manages sessions over one daemon registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defined  map[string]Config
	registry *daemon.Registry
	events   *Events
	dir      string
	logger   arbor.ILogger
}

// NewStore creates a session store backed by registry.
func NewStore(registry *daemon.Registry, opts ...StoreOption) (*Store, error) {
	st := &Store{
		sessions: make(map[string]*Session),
		defined:  make(map[string]Config),
		registry: registry,
		events:   NewEvents(DefaultEventHistory),
	}
	for _, opt := range opts {
		opt(st)
	}
	if st.logger == nil {
		st.logger = logger.GetLogger()
	}
	if st.registry == nil {
		st.registry = daemon.NewRegistry(daemon.WithLogger(st.logger))
	}
	if st.dir != "" {
		if err := os.MkdirAll(st.dir, 0755); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	return st, nil
}

// Events returns the store's event hub.
func (st *Store) Events() *Events {
	return st.events
}

// Registry returns the daemon registry.
func (st *Store) Registry() *daemon.Registry {
	return st.registry
}

// Open returns the session for cfg's identity, creating it and spawning its
// daemon if needed. An open session keeps the configuration it was opened
// with. A session whose first spawn fails is not kept.
func (st *Store) Open(ctx context.Context, cfg Config) (*Session, error) {
	s, created, err := st.session(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := s.Daemon(ctx); err != nil {
		if created {
			st.forget(s)
		}
		return nil, err
	}
	if created {
		st.opened(s)
	}
	return s, nil
}

// Get returns an open session, or opens a predefined one without spawning
// its daemon.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	cfg, defined := st.defined[id]
	st.mu.RUnlock()

	if ok {
		return s, nil
	}
	if !defined {
		return nil, fmt.Errorf("get session %q: %w", id, ErrUnknownSession)
	}
	s, created, err := st.session(cfg)
	if err != nil {
		return nil, err
	}
	if created {
		st.opened(s)
	}
	return s, nil
}

// session returns the registered session for cfg's identity, registering a
// new one if there is none. created reports whether it was just registered.
func (st *Store) session(cfg Config) (s *Session, created bool, err error) {
	id := cfg.Spec.Identity
	if id == "" {
		return nil, false, fmt.Errorf("open session: identity is required")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return s, false, nil
	}

	var t Transcript
	if st.dir != "" {
		ft, err := NewFileTranscript(id, st.dir)
		if err != nil {
			return nil, false, err
		}
		t = ft
	} else {
		t = NewMemoryTranscript(id)
	}

	s, err = newSession(cfg, st.registry, t, st.events, logger.ForSession(st.logger, id))
	if err != nil {
		return nil, false, err
	}
	st.sessions[id] = s
	return s, true, nil
}

func (st *Store) opened(s *Session) {
	st.events.Emit(NewEvent(EventOpened, s.ID()).WithData("command", s.redactor.Redact(s.cfg.Spec.Describe())))
	st.logger.Debug().Str("identity", s.ID()).Msg("Session opened")
}

// forget unregisters s if it is still the session for its identity.
func (st *Store) forget(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sessions[s.ID()] == s {
		delete(st.sessions, s.ID())
	}
}

// Close terminates a session's daemon and forgets the session. Its
// transcript stays on disk.
func (st *Store) Close(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if !ok {
		return fmt.Errorf("close session %q: %w", id, ErrUnknownSession)
	}
	st.events.Emit(NewEvent(EventClosed, id))
	return s.Close()
}

// Delete closes a session and removes its persisted transcript.
func (st *Store) Delete(id string) error {
	if err := st.Close(id); err != nil {
		return err
	}
	if st.dir != "" {
		if err := os.Remove(TranscriptPath(st.dir, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// List returns all open session IDs, sorted.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns a summary of an open session.
func (st *Store) Describe(id string) (Info, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("describe session %q: %w", id, ErrUnknownSession)
	}
	return st.info(s), nil
}

// Infos returns summaries of all open sessions, sorted by identity.
func (st *Store) Infos() []Info {
	ids := st.List()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		if info, err := st.Describe(id); err == nil {
			out = append(out, info)
		}
	}
	return out
}

func (st *Store) info(s *Session) Info {
	spec := s.cfg.Spec
	info := Info{
		Identity:  spec.Identity,
		Command:   s.redactor.Redact(spec.Command),
		User:      spec.User,
		Exchanges: len(s.transcript.History()),
	}
	if d, ok := s.Live(); ok {
		info.Alive = true
		info.PID = d.PID()
		info.Started = d.Started()
	}
	return info
}

// Shutdown saves every transcript and terminates every daemon in the
// registry.
func (st *Store) Shutdown() error {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for id, s := range st.sessions {
		all = append(all, s)
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.transcript.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := st.registry.TerminateAll(); err != nil {
		errs = append(errs, err)
	}
	st.events.Close()
	return errors.Join(errs...)
}
