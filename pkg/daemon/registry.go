package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/internal/logger"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and its daemons.
func WithLogger(l arbor.ILogger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSwitchUser sets the privilege-switch wrapper for specs that leave
// SwitchUser empty.
func WithSwitchUser(wrapper string) Option {
	return func(r *Registry) { r.switchUser = wrapper }
}

// Registry maps identities to live daemons. At most one live daemon exists
// per identity.
type Registry struct {
	mu         sync.Mutex
	daemons    map[string]*Daemon
	logger     arbor.ILogger
	switchUser string
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		daemons: make(map[string]*Daemon),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.GetLogger()
	}
	return r
}

// Obtain returns the live daemon for identity, if any.
func (r *Registry) Obtain(identity string) (*Daemon, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.daemons[identity]
	if !ok || !d.Alive() {
		return nil, false
	}
	return d, true
}

// Create returns the live daemon for spec.Identity, spawning one if none
// exists. The lookup and spawn share one lock so concurrent callers for the
// same identity never start two subprocesses.
func (r *Registry) Create(ctx context.Context, spec Spec) (*Daemon, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create daemon %q: %w", spec.Identity, err)
	}
	if spec.SwitchUser == "" {
		spec.SwitchUser = r.switchUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.daemons[spec.Identity]; ok {
		if d.Alive() {
			r.logger.Debug().Str("identity", spec.Identity).Msg("Reusing live daemon")
			return d, nil
		}
		delete(r.daemons, spec.Identity)
	}

	d, err := spawn(spec, logger.ForSession(r.logger, spec.Identity), r.remove)
	if err != nil {
		r.logger.Error().Str("identity", spec.Identity).Err(err).Msg("Failed to spawn daemon")
		return nil, err
	}
	r.daemons[spec.Identity] = d
	return d, nil
}

// remove drops d if the registry still maps its identity to it.
func (r *Registry) remove(d *Daemon) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.daemons[d.Identity()]; ok && cur == d {
		delete(r.daemons, d.Identity())
	}
}

// Terminate stops the daemon for identity.
func (r *Registry) Terminate(identity string) error {
	r.mu.Lock()
	d, ok := r.daemons[identity]
	if ok {
		delete(r.daemons, identity)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("terminate daemon %q: %w", identity, ErrNotFound)
	}
	return d.Terminate()
}

// TerminateAll stops every registered daemon. It is the shutdown hook for
// services and CLIs.
func (r *Registry) TerminateAll() error {
	r.mu.Lock()
	all := make([]*Daemon, 0, len(r.daemons))
	for id, d := range r.daemons {
		all = append(all, d)
		delete(r.daemons, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, d := range all {
		if err := d.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(all) > 0 {
		r.logger.Info().Str("count", strconv.Itoa(len(all))).Msg("Terminated all daemons")
	}
	return errors.Join(errs...)
}

// Identities returns the identities of live daemons, sorted.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.daemons))
	for id, d := range r.daemons {
		if d.Alive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live daemons.
func (r *Registry) Len() int {
	return len(r.Identities())
}
