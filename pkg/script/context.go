package script

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownVerb is returned when a block calls a verb outside the allow-list.
	ErrUnknownVerb = errors.New("verb not allowed")

	// ErrEmptyLine is returned when neither a line nor a block is supplied.
	ErrEmptyLine = errors.New("block or line must be present")
)

// Block is evaluated against a Context with a phase marked active.
type Block func(c *Context) error

// Context is the evaluation surface for blocks. It only exposes the
// allow-listed verbs, the active phase and the bound handler's values.
type Context struct {
	verbs   VerbSet
	values  map[string]any
	active  Phase
	entries [phaseCount][]*CommandEntry
	results [phaseCount][]string
}

func newContext(verbs VerbSet) *Context {
	return &Context{
		verbs:  verbs,
		values: make(map[string]any),
		active: PhaseMain,
	}
}

// Phase returns the phase new calls are enqueued into.
func (c *Context) Phase() Phase {
	return c.active
}

// Call enqueues verb with args into the active phase.
func (c *Context) Call(verb Verb, args ...string) error {
	return c.CallWithOptions(verb, nil, args...)
}

// CallWithOptions enqueues verb with args and options into the active phase.
func (c *Context) CallWithOptions(verb Verb, opts Options, args ...string) error {
	return c.enqueue(c.active, verb, args, opts)
}

// Value returns a value exposed by the bound handler.
func (c *Context) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Entries returns the entries queued for phase.
func (c *Context) Entries(p Phase) []*CommandEntry {
	if !p.Valid() {
		return nil
	}
	return c.entries[p]
}

// Results returns the results produced for phase.
func (c *Context) Results(p Phase) []string {
	if !p.Valid() {
		return nil
	}
	return c.results[p]
}

func (c *Context) enqueue(p Phase, verb Verb, args []string, opts Options) error {
	if !p.Valid() {
		return fmt.Errorf("enqueue: unknown phase %d", int(p))
	}
	if !c.verbs.Contains(verb) {
		return fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
	c.push(p, NewCommandEntryArgs(verb, args, opts))
	return nil
}

func (c *Context) push(p Phase, entry *CommandEntry) {
	c.entries[p] = append(c.entries[p], entry)
}

// evaluate runs block with p active. The previous phase is restored.
func (c *Context) evaluate(p Phase, block Block) error {
	prev := c.active
	c.active = p
	defer func() { c.active = prev }()
	return block(c)
}

func (c *Context) bind(handler Handler) {
	valuer, ok := handler.(Valuer)
	if !ok {
		return
	}
	for k, v := range valuer.Values() {
		c.values[k] = v
	}
}

// execute runs every phase in order and collects results. It stops at the
// first failing entry. Results of an earlier run are discarded.
func (c *Context) execute(ctx context.Context, handler Handler, runner Runner) error {
	c.results = [phaseCount][]string{}
	for _, p := range Phases {
		for i, entry := range c.entries[p] {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := entry.Execute(ctx, handler, runner)
			if err != nil {
				return fmt.Errorf("%s entry %d (%s): %w", p, i, entry.Verb, err)
			}
			c.results[p] = append(c.results[p], out)
		}
	}
	return nil
}
