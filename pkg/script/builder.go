package script

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/internal/logger"
)

// Option configures a Builder.
type Option func(*Builder) error

// WithHandler binds an in-process handler checked before process fallback.
func WithHandler(handler Handler) Option {
	return func(b *Builder) error {
		b.handler = handler
		if handler != nil {
			b.context.bind(handler)
		}
		return nil
	}
}

// WithRunner sets the runner used for process fallback.
func WithRunner(runner Runner) Option {
	return func(b *Builder) error {
		b.runner = runner
		return nil
	}
}

// WithLogger sets the builder's logger.
func WithLogger(l arbor.ILogger) Option {
	return func(b *Builder) error {
		b.logger = l
		return nil
	}
}

// WithBlock evaluates block against the main phase during construction.
func WithBlock(block Block) Option {
	return func(b *Builder) error {
		b.initial = block
		return nil
	}
}

// Builder assembles commands across the before, main and after phases
// and executes them against a bound handler or external processes.
type Builder struct {
	verbs   VerbSet
	handler Handler
	runner  Runner
	logger  arbor.ILogger
	context *Context
	initial Block
}

// New creates a builder for the given allow-list.
func New(verbs VerbSet, opts ...Option) (*Builder, error) {
	b := &Builder{
		verbs:   verbs,
		runner:  ShellRunner{},
		context: newContext(verbs),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.logger == nil {
		b.logger = logger.GetLogger()
	}
	if b.initial != nil {
		if err := b.context.evaluate(PhaseMain, b.initial); err != nil {
			return nil, fmt.Errorf("evaluate initial block: %w", err)
		}
	}
	return b, nil
}

// Verbs returns the builder's allow-list.
func (b *Builder) Verbs() VerbSet {
	return b.verbs
}

// DefaultVerb returns the first allow-listed verb.
func (b *Builder) DefaultVerb() Verb {
	return b.verbs.Default()
}

// Context returns the evaluation context shared by all blocks.
func (b *Builder) Context() *Context {
	return b.context
}

// Entries returns the entries queued for phase.
func (b *Builder) Entries(p Phase) []*CommandEntry {
	return b.context.Entries(p)
}

// LastCommand returns the most recent entry of phase, or nil.
func (b *Builder) LastCommand(p Phase) *CommandEntry {
	entries := b.context.Entries(p)
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}

// Add appends line to the main phase. An empty verb selects the default
// verb. An empty line is ignored.
func (b *Builder) Add(line string, verb Verb, opts Options) error {
	if line == "" {
		return nil
	}
	b.context.push(PhaseMain, NewCommandEntry(b.verbOrDefault(verb), line, opts))
	return nil
}

// Before appends line to the before phase.
func (b *Builder) Before(line string, verb Verb, opts Options) error {
	return b.addLine(PhaseBefore, line, verb, opts)
}

// After appends line to the after phase.
func (b *Builder) After(line string, verb Verb, opts Options) error {
	return b.addLine(PhaseAfter, line, verb, opts)
}

// AddBlock evaluates block with the main phase active.
func (b *Builder) AddBlock(block Block) error {
	return b.addBlock(PhaseMain, block)
}

// BeforeBlock evaluates block with the before phase active.
func (b *Builder) BeforeBlock(block Block) error {
	return b.addBlock(PhaseBefore, block)
}

// AfterBlock evaluates block with the after phase active.
func (b *Builder) AfterBlock(block Block) error {
	return b.addBlock(PhaseAfter, block)
}

// Enqueue appends an allow-listed verb with args to phase.
func (b *Builder) Enqueue(p Phase, verb Verb, args []string, opts Options) error {
	return b.context.enqueue(p, b.verbOrDefault(verb), args, opts)
}

// AppendToLast adds line as a new argument of the last entry in the
// active phase. It does nothing when that phase is empty.
func (b *Builder) AppendToLast(line string) {
	last := b.LastCommand(b.context.Phase())
	if last == nil {
		b.logger.Debug().Str("phase", b.context.Phase().String()).Msg("no command specified")
		return
	}
	if line != "" {
		last.Arguments = append(last.Arguments, line)
	}
}

// Append concatenates text onto the last argument of the last main entry.
func (b *Builder) Append(text string) {
	last := b.LastCommand(PhaseMain)
	if last == nil {
		return
	}
	if len(last.Arguments) == 0 {
		last.Arguments = append(last.Arguments, text)
		return
	}
	last.Arguments[len(last.Arguments)-1] += text
}

// AppendBlock concatenates the text produced by fn onto the last argument
// of the last main entry.
func (b *Builder) AppendBlock(fn func(c *Context) string) {
	if fn == nil {
		return
	}
	b.Append(fn(b.context))
}

// Line returns the joined arguments of the last main entry.
func (b *Builder) Line() string {
	last := b.LastCommand(PhaseMain)
	if last == nil {
		return ""
	}
	return last.JoinedArguments()
}

// SetLine replaces the arguments of the last main entry with the
// space-separated words of line.
func (b *Builder) SetLine(line string) {
	last := b.LastCommand(PhaseMain)
	if last == nil {
		return
	}
	last.Arguments = strings.Fields(line)
}

// Execute runs before, main and after in order and returns per-phase
// results. On failure the results gathered so far are returned with the
// error.
func (b *Builder) Execute(ctx context.Context) (Results, error) {
	b.logger.Debug().
		Str("before", strconv.Itoa(len(b.context.entries[PhaseBefore]))).
		Str("main", strconv.Itoa(len(b.context.entries[PhaseMain]))).
		Str("after", strconv.Itoa(len(b.context.entries[PhaseAfter]))).
		Msg("Executing script")

	err := b.context.execute(ctx, b.handler, b.runner)
	var res Results
	for _, p := range Phases {
		res.phases[p] = append([]string(nil), b.context.results[p]...)
	}
	if err != nil {
		return res, fmt.Errorf("execute script: %w", err)
	}
	return res, nil
}

func (b *Builder) addLine(p Phase, line string, verb Verb, opts Options) error {
	if line == "" {
		return fmt.Errorf("%s: %w", p, ErrEmptyLine)
	}
	b.context.push(p, NewCommandEntry(b.verbOrDefault(verb), line, opts))
	return nil
}

func (b *Builder) addBlock(p Phase, block Block) error {
	if block == nil {
		return fmt.Errorf("%s: %w", p, ErrEmptyLine)
	}
	return b.context.evaluate(p, block)
}

func (b *Builder) verbOrDefault(verb Verb) Verb {
	if verb == "" {
		return b.verbs.Default()
	}
	return verb
}
