package script

import (
	"context"
	"strings"
)

// CommandEntry is one resolved unit of work: a verb, its ordered
// arguments and unordered options.
type CommandEntry struct {
	Verb      Verb
	Arguments []string
	Options   Options
}

// NewCommandEntry creates an entry with a single argument.
func NewCommandEntry(verb Verb, line string, opts Options) *CommandEntry {
	return NewCommandEntryArgs(verb, []string{line}, opts)
}

// NewCommandEntryArgs creates an entry with an argument list.
func NewCommandEntryArgs(verb Verb, args []string, opts Options) *CommandEntry {
	if opts == nil {
		opts = Options{}
	}
	copied := make([]string, len(args))
	copy(copied, args)
	return &CommandEntry{
		Verb:      verb,
		Arguments: copied,
		Options:   opts,
	}
}

// JoinedArguments returns the arguments joined by single spaces.
func (e *CommandEntry) JoinedArguments() string {
	return strings.Join(e.Arguments, " ")
}

// CommandLine returns verb and arguments as one space-separated line.
func (e *CommandEntry) CommandLine() string {
	parts := make([]string, 0, len(e.Arguments)+1)
	if e.Verb != "" {
		parts = append(parts, string(e.Verb))
	}
	parts = append(parts, e.Arguments...)
	return strings.Join(parts, " ")
}

// Execute runs the entry. A handler that resolves the verb wins; otherwise
// the command line is handed to runner (ShellRunner when nil).
func (e *CommandEntry) Execute(ctx context.Context, handler Handler, runner Runner) (string, error) {
	if handler != nil {
		if fn, ok := handler.Lookup(e.Verb); ok {
			return fn(ctx, e.JoinedArguments(), e.Options)
		}
	}
	if runner == nil {
		runner = ShellRunner{}
	}
	return runner.Run(ctx, e.CommandLine())
}
