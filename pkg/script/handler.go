package script

import "context"

// Options carries per-entry options passed to handlers.
type Options map[string]any

// HandlerFunc satisfies a verb in-process. args is the entry's argument
// list joined by single spaces.
type HandlerFunc func(ctx context.Context, args string, opts Options) (string, error)

// Handler resolves verbs to in-process operations. It is consulted before
// falling back to an external process.
type Handler interface {
	Lookup(verb Verb) (HandlerFunc, bool)
}

// Valuer is implemented by handlers that expose named values to blocks.
type Valuer interface {
	Values() map[string]any
}

// HandlerMap is a Handler backed by a map of verbs.
type HandlerMap map[Verb]HandlerFunc

// Lookup returns the function registered for verb.
func (m HandlerMap) Lookup(verb Verb) (HandlerFunc, bool) {
	fn, ok := m[verb]
	return fn, ok && fn != nil
}
