package script

import "strings"

// Verb is the command token of an entry.
type Verb string

// VerbSet is the closed allow-list of verbs a script may call from blocks.
// The first verb is the default verb.
type VerbSet struct {
	verbs []Verb
	index map[Verb]struct{}
}

// NewVerbSet creates an allow-list preserving the given order.
// Blank and duplicate verbs are ignored.
func NewVerbSet(verbs ...Verb) VerbSet {
	s := VerbSet{index: make(map[Verb]struct{}, len(verbs))}
	for _, v := range verbs {
		v = Verb(strings.TrimSpace(string(v)))
		if v == "" {
			continue
		}
		if _, ok := s.index[v]; ok {
			continue
		}
		s.index[v] = struct{}{}
		s.verbs = append(s.verbs, v)
	}
	return s
}

// ParseVerbs builds a VerbSet from plain strings.
func ParseVerbs(names []string) VerbSet {
	verbs := make([]Verb, len(names))
	for i, n := range names {
		verbs[i] = Verb(n)
	}
	return NewVerbSet(verbs...)
}

// Contains reports whether v is allow-listed.
func (s VerbSet) Contains(v Verb) bool {
	_, ok := s.index[v]
	return ok
}

// Default returns the first allow-listed verb, or "" for an empty set.
func (s VerbSet) Default() Verb {
	if len(s.verbs) == 0 {
		return ""
	}
	return s.verbs[0]
}

// List returns a copy of the allow-list in order.
func (s VerbSet) List() []Verb {
	out := make([]Verb, len(s.verbs))
	copy(out, s.verbs)
	return out
}

// Len returns the number of allow-listed verbs.
func (s VerbSet) Len() int {
	return len(s.verbs)
}
