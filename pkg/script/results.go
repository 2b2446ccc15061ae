package script

import "strings"

// Results holds the outputs of an executed script, one list per phase.
type Results struct {
	phases [phaseCount][]string
}

// Phase returns the outputs produced by phase in insertion order.
func (r Results) Phase(p Phase) []string {
	if !p.Valid() {
		return nil
	}
	out := make([]string, len(r.phases[p]))
	copy(out, r.phases[p])
	return out
}

// Joined returns the outputs of phase joined by newlines.
func (r Results) Joined(p Phase) string {
	if !p.Valid() {
		return ""
	}
	return strings.Join(r.phases[p], "\n")
}

// Combined returns every output in execution order joined by newlines.
func (r Results) Combined() string {
	var all []string
	for _, p := range Phases {
		all = append(all, r.phases[p]...)
	}
	return strings.Join(all, "\n")
}

// Map returns the results keyed by phase name.
func (r Results) Map() map[string][]string {
	m := make(map[string][]string, phaseCount)
	for _, p := range Phases {
		m[p.String()] = r.Phase(p)
	}
	return m
}

// Len returns the total number of outputs.
func (r Results) Len() int {
	n := 0
	for _, p := range Phases {
		n += len(r.phases[p])
	}
	return n
}
