// Package script provides the phased command builder used to drive
// daemons and in-process handlers.
//
// A script is an ordered set of command entries split across three phases.
// Entries run strictly in phase order (before, main, after) and in
// insertion order within a phase.
package script

import (
	"fmt"
	"strings"
)

// Phase identifies one of the three ordered command queues of a script.
type Phase int

const (
	// PhaseBefore runs ahead of the main commands.
	PhaseBefore Phase = iota

	// PhaseMain holds the primary commands.
	PhaseMain

	// PhaseAfter runs once the main commands have completed.
	PhaseAfter
)

// Phases lists every phase in execution order.
var Phases = [...]Phase{PhaseBefore, PhaseMain, PhaseAfter}

const phaseCount = len(Phases)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseMain:
		return "main"
	case PhaseAfter:
		return "after"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p >= PhaseBefore && p <= PhaseAfter
}

// ParsePhase converts a phase name into a Phase.
func ParsePhase(name string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "before":
		return PhaseBefore, nil
	case "main", "":
		return PhaseMain, nil
	case "after":
		return PhaseAfter, nil
	default:
		return PhaseMain, fmt.Errorf("unknown phase %q", name)
	}
}
