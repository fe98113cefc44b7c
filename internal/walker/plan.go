package walker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UnitKind tells what a unit runs.
type UnitKind int

const (
	// UnitLeaf runs a leaf's Execute.
	UnitLeaf UnitKind = iota
	// UnitSuite runs a whole child suite: its own plan, hooks included.
	UnitSuite
	// UnitBeforeAll runs one before-all hook.
	UnitBeforeAll
	// UnitAfterAll runs one after-all hook.
	UnitAfterAll
)

func (k UnitKind) String() string {
	switch k {
	case UnitLeaf:
		return "leaf"
	case UnitSuite:
		return "suite"
	case UnitBeforeAll:
		return "beforeAll"
	case UnitAfterAll:
		return "afterAll"
	default:
		return fmt.Sprintf("UnitKind(%d)", int(k))
	}
}

// Unit is one executable piece of a plan. Fn runs it to completion.
type Unit struct {
	// Name is the node id for leaf and suite units and "<suite id>/beforeAll[i]" or
	// "<suite id>/afterAll[i]" for hooks.
	Name string
	Kind UnitKind
	// Enabled is the enablement the unit was built with. Hooks carry the
	// enablement of their suite.
	Enabled bool
	// Timeout is the hook's own bound, 0 when it has none.
	Timeout time.Duration
	Fn      func(ctx context.Context) error
}

// Stage is one step of a Plan.
type Stage struct {
	// Group is true when all Units start together. A non-group stage holds
	// exactly one unit.
	Group bool
	Units []Unit
}

// Single returns a stage running u alone.
func Single(u Unit) Stage { return Stage{Units: []Unit{u}} }

// Group returns a stage starting all of us together.
func Group(us ...Unit) Stage { return Stage{Group: true, Units: us} }

// Plan is an ordered list of stages.
type Plan []Stage

// Names returns the unit names of every stage, one slice per stage.
func (p Plan) Names() [][]string {
	out := make([][]string, len(p))
	for i, st := range p {
		names := make([]string, len(st.Units))
		for j, u := range st.Units {
			names[j] = u.Name
		}
		out[i] = names
	}
	return out
}

// String renders the plan in a compact single-line form, e.g.
// "single{h1} group{a c} single{b}".
func (p Plan) String() string {
	parts := make([]string, len(p))
	for i, st := range p {
		kind := "single"
		if st.Group {
			kind = "group"
		}
		names := make([]string, len(st.Units))
		for j, u := range st.Units {
			names[j] = u.Name
		}
		parts[i] = kind + "{" + strings.Join(names, " ") + "}"
	}
	return strings.Join(parts, " ")
}
