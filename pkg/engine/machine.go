package engine

import (
	"context"
	"fmt"
)

// Phase is an opaque tag drawn from a workflow's finite ordered phase set.
type Phase string

// TransitionFunc performs the work of the current phase and returns the next
// phase. All side effects of a workflow happen inside transitions. An
// expected failure is returned as a classified *Error; the machine stops and
// propagates it untouched.
type TransitionFunc func(ctx context.Context, current Phase) (Phase, error)

// TransitionObserver is notified after every successful phase transition.
// Observers must be cheap; they are invoked synchronously inside the loop.
type TransitionObserver func(from, to Phase)

// Machine runs a workflow's phase loop. The machine is a pure loop with no
// I/O: it validates phase ordering, invokes the transition function, and
// stops at the terminal phase or on error.
type Machine struct {
	phases   []Phase
	index    map[Phase]int
	observer TransitionObserver
}

// NewMachine creates a machine over the declared ordered phase set. The last
// phase in the set is the terminal phase. The set must not be empty or
// contain duplicates; it is declared in code, so violations panic.
func NewMachine(phases ...Phase) *Machine {
	if len(phases) == 0 {
		panic("engine: machine declared with no phases")
	}
	index := make(map[Phase]int, len(phases))
	for i, p := range phases {
		if _, dup := index[p]; dup {
			panic(fmt.Sprintf("engine: duplicate phase %q in machine", p))
		}
		index[p] = i
	}
	return &Machine{phases: phases, index: index}
}

// Observe registers an observer invoked after each transition. At most one
// observer is supported; a second call replaces the first.
func (m *Machine) Observe(fn TransitionObserver) *Machine {
	m.observer = fn
	return m
}

// Phases returns the declared phase order.
func (m *Machine) Phases() []Phase {
	out := make([]Phase, len(m.phases))
	copy(out, m.phases)
	return out
}

// Terminal returns the terminal phase of the machine.
func (m *Machine) Terminal() Phase {
	return m.phases[len(m.phases)-1]
}

// Index returns the position of p in the declared order, panicking if p is
// not a declared phase. Hydrators use this to compare resume positions.
func (m *Machine) Index(p Phase) int {
	i, ok := m.index[p]
	if !ok {
		panic(fmt.Sprintf("engine: phase %q is not declared in this machine", p))
	}
	return i
}

// Run drives the transition function from start until the terminal phase is
// reached or the transition returns an error. The error is propagated
// untouched. Phases only ever move forward; a transition returning an
// undeclared phase or a phase at or before the current one is a programming
// error and panics.
//
// For a well-formed machine the loop terminates in at most len(phases)
// iterations; exceeding that bound also panics.
func (m *Machine) Run(ctx context.Context, start Phase, fn TransitionFunc) error {
	current := start
	cur := m.Index(current)
	terminal := m.Terminal()

	for steps := 0; current != terminal; steps++ {
		if steps >= len(m.phases) {
			panic(fmt.Sprintf("engine: machine exceeded %d transitions without reaching %q", len(m.phases), terminal))
		}

		next, err := fn(ctx, current)
		if err != nil {
			return err
		}

		ni, ok := m.index[next]
		if !ok {
			panic(fmt.Sprintf("engine: transition from %q returned undeclared phase %q", current, next))
		}
		if ni <= cur {
			panic(fmt.Sprintf("engine: transition from %q moved backwards to %q", current, next))
		}

		if m.observer != nil {
			m.observer(current, next)
		}
		current, cur = next, ni
	}
	return nil
}
