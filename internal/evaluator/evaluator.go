// Package evaluator runs end-of-tick unlock transition computation. It
// caches unlock state per node reference and only re-evaluates the
// references that are still locked, making monotonicity structural rather
// than something each caller has to preserve by convention.
package evaluator

import (
	"fmt"

	"github.com/go-idle/enginecore/internal/eventbus"
	"github.com/go-idle/enginecore/internal/unlock"
)

// Target is one enumerated node reference with its parsed unlock AST.
type Target struct {
	Ref string
	AST unlock.Node
}

// Summary is the result of one evaluateAll call.
type Summary struct {
	UnlockedRefs []string
	Unlocked     map[string]bool
	Transitions  []string
}

// Evaluator tracks unlock state for a fixed, ordered set of node
// references enumerated at construction time.
type Evaluator struct {
	order         []string
	ast           map[string]unlock.Node
	unlockedByRef map[string]bool
	bus           *eventbus.Bus
}

// New builds an Evaluator over targets, in the order given. Order must be
// the definition's enumeration order (layer, then each sublayer, section,
// element, depth-first, siblings in array order); evaluateAll and
// evaluateProgressAll both honor it. Every target starts locked.
func New(targets []Target, bus *eventbus.Bus) *Evaluator {
	e := &Evaluator{
		order:         make([]string, 0, len(targets)),
		ast:           make(map[string]unlock.Node, len(targets)),
		unlockedByRef: make(map[string]bool, len(targets)),
		bus:           bus,
	}
	for _, t := range targets {
		e.order = append(e.order, t.Ref)
		e.ast[t.Ref] = t.AST
		e.unlockedByRef[t.Ref] = false
	}
	return e
}

// IsUnlocked reports the cached unlock state for ref. An unknown ref
// reports unlocked; a known ref reports locked until an evaluation or
// MarkUnlocked unlocks it, including before the first evaluation.
func (e *Evaluator) IsUnlocked(ref string) bool {
	v, ok := e.unlockedByRef[ref]
	if !ok {
		return true
	}
	return v
}

// MarkUnlocked marks ref as already unlocked without publishing an UNLOCKED
// event or recording a transition. It exists for restoring a previously
// saved session's unlock state; restoring must not replay history.
func (e *Evaluator) MarkUnlocked(ref string) {
	if _, ok := e.unlockedByRef[ref]; ok {
		e.unlockedByRef[ref] = true
	}
}

// EvaluateAll evaluates every still-locked target against state, in
// enumeration order. phase must be "end-of-tick"; any other value is a
// programmer error. Newly-true targets are marked unlocked, recorded as
// transitions, and published as UNLOCKED events on the bus in the same
// order they transition.
func (e *Evaluator) EvaluateAll(phase string, state unlock.Getter) (Summary, error) {
	if phase != "end-of-tick" {
		return Summary{}, fmt.Errorf("evaluator: EvaluateAll called outside end-of-tick phase (got %q)", phase)
	}

	summary := Summary{Unlocked: make(map[string]bool, len(e.order))}
	for _, ref := range e.order {
		if e.unlockedByRef[ref] {
			summary.Unlocked[ref] = true
			summary.UnlockedRefs = append(summary.UnlockedRefs, ref)
			continue
		}
		if unlock.Evaluate(e.ast[ref], state) {
			e.unlockedByRef[ref] = true
			summary.Unlocked[ref] = true
			summary.UnlockedRefs = append(summary.UnlockedRefs, ref)
			summary.Transitions = append(summary.Transitions, ref)
			if e.bus != nil {
				if err := e.bus.Publish(eventbus.Event{
					Type:    "UNLOCKED",
					Payload: map[string]any{"targetRef": ref},
					Source:  "UnlockEvaluator",
					Phase:   "unlock-evaluation",
				}); err != nil {
					return Summary{}, err
				}
			}
			continue
		}
		summary.Unlocked[ref] = false
	}
	return summary, nil
}

// EvaluateProgressAll returns a pure ref -> [0,1] progress map for every
// target, regardless of current unlock state. It never mutates evaluator
// state and never publishes.
func (e *Evaluator) EvaluateProgressAll(state unlock.Getter) map[string]float64 {
	out := make(map[string]float64, len(e.order))
	for _, ref := range e.order {
		if e.unlockedByRef[ref] {
			out[ref] = 1
			continue
		}
		out[ref] = unlock.EstimateProgress(e.ast[ref], state)
	}
	return out
}
