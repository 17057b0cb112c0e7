package qstate

import "fmt"

// Module is the four-operation module interface from spec.md §4.E,
// mirroring original_source's struct module_func_block. Go favors an
// interface here over C's function-pointer table; dispatch cost is
// negligible next to a single DNS exchange's own latency (spec.md §9's
// "Module polymorphism" design note).
type Module interface {
	// Name identifies the module for logging/diagnostics.
	Name() string
	// Init is called once for the global state, at pipeline construction.
	Init(env *Environment, id int) error
	// Deinit is called once for the global state, at pipeline teardown.
	Deinit(env *Environment, id int)
	// Operate accepts a new query or continues an existing one. It must
	// set qstate.ExtState[id] to a valid outcome before returning.
	Operate(q *QState, event Event, id int)
	// Clear releases module-specific per-query data, invoked during
	// cancellation in reverse module order.
	Clear(q *QState, id int)
}

// Pipeline dispatches events across a fixed, ordered sequence of modules,
// interpreting each module's returned ExtState per spec.md §4.E's table.
type Pipeline struct {
	modules []Module
	env     *Environment
}

// ErrTooManyModules is returned by NewPipeline if more than MaxModule
// modules are registered.
var ErrTooManyModules = fmt.Errorf("qstate: pipeline exceeds MaxModule (%d)", MaxModule)

// NewPipeline constructs a pipeline over modules, in dispatch order
// (module 0 first), and calls Init on each.
func NewPipeline(env *Environment, modules ...Module) (*Pipeline, error) {
	if len(modules) > MaxModule {
		return nil, ErrTooManyModules
	}
	p := &Pipeline{modules: modules, env: env}
	for id, m := range p.modules {
		if err := m.Init(env, id); err != nil {
			return nil, fmt.Errorf("module %s: init: %w", m.Name(), err)
		}
	}
	return p, nil
}

// Environment returns the Environment the pipeline was constructed with,
// so callers can build new top-level QStates that share it.
func (p *Pipeline) Environment() *Environment { return p.env }

// Close calls Deinit on every module in reverse order.
func (p *Pipeline) Close() {
	for id := len(p.modules) - 1; id >= 0; id-- {
		p.modules[id].Deinit(p.env, id)
	}
}

// Start begins a new query at module 0 with EventNew and drives it until
// it suspends or terminates. It returns the terminal QState (same value
// as q) once the query has either finished, errored, or is waiting on an
// external event (reply, subquery, timeout).
func (p *Pipeline) Start(q *QState) *QState {
	q.CurMod = 0
	return p.dispatch(q, EventNew)
}

// Resume re-enters a suspended query with an externally injected event
// (EventReply, EventTimeout, or EventSubqDone — delivered at the parent's
// CurMod per spec.md §4.E).
func (p *Pipeline) Resume(q *QState, event Event) *QState {
	return p.dispatch(q, event)
}

// dispatch runs operate() at q.CurMod and interprets the result,
// following spec.md §4.E's transition table until the query suspends
// (wait_reply / wait_subquery) or the terminal event propagates past
// module 0.
func (p *Pipeline) dispatch(q *QState, event Event) *QState {
	for {
		if q.CurMod < 0 || q.CurMod >= len(p.modules) {
			// terminal event has propagated past module 0, or past the
			// last module; nothing further to do.
			return q
		}

		q.Scratch.Reset()
		id := q.CurMod
		p.modules[id].Operate(q, event, id)

		switch q.ExtState[id] {
		case StateWaitReply, StateWaitSubquery:
			return q

		case StateWaitModule:
			q.CurMod++
			event = EventPass
			continue

		case StateFinished:
			q.CurMod--
			if q.CurMod < 0 {
				q.terminal = true
				return q
			}
			event = EventModDone
			continue

		case StateInitial, StateError:
			q.CurMod--
			if q.CurMod < 0 {
				q.terminal = true
				return q
			}
			event = EventError
			continue

		default:
			// unreachable for a well-behaved module, but fail closed.
			q.ExtState[id] = StateError
			q.CurMod--
			if q.CurMod < 0 {
				q.terminal = true
				return q
			}
			event = EventError
			continue
		}
	}
}

// Cancel invokes each module's Clear in reverse module order, then
// recursively cancels sub-queries depth-first before releasing q's
// arenas, per spec.md §5's cancellation policy.
func (p *Pipeline) Cancel(q *QState) {
	for c := q.SubqueryFirst; c != nil; c = c.SubqueryNext {
		p.Cancel(c)
	}
	for id := len(p.modules) - 1; id >= 0; id-- {
		p.modules[id].Clear(q, id)
	}
	Release(q)
}

// Terminal reports whether q has run to completion (finished or error
// propagated past module 0).
func (q *QState) Terminal() bool { return q.terminal }
