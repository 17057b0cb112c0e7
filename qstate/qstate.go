// Package qstate implements the per-query state record and the module
// pipeline that dispatches events against it.
//
// Grounded on original_source/util/module.h: struct module_qstate,
// struct module_env, enum module_ext_state, enum module_ev, struct
// module_func_block. Go's garbage collector replaces the C original's
// manual region allocator with arena.Arena used as bookkeeping rather than
// a true allocator (see SPEC_FULL.md §3).
package qstate

import (
	"net/netip"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/quadrant-dns/resolvercore/arena"
)

// MaxModule bounds the module pipeline's fixed capacity, mirroring
// original_source's MAX_MODULE.
const MaxModule = 4

// ExtState is the externally visible state of a module's state machine
// after an operate() call returns.
type ExtState int

const (
	// StateInitial is invalid as an operate() return value; the pipeline
	// treats it as StateError.
	StateInitial ExtState = iota
	StateWaitReply
	StateWaitModule
	StateWaitSubquery
	StateError
	StateFinished
)

func (s ExtState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateWaitReply:
		return "wait_reply"
	case StateWaitModule:
		return "wait_module"
	case StateWaitSubquery:
		return "wait_subquery"
	case StateError:
		return "error"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is what starts or wakes up a module.
type Event int

const (
	EventNew Event = iota
	EventPass
	EventReply
	EventTimeout
	EventModDone
	EventSubqDone
	EventError
)

func (e Event) String() string {
	switch e {
	case EventNew:
		return "new"
	case EventPass:
		return "pass"
	case EventReply:
		return "reply"
	case EventTimeout:
		return "timeout"
	case EventModDone:
		return "mod_done"
	case EventSubqDone:
		return "subq_done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// QuestionInfo is the name/type/class under resolution, the Go shape of
// original_source's struct query_info.
type QuestionInfo struct {
	QName  string
	QType  uint16
	QClass uint16
}

// Environment is the read-mostly set of services exposed to modules
// (component G). Concrete wiring (network sockets, caches, allocator) is
// out of this package's scope; see the root package's Env for a reference
// implementation.
type Environment struct {
	// SendQuery enqueues pkt to addr with the given timeout on behalf of
	// q, returning false on failure (memory or socket related; no query
	// was sent). A successful call leaves q waiting for a Reply or
	// Timeout event to be delivered back to the same query via
	// Pipeline.Resume.
	SendQuery func(pkt *dns.Msg, addr netip.AddrPort, timeoutMS int64, q *QState, useTCP bool) bool

	// CacheLookupMsg returns a cached reply for qi, if any.
	CacheLookupMsg func(qi QuestionInfo) (*dns.Msg, bool)

	// CacheLookupDelegation returns the best known delegation point for
	// (qname, qclass) from the shared cache, if any.
	CacheLookupDelegation func(qname string, qclass uint16) DPLookup

	// ModInfo holds per-module global data, indexed by module id.
	ModInfo [MaxModule]any
}

// DPLookup is the minimal delegation-point view the environment's cache
// exposes to the iterator for its INIT step; it avoids a dependency
// cycle between qstate and delegpt while still letting the iterator
// reconstruct a full delegpt.DP from it.
type DPLookup struct {
	Name        string
	Nameservers []string
	Targets     []netip.AddrPort
	Found       bool
}

// QState is a query's owned, per-query record. It survives across
// suspensions; scratch is reset at the start of every operate() call and
// must not be reachable from anything stored in MInfo (spec.md §3's
// invariant).
type QState struct {
	ID uuid.UUID

	QInfo      QuestionInfo
	QueryFlags uint16

	// Buf holds the reply assembly buffer; may be reclaimed across
	// suspensions along with Scratch.
	Buf *dns.Msg
	// Reply is the latest inbound server reply; transient, valid only
	// during the operate() call that processes it.
	Reply *dns.Msg

	// PendingEvent is set by Environment.SendQuery before it returns, to
	// tell the driver which event to deliver once the query is ready to
	// resume (EventReply or EventTimeout). Real deployments deliver this
	// asynchronously from the worker event loop (out of scope per
	// spec.md §1); the reference driver in the root package reads it
	// synchronously instead.
	PendingEvent Event

	Scratch *arena.Arena
	Region  *arena.Arena

	CurMod int

	ExtState [MaxModule]ExtState
	MInfo    [MaxModule]any

	Env *Environment

	Parent        *QState
	SubqueryFirst *QState
	SubqueryNext  *QState

	// terminal is set by the pipeline once a finished or error state has
	// propagated past module 0; read through Terminal.
	terminal bool
}

// New allocates a fresh top-level query state, curmod at 0, all
// ext_states at their initial value.
func New(qi QuestionInfo, flags uint16, env *Environment) *QState {
	return &QState{
		ID:         uuid.New(),
		QInfo:      qi,
		QueryFlags: flags,
		Scratch:    arena.New(),
		Region:     arena.New(),
		Env:        env,
	}
}

// CreateSubquery links a new query state into parent.SubqueryFirst,
// propagating env, with fresh arenas and independent per-module slots —
// mirroring original_source's implicit subquery linkage via
// module_qstate.parent/subquery_first/subquery_next.
func CreateSubquery(parent *QState, qi QuestionInfo, flags uint16) *QState {
	child := New(qi, flags, parent.Env)
	child.Parent = parent
	child.SubqueryNext = parent.SubqueryFirst
	parent.SubqueryFirst = child
	return child
}

// Release recursively destroys sub-queries first, then drops this
// query's arenas. Idempotent.
func Release(q *QState) {
	if q == nil {
		return
	}
	for c := q.SubqueryFirst; c != nil; {
		next := c.SubqueryNext
		Release(c)
		c = next
	}
	q.SubqueryFirst = nil
	q.Scratch = nil
	q.Region = nil
}

// IsAncestorOf reports whether q is an ancestor of other by walking
// other's Parent chain — used by tests asserting the sub-query tree is a
// DAG-free tree (spec.md §8).
func IsAncestorOf(q, other *QState) bool {
	for p := other.Parent; p != nil; p = p.Parent {
		if p == q {
			return true
		}
	}
	return false
}
