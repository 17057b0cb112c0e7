// Package iterator implements the iterator module (component F): referral
// walk, priming, target selection, and sub-query spawning against the
// hints store and the message cache.
//
// Grounded on spec.md §4.F and, for the priming/referral shape,
// original_source/iterator/iter_hints.c's hints_lookup_root/
// hints_lookup_stub contract, consumed here exactly as specified.
package iterator

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/quadrant-dns/resolvercore/delegpt"
	"github.com/quadrant-dns/resolvercore/dname"
	"github.com/quadrant-dns/resolvercore/hints"
	"github.com/quadrant-dns/resolvercore/qstate"
	"github.com/sirupsen/logrus"
)

// Config holds the iterator's termination bounds and policies, all
// configurable with the safe defaults spec.md §4.F names.
type Config struct {
	MaxReferrals     int
	MaxCNAMEChain    int
	PerTargetTimeout time.Duration
	MaxTargetsPerDP  int

	TargetPolicy  delegpt.Policy
	TimeoutPolicy delegpt.TimeoutPolicy

	Hints *hints.Store
}

// DefaultConfig returns spec.md §4.F's documented safe defaults.
func DefaultConfig(h *hints.Store) Config {
	return Config{
		MaxReferrals:     30,
		MaxCNAMEChain:    16,
		PerTargetTimeout: 3 * time.Second,
		MaxTargetsPerDP:  16,
		TargetPolicy:     delegpt.RoundRobin(),
		TimeoutPolicy:    delegpt.DefaultTimeoutPolicy(),
		Hints:            h,
	}
}

// dpSource records where a query's current delegation point came from.
type dpSource int

const (
	sourceHints dpSource = iota
	sourceCache
	sourceReferral
)

// phase is the iterator's internal state, distinct from qstate.ExtState.
// Of spec.md §4.F's states, PROCESS_RESPONSE has no phase of its own (it
// runs as processResponse on an EventReply/EventTimeout) and FOLLOW_CNAME
// re-enters phaseInit with the rewritten qname.
type phase int

const (
	phaseInit phase = iota
	phasePrime
	phaseQueryTargets
	phaseDone
)

// state is the iterator's per-query private data, stored in
// QState.MInfo[id].
type state struct {
	phase phase

	targetDP      *delegpt.DP
	dpSource      dpSource
	lastTargetIdx int

	referralsSeen int
	cnameChainLen int

	// primeSub is the sub-query spawned to resolve an unresolved
	// nameserver's address during PRIME; non-nil while waiting on it.
	primeSub    *qstate.QState
	primeNeeded []dname.Name
	primeDone   map[string]bool
}

// Iterator is the component F module. It implements qstate.Module.
type Iterator struct {
	id int
}

// New returns an unconfigured Iterator. Its Config must already be stored
// in Environment.ModInfo under the module id the pipeline assigns; Init
// records that id and fails if the slot is empty.
func New() *Iterator { return &Iterator{} }

func (it *Iterator) Name() string { return "iterator" }

func (it *Iterator) Init(env *qstate.Environment, id int) error {
	it.id = id
	if env.ModInfo[id] == nil {
		return fmt.Errorf("iterator: module %d requires a Config set on Environment.ModInfo before Init", id)
	}
	return nil
}

func (it *Iterator) Deinit(env *qstate.Environment, id int) {}

func (it *Iterator) Clear(q *qstate.QState, id int) {
	q.MInfo[id] = nil
}

func (it *Iterator) config(q *qstate.QState) Config {
	return q.Env.ModInfo[it.id].(Config)
}

func (it *Iterator) st(q *qstate.QState) *state {
	if q.MInfo[it.id] == nil {
		q.MInfo[it.id] = &state{primeDone: map[string]bool{}}
	}
	return q.MInfo[it.id].(*state)
}

// Operate drives the iterator's state machine for one activation,
// returning only once the query must suspend (wait_reply /
// wait_subquery) or reach a terminal ExtState (finished / error).
func (it *Iterator) Operate(q *qstate.QState, event qstate.Event, id int) {
	s := it.st(q)
	cfg := it.config(q)

	switch event {
	case qstate.EventNew:
		s.phase = phaseInit

	case qstate.EventReply:
		it.processResponse(q, s, cfg, q.Reply, nil)
		return

	case qstate.EventTimeout:
		it.processResponse(q, s, cfg, nil, fmt.Errorf("timeout"))
		return

	case qstate.EventSubqDone:
		it.resumeAfterPrime(q, s, cfg)
		return
	}

	it.run(q, s, cfg)
}

// run drives phases forward until a suspend point is reached.
func (it *Iterator) run(q *qstate.QState, s *state, cfg Config) {
	for {
		switch s.phase {
		case phaseInit:
			if !it.doInit(q, s, cfg) {
				return
			}
		case phasePrime:
			if !it.doPrime(q, s, cfg) {
				return
			}
		case phaseQueryTargets:
			if !it.doQueryTargets(q, s, cfg) {
				return
			}
		default:
			q.ExtState[it.id] = qstate.StateError
			return
		}
	}
}

// doInit implements spec.md §4.F step 1. Returns true after choosing the
// next phase, or false after setting a terminal ExtState (a cached answer
// or an error); it never suspends itself.
func (it *Iterator) doInit(q *qstate.QState, s *state, cfg Config) bool {
	qname, err := dname.New(q.QInfo.QName)
	if err != nil {
		q.ExtState[it.id] = qstate.StateError
		return false
	}

	if q.Env.CacheLookupMsg != nil {
		if msg, ok := q.Env.CacheLookupMsg(q.QInfo); ok {
			q.Buf = msg
			q.ExtState[it.id] = qstate.StateFinished
			return false
		}
	}

	var cacheDP *delegpt.DP
	if q.Env.CacheLookupDelegation != nil {
		lookup := q.Env.CacheLookupDelegation(string(qname), q.QInfo.QClass)
		if lookup.Found {
			cacheDP = delegpt.New()
			cacheDP.SetName(dname.Name(lookup.Name))
			for i, ns := range lookup.Nameservers {
				nsName, err := dname.New(ns)
				if err != nil {
					continue
				}
				if i < len(lookup.Targets) {
					cacheDP.AddTarget(nsName, lookup.Targets[i])
				} else {
					cacheDP.AddNS(nsName)
				}
			}
		}
	}

	if stub := cfg.Hints.LookupStub(qname, hints.Class(q.QInfo.QClass), cacheDP); stub != nil {
		s.targetDP = stub
		s.targetDP.ResetQueried()
		s.dpSource = sourceHints
		s.phase = phasePrime
		return true
	}

	if cacheDP != nil {
		s.targetDP = cacheDP
		s.dpSource = sourceCache
		s.phase = phaseQueryTargets
		return true
	}

	root := cfg.Hints.LookupRoot(hints.Class(q.QInfo.QClass))
	if root == nil {
		q.ExtState[it.id] = qstate.StateError
		return false
	}
	s.targetDP = root
	s.targetDP.ResetQueried()
	s.dpSource = sourceHints
	s.phase = phasePrime
	return true
}

// doPrime implements spec.md §4.F step 2: if the delegation point already
// has usable targets, priming is a no-op and control falls through to
// QUERY_TARGETS. Otherwise it spawns a sub-query for the first nameserver
// not yet primed and suspends on wait_subquery; resumeAfterPrime returns
// here, so nameservers are primed one at a time until the delegation point
// becomes usable or none are left.
func (it *Iterator) doPrime(q *qstate.QState, s *state, cfg Config) bool {
	if s.targetDP.Usable() {
		s.phase = phaseQueryTargets
		return true
	}

	var need []dname.Name
	for _, ns := range s.targetDP.Nameservers() {
		if !s.primeDone[ns.String()] {
			need = append(need, ns)
		}
	}
	if len(need) == 0 {
		// every known nameserver failed to resolve; nothing left to prime.
		q.ExtState[it.id] = qstate.StateError
		return false
	}

	target := need[0]
	child := qstate.CreateSubquery(q, qstate.QuestionInfo{
		QName:  string(target),
		QType:  dns.TypeA,
		QClass: q.QInfo.QClass,
	}, 0)
	s.primeSub = child
	s.primeNeeded = need

	q.ExtState[it.id] = qstate.StateWaitSubquery
	return false
}

// resumeAfterPrime is invoked with EventSubqDone once a priming
// sub-query (spawned by doPrime) has produced a reply, repopulating the
// target DP with any resolved addresses.
func (it *Iterator) resumeAfterPrime(q *qstate.QState, s *state, cfg Config) {
	child := s.primeSub
	if child == nil {
		q.ExtState[it.id] = qstate.StateError
		return
	}
	s.primeDone[child.QInfo.QName] = true

	if child.Buf != nil {
		for _, rr := range child.Buf.Answer {
			var addr netip.Addr
			var ok bool
			switch rr := rr.(type) {
			case *dns.A:
				addr, ok = netip.AddrFromSlice(rr.A.To4())
			case *dns.AAAA:
				addr, ok = netip.AddrFromSlice(rr.AAAA.To16())
			}
			if ok {
				nsName, err := dname.New(child.QInfo.QName)
				if err == nil {
					s.targetDP.AddTarget(nsName, netip.AddrPortFrom(addr, 53))
				}
			}
		}
	}
	s.primeSub = nil

	s.phase = phasePrime
	it.run(q, s, cfg)
}

// doQueryTargets implements spec.md §4.F step 3.
func (it *Iterator) doQueryTargets(q *qstate.QState, s *state, cfg Config) bool {
	policy := cfg.TargetPolicy
	if policy == nil {
		policy = delegpt.RoundRobin()
	}

	idx, tgt, ok := policy(s.targetDP)
	if !ok {
		q.ExtState[it.id] = qstate.StateError
		return false
	}
	s.targetDP.MarkQueried(idx)
	s.lastTargetIdx = idx

	msg := new(dns.Msg)
	msg.SetQuestion(q.QInfo.QName, q.QInfo.QType)
	msg.Question[0].Qclass = q.QInfo.QClass

	timeoutPolicy := cfg.TimeoutPolicy
	if timeoutPolicy == nil {
		timeoutPolicy = delegpt.DefaultTimeoutPolicy()
	}
	timeout := timeoutPolicy(tgt.Addr)
	if cfg.PerTargetTimeout > 0 && timeout > cfg.PerTargetTimeout {
		timeout = cfg.PerTargetTimeout
	}

	ok = q.Env.SendQuery(msg, tgt.Addr, timeout.Milliseconds(), q, false)
	if !ok {
		s.targetDP.MarkFailed(idx)
		logrus.WithField("target", tgt.Addr).Warn("iterator: send_query failed, trying next target")
		return true // loop back into doQueryTargets via caller's run loop
	}

	q.ExtState[it.id] = qstate.StateWaitReply
	return false
}

// processResponse implements spec.md §4.F step 4. replyErr is non-nil for
// a timeout (no reply arrived).
func (it *Iterator) processResponse(q *qstate.QState, s *state, cfg Config, reply *dns.Msg, replyErr error) {
	if replyErr != nil || reply == nil || reply.Rcode == dns.RcodeServerFailure || reply.Rcode == dns.RcodeFormatError {
		s.targetDP.MarkFailed(s.lastTargetIdx)
		s.phase = phaseQueryTargets
		it.run(q, s, cfg)
		return
	}

	question := dns.Question{Name: q.QInfo.QName, Qtype: q.QInfo.QType, Qclass: q.QInfo.QClass}

	if isAnswer(question, reply) {
		q.Buf = reply
		q.ExtState[it.id] = qstate.StateFinished
		return
	}

	if target, ok := cnameTarget(q.QInfo.QName, q.QInfo.QType, reply); ok {
		s.cnameChainLen++
		if s.cnameChainLen > cfg.MaxCNAMEChain {
			q.ExtState[it.id] = qstate.StateError
			return
		}
		q.QInfo.QName = dns.CanonicalName(target)
		s.phase = phaseInit
		it.run(q, s, cfg)
		return
	}

	if isReferral(reply) {
		zone, ok := referralZone(reply)
		if !ok {
			q.ExtState[it.id] = qstate.StateError
			return
		}
		newDP, err := buildReferralDP(zone, reply)
		if err != nil {
			q.ExtState[it.id] = qstate.StateError
			return
		}
		if !acceptReferral(s.targetDP.Name(), newDP, s.targetDP) {
			q.ExtState[it.id] = qstate.StateError
			return
		}

		s.referralsSeen++
		if s.referralsSeen > cfg.MaxReferrals {
			q.ExtState[it.id] = qstate.StateError
			return
		}

		s.targetDP = newDP
		s.dpSource = sourceReferral
		s.targetDP.ResetQueried()
		s.phase = phaseQueryTargets
		it.run(q, s, cfg)
		return
	}

	if isNXDomainOrNoData(reply) {
		q.Buf = reply
		q.ExtState[it.id] = qstate.StateFinished
		return
	}

	// anything else (malformed / unexpected shape): treat the target as
	// failed and keep trying, consistent with the Servfail/timeout path.
	s.targetDP.MarkFailed(s.lastTargetIdx)
	s.phase = phaseQueryTargets
	it.run(q, s, cfg)
}
