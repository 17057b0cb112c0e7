// Package delegpt implements the delegation point data model: a zone
// cut's name, its nameserver set, and the resolved addresses ("glue")
// those nameservers answer on, plus target-selection policy.
//
// Grounded on original_source/iterator/iter_hints.c's delegpt_* calls
// (delegpt_create, delegpt_set_name, delegpt_add_ns, delegpt_add_target,
// delegpt_add_addr) and on the teacher's functional-policy idiom in
// policy.go (TimeoutPolicy / CachePolicy).
package delegpt

import (
	"errors"
	"net/netip"

	"github.com/quadrant-dns/resolvercore/dname"
)

// ErrEmptyName is returned by SetName for an empty name.
var ErrEmptyName = errors.New("delegpt: name must not be empty")

// Target is a resolved (nameserver, address) pair: glue.
type Target struct {
	NS   dname.Name
	Addr netip.AddrPort

	// rttMicros is an exponentially-weighted moving average of round trip
	// time in microseconds, 0 until the first UpdateRTT call. Set only
	// through UpdateRTT, consulted by RTTOrdered; neither the iterator nor
	// the reference environment calls UpdateRTT.
	rttMicros int64
	tried     bool
	failed    bool
}

// DP is a delegation point: a zone cut's name, nameservers and resolved
// targets. All nameservers and targets referenced by a DP are owned by
// it; a DP built during hints loading is owned by the hints store's
// arena for the store's lifetime and must not be mutated by a query that
// merely borrows it (see qstate package doc).
type DP struct {
	name        dname.Name
	nameservers []dname.Name
	nsIndex     map[dname.Name]int
	targets     []Target
	targetIndex map[targetKey]int

	// rrCounter counts round-robin selections made so far, used by
	// RoundRobin for deterministic rotation.
	rrCounter int
}

type targetKey struct {
	ns   dname.Name
	addr netip.AddrPort
}

// New returns an empty, unnamed DP.
func New() *DP {
	return &DP{
		nsIndex:     make(map[dname.Name]int),
		targetIndex: make(map[targetKey]int),
	}
}

// Name returns the DP's owner name, or "" if SetName has not been called.
func (dp *DP) Name() dname.Name { return dp.name }

// SetName idempotently assigns the DP's owner name. Calling it again with
// the same name is a no-op; calling it with a different name re-points the
// zone cut (used when turning a priming DP into a referral DP).
func (dp *DP) SetName(name dname.Name) error {
	if name == "" {
		return ErrEmptyName
	}
	dp.name = name
	return nil
}

// Nameservers returns the DP's nameserver set in first-insertion order.
func (dp *DP) Nameservers() []dname.Name {
	out := make([]dname.Name, len(dp.nameservers))
	copy(out, dp.nameservers)
	return out
}

// Targets returns the DP's resolved targets in first-insertion order.
func (dp *DP) Targets() []Target {
	out := make([]Target, len(dp.targets))
	copy(out, dp.targets)
	return out
}

// HasNS reports whether ns is already a member of the nameserver set.
func (dp *DP) HasNS(ns dname.Name) bool {
	_, ok := dp.nsIndex[ns]
	return ok
}

// AddNS inserts ns into the nameserver set if absent, preserving
// first-insertion order. Returns false if ns was already present.
func (dp *DP) AddNS(ns dname.Name) bool {
	if _, ok := dp.nsIndex[ns]; ok {
		return false
	}
	dp.nsIndex[ns] = len(dp.nameservers)
	dp.nameservers = append(dp.nameservers, ns)
	return true
}

// AddTarget records a resolved (ns, addr) pair. If ns is not yet a known
// nameserver it is added implicitly, per spec. Deduplicates by (ns, addr).
func (dp *DP) AddTarget(ns dname.Name, addr netip.AddrPort) bool {
	dp.AddNS(ns)

	key := targetKey{ns: ns, addr: addr}
	if _, ok := dp.targetIndex[key]; ok {
		return false
	}
	dp.targetIndex[key] = len(dp.targets)
	dp.targets = append(dp.targets, Target{NS: ns, Addr: addr})
	return true
}

// AddAddr adds a floating address not tied to a known NS name — used for
// stubs configured by IP only (config_stub.addrs in the original). A
// placeholder nameserver name is synthesized so every target still has an
// NS owner, matching original_source's delegpt_add_addr behavior of
// attaching such addresses to the delegation point directly.
func (dp *DP) AddAddr(addr netip.AddrPort) bool {
	placeholder := dname.Name("@addr-" + addr.String() + ".")
	return dp.AddTarget(placeholder, addr)
}

// Usable reports whether the DP has at least one resolved target.
func (dp *DP) Usable() bool {
	return len(dp.targets) > 0
}

// MarkQueried records that idx (the index returned alongside a target from
// SelectTarget) has been tried for this activation's QUERY_TARGETS walk.
func (dp *DP) MarkQueried(idx int) {
	if idx >= 0 && idx < len(dp.targets) {
		dp.targets[idx].tried = true
	}
}

// MarkFailed records that the target at idx produced a transient failure
// (timeout, SERVFAIL) and should not be retried for this query's
// QUERY_TARGETS walk.
func (dp *DP) MarkFailed(idx int) {
	if idx >= 0 && idx < len(dp.targets) {
		dp.targets[idx].failed = true
	}
}

// UpdateRTT records a completed exchange's round trip time against the
// target at idx, feeding RTTOrdered's ordering.
func (dp *DP) UpdateRTT(idx int, rttMicros int64) {
	if idx < 0 || idx >= len(dp.targets) {
		return
	}
	t := &dp.targets[idx]
	if t.rttMicros == 0 {
		t.rttMicros = rttMicros
		return
	}
	// EWMA with alpha=0.3, same smoothing the teacher's DefaultTimeoutPolicy
	// family of heuristics implicitly assumes for "fast" vs "slow" servers.
	t.rttMicros = (t.rttMicros*7 + rttMicros*3) / 10
}

// ResetQueried clears queried/failed bookkeeping, e.g. when a new referral
// replaces this DP's target set context but retains glue.
func (dp *DP) ResetQueried() {
	for i := range dp.targets {
		dp.targets[i].tried = false
		dp.targets[i].failed = false
	}
}
