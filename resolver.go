package dnsresolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"
	"github.com/quadrant-dns/resolvercore/delegpt"
	"github.com/quadrant-dns/resolvercore/hints"
	"github.com/quadrant-dns/resolvercore/iterator"
	"github.com/quadrant-dns/resolvercore/qstate"
)

// Resolver resolves DNS queries recursively by driving the module pipeline
// (package qstate) with a single registered module, the iterator
// (package iterator).
//
// Concurrent calls to all methods are safe, but exported fields of the
// Resolver must not be changed until all method calls have returned, of
// course — the same contract the teacher's Resolver documented.
type Resolver struct {
	// TimeoutPolicy determines the round-trip timeout for a single DNS
	// exchange. If nil, delegpt.DefaultTimeoutPolicy() is used.
	TimeoutPolicy delegpt.TimeoutPolicy

	// CachePolicy determines how long a final answer remains fresh in the
	// message cache, independent of the server-advertised TTL. If nil,
	// DefaultCachePolicy() is used.
	CachePolicy CachePolicy

	// TargetPolicy orders a delegation point's candidate targets for each
	// QUERY_TARGETS attempt. If nil, delegpt.RoundRobin() is used.
	TargetPolicy delegpt.Policy

	once sync.Once

	mu       sync.Mutex
	hintsCfg hints.Config
	hints    *hints.Store
	env      *Env
	pipeline *qstate.Pipeline
}

// New returns a Resolver that resolves queries starting at the compiled-in
// root hints, with a 10k-entry message cache.
func New() *Resolver {
	return &Resolver{}
}

func (r *Resolver) init() {
	r.once.Do(func() {
		r.hints = hints.Create()
		if err := r.hints.ApplyConfig(r.hintsCfg); err != nil {
			// compile-time root hints are a fixed table; ApplyConfig fails
			// only if a stub added through WithZoneServer has a malformed
			// name or address. New's empty Config never does.
			panic(fmt.Sprintf("dnsresolver: building hints store: %v", err))
		}

		r.env = NewEnv(10_000)

		cfg := iterator.DefaultConfig(r.hints)
		if r.TimeoutPolicy != nil {
			cfg.TimeoutPolicy = r.TimeoutPolicy
		}
		if r.TargetPolicy != nil {
			cfg.TargetPolicy = r.TargetPolicy
		}

		qenv := r.env.Environment()
		qenv.ModInfo[0] = cfg

		p, err := qstate.NewPipeline(qenv, iterator.New())
		if err != nil {
			panic(fmt.Sprintf("dnsresolver: building pipeline: %v", err))
		}
		r.pipeline = p
	})
}

// WithZoneServer causes the resolver to treat serverAddresses as the
// (already resolved) nameservers for zone, skipping normal delegation for
// names at or below it. Passing zone "." overrides the root hints
// themselves — the mechanism the reference test harness (NewLab) uses to
// point a Resolver at fake root/TLD servers instead of the real Internet.
//
// serverAddresses must be "ip:port" or bare IP (port defaults to 53).
// WithZoneServer must be called before the first Query; Resolver builds its
// module pipeline once, on first use.
func (r *Resolver) WithZoneServer(zone string, serverAddresses []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, se := range r.hintsCfg.Stubs {
		if se.Name == zone {
			r.hintsCfg.Stubs[i].Addrs = serverAddresses
			return nil
		}
	}
	r.hintsCfg.Stubs = append(r.hintsCfg.Stubs, hints.StubEntry{Name: zone, Addrs: serverAddresses})
	return nil
}

// ClearCache removes any cached DNS responses.
func (r *Resolver) ClearCache() {
	r.init()
	r.env.Cache.Clear()
}

// Query starts a recursive query for the given record type and DNS name.
//
// ctx only bounds the overall call: it is checked between exchanges, and an
// exchange already in flight runs until its own per-target timeout, since
// the reference Env exchanges synchronously (see
// iterator.Config.PerTargetTimeout).
//
// recordType is the type of the record set to query, such as "A", "AAAA",
// "NS", etc. domainName is understood as fully qualified; the trailing dot
// is optional.
func (r *Resolver) Query(ctx context.Context, recordType string, domainName string) (RecordSet, error) {
	r.init()

	rs := RecordSet{QueryType: recordType, Name: trimTrailingDot(dns.CanonicalName(domainName))}

	qtype, ok := dns.StringToType[recordType]
	if !ok {
		return rs, fmt.Errorf("unsupported record type: %s", recordType)
	}

	qi := qstate.QuestionInfo{
		QName:  dns.CanonicalName(domainName),
		QType:  qtype,
		QClass: dns.ClassINET,
	}

	q := qstate.New(qi, 0, r.pipeline.Environment())
	trace := r.env.beginTrace(q.ID)
	defer r.env.endTrace(q.ID)

	q = drive(ctx, r.pipeline, q)
	rs.Trace = trace

	if q.ExtState[0] != qstate.StateFinished || q.Buf == nil {
		return rs, fmt.Errorf("%s %s: %w", recordType, qi.QName, ErrResolutionFailed)
	}

	// q.QInfo.QName is the name the final reply answers, after any CNAME
	// rewrites the iterator made.
	question := dns.Question{Name: q.QInfo.QName, Qtype: qtype, Qclass: dns.ClassINET}
	if err := rs.fromMsg(question, q.Buf); err != nil {
		return rs, err
	}
	rs.Authoritative = isAuthoritative(q.Buf)
	for _, n := range trace.Queries {
		if n.Message == q.Buf {
			rs.NameServerAddress = n.Server
			rs.RTT = n.RTT
		}
	}

	policy := r.CachePolicy
	if policy == nil {
		policy = DefaultCachePolicy()
	}
	if ttl := policy(rs); ttl > 0 {
		r.env.Cache.Update(qi.QName, qtype, qi.QClass, q.Buf, ttl)
	}

	return rs, nil
}

// ErrResolutionFailed is returned by Query when the module pipeline reaches
// StateError or terminates without a reply — referral loop, CNAME loop, or
// every target exhausted, per the iterator's own errors (package
// iterator); the pipeline does not currently propagate the specific cause
// past its ExtState, so Query reports a single sentinel wrapping none of
// them directly, and a caller wanting the detailed reason should dump
// RecordSet.Trace.
var ErrResolutionFailed = fmt.Errorf("dns resolution failed")

// drive walks q to completion, synchronously resolving StateWaitSubquery by
// recursing into q.SubqueryFirst and StateWaitReply by consuming the
// PendingEvent Env.SendQuery recorded. This is the reference "worker event
// loop" spec.md §1 leaves out of scope: a real deployment would instead
// deliver EventReply/EventTimeout/EventSubqDone asynchronously from a
// socket-owning event loop shared across many in-flight queries.
func drive(ctx context.Context, p *qstate.Pipeline, q *qstate.QState) *qstate.QState {
	p.Start(q)

	for !q.Terminal() {
		if ctx.Err() != nil {
			p.Cancel(q)
			return q
		}

		switch q.ExtState[q.CurMod] {
		case qstate.StateWaitSubquery:
			child := q.SubqueryFirst
			drive(ctx, p, child)
			p.Resume(q, qstate.EventSubqDone)

		case qstate.StateWaitReply:
			p.Resume(q, q.PendingEvent)

		default:
			// Start/Resume never return control with any other ExtState
			// while !q.Terminal(); fail closed rather than spin.
			return q
		}
	}
	return q
}
