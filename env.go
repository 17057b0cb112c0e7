// Package dnsresolver ties the module pipeline (package qstate), the
// iterator module (package iterator), the hints store (package hints) and
// the message cache (package cache) into a runnable recursive resolver.
//
// Grounded on the teacher's resolver.go: Env.sendQuery is doQuery's
// dns.Client.ExchangeContext call adapted to the qstate.Environment.SendQuery
// contract, and the truncated-response TCP retry mirrors addriter.go's
// same-server-retry-on-truncation behavior.
package dnsresolver

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/quadrant-dns/resolvercore/cache"
	"github.com/quadrant-dns/resolvercore/qstate"
	"github.com/sirupsen/logrus"
)

// Env is the reference qstate.Environment wiring: a synchronous
// miekg/dns.Client exchange, a cache.MsgCache for both message lookup and
// delegation lookup, and a fresh arena.Arena per query (via qstate.New).
//
// Real deployments deliver EventReply/EventTimeout asynchronously from a
// worker event loop that owns the socket (out of scope per spec.md §1).
// Env.SendQuery instead exchanges synchronously and records the outcome on
// qstate.QState.PendingEvent, so the reference drive loop in this package
// can resume the query itself without a separate event loop.
type Env struct {
	Cache *cache.MsgCache

	// DialTimeout bounds the underlying UDP/TCP dial, independent of the
	// per-exchange timeout SendQuery is called with.
	DialTimeout time.Duration

	// Log receives one entry per completed or failed exchange. Nil disables
	// logging, same as the teacher's Resolver.logFunc.
	Log *logrus.Logger

	tracesMu sync.Mutex
	traces   map[uuid.UUID]*Trace
}

// NewEnv returns an Env backed by a fresh cache.MsgCache of maxCacheSize
// entries.
func NewEnv(maxCacheSize int) *Env {
	return &Env{
		Cache:       cache.New(maxCacheSize),
		DialTimeout: 2 * time.Second,
		Log:         logrus.StandardLogger(),
		traces:      map[uuid.UUID]*Trace{},
	}
}

// beginTrace registers a Trace to receive every exchange sendQuery performs
// on behalf of id, until endTrace releases it. Resolver.Query calls this
// once per top-level query so Trace.add sees every exchange that query (and any
// priming sub-queries spawned under it) performs.
func (e *Env) beginTrace(id uuid.UUID) *Trace {
	t := &Trace{}
	e.tracesMu.Lock()
	e.traces[id] = t
	e.tracesMu.Unlock()
	return t
}

func (e *Env) endTrace(id uuid.UUID) {
	e.tracesMu.Lock()
	delete(e.traces, id)
	e.tracesMu.Unlock()
}

// traceFor walks id's ancestry (q.ID then q.Parent.ID, ...) to find the
// Trace registered for the top-level query id belongs to, since priming
// sub-queries (spawned with their own fresh id) must log into their
// top-level query's Trace, not their own.
func (e *Env) traceFor(q *qstate.QState) *Trace {
	e.tracesMu.Lock()
	defer e.tracesMu.Unlock()
	for p := q; p != nil; p = p.Parent {
		if t, ok := e.traces[p.ID]; ok {
			return t
		}
	}
	return nil
}

// Environment returns the qstate.Environment a Pipeline is constructed
// with, closing over e.
func (e *Env) Environment() *qstate.Environment {
	return &qstate.Environment{
		SendQuery:             e.sendQuery,
		CacheLookupMsg:        e.cacheLookupMsg,
		CacheLookupDelegation: e.cacheLookupDelegation,
	}
}

// sendQuery implements qstate.Environment.SendQuery: exchange pkt with addr
// over UDP, retrying over TCP if the UDP reply is truncated, and record the
// result on q for the drive loop to deliver. Returns false only when no
// exchange could be attempted at all (a dial-level failure), matching the
// "no query was sent" contract modules rely on to try the next target
// immediately instead of waiting out a timeout.
func (e *Env) sendQuery(pkt *dns.Msg, addr netip.AddrPort, timeoutMS int64, q *qstate.QState, useTCP bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	network := "udp"
	if useTCP {
		network = "tcp"
	}
	c := &dns.Client{Net: network, DialTimeout: e.DialTimeout}

	reply, rtt, err := c.ExchangeContext(ctx, pkt, addr.String())
	if err == nil && reply != nil && reply.Truncated && !useTCP {
		c = &dns.Client{Net: "tcp", DialTimeout: e.DialTimeout}
		reply, rtt, err = c.ExchangeContext(ctx, pkt, addr.String())
	}

	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{
			"qname": pkt.Question[0].Name,
			"qtype": dns.TypeToString[pkt.Question[0].Qtype],
			"addr":  addr.String(),
			"rtt":   rtt,
			"err":   err,
		}).Debug("dnsresolver: exchange complete")
	}

	if t := e.traceFor(q); t != nil {
		t.add(&TraceNode{Question: pkt.Question[0], Server: addr.String(), Message: reply, RTT: rtt, Error: err})
	}

	if err != nil {
		if ctx.Err() != nil {
			q.PendingEvent = qstate.EventTimeout
			return true
		}
		return false
	}

	e.Cache.Update(pkt.Question[0].Name, pkt.Question[0].Qtype, pkt.Question[0].Qclass, reply, answerTTL(reply))

	q.Reply = reply
	q.PendingEvent = qstate.EventReply
	return true
}

// answerTTL returns the minimum TTL among m's answer-section records, the
// freshness window sendQuery caches a reply's exact-match message lookup
// under. Referral and negative replies carry no answer records and so get a
// zero window here; BestDelegation derives its own freshness independently
// from NS record TTLs when cache.MsgCache.Update indexes the delegation
// (see cache/delegation.go), so a referral is still usable for future
// target selection even though Lookup itself won't replay it verbatim.
func answerTTL(m *dns.Msg) time.Duration {
	var ttl uint32
	set := false
	for _, rr := range m.Answer {
		if !set || rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
			set = true
		}
	}
	return time.Duration(ttl) * time.Second
}

func (e *Env) cacheLookupMsg(qi qstate.QuestionInfo) (*dns.Msg, bool) {
	return e.Cache.Lookup(qi.QName, qi.QType, qi.QClass)
}

func (e *Env) cacheLookupDelegation(qname string, qclass uint16) qstate.DPLookup {
	zone, ns, targets, found := e.Cache.BestDelegation(qname, qclass)
	if !found {
		return qstate.DPLookup{}
	}
	return qstate.DPLookup{
		Name:        zone,
		Nameservers: ns,
		Targets:     targets,
		Found:       true,
	}
}
