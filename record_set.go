package dnsresolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// RecordSet is the result of a single top-level Query call: the final
// answer's values plus the chain of exchanges the driver performed to
// reach it.
type RecordSet struct {
	// QueryType is the type of query that was sent, such as "A", "AAAA", "NS".
	QueryType string

	// Name is the fully qualified domain name this record set answers, with
	// the trailing dot omitted.
	Name string

	// TTL is the smallest time-to-live among the records that produced
	// Values, after following any CNAME chain.
	TTL time.Duration

	// Values holds the value of each record of QueryType, in the order the
	// final name server returned them.
	Values []string

	// NameServerAddress is the address of the server that returned the
	// final answer; empty when the answer came from the message cache.
	NameServerAddress string

	// RTT is the round-trip time of the exchange that produced the final
	// answer, excluding time spent on priming sub-queries; zero when the
	// answer came from the message cache.
	RTT time.Duration

	// Authoritative reports whether the final answer came from a server
	// authoritative for Name, as opposed to a cached or forwarded copy.
	Authoritative bool

	// Trace records every exchange the driver performed while resolving
	// this query, in the order they were sent.
	Trace *Trace
}

// fromMsg populates rs from m, the final reply to q, resolving any inline
// CNAME chain m's answer section carries. Adapted from the teacher's
// RecordSet.fromResult / dns.go's normalize: same name-to-name CNAME
// following and minimum-TTL bookkeeping, simplified to operate on one
// message instead of a queryResult wrapper, since the iterator module
// already performs cross-message CNAME following via FOLLOW_CNAME
// (component F) before a RecordSet is ever built.
func (rs *RecordSet) fromMsg(q dns.Question, m *dns.Msg) error {
	if m.Rcode == dns.RcodeNameError {
		return fmt.Errorf("%s %s: %w", dns.TypeToString[q.Qtype], q.Name, ErrNXDomain)
	}

	name := q.Name
	ttl := uint32(0)
	ttlSet := false
	seen := map[string]bool{name: true}

	for {
		var cname *dns.CNAME
		var values []string

		for _, rr := range m.Answer {
			if !strings.EqualFold(rr.Header().Name, name) {
				continue
			}
			if !ttlSet || rr.Header().Ttl < ttl {
				ttl = rr.Header().Ttl
				ttlSet = true
			}
			if c, ok := rr.(*dns.CNAME); ok && q.Qtype != dns.TypeCNAME {
				cname = c
				continue
			}
			if rr.Header().Rrtype == q.Qtype {
				values = append(values, rrValue(rr))
			}
		}

		if len(values) > 0 {
			rs.TTL = time.Duration(ttl) * time.Second
			rs.Values = values
			return nil
		}
		if cname == nil {
			return fmt.Errorf("%s %s: %w", dns.TypeToString[q.Qtype], q.Name, ErrNXDomain)
		}
		if seen[cname.Target] {
			return fmt.Errorf("%s %s: %w", dns.TypeToString[q.Qtype], q.Name, ErrCircular)
		}
		seen[cname.Target] = true
		name = cname.Target
	}
}
