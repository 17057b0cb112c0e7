package iterator

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"
	"github.com/quadrant-dns/resolvercore/delegpt"
	"github.com/quadrant-dns/resolvercore/dname"
)

// isAnswer reports whether m is a NOERROR reply whose answer section holds
// at least one record with q's owner name and type. The AA flag is not
// consulted.
func isAnswer(q dns.Question, m *dns.Msg) bool {
	if m == nil || m.Rcode != dns.RcodeSuccess {
		return false
	}
	for _, rr := range m.Answer {
		if strings.EqualFold(rr.Header().Name, q.Name) && rr.Header().Rrtype == q.Qtype {
			return true
		}
	}
	return false
}

// isNXDomainOrNoData reports whether m is a terminal negative answer:
// NXDOMAIN, or NOERROR with an empty, non-referral answer section.
func isNXDomainOrNoData(m *dns.Msg) bool {
	if m == nil {
		return false
	}
	if m.Rcode == dns.RcodeNameError {
		return true
	}
	return m.Rcode == dns.RcodeSuccess && len(m.Answer) == 0 && !isReferral(m)
}

// isReferral reports whether m's answer+authority sections are
// exclusively NS records not authoritative for the question — a
// delegation down to a deeper zone. Adapted from the teacher's
// queryResult.isDelegation in resolver.go, generalized from "NS-only in
// answer+authority" to also tolerate SOA/glue noise in Extra (ignored
// here since Extra never carries answer-bearing records).
func isReferral(m *dns.Msg) bool {
	if m == nil || m.Authoritative {
		return false
	}
	all := append(append([]dns.RR{}, m.Answer...), m.Ns...)
	if len(all) == 0 {
		return false
	}
	for _, rr := range all {
		if _, ok := rr.(*dns.NS); !ok {
			return false
		}
	}
	return true
}

// cnameTarget returns the CNAME target for qname in m's answer section,
// if m answers qname with a CNAME instead of the requested type.
func cnameTarget(qname string, qtype uint16, m *dns.Msg) (string, bool) {
	if m == nil || qtype == dns.TypeCNAME {
		return "", false
	}
	for _, rr := range m.Answer {
		if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Hdr.Name, qname) {
			return c.Target, true
		}
	}
	return "", false
}

// buildReferralDP constructs a new delegation point from a referral
// message's NS records and any matching glue in Extra, the same
// NS-plus-glue matching the teacher's nsResponseSet.Addrs()/tryMapIPs
// perform in ns.go, adapted to populate a delegpt.DP instead of a flat
// address list.
func buildReferralDP(zone dname.Name, m *dns.Msg) (*delegpt.DP, error) {
	dp := delegpt.New()
	if err := dp.SetName(zone); err != nil {
		return nil, err
	}

	glue := map[string][]netip.AddrPort{}
	for _, rr := range m.Extra {
		name := strings.ToLower(rr.Header().Name)
		switch rr := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				glue[name] = append(glue[name], netip.AddrPortFrom(a, 53))
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
				glue[name] = append(glue[name], netip.AddrPortFrom(a, 53))
			}
		}
	}

	for _, rr := range append(append([]dns.RR{}, m.Answer...), m.Ns...) {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		nsName, err := dname.New(ns.Ns)
		if err != nil {
			continue
		}
		dp.AddNS(nsName)
		for _, addr := range glue[strings.ToLower(ns.Ns)] {
			dp.AddTarget(nsName, addr)
		}
	}
	return dp, nil
}

// referralZone returns the owner name of a referral's NS records, the
// zone being delegated to.
func referralZone(m *dns.Msg) (dname.Name, bool) {
	for _, rr := range append(append([]dns.RR{}, m.Answer...), m.Ns...) {
		if ns, ok := rr.(*dns.NS); ok {
			name, err := dname.New(ns.Hdr.Name)
			if err != nil {
				return "", false
			}
			return name, true
		}
	}
	return "", false
}

// acceptReferral implements spec.md §4.F's referral acceptance test:
// accept only if new strictly descends old, or new equals old and the
// referral adds previously unknown glue.
func acceptReferral(old dname.Name, newDP *delegpt.DP, oldDP *delegpt.DP) bool {
	newName := newDP.Name()
	if dname.StrictSubdomain(newName, old) {
		return true
	}
	if newName != old {
		return false
	}
	if oldDP == nil {
		return newDP.Usable()
	}
	known := map[string]bool{}
	for _, t := range oldDP.Targets() {
		known[t.NS.String()+"|"+t.Addr.String()] = true
	}
	for _, t := range newDP.Targets() {
		if !known[t.NS.String()+"|"+t.Addr.String()] {
			return true
		}
	}
	return false
}
