package cache

import (
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// delegationEntry is the best known delegation cached for one zone name.
type delegationEntry struct {
	ns        []string
	targets   []netip.AddrPort
	expiresAt time.Time
}

// delegationIndex tracks, per class, the most specific zone cut observed
// in any cached reply's authority (or answer, for referral-shaped
// responses) section. BestDelegation walks qname's ancestors from most to
// least specific and returns the first hit, giving callers the closest
// enclosing delegation known to the cache — the same notion
// hints.Store.LookupStub compares a hint against.
type delegationIndex struct {
	mu      sync.Mutex
	byClass map[uint16]map[string]delegationEntry
}

func newDelegationIndex() *delegationIndex {
	return &delegationIndex{byClass: map[uint16]map[string]delegationEntry{}}
}

func (d *delegationIndex) clear() {
	d.mu.Lock()
	d.byClass = map[uint16]map[string]delegationEntry{}
	d.mu.Unlock()
}

// observe extracts NS records (and any matching glue in Extra) from resp
// and records them as the best known delegation for their owner zone,
// mirroring the teacher's nsResponseSet.Addrs()/tryMapIPs glue-matching
// logic in ns.go, adapted from "list of address strings for one NS set"
// to "delegation entry keyed by zone name".
func (d *delegationIndex) observe(class uint16, resp *dns.Msg) {
	if resp == nil {
		return
	}

	grouped := map[string][]string{}
	var minTTL map[string]uint32

	for _, rr := range append(append([]dns.RR{}, resp.Answer...), resp.Ns...) {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		zone := strings.ToLower(ns.Hdr.Name)
		grouped[zone] = append(grouped[zone], strings.ToLower(ns.Ns))
		if minTTL == nil {
			minTTL = map[string]uint32{}
		}
		if cur, ok := minTTL[zone]; !ok || ns.Hdr.Ttl < cur {
			minTTL[zone] = ns.Hdr.Ttl
		}
	}
	if len(grouped) == 0 {
		return
	}

	glue := map[string][]netip.AddrPort{}
	for _, rr := range resp.Extra {
		name := strings.ToLower(rr.Header().Name)
		switch rr := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
				glue[name] = append(glue[name], netip.AddrPortFrom(addr, 53))
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
				glue[name] = append(glue[name], netip.AddrPortFrom(addr, 53))
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.byClass[class]
	if !ok {
		m = map[string]delegationEntry{}
		d.byClass[class] = m
	}

	for zone, nsNames := range grouped {
		var targets []netip.AddrPort
		for _, ns := range nsNames {
			targets = append(targets, glue[ns]...)
		}
		m[zone] = delegationEntry{
			ns:        nsNames,
			targets:   targets,
			expiresAt: time.Now().Add(time.Duration(minTTL[zone]) * time.Second),
		}
	}
}

// BestDelegation walks qname's ancestors from most to least specific,
// returning the first cached delegation still fresh, or found=false if
// the cache holds nothing useful for qname at all.
func (d *delegationIndex) BestDelegation(qname string, class uint16) (name string, ns []string, targets []netip.AddrPort, found bool) {
	labels := dns.SplitDomainName(qname)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.byClass[class]
	if m == nil {
		return "", nil, nil, false
	}

	for i := 0; i <= len(labels); i++ {
		candidate := dns.Fqdn(strings.Join(labels[i:], "."))
		e, ok := m[candidate]
		if !ok {
			continue
		}
		if e.expiresAt.Before(now) {
			delete(m, candidate)
			continue
		}
		return candidate, append([]string(nil), e.ns...), append([]netip.AddrPort(nil), e.targets...), true
	}
	return "", nil, nil, false
}
