package hints

import (
	"fmt"
	"net/netip"

	"github.com/quadrant-dns/resolvercore/dname"
	"github.com/quadrant-dns/resolvercore/delegpt"
)

// defaultDNSPort is the port assumed for every compiled-in root server and
// for any configured address that omits one (spec.md §6: "All entries use
// port 53 unless overridden by configuration").
const defaultDNSPort = 53

// rootHintEntry is one (NS name, IPv4 literal) pair from the compiled-in
// root hints table.
type rootHintEntry struct {
	ns string
	ip string
}

// compiledRootHints is the 13-entry root server table, bit-exact with
// spec.md §6 and original_source's compile_time_root_prime. This table is
// a contract: a unit test cross-checks it entry by entry.
var compiledRootHints = []rootHintEntry{
	{"A.ROOT-SERVERS.NET.", "198.41.0.4"},
	{"B.ROOT-SERVERS.NET.", "192.228.79.201"},
	{"C.ROOT-SERVERS.NET.", "192.33.4.12"},
	{"D.ROOT-SERVERS.NET.", "128.8.10.90"},
	{"E.ROOT-SERVERS.NET.", "192.203.230.10"},
	{"F.ROOT-SERVERS.NET.", "192.5.5.241"},
	{"G.ROOT-SERVERS.NET.", "192.112.36.4"},
	{"H.ROOT-SERVERS.NET.", "128.63.2.53"},
	{"I.ROOT-SERVERS.NET.", "192.36.148.17"},
	{"J.ROOT-SERVERS.NET.", "192.58.128.30"},
	{"K.ROOT-SERVERS.NET.", "193.0.14.129"},
	{"L.ROOT-SERVERS.NET.", "198.32.64.12"},
	{"M.ROOT-SERVERS.NET.", "202.12.27.33"},
}

// compileTimeRootHints builds the compiled-in root DP, mirroring
// original_source's compile_time_root_prime.
func compileTimeRootHints() (*delegpt.DP, error) {
	dp := delegpt.New()
	if err := dp.SetName(dname.Root); err != nil {
		return nil, err
	}
	for _, e := range compiledRootHints {
		ns, err := dname.New(e.ns)
		if err != nil {
			return nil, fmt.Errorf("compiled root hints: %w", err)
		}
		addr, err := netip.ParseAddr(e.ip)
		if err != nil {
			return nil, fmt.Errorf("compiled root hints: %w", err)
		}
		dp.AddTarget(ns, netip.AddrPortFrom(addr, defaultDNSPort))
	}
	return dp, nil
}

// parseHostPort parses an address that may or may not carry an explicit
// port, defaulting to defaultDNSPort, matching the teacher's
// normalizeAddrs behavior in resolver.go.
func parseHostPort(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, defaultDNSPort), nil
}
