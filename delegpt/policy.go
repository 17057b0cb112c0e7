package delegpt

import (
	"math/rand"
	"net/netip"
	"time"
)

// Policy selects the next unqueried, non-failed target from a DP, or
// returns ok=false if none remain. It returns the target along with its
// index so the caller can feed MarkQueried/MarkFailed/UpdateRTT back.
//
// Modeled on the teacher's functional-policy idiom (TimeoutPolicy,
// CachePolicy in policy.go): a plain function type with documented
// constructors, rather than an interface, so policies compose and mock
// trivially in tests.
type Policy func(dp *DP) (idx int, t Target, ok bool)

func candidates(dp *DP) []int {
	var idx []int
	for i, t := range dp.targets {
		if !t.tried && !t.failed {
			idx = append(idx, i)
		}
	}
	return idx
}

// RoundRobin returns a Policy that rotates through unqueried targets in
// insertion order, advancing dp's internal counter so repeated calls
// across QUERY_TARGETS activations for the same DP continue the rotation
// rather than restarting it.
func RoundRobin() Policy {
	return func(dp *DP) (int, Target, bool) {
		cand := candidates(dp)
		if len(cand) == 0 {
			return -1, Target{}, false
		}
		i := cand[dp.rrCounter%len(cand)]
		dp.rrCounter++
		return i, dp.targets[i], true
	}
}

// RTTOrdered returns a Policy that prefers the lowest measured RTT among
// unqueried targets; targets with no RTT sample yet (rttMicros == 0) are
// treated as unknown and preferred over every measured target, so a DP is
// explored breadth-first before being ranked.
func RTTOrdered() Policy {
	return func(dp *DP) (int, Target, bool) {
		cand := candidates(dp)
		if len(cand) == 0 {
			return -1, Target{}, false
		}
		best := cand[0]
		for _, i := range cand[1:] {
			if better(dp.targets[i], dp.targets[best]) {
				best = i
			}
		}
		return best, dp.targets[best], true
	}
}

func better(a, b Target) bool {
	switch {
	case a.rttMicros == 0 && b.rttMicros == 0:
		return false
	case a.rttMicros == 0:
		return true
	case b.rttMicros == 0:
		return false
	default:
		return a.rttMicros < b.rttMicros
	}
}

// Randomized returns a Policy that picks uniformly among unqueried
// targets using a fixed seed, so repeated runs of the same query against
// the same DP produce the same permutation — required by spec.md §8's
// idempotence property ("select_target with a fixed seed produces a
// deterministic permutation that covers every target before repetition").
func Randomized(seed int64) Policy {
	rng := rand.New(rand.NewSource(seed))
	return func(dp *DP) (int, Target, bool) {
		cand := candidates(dp)
		if len(cand) == 0 {
			return -1, Target{}, false
		}
		i := cand[rng.Intn(len(cand))]
		return i, dp.targets[i], true
	}
}

// TimeoutPolicy determines the round-trip timeout for a query to a
// single target address. Modeled directly on the teacher's
// TimeoutPolicy in policy.go.
type TimeoutPolicy func(addr netip.AddrPort) time.Duration

// DefaultTimeoutPolicy mirrors the teacher's defaultTimeoutPolicy: fast
// timeouts for addresses in PrivateNets, 3s (spec.md's
// PER_TARGET_TIMEOUT_MS default) otherwise.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return func(addr netip.AddrPort) time.Duration {
		ip := addr.Addr()
		for _, n := range PrivateNets {
			if n.Contains(ip) {
				return 100 * time.Millisecond
			}
		}
		return 3 * time.Second
	}
}

// PrivateNets is used by DefaultTimeoutPolicy to return a low timeout for
// destination addresses in one of these subnets, carried over verbatim
// from the teacher's policy.go.
var PrivateNets = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("233.252.0.0/24"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fd00::/8"),
	netip.MustParsePrefix("fe80::/10"),
}
