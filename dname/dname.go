// Package dname implements wire-form domain name primitives: label
// counting and case-insensitive, right-to-left label comparison.
//
// Names are kept in their canonical wire-ready string form (as produced by
// github.com/miekg/dns's dns.CanonicalName: lower-cased, fully qualified,
// escaped). Comparison walks labels from the root end, matching the
// ordering rule used by unbound's dname_lab_cmp: the closer to the root,
// the higher priority the label has.
package dname

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

// ErrMalformedName is returned when a name cannot be parsed into wire form.
var ErrMalformedName = errors.New("dname: malformed name")

// Name is a canonical, fully-qualified wire-form domain name, e.g. "www.example.com."
type Name string

// Root is the root name: a single empty label (label count 1), one byte on
// the wire.
const Root Name = "."

// New canonicalizes s (adding the trailing dot if absent) and validates it
// by round-tripping it through the wire codec.
func New(s string) (Name, error) {
	if s == "" {
		return "", ErrMalformedName
	}
	fqdn := dns.CanonicalName(s)
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return "", ErrMalformedName
	}
	return Name(fqdn), nil
}

// MustNew is New but panics on error; for compiled-in constants only.
func MustNew(s string) Name {
	n, err := New(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Count returns the label count and wire byte length (including the root
// terminator) of n. Root has labels=1, length=1.
func Count(n Name) (labels int, length int) {
	buf := make([]byte, dns.MaxMsgSize)
	off, err := dns.PackDomainName(string(n), buf, 0, nil, false)
	if err != nil {
		// n was produced by New, which already validated it; a pack
		// failure here means the caller bypassed New with a raw cast.
		return len(dns.SplitDomainName(string(n))) + 1, len(string(n)) + 1
	}
	return len(dns.SplitDomainName(string(n))) + 1, off
}

// Ord is the result of comparing two names: negative, zero, or positive,
// matching strings.Compare's convention.
type Ord int

// Cmp compares a and b right-to-left, label by label, using DNS canonical
// (case-insensitive) order, and reports how many trailing labels match.
// The root always matches (matched >= 1). Comparison is total: equal names
// yield ord=0, matched=labels(a)=labels(b).
func Cmp(a, b Name) (ord Ord, matched int) {
	la := dns.SplitDomainName(string(a))
	lb := dns.SplitDomainName(string(b))

	i, j := len(la)-1, len(lb)-1
	for i >= 0 && j >= 0 {
		c := strings.Compare(strings.ToLower(la[i]), strings.ToLower(lb[j]))
		if c != 0 {
			if c < 0 {
				return Ord(-1), matched + 1
			}
			return Ord(1), matched + 1
		}
		matched++
		i--
		j--
	}
	// the root label itself always matches, including when both names are "."
	matched++

	switch {
	case len(la) == len(lb):
		return 0, matched
	case len(la) < len(lb):
		return Ord(-1), matched
	default:
		return Ord(1), matched
	}
}

// LabelCount returns the number of labels in n, root included.
func LabelCount(n Name) int {
	labs, _ := Count(n)
	return labs
}

// StrictSubdomain reports whether a is a strict subdomain of b: b's labels
// are a suffix of a's labels, a has strictly more labels than b, and they
// are not equal.
func StrictSubdomain(a, b Name) bool {
	ord, matched := Cmp(a, b)
	bLabels := LabelCount(b)
	aLabels := LabelCount(a)
	return ord != 0 && matched == bLabels && aLabels > bLabels
}

// Suffix reports whether b's labels are a suffix of a's labels (a equals b
// or a is a subdomain of b).
func Suffix(a, b Name) bool {
	_, matched := Cmp(a, b)
	return matched == LabelCount(b)
}

// String implements fmt.Stringer.
func (n Name) String() string { return string(n) }
