// Package hints implements the class-partitioned, label-ordered store of
// delegation points used to prime and short-circuit iterative resolution:
// root hints and operator-configured stub zones.
//
// Grounded on original_source/iterator/iter_hints.c: stub_cmp,
// hints_create, hints_insert, init_parents, hints_apply_cfg,
// hints_lookup_root, hints_lookup_stub. unbound keeps an rbtree ordered by
// (class, name); this package keeps a sorted slice and binary-searches it,
// which is the idiomatic Go substitute for a small, rarely-mutated ordered
// map (see DESIGN.md for why no third-party ordered-map/tree library from
// the example corpus was a better fit than sort.Search).
package hints

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/quadrant-dns/resolvercore/dname"
	"github.com/quadrant-dns/resolvercore/delegpt"
	"github.com/sirupsen/logrus"
)

// ErrMissingName is returned when a configured stub has no name.
var ErrMissingName = errors.New("hints: stub zone without a name")

// ErrMalformedAddr is returned when a configured stub address cannot be
// parsed.
var ErrMalformedAddr = errors.New("hints: malformed address")

// Class is the DNS class a hint is keyed under (normally IN).
type Class uint16

// ClassIN is the Internet class, the only class stub/root hints are
// configured for in practice.
const ClassIN Class = 1

// stub is a node in the hints store: a class/name key, an owned
// delegation point, and a back-reference to its closest enclosing
// ancestor of the same class.
type stub struct {
	class    Class
	name     dname.Name
	namelabs int
	dp       *delegpt.DP
	parent   *stub
}

// Store is a class-partitioned ordered collection of hint stubs,
// effectively immutable after ApplyConfig and safe for concurrent
// lookups without locking (spec.md §5).
type Store struct {
	// nodes is sorted by (class, name-label-order): primary by class
	// ascending, secondary by canonical DNS label order on name, matching
	// stub_cmp. This ordering places a parent zone immediately before its
	// descendants' run.
	nodes []*stub
}

// Create returns an empty Store.
func Create() *Store {
	return &Store{}
}

// StubEntry is one operator-configured stub zone, the Go shape of
// original_source's struct config_stub.
type StubEntry struct {
	Name  string
	Hosts []string
	Addrs []string
}

// Config is the configuration snapshot ApplyConfig builds a Store from.
type Config struct {
	Stubs []StubEntry

	// RootHintsFile, if non-empty, names a root-hints zonefile to load
	// instead of the compiled-in table. This is a placeholder hook per
	// spec.md §9's first Open Question: parsing is not implemented, and
	// ApplyConfig never calls it — the field exists so a future patch can
	// wire it in without an API break, exactly mirroring original_source's
	// "TODO: read root hints from file named in cfg".
	RootHintsFile string
}

// ErrRootHintsFileUnsupported is returned by ParseRootHintsZonefile; the
// hook is inert by design (see Config.RootHintsFile).
var ErrRootHintsFileUnsupported = errors.New("hints: root hints file parsing is not implemented")

// ParseRootHintsZonefile is an inert placeholder. It is never called by
// ApplyConfig; it exists so the root-hints-file Open Question (spec.md §9)
// has a named hook to fill in later instead of a silent gap.
func ParseRootHintsZonefile(path string) (*delegpt.DP, error) {
	return nil, fmt.Errorf("%w: %s", ErrRootHintsFileUnsupported, path)
}

func stubLess(a, b *stub) bool {
	if a.class != b.class {
		return a.class < b.class
	}
	ord, _ := dname.Cmp(a.name, b.name)
	return ord < 0
}

// ApplyConfig builds the store from a config snapshot. In order:
//  1. read all configured stub zones and insert each keyed by zone name
//     and class IN;
//  2. if no root-class stub was supplied, insert the compiled-in root
//     hints as the class-IN DP for the root;
//  3. recompute parent pointers.
//
// Fails fatally for a malformed stub name/address or a missing stub name.
// A duplicate (class, name) key is logged and ignored without aborting
// the overall load (spec.md §9 second Open Question; preserved as-is).
func (s *Store) ApplyConfig(cfg Config) error {
	s.nodes = nil

	var errs *multierror.Error
	for _, se := range cfg.Stubs {
		dp, err := buildStubDP(se)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("stub %q: %w", se.Name, err))
			continue
		}
		s.insert(ClassIN, dp)
	}
	if errs.ErrorOrNil() != nil {
		return errs
	}

	if s.lookupRootLocked(ClassIN) == nil {
		dp, err := compileTimeRootHints()
		if err != nil {
			return err
		}
		logrus.Debug("hints: no configured root, using compiled-in root hints")
		s.insert(ClassIN, dp)
	}

	s.initParents()
	return nil
}

func buildStubDP(se StubEntry) (*delegpt.DP, error) {
	if se.Name == "" {
		return nil, ErrMissingName
	}
	name, err := dname.New(se.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, se.Name)
	}

	dp := delegpt.New()
	if err := dp.SetName(name); err != nil {
		return nil, err
	}

	for _, h := range se.Hosts {
		ns, err := dname.New(h)
		if err != nil {
			return nil, fmt.Errorf("nameserver %q: %w", h, err)
		}
		dp.AddNS(ns)
	}

	for _, a := range se.Addrs {
		addr, err := parseHostPort(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedAddr, a)
		}
		dp.AddAddr(addr)
	}

	return dp, nil
}

// insert adds dp to the store under (class, dp.Name()). A duplicate key
// is logged and the existing entry is kept, matching
// original_source/iterator/iter_hints.c's hints_insert, which logs
// "second hints ignored." on an rbtree_insert collision.
func (s *Store) insert(class Class, dp *delegpt.DP) {
	labs := dname.LabelCount(dp.Name())
	n := &stub{class: class, name: dp.Name(), namelabs: labs, dp: dp}

	i := sort.Search(len(s.nodes), func(i int) bool { return !stubLess(s.nodes[i], n) })
	if i < len(s.nodes) && s.nodes[i].class == n.class && s.nodes[i].name == n.name {
		logrus.WithFields(logrus.Fields{"class": class, "name": string(dp.Name())}).
			Warn("hints: duplicate stub ignored")
		return
	}
	s.nodes = append(s.nodes, nil)
	copy(s.nodes[i+1:], s.nodes[i:])
	s.nodes[i] = n
}

// initParents walks the ordered tree in one pass, assigning each node's
// parent to the closest enclosing ancestor among earlier nodes, mirroring
// original_source's init_parents exactly.
func (s *Store) initParents() {
	var prev *stub
	for _, n := range s.nodes {
		n.parent = nil
		if prev == nil || prev.class != n.class {
			prev = n
			continue
		}
		_, m := dname.Cmp(prev.name, n.name)
		for p := prev; p != nil; p = p.parent {
			if p.namelabs <= m {
				n.parent = p
				break
			}
		}
		prev = n
	}
}

// LookupRoot performs an exact-match lookup for the root name in class.
func (s *Store) LookupRoot(class Class) *delegpt.DP {
	if n := s.lookupRootLocked(class); n != nil {
		return n.dp
	}
	return nil
}

func (s *Store) lookupRootLocked(class Class) *stub {
	key := &stub{class: class, name: dname.Root, namelabs: 1}
	i := sort.Search(len(s.nodes), func(i int) bool { return !stubLess(s.nodes[i], key) })
	if i < len(s.nodes) && s.nodes[i].class == class && s.nodes[i].name == dname.Root {
		return s.nodes[i]
	}
	return nil
}

// LookupStub returns the hint DP for the closest enclosing hint zone of
// qname in class, iff that hint zone is strictly more specific than the
// delegation already known from cacheDP. Otherwise returns nil, meaning
// "the cached delegation already suffices".
//
// Mirrors original_source's hints_lookup_stub: find-less-or-equal by
// (class, qname), walk parent links up to the first node whose namelabs
// doesn't exceed the matched label count, then check that candidate is a
// strict subdomain of cacheDP.
func (s *Store) LookupStub(qname dname.Name, class Class, cacheDP *delegpt.DP) *delegpt.DP {
	key := &stub{class: class, name: qname, namelabs: dname.LabelCount(qname)}

	i := sort.Search(len(s.nodes), func(i int) bool { return !stubLess(s.nodes[i], key) })

	var result *stub
	if i < len(s.nodes) && s.nodes[i].class == class && s.nodes[i].name == qname {
		result = s.nodes[i]
	} else {
		// predecessor is the node just before i
		j := i - 1
		if j < 0 || s.nodes[j].class != class {
			return nil
		}
		pred := s.nodes[j]
		_, m := dname.Cmp(pred.name, qname)
		for p := pred; p != nil; p = p.parent {
			if p.namelabs <= m {
				result = p
				break
			}
		}
		if result == nil {
			return nil
		}
	}

	if cacheDP == nil {
		return result.dp
	}
	if dname.StrictSubdomain(result.dp.Name(), cacheDP.Name()) {
		return result.dp
	}
	return nil
}
