// Package cache implements the message cache the iterator's environment
// consults for cached replies and for the best known delegation toward a
// name (component H of SPEC_FULL.md; the shared message/RRset cache is an
// external collaborator per spec.md §1, but a concrete LRU is specified
// here so the reference environment is runnable end to end).
//
// Adapted from the teacher's cache/cache.go: same LRU-over-map-plus-list
// shape, but keyed by question alone (qname, qtype, qclass) rather than
// (question, server address) — a recursive resolver's message cache is
// shared across every server ever queried for a name, unlike the
// teacher's per-zone-server response cache.
package cache

import (
	"container/list"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
)

type msgItem struct {
	msg     *dns.Msg
	addedAt time.Time
	ttl     time.Duration
	elem    *list.Element
}

type msgKey struct {
	name  string
	qtype uint16
	class uint16
}

// MsgCache is an LRU cache of wire replies keyed by question. Safe for
// concurrent use: spec.md §5 requires the cache to be atomic, since it is
// the only mutable shared state the iterator touches outside its own
// query-local state.
type MsgCache struct {
	maxSize int

	mu    sync.Mutex
	items map[msgKey]msgItem
	lru   *list.List // list of msgKey

	delegations *delegationIndex
}

// New returns an empty MsgCache retaining at most maxSize entries.
func New(maxSize int) *MsgCache {
	return &MsgCache{
		maxSize:     maxSize,
		items:       map[msgKey]msgItem{},
		lru:         list.New(),
		delegations: newDelegationIndex(),
	}
}

// Clear empties the cache.
func (c *MsgCache) Clear() {
	c.mu.Lock()
	c.items = map[msgKey]msgItem{}
	c.lru.Init()
	c.mu.Unlock()
	c.delegations.clear()
}

// Lookup returns a cached, still-fresh reply for (name, qtype, class), if
// any. The returned message is a private copy safe for the caller to
// mutate.
func (c *MsgCache) Lookup(name string, qtype, class uint16) (*dns.Msg, bool) {
	key := msgKey{name: name, qtype: qtype, class: class}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if it.addedAt.Add(it.ttl).Before(now) {
		c.lru.Remove(it.elem)
		delete(c.items, key)
		return nil, false
	}

	c.lru.MoveToBack(it.elem)
	return it.msg.Copy(), true
}

// Update stores resp as the cached reply for (name, qtype, class) with
// the given freshness window, and, if resp carries delegation
// information (NS records for a zone at or below name), refreshes the
// delegation index consulted by BestDelegation.
func (c *MsgCache) Update(name string, qtype, class uint16, resp *dns.Msg, ttl time.Duration) {
	if resp == nil {
		panic("cache: nil response")
	}
	key := msgKey{name: name, qtype: qtype, class: class}

	c.mu.Lock()
	it := c.items[key]
	it.msg = resp.Copy()
	it.addedAt = time.Now()
	it.ttl = ttl
	if it.elem == nil {
		it.elem = c.lru.PushBack(key)
	} else {
		c.lru.MoveToBack(it.elem)
	}
	c.items[key] = it
	c.prune()
	sz := len(c.items)
	lruLen := c.lru.Len()
	c.mu.Unlock()

	if lruLen != sz {
		panic(fmt.Sprintf("cache: map and list out of sync: len(map)=%d, len(list)=%d", sz, lruLen))
	}

	c.delegations.observe(class, resp)
}

// BestDelegation returns the closest enclosing zone cut known to the
// cache for (name, class), if any — the concrete backing for
// qstate.Environment.CacheLookupDelegation.
func (c *MsgCache) BestDelegation(name string, class uint16) (zone string, ns []string, targets []netip.AddrPort, found bool) {
	return c.delegations.BestDelegation(name, class)
}

func (c *MsgCache) prune() {
	for len(c.items) > c.maxSize {
		elem := c.lru.Front()
		key := elem.Value.(msgKey)
		delete(c.items, key)
		c.lru.Remove(elem)
	}
}
