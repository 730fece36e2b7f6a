package core

import (
	"math/rand"
	"sort"
	"sync"
)

// ServerList is an ordered, best-first sequence of shared Upstream
// handles, protected by a short mutex used only for snapshot-clone and
// atomic swap (§5). Readers get a consistent point-in-time slice; a
// Resort or Replace mid-dispatch never mutates a slice a reader already
// holds.
type ServerList struct {
	mu      sync.Mutex
	servers []*Upstream
}

// NewServerList builds a ServerList from an initial, unordered slice.
func NewServerList(servers []*Upstream) *ServerList {
	return &ServerList{servers: append([]*Upstream(nil), servers...)}
}

// Servers returns a consistent snapshot clone of the current order.
func (l *ServerList) Servers() []*Upstream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Upstream(nil), l.servers...)
}

// Replace atomically swaps in a new upstream slice, e.g. after a config
// reload (§4.7).
func (l *ServerList) Replace(servers []*Upstream) {
	next := append([]*Upstream(nil), servers...)
	l.mu.Lock()
	l.servers = next
	l.mu.Unlock()
}

// Resort takes the short-lived lock and sorts by
// effective_key(server) = score.unwrap_or(I32_MAX) - uniform(0,30), per
// §4.4. The jitter breaks near-ties deterministically within this one
// sort but varies across calls, spreading load among closely scored
// upstreams; it is a load-spreading mechanism, not a ranking mechanism,
// and must never be exposed outside this package.
func (l *ServerList) Resort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]int64, len(l.servers))
	for i, s := range l.servers {
		jitter := int64(rand.Intn(30))
		keys[i] = int64(s.Status.EffectiveScore()) - jitter
	}
	sort.Sort(&byKey{servers: l.servers, keys: keys})
}

// byKey implements sort.Interface over parallel servers/keys slices so the
// jitter computed once per element stays stable through the sort.
type byKey struct {
	servers []*Upstream
	keys    []int64
}

func (b *byKey) Len() int { return len(b.servers) }
func (b *byKey) Less(i, j int) bool {
	return b.keys[i] < b.keys[j]
}
func (b *byKey) Swap(i, j int) {
	b.servers[i], b.servers[j] = b.servers[j], b.servers[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}
