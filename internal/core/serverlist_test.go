package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkUpstream(t *testing.T, tag string, delayMs int) *Upstream {
	t.Helper()
	u := NewUpstream(tag, tag+":1080", Proto{Kind: ProtoSocks5}, "", time.Second, nil, CapSet{}, 0)
	d := time.Duration(delayMs) * time.Millisecond
	u.Status.UpdateDelay(&d, 0)
	return u
}

func TestServerListResortIsTotalOrder(t *testing.T) {
	a := mkUpstream(t, "a", 10)
	b := mkUpstream(t, "b", 500)
	c := mkUpstream(t, "c", 20)
	list := NewServerList([]*Upstream{b, a, c})

	list.Resort()
	servers := list.Servers()
	assert.Len(t, servers, 3)

	seen := map[*Upstream]bool{}
	for _, s := range servers {
		seen[s] = true
	}
	assert.True(t, seen[a] && seen[b] && seen[c])

	// with jitter bounded at 30ms, c (20ms) should never sort after b (500ms)
	var idxB, idxC int
	for i, s := range servers {
		if s == b {
			idxB = i
		}
		if s == c {
			idxC = i
		}
	}
	assert.Less(t, idxC, idxB)
}

func TestServerListReplacePreservesIdentity(t *testing.T) {
	a := mkUpstream(t, "a", 10)
	list := NewServerList([]*Upstream{a})
	list.Replace([]*Upstream{a})
	assert.Same(t, a, list.Servers()[0])
}
