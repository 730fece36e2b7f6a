package core

import "testing"

import "github.com/stretchr/testify/assert"

func TestCapSetHasIntersection(t *testing.T) {
	abc := NewCapSet("a", "b", "c")
	def := NewCapSet("d", "e", "f")
	bcg := NewCapSet("b", "c", "g")
	aeg := NewCapSet("a", "e", "g")

	assert.False(t, abc.HasIntersection(def))
	assert.False(t, def.HasIntersection(abc))
	assert.False(t, def.HasIntersection(bcg))
	assert.False(t, bcg.HasIntersection(def))
	assert.True(t, def.HasIntersection(aeg))
	assert.True(t, aeg.HasIntersection(def))
	assert.True(t, abc.HasIntersection(aeg))
}

func TestCapSetDisplay(t *testing.T) {
	assert.Equal(t, "(EMPTY)", CapSet{}.String())
	assert.Equal(t, "a", NewCapSet("a").String())
	assert.Equal(t, "(a OR b)", NewCapSet("a", "b").String())
}

func TestCapSetDedupesAndSorts(t *testing.T) {
	c := NewCapSet("b", "a", "b", "a")
	assert.Equal(t, "(a OR b)", c.String())
}

func TestRuleSetEmptySatisfiedByAny(t *testing.T) {
	var rs RuleSet
	assert.True(t, rs.SatisfiedBy(NewCapSet()))
	assert.True(t, rs.SatisfiedBy(NewCapSet("x")))
}

func TestRuleSetRequiresIntersectionWithEach(t *testing.T) {
	var rs RuleSet
	rs.Add(NewCapSet("a", "b"))
	rs.Add(NewCapSet("c"))

	assert.True(t, rs.SatisfiedBy(NewCapSet("a", "c")))
	assert.False(t, rs.SatisfiedBy(NewCapSet("a")))
	assert.False(t, rs.SatisfiedBy(NewCapSet("c")))
}
