package core

import (
	"sort"
	"strings"
)

// CapSet is a sorted, duplicate-free set of capability identifiers. Two
// CapSets are compared by set-intersection emptiness rather than equality;
// because both sides are sorted, the test binary-searches each token of
// the smaller set in the larger one instead of building an intermediate
// map.
type CapSet struct {
	caps []string
}

// NewCapSet builds a CapSet from an arbitrary, possibly unsorted and
// duplicated, list of capability tokens.
func NewCapSet(tokens ...string) CapSet {
	if len(tokens) == 0 {
		return CapSet{}
	}
	caps := append([]string(nil), tokens...)
	sort.Strings(caps)
	out := caps[:1]
	for _, c := range caps[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return CapSet{caps: out}
}

// IsEmpty reports whether the set has no capabilities.
func (c CapSet) IsEmpty() bool {
	return len(c.caps) == 0
}

// HasIntersection reports whether c and other share at least one
// capability token.
func (c CapSet) HasIntersection(other CapSet) bool {
	a, b := c.caps, other.caps
	if len(a) < len(b) {
		a, b = b, a
	}
	for len(a) > 0 && len(b) > 0 {
		n := sort.SearchStrings(a, b[0])
		if n < len(a) && a[n] == b[0] {
			return true
		}
		a = a[n:]
		b = b[1:]
	}
	return false
}

func (c CapSet) String() string {
	switch len(c.caps) {
	case 0:
		return "(EMPTY)"
	case 1:
		return c.caps[0]
	default:
		return "(" + strings.Join(c.caps, " OR ") + ")"
	}
}

// RuleSet is a set of CapSets collected from every policy rule that
// applies to a connection (§3: "a connection satisfies a rule set iff for
// every applicable rule the chosen upstream's capability set intersects
// the rule's required CapSet"). An empty RuleSet is satisfied by any
// CapSet.
type RuleSet struct {
	required []CapSet
}

// Add appends a required CapSet to the rule set.
func (r *RuleSet) Add(req CapSet) {
	r.required = append(r.required, req)
}

// SatisfiedBy reports whether every required CapSet in r intersects caps.
func (r RuleSet) SatisfiedBy(caps CapSet) bool {
	for _, req := range r.required {
		if !req.HasIntersection(caps) {
			return false
		}
	}
	return true
}
