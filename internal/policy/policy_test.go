package policy

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorz/moproxy-go/internal/core"
)

func mustLoad(t *testing.T, text string) *Policy {
	t.Helper()
	p, err := Load(strings.NewReader(text))
	require.NoError(t, err)
	return p
}

func TestPolicyListenPortRequire(t *testing.T) {
	p := mustLoad(t, `
		listen port 1 require a
		listen port 2 require b
		listen port 2 require c or d
	`)
	assert.Equal(t, 3, p.RuleCount())

	port1 := uint16(1)
	d := p.Match(&port1, nil, nil)
	assert.Equal(t, OverrideNone, d.Override)
	assert.True(t, d.Requirements.SatisfiedBy(core.NewCapSet("a", "b", "c")))
	assert.False(t, d.Requirements.SatisfiedBy(core.NewCapSet("b", "c")))

	port2 := uint16(2)
	d2 := p.Match(&port2, nil, nil)
	assert.True(t, d2.Requirements.SatisfiedBy(core.NewCapSet("b", "c")))
	assert.False(t, d2.Requirements.SatisfiedBy(core.NewCapSet("c")))
}

func TestPolicyDomainSuffixWalk(t *testing.T) {
	p := mustLoad(t, `
		dst domain . require root
		dst domain com require com
		dst domain example.com require example
	`)
	assert.Equal(t, 3, p.RuleCount())

	name := "test.example.com"
	d := p.Match(nil, &name, nil)
	assert.True(t, d.Requirements.SatisfiedBy(core.NewCapSet("root", "com", "example")))

	name2 := "net"
	d2 := p.Match(nil, &name2, nil)
	assert.True(t, d2.Requirements.SatisfiedBy(core.NewCapSet("root")))
	assert.False(t, d2.Requirements.SatisfiedBy(core.NewCapSet("com")))
}

func TestPolicyDstIPCIDR(t *testing.T) {
	p := mustLoad(t, `dst ip 10.0.0.0/8 require internal`)
	ip := net.ParseIP("10.1.2.3")
	d := p.Match(nil, nil, ip)
	assert.True(t, d.Requirements.SatisfiedBy(core.NewCapSet("internal")))

	outside := net.ParseIP("8.8.8.8")
	d2 := p.Match(nil, nil, outside)
	assert.True(t, d2.Requirements.SatisfiedBy(core.NewCapSet())) // no rule applies, empty ruleset satisfied
}

func TestPolicyDirectAndRejectPriority(t *testing.T) {
	p := mustLoad(t, `
		dst domain example.com direct
		dst domain example.com reject!
	`)
	name := "example.com"
	d := p.Match(nil, &name, nil)
	assert.Equal(t, OverrideReject, d.Override)
}

func TestPolicyEqualPriorityConflictResolvesReject(t *testing.T) {
	p := mustLoad(t, `
		dst domain example.com direct!!
		dst domain example.com reject!!
	`)
	name := "example.com"
	d := p.Match(nil, &name, nil)
	assert.Equal(t, OverrideReject, d.Override)
}

func TestPolicyDefaultAlwaysApplies(t *testing.T) {
	p := mustLoad(t, `default require fallback`)
	d := p.Match(nil, nil, nil)
	assert.True(t, d.Requirements.SatisfiedBy(core.NewCapSet("fallback")))
	assert.False(t, d.Requirements.SatisfiedBy(core.NewCapSet("other")))
}

func TestPolicyIgnoresBlankAndCommentLines(t *testing.T) {
	p := mustLoad(t, "\n  # a comment\ndefault require x # trailing comment\n")
	assert.Equal(t, 1, p.RuleCount())
}

func TestPolicyRejectsMalformedLine(t *testing.T) {
	_, err := Load(strings.NewReader("not a real rule"))
	require.Error(t, err)
}
