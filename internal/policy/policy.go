package policy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sorz/moproxy-go/internal/core"
)

// Override names a direct/reject decision that bypasses upstream
// selection entirely.
type Override int

const (
	OverrideNone Override = iota
	OverrideDirect
	OverrideReject
)

// Decision is the result of matching a connection's attributes against
// every applicable rule.
type Decision struct {
	Override     Override
	Requirements core.RuleSet
}

// Policy holds every parsed rule, indexed by filter kind for O(1)/O(labels)
// lookup. Rule sizes in the hundreds make a linear CIDR scan and a
// suffix-walk domain lookup trivial (§9).
type Policy struct {
	listenPort map[uint16][]Rule
	dstDomain  map[string][]Rule
	dstIPNets  []Rule
	defaults   []Rule
}

// Load parses every line read from r, ignoring blank lines and
// "#"-prefixed comments (after any trailing content on the line).
func Load(r io.Reader) (*Policy, error) {
	p := &Policy{
		listenPort: make(map[uint16][]Rule),
		dstDomain:  make(map[string][]Rule),
	}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rule, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if rule != nil {
			p.addRule(*rule)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := Load(f)
	if err != nil {
		return nil, err
	}
	log.Info().Int("rules", p.RuleCount()).Str("path", path).Msg("policy loaded")
	return p, nil
}

func (p *Policy) addRule(rule Rule) {
	switch rule.Filter.Kind {
	case FilterListenPort:
		port := rule.Filter.ListenPort
		p.listenPort[port] = append(p.listenPort[port], rule)
	case FilterDstDomain:
		p.dstDomain[rule.Filter.DstDomain] = append(p.dstDomain[rule.Filter.DstDomain], rule)
	case FilterDstIP:
		p.dstIPNets = append(p.dstIPNets, rule)
	case FilterDefault:
		p.defaults = append(p.defaults, rule)
	}
}

// RuleCount returns the total number of parsed rule lines.
func (p *Policy) RuleCount() int {
	n := len(p.defaults) + len(p.dstIPNets)
	for _, rs := range p.listenPort {
		n += len(rs)
	}
	for _, rs := range p.dstDomain {
		n += len(rs)
	}
	return n
}

// Match evaluates every applicable rule for the given connection
// attributes and folds them into a single Decision. Any matching nil
// pointer/IP is simply skipped; "default" rules always apply.
func (p *Policy) Match(listenPort *uint16, dstDomain *string, dstIP net.IP) Decision {
	var applicable []Rule
	if listenPort != nil {
		applicable = append(applicable, p.listenPort[*listenPort]...)
	}
	if dstDomain != nil {
		applicable = append(applicable, p.matchDomain(*dstDomain)...)
	}
	if dstIP != nil {
		for _, rule := range p.dstIPNets {
			if rule.Filter.DstNet.Contains(dstIP) {
				applicable = append(applicable, rule)
			}
		}
	}
	applicable = append(applicable, p.defaults...)

	return foldDecision(applicable)
}

// matchDomain performs the single-pass suffix walk of §9: for "a.b.c" it
// looks up "a.b.c", "b.c", "c", then the root ".".
func (p *Policy) matchDomain(name string) []Rule {
	name = strings.ToLower(name)
	var rules []Rule
	for {
		if rs, ok := p.dstDomain[name]; ok {
			rules = append(rules, rs...)
		}
		idx := strings.IndexByte(name, '.')
		if idx < 0 {
			break
		}
		name = name[idx+1:]
	}
	if rs, ok := p.dstDomain["."]; ok {
		rules = append(rules, rs...)
	}
	return rules
}

// foldDecision combines every applicable rule into one Decision: Require
// actions always accumulate into Requirements; Direct/Reject actions
// compete for the highest "!"-priority, an equal-priority conflict
// between the two resolving as Reject (§4.2).
func foldDecision(rules []Rule) Decision {
	var reqs core.RuleSet
	bestPriority := -1
	bestKind := OverrideNone
	conflict := false

	for _, rule := range rules {
		switch rule.Action.Kind {
		case ActionRequire:
			reqs.Add(rule.Action.Caps)
		case ActionDirect, ActionReject:
			kind := OverrideDirect
			if rule.Action.Kind == ActionReject {
				kind = OverrideReject
			}
			p := int(rule.Action.Priority)
			switch {
			case p > bestPriority:
				bestPriority = p
				bestKind = kind
				conflict = false
			case p == bestPriority && kind != bestKind:
				conflict = true
			}
		}
	}

	if bestKind != OverrideNone {
		if conflict {
			bestKind = OverrideReject
		}
		return Decision{Override: bestKind}
	}
	return Decision{Override: OverrideNone, Requirements: reqs}
}

// Holder publishes a *Policy for lock-free concurrent reads while a reload
// swaps in a new one (§4.7): a reader's Current always sees either the
// whole old Policy or the whole new one, never a struct mutated field by
// field underneath an in-flight Match.
type Holder struct {
	ptr atomic.Pointer[Policy]
}

// NewHolder wraps an initial Policy for concurrent use.
func NewHolder(p *Policy) *Holder {
	h := &Holder{}
	h.ptr.Store(p)
	return h
}

// Current returns the Policy currently in effect.
func (h *Holder) Current() *Policy {
	return h.ptr.Load()
}

// Store atomically publishes p as the new current Policy.
func (h *Holder) Store(p *Policy) {
	h.ptr.Store(p)
}
