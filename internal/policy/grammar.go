package policy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sorz/moproxy-go/internal/core"
)

// FilterKind names which connection attribute a Filter matches against.
type FilterKind int

const (
	FilterDefault FilterKind = iota
	FilterListenPort
	FilterDstDomain
	FilterDstIP
)

// Filter is the left-hand side of one rule line.
type Filter struct {
	Kind       FilterKind
	ListenPort uint16
	DstDomain  string // already folded to lower case; "." means root
	DstNet     *net.IPNet
}

// ActionKind names the right-hand side verb of a rule line.
type ActionKind int

const (
	ActionRequire ActionKind = iota
	ActionDirect
	ActionReject
)

// Action is the right-hand side of one rule line.
type Action struct {
	Kind     ActionKind
	Priority uint8 // count of trailing "!", 0 to 5; more is a parse error
	Caps     core.CapSet
}

// Rule is one parsed, non-blank, non-comment line.
type Rule struct {
	Filter Filter
	Action Action
}

const maxPriority = 5

// parseLine parses one already-trimmed ruleset line, stripping any
// trailing "#" comment first. It returns (nil, nil) for a blank or
// comment-only line.
func parseLine(line string) (*Rule, error) {
	line = stripComment(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	filter, rest, err := parseFilter(line)
	if err != nil {
		return nil, err
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil, fmt.Errorf("policy: line %q: missing action", line)
	}
	action, err := parseAction(rest)
	if err != nil {
		return nil, err
	}
	return &Rule{Filter: filter, Action: action}, nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func parseFilter(line string) (Filter, string, error) {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "listen port"):
		rest := strings.TrimSpace(line[len("listen port"):])
		portStr, tail := splitToken(rest)
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return Filter{}, "", fmt.Errorf("policy: invalid listen port %q", portStr)
		}
		return Filter{Kind: FilterListenPort, ListenPort: uint16(port)}, tail, nil

	case strings.HasPrefix(lower, "dst domain"):
		rest := strings.TrimSpace(line[len("dst domain"):])
		domainStr, tail := splitToken(rest)
		domain, err := normalizeDomain(domainStr)
		if err != nil {
			return Filter{}, "", err
		}
		return Filter{Kind: FilterDstDomain, DstDomain: domain}, tail, nil

	case strings.HasPrefix(lower, "dst ip"):
		rest := strings.TrimSpace(line[len("dst ip"):])
		cidrStr, tail := splitToken(rest)
		ipNet, err := parseCIDR(cidrStr)
		if err != nil {
			return Filter{}, "", err
		}
		return Filter{Kind: FilterDstIP, DstNet: ipNet}, tail, nil

	case strings.HasPrefix(lower, "default"):
		return Filter{Kind: FilterDefault}, line[len("default"):], nil

	default:
		return Filter{}, "", fmt.Errorf("policy: unrecognized filter in %q", line)
	}
}

// splitToken returns the first whitespace-delimited token of s and
// whatever follows it.
func splitToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx:]
}

// normalizeDomain folds case and strips a single trailing dot, except
// for the bare root "." which is preserved as-is.
func normalizeDomain(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("policy: empty domain filter")
	}
	if s == "." {
		return ".", nil
	}
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, ".")
	for _, r := range s {
		if !isDomainChar(r) {
			return "", fmt.Errorf("policy: invalid domain %q", s)
		}
	}
	return s, nil
}

func isDomainChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	default:
		return false
	}
}

func parseCIDR(s string) (*net.IPNet, error) {
	if !strings.Contains(s, "/") {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("policy: invalid IP %q", s)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		s = fmt.Sprintf("%s/%d", s, bits)
	}
	_, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("policy: invalid CIDR %q: %w", s, err)
	}
	return ipNet, nil
}

func parseAction(s string) (Action, error) {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "require"):
		rest, priority, err := consumePriority(s, len("require"))
		if err != nil {
			return Action{}, err
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Action{}, fmt.Errorf("policy: %q: require needs at least one capability", s)
		}
		caps := parseCapList(rest)
		if len(caps) == 0 {
			return Action{}, fmt.Errorf("policy: %q: require needs at least one capability", s)
		}
		return Action{Kind: ActionRequire, Priority: priority, Caps: core.NewCapSet(caps...)}, nil

	case strings.HasPrefix(lower, "direct"):
		_, priority, err := consumePriority(s, len("direct"))
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionDirect, Priority: priority}, nil

	case strings.HasPrefix(lower, "reject"):
		_, priority, err := consumePriority(s, len("reject"))
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionReject, Priority: priority}, nil

	default:
		return Action{}, fmt.Errorf("policy: unrecognized action in %q", s)
	}
}

// consumePriority reads a run of "!" immediately following the verb at
// offset verbLen and returns the remainder of s plus the priority count;
// a count above maxPriority is an error.
func consumePriority(s string, verbLen int) (rest string, priority uint8, err error) {
	i := verbLen
	count := 0
	for i < len(s) && s[i] == '!' {
		count++
		i++
	}
	if count > maxPriority {
		return "", 0, fmt.Errorf("policy: %q: priority exceeds %d marks", s, maxPriority)
	}
	return s[i:], uint8(count), nil
}

// parseCapList splits "a or b or c" (case-insensitive "or", also
// accepting comma/space separated lists) into capability tokens.
func parseCapList(s string) []string {
	fields := strings.Fields(s)
	caps := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ",")
		if f == "" || strings.EqualFold(f, "or") {
			continue
		}
		caps = append(caps, f)
	}
	return caps
}
