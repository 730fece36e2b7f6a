package core

import (
	"time"
)

// UserPassAuth holds username/password credentials, shared by the SOCKS5
// "user/pass" sub-negotiation (RFC 1929) and HTTP Basic auth variants.
type UserPassAuth struct {
	Username string
	Password string
}

// ProtoKind names the wire protocol a Proto value carries.
type ProtoKind int

const (
	ProtoSocks5 ProtoKind = iota
	ProtoHTTP
)

// Proto describes which upstream wire protocol to speak and its variant
// flags (§3 Data Model: "Socks5{fake-handshake?} | Socks5WithAuth{user,pass}
// | Http{allow-connect-payload?, optional creds}").
type Proto struct {
	Kind ProtoKind

	// SocksFakeHandshake, when true, skips reading the SOCKS5 auth
	// negotiation reply and assumes the upstream accepts no-auth.
	SocksFakeHandshake bool
	// SocksAuth, when non-nil, performs RFC 1929 username/password
	// sub-negotiation instead of offering only "no auth".
	SocksAuth *UserPassAuth

	// HTTPAllowConnectPayload permits piggybacking early data onto the
	// same write as the CONNECT request.
	HTTPAllowConnectPayload bool
	// HTTPAuth, when non-nil, adds a Proxy-Authorization: Basic header.
	HTTPAuth *UserPassAuth
}

func (p Proto) String() string {
	switch p.Kind {
	case ProtoSocks5:
		return "SOCKSv5"
	case ProtoHTTP:
		return "HTTP"
	default:
		return "unknown"
	}
}

// SupportsEarlyData reports whether this protocol variant may piggyback
// pending client data onto the handshake write. The dispatcher consults it
// only when peeked client data is pending and did not parse as a TLS
// ClientHello (the non-parallel path), to drop upstreams that cannot carry
// that data.
func (p Proto) SupportsEarlyData() bool {
	switch p.Kind {
	case ProtoSocks5:
		return true
	case ProtoHTTP:
		return p.HTTPAllowConnectPayload
	default:
		return false
	}
}

// Identity is the reload-stable identity of an upstream (§4.3: "Identity
// for reload purposes is (protocol variant, socket-address, credentials);
// tag alone is advisory.").
type Identity struct {
	Addr      string
	Kind      ProtoKind
	SocksAuth UserPassAuth
	HTTPAuth  UserPassAuth
}

// Upstream is a stable, mostly-immutable handle to one configured proxy.
// Everything except the embedded *Status is set once at construction and
// shared read-only; Status carries the atomic, frequently-updated fields.
type Upstream struct {
	Tag     string
	Addr    string // "host:port" of the proxy itself
	Proto   Proto
	TestDNS string // "host:port" target used by the health monitor's alive test
	MaxWait time.Duration

	// AllowedListenPorts, when non-nil, restricts this upstream to
	// connections accepted on one of these local listen ports.
	AllowedListenPorts map[uint16]struct{}
	// RequiredCaps is the capability set this upstream advertises; a
	// policy rule's required CapSet must intersect it for this upstream
	// to be eligible for a given connection.
	RequiredCaps CapSet
	ScoreBase    int32

	Status *Status
}

// NewUpstream constructs an Upstream with a fresh, zeroed Status.
func NewUpstream(tag, addr string, proto Proto, testDNS string, maxWait time.Duration,
	allowedListenPorts map[uint16]struct{}, requiredCaps CapSet, scoreBase int32) *Upstream {
	if tag == "" {
		tag = addr
	}
	return &Upstream{
		Tag:                tag,
		Addr:               addr,
		Proto:              proto,
		TestDNS:            testDNS,
		MaxWait:            maxWait,
		AllowedListenPorts: allowedListenPorts,
		RequiredCaps:       requiredCaps,
		ScoreBase:          scoreBase,
		Status:             NewStatus(),
	}
}

// Identity returns the reload-stable identity for this upstream.
func (u *Upstream) Identity() Identity {
	id := Identity{Addr: u.Addr, Kind: u.Proto.Kind}
	if u.Proto.SocksAuth != nil {
		id.SocksAuth = *u.Proto.SocksAuth
	}
	if u.Proto.HTTPAuth != nil {
		id.HTTPAuth = *u.Proto.HTTPAuth
	}
	return id
}

// AllowsListenPort reports whether this upstream may serve connections
// accepted on the given local listen port.
func (u *Upstream) AllowsListenPort(port uint16) bool {
	if u.AllowedListenPorts == nil {
		return true
	}
	_, ok := u.AllowedListenPorts[port]
	return ok
}

func (u *Upstream) String() string {
	return u.Tag + " (" + u.Proto.String() + " " + u.Addr + ")"
}
