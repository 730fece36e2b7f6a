// Package probe implements the wire-level proxy client handshakes used
// both to splice client traffic through an upstream and to measure its
// liveness and latency.
//
// # SOCKS5 CONNECT
//
// DialSocks5 speaks RFC 1928 CONNECT, with an optional RFC 1929
// username/password sub-negotiation and an optional "fake handshake" mode
// that skips reading the negotiation reply entirely (the upstream is
// assumed to accept no-auth). Early data may be piggybacked onto the same
// write as the CONNECT request.
//
// # HTTP CONNECT
//
// DialHTTPConnect speaks a single CONNECT request line plus an optional
// Proxy-Authorization: Basic header, and reads the response one byte at a
// time so that nothing past the header section is consumed before the
// connection is handed back to the caller.
//
// # Alive test
//
// RunAliveTest drives a single upstream connection end to end (handshake
// to the upstream's configured test-DNS target, piggybacking a minimal
// DNS query as early data) and returns the measured round-trip delay, used
// by the health monitor (§4.4).
//
// Every exported entry point accepts a context.Context; callers are
// expected to bound that context with the upstream's configured max-wait
// so a handshake can never outlive it.
package probe
