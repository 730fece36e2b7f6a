// Package dispatch implements the per-connection state machine described
// in §4.5: recover the original destination, optionally peek a TLS
// ClientHello to extract SNI and decide whether early data may safely be
// duplicated across a parallel race, filter the candidate upstream list
// by listen port, capability, and early-data support, hedge-race the
// survivors, and splice the winner with the client. When every candidate
// fails, it falls back to a direct connection if configured to allow one.
package dispatch
