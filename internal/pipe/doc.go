// Package pipe implements the bidirectional byte-pipe described in §4.6:
// two buffered halves, correct half-close-on-EOF semantics in each
// direction, and per-upstream traffic accounting through the convention
// fixed by §9 open question (b): tx is bytes moved from the client toward
// the upstream, rx is bytes moved from the upstream back to the client.
package pipe
