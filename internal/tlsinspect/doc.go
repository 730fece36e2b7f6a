// Package tlsinspect implements a read-only TLS record and ClientHello
// parser (§6) used to recover the SNI hostname and detect the early-data
// extension without terminating or consuming a TLS handshake. It never
// validates, completes, or forwards a handshake itself.
package tlsinspect
