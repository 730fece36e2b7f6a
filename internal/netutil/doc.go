// Package netutil recovers the pre-redirect destination of a transparently
// proxied TCP connection (§6). On Linux this reads the SO_ORIGINAL_DST /
// IP6T_SO_ORIGINAL_DST socket options via golang.org/x/sys/unix; other
// platforms report ErrUnsupported so the caller can refuse to start
// unless allow_direct is set.
package netutil
