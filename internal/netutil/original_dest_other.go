//go:build !linux

package netutil

import "net"

// OriginalDestination is unsupported outside Linux; callers must require
// allow_direct when this platform is in use.
func OriginalDestination(conn *net.TCPConn) (net.IP, uint16, error) {
	return nil, 0, ErrUnsupported
}
