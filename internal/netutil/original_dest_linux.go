//go:build linux

package netutil

import (
	"encoding/binary"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// OriginalDestination recovers the pre-redirect (IP, port) a transparently
// proxied TCP connection was originally addressed to, trying the IPv4
// SO_ORIGINAL_DST option first and falling back to the IPv6
// IP6T_SO_ORIGINAL_DST option.
func OriginalDestination(conn *net.TCPConn) (net.IP, uint16, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, 0, err
	}

	var ip net.IP
	var port uint16
	var sockErr error
	ctlErr := raw.Control(func(fd uintptr) {
		ip, port, sockErr = originalDestV4(int(fd))
		if sockErr == nil {
			return
		}
		ip, port, sockErr = originalDestV6(int(fd))
	})
	if ctlErr != nil {
		return nil, 0, ctlErr
	}
	return ip, port, sockErr
}

// originalDestV4 reads SO_ORIGINAL_DST via the IPv6Mreq getsockopt shim:
// Multiaddr is a 16-byte buffer, exactly large enough to hold the kernel's
// struct sockaddr_in (family:2, port:2, addr:4, zero:8).
func originalDestV4(fd int) (net.IP, uint16, error) {
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
	if err != nil {
		return nil, 0, err
	}
	buf := mreq.Multiaddr
	port := binary.BigEndian.Uint16(buf[2:4])
	ip := net.IPv4(buf[4], buf[5], buf[6], buf[7])
	return ip, port, nil
}

// originalDestV6 reads IP6T_SO_ORIGINAL_DST, a struct sockaddr_in6
// (family:2, port:2, flowinfo:4, addr:16, scope_id:4 = 28 bytes), via a
// raw getsockopt call since no typed x/sys/unix helper covers this shape.
func originalDestV6(fd int) (net.IP, uint16, error) {
	const sockaddrIn6Len = 28
	var buf [sockaddrIn6Len]byte
	size := uint32(len(buf))
	if err := getsockopt(fd, unix.IPPROTO_IPV6, unix.IP6T_SO_ORIGINAL_DST, &buf[0], &size); err != nil {
		return nil, 0, err
	}
	port := binary.BigEndian.Uint16(buf[2:4])
	ip := make(net.IP, 16)
	copy(ip, buf[8:24])
	return ip, port, nil
}

func getsockopt(fd, level, opt int, valuePtr *byte, valueLen *uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(opt),
		uintptr(unsafe.Pointer(valuePtr)), uintptr(unsafe.Pointer(valueLen)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
