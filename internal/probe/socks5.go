package probe

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/sorz/moproxy-go/internal/core"
)

// DialSocks5 performs the SOCKS5 CONNECT handshake described in §4.1 over
// an already-connected TCP stream to the upstream. When proto.SocksAuth is
// nil, the method negotiation and CONNECT request are written in a single
// syscall-friendly write (optionally followed by earlyData when
// withPayload is true); when proto.SocksFakeHandshake is set, no reply is
// read at all and the upstream is assumed to accept no-auth.
//
// When proto.SocksAuth is set, RFC 1929 username/password sub-negotiation
// is performed before the CONNECT request is sent as a second write (early
// data, if any, is appended there instead).
//
// ctx bounds the whole handshake; callers are expected to set it to the
// upstream's configured max-wait.
func DialSocks5(ctx context.Context, conn net.Conn, dest core.Destination, proto core.Proto, earlyData []byte, withPayload bool) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	connectReq, err := buildSocks5ConnectRequest(dest)
	if err != nil {
		return core.NewError(core.ErrProtocol, err)
	}

	if proto.SocksAuth != nil {
		if err := socks5AuthNegotiate(conn, proto.SocksAuth); err != nil {
			return err
		}
		if withPayload && len(earlyData) > 0 {
			connectReq = append(connectReq, earlyData...)
		}
		if _, err := conn.Write(connectReq); err != nil {
			return wrapWriteErr(err)
		}
	} else {
		req := make([]byte, 0, 3+len(connectReq)+len(earlyData))
		req = append(req, 0x05, 0x01, 0x00) // no-auth negotiation
		req = append(req, connectReq...)
		if withPayload && len(earlyData) > 0 {
			req = append(req, earlyData...)
		}
		if _, err := conn.Write(req); err != nil {
			return wrapWriteErr(err)
		}
		if proto.SocksFakeHandshake {
			return writeRemainingEarlyData(conn, earlyData, withPayload)
		}
		var negReply [2]byte
		if _, err := io.ReadFull(conn, negReply[:]); err != nil {
			return wrapReadErr(err)
		}
		if negReply[0] != 0x05 || negReply[1] != 0x00 {
			return core.NewError(core.ErrUpstreamReject, errUnexpectedMethod)
		}
	}

	if err := readSocks5ConnectReply(conn); err != nil {
		return err
	}
	return writeRemainingEarlyData(conn, earlyData, withPayload)
}

// wrapWriteErr and wrapReadErr classify a socket I/O failure, giving
// context-deadline/timeout errors priority over the kind that would
// otherwise apply (§7: a handshake that outlives its max-wait is always
// ErrTimeout, never ErrUnreachable/ErrProtocol).
func wrapWriteErr(err error) error {
	if isTimeout(err) {
		return core.NewError(core.ErrTimeout, err)
	}
	return core.NewError(core.ErrUnreachable, err)
}

func wrapReadErr(err error) error {
	if isTimeout(err) {
		return core.NewError(core.ErrTimeout, err)
	}
	return core.NewError(core.ErrProtocol, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func socks5AuthNegotiate(conn net.Conn, auth *core.UserPassAuth) error {
	if _, err := conn.Write([]byte{0x05, 0x01, 0x02}); err != nil {
		return wrapWriteErr(err)
	}
	var negReply [2]byte
	if _, err := io.ReadFull(conn, negReply[:]); err != nil {
		return wrapReadErr(err)
	}
	if negReply[0] != 0x05 || negReply[1] != 0x02 {
		return core.NewError(core.ErrUpstreamReject, errUnexpectedMethod)
	}

	if len(auth.Username) > 255 || len(auth.Password) > 255 {
		return core.NewError(core.ErrProtocol, errCredentialsTooLong)
	}
	req := make([]byte, 0, 3+len(auth.Username)+len(auth.Password))
	req = append(req, 0x01, byte(len(auth.Username)))
	req = append(req, auth.Username...)
	req = append(req, byte(len(auth.Password)))
	req = append(req, auth.Password...)
	if _, err := conn.Write(req); err != nil {
		return wrapWriteErr(err)
	}

	var authReply [2]byte
	if _, err := io.ReadFull(conn, authReply[:]); err != nil {
		return wrapReadErr(err)
	}
	if authReply[0] != 0x01 || authReply[1] != 0x00 {
		return core.NewError(core.ErrUpstreamReject, errAuthFailed)
	}
	return nil
}

// readSocks5ConnectReply consumes the 10-22 byte CONNECT reply
// `05 00 00 <atyp> <bnd-addr> <bnd-port>`.
func readSocks5ConnectReply(conn net.Conn) error {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return wrapReadErr(err)
	}
	if hdr[0] != 0x05 {
		return core.NewError(core.ErrProtocol, errBadReplyVersion)
	}
	if hdr[1] != 0x00 {
		return core.NewError(core.ErrUpstreamReject, socks5ReplyError(hdr[1]))
	}
	return discardSocks5BindAddr(conn, hdr[3])
}

func discardSocks5BindAddr(r io.Reader, atyp byte) error {
	var n int
	switch atyp {
	case 0x01:
		n = 4 + 2
	case 0x04:
		n = 16 + 2
	case 0x03:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return wrapReadErr(err)
		}
		n = int(l[0]) + 2
	default:
		return core.NewError(core.ErrProtocol, errUnknownATYP)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return wrapReadErr(err)
	}
	return nil
}

func buildSocks5ConnectRequest(dest core.Destination) ([]byte, error) {
	atyp, addrBytes, err := encodeSocks5Address(dest)
	if err != nil {
		return nil, err
	}
	req := make([]byte, 0, 4+len(addrBytes)+2)
	req = append(req, 0x05, 0x01, 0x00, atyp)
	req = append(req, addrBytes...)
	req = append(req, byte(dest.Port>>8), byte(dest.Port))
	return req, nil
}

func encodeSocks5Address(dest core.Destination) (atyp byte, addr []byte, err error) {
	if dest.IsDomain() {
		if len(dest.Domain) == 0 || len(dest.Domain) > 255 {
			return 0, nil, errInvalidDomainLength
		}
		addr = make([]byte, 0, 1+len(dest.Domain))
		addr = append(addr, byte(len(dest.Domain)))
		addr = append(addr, dest.Domain...)
		return 0x03, addr, nil
	}
	if v4 := dest.IP.To4(); v4 != nil {
		return 0x01, []byte(v4), nil
	}
	if v6 := dest.IP.To16(); v6 != nil {
		return 0x04, []byte(v6), nil
	}
	return 0, nil, errInvalidAddress
}

func writeRemainingEarlyData(conn net.Conn, earlyData []byte, withPayload bool) error {
	if withPayload || len(earlyData) == 0 {
		return nil
	}
	if _, err := conn.Write(earlyData); err != nil {
		return core.NewError(core.ErrPipe, err)
	}
	return nil
}
