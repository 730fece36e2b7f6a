package probe

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/sorz/moproxy-go/internal/core"
)

// maxHTTPConnectHeader bounds the CONNECT response header read, guarding
// against a malicious or broken upstream that never sends a terminator.
const maxHTTPConnectHeader = 64 * 1024

// DialHTTPConnect performs the HTTP CONNECT handshake described in §4.1:
// a single request line plus an optional Proxy-Authorization: Basic
// header, piggybacking earlyData onto the same write when withPayload and
// proto.HTTPAllowConnectPayload both hold.
//
// The response header is read exactly one byte at a time so the read
// never consumes a single byte past the blank line terminating it (§9
// open question (a)): whatever the upstream sent beyond the header is
// left unread on conn for the caller to splice as ordinary upstream data.
func DialHTTPConnect(ctx context.Context, conn net.Conn, dest core.Destination, proto core.Proto, earlyData []byte, withPayload bool) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	hostport := dest.HostPort()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "CONNECT %s HTTP/1.1\r\n", hostport)
	fmt.Fprintf(&buf, "Host: %s\r\n", hostport)
	if proto.HTTPAuth != nil {
		cred := base64.StdEncoding.EncodeToString(
			[]byte(proto.HTTPAuth.Username + ":" + proto.HTTPAuth.Password))
		fmt.Fprintf(&buf, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	buf.WriteString("\r\n")
	if withPayload && proto.HTTPAllowConnectPayload && len(earlyData) > 0 {
		buf.Write(earlyData)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return wrapWriteErr(err)
	}

	statusLine, err := readHTTPConnectHeader(conn)
	if err != nil {
		return err
	}
	if !isHTTPConnectSuccess(statusLine) {
		return core.NewError(core.ErrUpstreamReject, errHTTPStatusNotOK)
	}

	if !(withPayload && proto.HTTPAllowConnectPayload) && len(earlyData) > 0 {
		if _, err := conn.Write(earlyData); err != nil {
			return core.NewError(core.ErrPipe, err)
		}
	}
	return nil
}

// readHTTPConnectHeader reads exactly through the blank line terminating
// the HTTP response header and returns the status line (the bytes up to
// the first CRLF).
func readHTTPConnectHeader(conn net.Conn) ([]byte, error) {
	var header []byte
	var statusLine []byte
	var one [1]byte
	for {
		if len(header) >= maxHTTPConnectHeader {
			return nil, core.NewError(core.ErrProtocol, errHTTPHeaderTooLarge)
		}
		if _, err := conn.Read(one[:]); err != nil {
			return nil, wrapReadErr(err)
		}
		header = append(header, one[0])
		if statusLine == nil {
			if idx := bytes.Index(header, []byte("\r\n")); idx >= 0 {
				statusLine = append([]byte(nil), header[:idx]...)
			}
		}
		if bytes.HasSuffix(header, []byte("\r\n\r\n")) {
			break
		}
	}
	if statusLine == nil {
		return nil, core.NewError(core.ErrProtocol, errHTTPMalformed)
	}
	return statusLine, nil
}

// isHTTPConnectSuccess reports whether statusLine ("HTTP/1.1 200
// Connection established") carries a 2xx status code.
func isHTTPConnectSuccess(statusLine []byte) bool {
	parts := bytes.SplitN(statusLine, []byte(" "), 3)
	if len(parts) < 2 {
		return false
	}
	code := parts[1]
	return len(code) == 3 && code[0] == '2'
}
