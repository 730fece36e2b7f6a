package probe

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/sorz/moproxy-go/internal/core"
)

// RunAliveTest drives one probe connection through u: dial, handshake to
// u.TestDNS, send a throwaway DNS query as early data, and measure the
// round-trip until a plausible DNS response arrives. It reports the
// measured delay on success, or a classified error otherwise.
func RunAliveTest(ctx context.Context, u *core.Upstream) (time.Duration, error) {
	dest, err := parseTestDNSTarget(u.TestDNS)
	if err != nil {
		return 0, core.NewError(core.ErrConfig, err)
	}

	query, txnID, err := buildAliveTestQuery()
	if err != nil {
		return 0, core.NewError(core.ErrProtocol, err)
	}

	supportsEarly := u.Proto.SupportsEarlyData()
	start := time.Now()
	conn, err := Connect(ctx, u, dest, query, supportsEarly)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := readAliveTestReply(conn, txnID); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// parseTestDNSTarget parses an upstream's configured "host:port" test-DNS
// target into a Destination, accepting either a literal IP or a domain.
func parseTestDNSTarget(addr string) (core.Destination, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return core.Destination{}, err
	}
	portNum, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return core.Destination{}, err
	}
	port := uint16(portNum)
	if ip := net.ParseIP(host); ip != nil {
		return core.NewIPDestination(ip, port), nil
	}
	return core.Destination{Domain: host, Port: port}, nil
}

// buildAliveTestQuery constructs a TCP-framed DNS query for the root
// zone's A record: a 2-byte length prefix followed by a 12-byte header
// (random transaction ID in the message's first two bytes, i.e. offset 2-3
// of the framed buffer) and a single question section. The upstream need not resolve anything real;
// the probe only cares that the bytes are forwarded and a well-formed
// reply with the matching transaction ID comes back within MaxWait.
func buildAliveTestQuery() (query []byte, txnID uint16, err error) {
	var idBuf [2]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, 0, err
	}
	txnID = binary.BigEndian.Uint16(idBuf[:])

	msg := make([]byte, 0, 17)
	msg = binary.BigEndian.AppendUint16(msg, txnID)
	msg = append(msg, 0x01, 0x00)                // flags: standard query, recursion desired
	msg = binary.BigEndian.AppendUint16(msg, 1)  // qdcount
	msg = binary.BigEndian.AppendUint16(msg, 0)  // ancount
	msg = binary.BigEndian.AppendUint16(msg, 0)  // nscount
	msg = binary.BigEndian.AppendUint16(msg, 0)  // arcount
	msg = append(msg, 0x00)                      // root name
	msg = binary.BigEndian.AppendUint16(msg, 1)  // qtype A
	msg = binary.BigEndian.AppendUint16(msg, 1)  // qclass IN

	framed := make([]byte, 0, 2+len(msg))
	framed = binary.BigEndian.AppendUint16(framed, uint16(len(msg)))
	framed = append(framed, msg...)
	return framed, txnID, nil
}

// readAliveTestReply reads exactly 12 bytes of response and validates the
// echoed transaction ID at the same offset (2-3) the query carried it at
// within its own framed buffer (§4.4).
func readAliveTestReply(conn net.Conn, wantTxnID uint16) error {
	var buf [12]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return wrapReadErr(err)
	}
	gotTxnID := binary.BigEndian.Uint16(buf[2:4])
	if gotTxnID != wantTxnID {
		return core.NewError(core.ErrProtocol, errAliveTestBadTxnID)
	}
	return nil
}
