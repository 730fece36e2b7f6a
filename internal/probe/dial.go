package probe

import (
	"context"
	"net"
	"time"

	"github.com/sorz/moproxy-go/internal/core"
)

var noDeadline time.Time

// Connect dials u's proxy address and drives the appropriate CONNECT
// handshake for dest, returning the live connection ready to splice.
// earlyData is piggybacked onto the handshake when the protocol variant
// and withPayload both allow it; otherwise it is written immediately
// after the handshake completes. ctx bounds both the TCP dial and the
// handshake.
func Connect(ctx context.Context, u *core.Upstream, dest core.Destination, earlyData []byte, withPayload bool) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewError(core.ErrTimeout, err)
		}
		return nil, core.NewError(core.ErrUnreachable, err)
	}

	if err := handshake(ctx, conn, u.Proto, dest, earlyData, withPayload); err != nil {
		conn.Close()
		return nil, err
	}
	// The handshake's deadline was scoped to the handshake itself; clear
	// it so the splice isn't bound by the upstream's max-wait.
	_ = conn.SetDeadline(noDeadline)
	return conn, nil
}

func handshake(ctx context.Context, conn net.Conn, proto core.Proto, dest core.Destination, earlyData []byte, withPayload bool) error {
	switch proto.Kind {
	case core.ProtoSocks5:
		return DialSocks5(ctx, conn, dest, proto, earlyData, withPayload)
	case core.ProtoHTTP:
		return DialHTTPConnect(ctx, conn, dest, proto, earlyData, withPayload)
	default:
		return core.NewError(core.ErrProtocol, errUnsupportedProto)
	}
}
