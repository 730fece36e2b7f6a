package monitor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sorz/moproxy-go/internal/core"
)

// graphiteWriteTimeout bounds each round's connect and, separately, its
// write (§4.4: "5-second write timeout").
const graphiteWriteTimeout = 5 * time.Second

// GraphiteEmitter is a plaintext Graphite line-protocol sink (§6: "<path>
// <uint> <unix-seconds-float>\n"). No client library is used: the wire
// format is a handful of bytes per line over a plain TCP connection, the
// same way the teacher reaches for stdlib net directly rather than a
// dependency when the protocol is this small.
type GraphiteEmitter struct {
	Addr       string // "host:port" of the carbon-cache (or equivalent) listener
	PathPrefix string // dotted prefix prepended to every metric path
	Dialer     net.Dialer
}

// NewGraphiteEmitter returns an emitter targeting addr with the given
// dotted path prefix (e.g. "moproxy").
func NewGraphiteEmitter(addr, pathPrefix string) *GraphiteEmitter {
	return &GraphiteEmitter{Addr: addr, PathPrefix: pathPrefix}
}

// Emit opens one connection per round, writes one line per upstream per
// metric (delay, score, tx_bytes, rx_bytes, conn_alive), and closes. The
// dial and the write are each bounded by graphiteWriteTimeout; failures
// are returned for the caller to log and drop, never retried within the
// round.
func (g *GraphiteEmitter) Emit(ctx context.Context, servers []*core.Upstream) error {
	if g.Addr == "" {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, graphiteWriteTimeout)
	defer cancel()
	conn, err := g.Dialer.DialContext(dialCtx, "tcp", g.Addr)
	if err != nil {
		return fmt.Errorf("graphite: dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(graphiteWriteTimeout))

	var buf strings.Builder
	now := time.Now()
	for _, u := range servers {
		writeGraphiteLines(&buf, g.PathPrefix, u, now)
	}
	if _, err := conn.Write([]byte(buf.String())); err != nil {
		return fmt.Errorf("graphite: write: %w", err)
	}
	return nil
}

func writeGraphiteLines(buf *strings.Builder, prefix string, u *core.Upstream, at time.Time) {
	snap := u.Status.Snapshot()
	base := graphitePath(prefix, u.Tag)
	ts := float64(at.UnixNano()) / float64(time.Second)

	if snap.DelayOK {
		writeGraphiteLine(buf, base+".delay_ms", snap.Delay.Milliseconds(), ts)
	}
	if snap.ScoreOK {
		writeGraphiteLine(buf, base+".score", int64(snap.Score), ts)
	}
	writeGraphiteLine(buf, base+".tx_bytes", int64(snap.TxBytes), ts)
	writeGraphiteLine(buf, base+".rx_bytes", int64(snap.RxBytes), ts)
	writeGraphiteLine(buf, base+".conn_alive", int64(snap.ConnAlive), ts)
}

func writeGraphiteLine(buf *strings.Builder, path string, value int64, ts float64) {
	fmt.Fprintf(buf, "%s %d %f\n", path, value, ts)
}

// graphitePath folds an upstream tag into ASCII, space-free path
// components (§6: "path components are ASCII, no spaces").
func graphitePath(prefix, tag string) string {
	folded := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, tag)
	if prefix == "" {
		return folded
	}
	return prefix + "." + folded
}
