package dispatch

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/netutil"
	"github.com/sorz/moproxy-go/internal/pipe"
	"github.com/sorz/moproxy-go/internal/policy"
	"github.com/sorz/moproxy-go/internal/tlsinspect"
)

// peekTimeout bounds the optional TLS ClientHello peek (§4.5 step 2,
// §5 "peek: 500 ms").
const peekTimeout = 500 * time.Millisecond

// peekBufferSize is the maximum number of bytes read while probing for a
// TLS ClientHello (§4.5: "attempt to read up to 2048 bytes").
const peekBufferSize = 2048

// Config bundles the dispatcher's startup-time tunables. RemoteDNS gates
// the TLS SNI peek (only worth attempting when upstream-side DNS
// resolution via a domain-carrying Destination is meaningful); NParallel
// is the hedged race's pool width; AllowDirect permits a direct TCP
// fallback when every candidate upstream fails (and is required on
// platforms where original-destination recovery is unsupported).
type Config struct {
	RemoteDNS   bool
	NParallel   int
	AllowDirect bool
}

// Dispatcher serves accepted connections against a shared, possibly
// reloaded ServerList and Policy.
type Dispatcher struct {
	Servers *core.ServerList
	Policy  *policy.Holder
	Config  Config
	Logger  zerolog.Logger

	// Dialer opens the direct-connect fallback; overridable in tests.
	Dialer net.Dialer
}

// NewDispatcher builds a Dispatcher over servers and pol with cfg.
func NewDispatcher(servers *core.ServerList, pol *policy.Holder, cfg Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{Servers: servers, Policy: pol, Config: cfg, Logger: logger}
}

// Serve drives one accepted connection through the full dispatch state
// machine (§4.5) and blocks until the splice (or direct-connect fallback)
// completes. conn is always closed before Serve returns, by Serve itself
// or by the splice it starts.
func (d *Dispatcher) Serve(ctx context.Context, conn *net.TCPConn, listenPort uint16) error {
	defer conn.Close()

	dest, err := d.recoverDestination(conn)
	if err != nil {
		return err
	}

	pendingData, allowParallel := d.peekClientHello(conn, &dest)

	decision := d.Policy.Current().Match(&listenPort, destDomainPtr(dest), dest.IP)
	switch decision.Override {
	case policy.OverrideReject:
		return core.NewError(core.ErrPolicyReject, errPolicyRejected)
	case policy.OverrideDirect:
		return d.serveDirect(ctx, conn, dest, pendingData)
	}

	candidates := d.filterCandidates(listenPort, decision, pendingData, allowParallel)
	if len(candidates) == 0 {
		if d.Config.AllowDirect {
			return d.serveDirect(ctx, conn, dest, pendingData)
		}
		return core.NewError(core.ErrNoCandidates, errNoCandidates)
	}

	upstreamConn, winner, err := d.race(ctx, candidates, dest, pendingData, allowParallel)
	if err != nil {
		if d.Config.AllowDirect {
			return d.serveDirect(ctx, conn, dest, pendingData)
		}
		return core.NewError(core.ErrNoCandidates, err)
	}

	winner.Status.OnConnOpen()
	pipeErr := pipe.Splice(conn, upstreamConn, winner.Status)
	winner.Status.OnConnClose(pipeErr != nil)
	return pipeErr
}

// recoverDestination fetches the pre-redirect destination (§4.5 step 1).
func (d *Dispatcher) recoverDestination(conn *net.TCPConn) (core.Destination, error) {
	ip, port, err := netutil.OriginalDestination(conn)
	if err != nil {
		return core.Destination{}, core.NewError(core.ErrNoOriginalDest, err)
	}
	return core.NewIPDestination(ip, port), nil
}

// peekClientHello implements §4.5 step 2: only attempted when RemoteDNS is
// enabled and the recovered destination is port 443. It returns the bytes
// read (nil if no peek was attempted or nothing was read) and whether
// those bytes parsed as a ClientHello whose payload may safely be
// duplicated across a parallel race.
func (d *Dispatcher) peekClientHello(conn *net.TCPConn, dest *core.Destination) (pendingData []byte, allowParallel bool) {
	if !d.Config.RemoteDNS || dest.Port != 443 {
		return nil, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(peekTimeout))
	buf := make([]byte, peekBufferSize)
	n, _ := conn.Read(buf)
	_ = conn.SetReadDeadline(time.Time{})
	if n == 0 {
		return nil, false
	}
	pendingData = buf[:n]

	hello, err := tlsinspect.Parse(pendingData)
	if err != nil {
		return pendingData, false
	}
	if hello.HasServerName {
		*dest = dest.WithDomain(hello.ServerName)
	}
	return pendingData, true
}

// filterCandidates implements §4.5 step 3.
func (d *Dispatcher) filterCandidates(listenPort uint16, decision policy.Decision, pendingData []byte, allowParallel bool) []*core.Upstream {
	var out []*core.Upstream
	for _, u := range d.Servers.Servers() {
		if !u.AllowsListenPort(listenPort) {
			continue
		}
		if !decision.Requirements.SatisfiedBy(u.RequiredCaps) {
			continue
		}
		if len(pendingData) > 0 && !allowParallel && !u.Proto.SupportsEarlyData() {
			continue
		}
		out = append(out, u)
	}
	return out
}

// serveDirect opens a direct TCP connection to dest and splices it with
// conn, forwarding any peeked bytes first (§4.5 step 6).
func (d *Dispatcher) serveDirect(ctx context.Context, conn *net.TCPConn, dest core.Destination, pendingData []byte) error {
	upstreamConn, err := d.Dialer.DialContext(ctx, "tcp", dest.HostPort())
	if err != nil {
		return core.NewError(core.ErrUnreachable, err)
	}
	if len(pendingData) > 0 {
		if _, err := upstreamConn.Write(pendingData); err != nil {
			upstreamConn.Close()
			return core.NewError(core.ErrPipe, err)
		}
	}
	status := core.NewStatus()
	return pipe.Splice(conn, upstreamConn, status)
}

func destDomainPtr(dest core.Destination) *string {
	if !dest.IsDomain() {
		return nil
	}
	d := dest.Domain
	return &d
}
