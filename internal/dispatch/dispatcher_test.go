package dispatch

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/policy"
)

func upstreamWithCaps(tag string, caps ...string) *core.Upstream {
	proto := core.Proto{Kind: core.ProtoSocks5}
	return core.NewUpstream(tag, "unused", proto, "127.0.0.1:53", time.Second, nil, core.NewCapSet(caps...), 0)
}

func TestFilterCandidatesByListenPort(t *testing.T) {
	allowed := upstreamWithCaps("allowed")
	allowed.AllowedListenPorts = map[uint16]struct{}{1080: {}}
	blocked := upstreamWithCaps("blocked")
	blocked.AllowedListenPorts = map[uint16]struct{}{443: {}}

	d := &Dispatcher{Servers: core.NewServerList([]*core.Upstream{allowed, blocked})}
	got := d.filterCandidates(1080, policy.Decision{}, nil, false)

	require.Len(t, got, 1)
	assert.Equal(t, "allowed", got[0].Tag)
}

func TestFilterCandidatesByCapabilityRequirement(t *testing.T) {
	good := upstreamWithCaps("good", "premium")
	bad := upstreamWithCaps("bad", "free")

	var reqs core.RuleSet
	reqs.Add(core.NewCapSet("premium"))
	decision := policy.Decision{Requirements: reqs}

	d := &Dispatcher{Servers: core.NewServerList([]*core.Upstream{good, bad})}
	got := d.filterCandidates(0, decision, nil, false)

	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Tag)
}

func TestFilterCandidatesExcludesNonEarlyDataCapableWhenNotParallel(t *testing.T) {
	socksCandidate := upstreamWithCaps("socks")
	httpCandidate := upstreamWithCaps("http")
	httpCandidate.Proto = core.Proto{Kind: core.ProtoHTTP} // HTTPAllowConnectPayload false -> !SupportsEarlyData()

	d := &Dispatcher{Servers: core.NewServerList([]*core.Upstream{socksCandidate, httpCandidate})}
	got := d.filterCandidates(0, policy.Decision{}, []byte("pending"), false)

	require.Len(t, got, 1)
	assert.Equal(t, "socks", got[0].Tag)
}

func TestFilterCandidatesKeepsNonEarlyDataCapableWhenParallel(t *testing.T) {
	httpCandidate := upstreamWithCaps("http")
	httpCandidate.Proto = core.Proto{Kind: core.ProtoHTTP}

	d := &Dispatcher{Servers: core.NewServerList([]*core.Upstream{httpCandidate})}
	got := d.filterCandidates(0, policy.Decision{}, []byte("pending"), true)

	require.Len(t, got, 1)
}

// socks5NoAuthStub accepts one connection, reads the combined no-auth
// negotiation + CONNECT request, then after delay writes a successful
// negotiation reply and CONNECT reply.
func socks5NoAuthStub(t *testing.T, delay time.Duration) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req [13]byte
		if _, err := io.ReadFull(conn, req[:]); err != nil {
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		_, _ = conn.Write([]byte{0x05, 0x00})
		_, _ = conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestRacePicksFirstSuccessAndIgnoresSlowLoser(t *testing.T) {
	fastAddr := socks5NoAuthStub(t, 0)
	slowAddr := socks5NoAuthStub(t, time.Second)

	fast := upstreamWithCaps("fast")
	fast.Addr = fastAddr
	fast.MaxWait = 2 * time.Second

	slow := upstreamWithCaps("slow")
	slow.Addr = slowAddr
	slow.MaxWait = 50 * time.Millisecond

	d := &Dispatcher{
		Servers: core.NewServerList([]*core.Upstream{fast, slow}),
		Config:  Config{NParallel: 2},
		Logger:  zerolog.Nop(),
	}

	dest := core.NewIPDestination(net.ParseIP("127.0.0.1"), 53)
	conn, winner, err := d.race(context.Background(), []*core.Upstream{fast, slow}, dest, nil, true)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "fast", winner.Tag)
}

func TestRaceReturnsErrorWhenAllCandidatesFail(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close() // closes before replying: handshake fails
		}
	}()

	u := upstreamWithCaps("dead")
	u.Addr = ln.Addr().String()
	u.MaxWait = 200 * time.Millisecond

	d := &Dispatcher{Servers: core.NewServerList([]*core.Upstream{u}), Config: Config{NParallel: 1}, Logger: zerolog.Nop()}
	dest := core.NewIPDestination(net.ParseIP("127.0.0.1"), 53)
	_, _, err = d.race(context.Background(), []*core.Upstream{u}, dest, nil, false)
	assert.Error(t, err)
}

func TestServeDirectSplicesBytesBothWays(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()
	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, _ = io.ReadFull(conn, buf)
		_, _ = conn.Write([]byte("world"))
	}()

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer frontLn.Close()

	acceptCh := make(chan *net.TCPConn, 1)
	go func() {
		conn, err := frontLn.Accept()
		if err != nil {
			return
		}
		acceptCh <- conn.(*net.TCPConn)
	}()
	clientSide, err := net.Dial("tcp", frontLn.Addr().String())
	require.NoError(t, err)
	defer clientSide.Close()

	dispatcherConn := <-acceptCh

	d := &Dispatcher{Logger: zerolog.Nop()}
	dest := core.Destination{IP: net.ParseIP("127.0.0.1"), Port: upstreamPort(t, upstreamLn)}

	done := make(chan error, 1)
	go func() { done <- d.serveDirect(context.Background(), dispatcherConn, dest, nil) }()

	_, err = clientSide.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))

	clientSide.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serveDirect never returned")
	}
}

func upstreamPort(t *testing.T, ln net.Listener) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}
