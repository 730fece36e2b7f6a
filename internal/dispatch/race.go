package dispatch

import (
	"bufio"
	"context"
	"net"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/probe"
)

// raceResult carries one candidate's outcome back to the race collector.
type raceResult struct {
	conn     net.Conn
	upstream *core.Upstream
	err      error
}

// race drives the hedged parallel-then-sequential upstream race of §4.5
// step 4: the first N candidates (N = min(len(candidates), NParallel) when
// allowParallel, else 1) attempt concurrently; candidates beyond N form a
// sequential standby queue promoted as soon as an in-flight attempt fails,
// via a semaphore that keeps exactly N slots occupied while standbys
// remain. The first attempt to reach "handshake done and (wait_response ->
// bytes readable)" wins; every other attempt's socket is closed before
// race returns (§5 cancellation semantics).
func (d *Dispatcher) race(ctx context.Context, candidates []*core.Upstream, dest core.Destination, pendingData []byte, allowParallel bool) (net.Conn, *core.Upstream, error) {
	n := 1
	if allowParallel {
		n = d.Config.NParallel
		if n <= 0 {
			n = 1
		}
		if n > len(candidates) {
			n = len(candidates)
		}
	}
	withPayload := allowParallel && len(pendingData) > 0
	waitResponse := len(pendingData) > 0

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(n))
	results := make(chan raceResult, len(candidates))

	for _, u := range candidates {
		u := u
		go func() {
			if err := sem.Acquire(raceCtx, 1); err != nil {
				results <- raceResult{upstream: u, err: err}
				return
			}
			conn, err := d.attempt(raceCtx, u, dest, pendingData, withPayload, waitResponse)
			if err != nil {
				sem.Release(1)
				results <- raceResult{upstream: u, err: err}
				return
			}
			results <- raceResult{conn: conn, upstream: u}
		}()
	}

	var winner raceResult
	var losers []net.Conn
	for received := 0; received < len(candidates); received++ {
		r := <-results
		if r.err == nil && winner.conn == nil {
			winner = r
			cancel() // abort every other in-flight/queued attempt
			continue
		}
		if r.conn != nil {
			losers = append(losers, r.conn)
		}
	}
	for _, c := range losers {
		c.Close()
	}

	if winner.conn == nil {
		return nil, nil, errAllFailed
	}
	return winner.conn, winner.upstream, nil
}

// attempt performs one candidate's full a+b+c sequence from §4.5 step 4:
// bounded TCP connect, protocol handshake, and (if waitResponse) blocking
// until at least one response byte is readable without consuming it, so
// the byte is still there for the splice phase.
func (d *Dispatcher) attempt(ctx context.Context, u *core.Upstream, dest core.Destination, pendingData []byte, withPayload, waitResponse bool) (net.Conn, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, u.MaxWait)
	defer cancel()

	conn, err := probe.Connect(attemptCtx, u, dest, pendingData, withPayload)
	if err != nil {
		return nil, err
	}

	bc := newBufferedConn(conn)
	if waitResponse {
		if deadline, ok := attemptCtx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}
		if _, err := bc.reader.Peek(1); err != nil {
			conn.Close()
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Time{})
	}
	return bc, nil
}

// bufferedConn layers a bufio.Reader's Peek capability over a net.Conn
// without losing the half-close capability the byte-pipe relies on.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func newBufferedConn(conn net.Conn) *bufferedConn {
	return &bufferedConn{Conn: conn, reader: bufio.NewReader(conn)}
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

// CloseWrite forwards to the underlying connection's half-close when it
// supports one, so pipe.Splice's halfCloseWriter type assertion still
// succeeds through this wrapper.
func (b *bufferedConn) CloseWrite() error {
	if hc, ok := b.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}
