package pipe

import (
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sorz/moproxy-go/internal/core"
)

const (
	bufferSize      = 2048
	keepAlivePeriod = 300 * time.Second
)

// errWriteZero mirrors the teacher's "write zero byte into writer" fatal
// condition: a Write that returns (0, nil) can never make progress.
var errWriteZero = errors.New("pipe: write returned zero bytes")

// halfCloseWriter is implemented by *net.TCPConn (and similar stream
// types) to shut down only the write side, letting the peer still see
// this process's half of an already-flushed read.
type halfCloseWriter interface {
	CloseWrite() error
}

// streamWithBuffer holds one direction's fixed scratch buffer, read/write
// cursors, and end-of-stream bookkeeping (§4.6).
type streamWithBuffer struct {
	conn    net.Conn
	buf     [bufferSize]byte
	pos     int
	cap     int
	eofSeen bool
	done    bool
}

func (s *streamWithBuffer) isEmpty() bool { return s.pos == s.cap }

// readToBuffer reads into the scratch buffer. A graceful EOF (n==0, err
// is io.EOF or nil) sets eofSeen and returns no error; any other error is
// returned for the caller to classify as a fatal pipe error.
func (s *streamWithBuffer) readToBuffer() (int, error) {
	n, err := s.conn.Read(s.buf[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			s.eofSeen = true
			return 0, nil
		}
		return 0, err
	}
	s.pos, s.cap = 0, n
	return n, nil
}

func (s *streamWithBuffer) writeTo(w net.Conn) (int, error) {
	n, err := w.Write(s.buf[s.pos:s.cap])
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errWriteZero
	}
	s.pos += n
	return n, nil
}

// Splice moves bytes between client and upstream in both directions until
// each side has seen EOF and half-closed the other, accounting traffic on
// status as it flows. It sets a 300s keepalive on both sockets before
// starting and returns once both directions are done (or the first fatal
// error on either side, after which it tries to stop the other).
func Splice(client, upstream net.Conn, status *core.Status) error {
	setKeepAlive(client)
	setKeepAlive(upstream)

	// abort stops the other direction after a fatal error by closing both
	// sockets, which unblocks its pending Read or Write.
	abort := func(err error) error {
		if err != nil {
			_ = client.Close()
			_ = upstream.Close()
		}
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		return abort(spliceOneDirection(client, upstream, status, true))
	})
	g.Go(func() error {
		return abort(spliceOneDirection(upstream, client, status, false))
	})
	return g.Wait()
}

// spliceOneDirection pumps reader -> writer until EOF, then half-closes
// writer. clientToUpstream selects which of tx/rx this direction accounts
// for (§9: client->upstream is tx).
func spliceOneDirection(reader, writer net.Conn, status *core.Status, clientToUpstream bool) error {
	side := &streamWithBuffer{conn: reader}
	for {
		if side.isEmpty() && !side.eofSeen {
			n, err := side.readToBuffer()
			if n > 0 {
				if clientToUpstream {
					status.AddTraffic(uint64(n), 0)
				} else {
					status.AddTraffic(0, uint64(n))
				}
			}
			if err != nil {
				return core.NewError(core.ErrPipe, err)
			}
		}
		for !side.isEmpty() {
			if _, err := side.writeTo(writer); err != nil {
				return core.NewError(core.ErrPipe, err)
			}
		}
		if side.eofSeen {
			half, ok := writer.(halfCloseWriter)
			if ok {
				if err := half.CloseWrite(); err != nil {
					// A CloseWrite error is ignored and never fails the
					// pipe, whether or not the opposite direction has
					// finished; it is not logged.
					_ = err
				}
			}
			side.done = true
			return nil
		}
	}
}

func setKeepAlive(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
	}
}
