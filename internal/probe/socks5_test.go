package probe

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorz/moproxy-go/internal/core"
)

func TestDialSocks5NoAuthSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dest := core.NewIPDestination(net.ParseIP("93.184.216.34"), 80)
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- DialSocks5(ctx, client, dest, core.Proto{Kind: core.ProtoSocks5}, nil, false)
	}()

	req := make([]byte, 3+4+4+2)
	_, err := io.ReadFull(server, req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x01, 0x00}, req[:3])
	assert.Equal(t, []byte{0x05, 0x01, 0x00, 0x01}, req[3:7])

	_, err = server.Write([]byte{0x05, 0x00})
	require.NoError(t, err)
	_, err = server.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, <-done)
}

func TestDialSocks5FakeHandshakeSkipsReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dest := core.NewIPDestination(net.ParseIP("1.2.3.4"), 443)
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- DialSocks5(ctx, client, dest, core.Proto{Kind: core.ProtoSocks5, SocksFakeHandshake: true}, nil, false)
	}()

	req := make([]byte, 3+4+4+2)
	_, err := io.ReadFull(server, req)
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestDialSocks5UpstreamRejectsConnect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dest := core.NewIPDestination(net.ParseIP("1.2.3.4"), 443)
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- DialSocks5(ctx, client, dest, core.Proto{Kind: core.ProtoSocks5}, nil, false)
	}()

	req := make([]byte, 3+4+4+2)
	_, err := io.ReadFull(server, req)
	require.NoError(t, err)
	_, err = server.Write([]byte{0x05, 0x00})
	require.NoError(t, err)
	_, err = server.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	gotErr := <-done
	require.Error(t, gotErr)
	kind, ok := core.KindOf(gotErr)
	require.True(t, ok)
	assert.Equal(t, core.ErrUpstreamReject, kind)
}

func TestEncodeSocks5AddressDomain(t *testing.T) {
	dest := core.Destination{Domain: "example.com", Port: 443}
	atyp, addr, err := encodeSocks5Address(dest)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), atyp)
	assert.Equal(t, byte(len("example.com")), addr[0])
	assert.Equal(t, "example.com", string(addr[1:]))
}
