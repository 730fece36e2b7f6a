package probe

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestDNSTargetIP(t *testing.T) {
	dest, err := parseTestDNSTarget("8.8.8.8:53")
	require.NoError(t, err)
	assert.False(t, dest.IsDomain())
	assert.Equal(t, uint16(53), dest.Port)
}

func TestParseTestDNSTargetDomain(t *testing.T) {
	dest, err := parseTestDNSTarget("dns.google:53")
	require.NoError(t, err)
	assert.True(t, dest.IsDomain())
	assert.Equal(t, "dns.google", dest.Domain)
}

func TestBuildAliveTestQueryFraming(t *testing.T) {
	query, txnID, err := buildAliveTestQuery()
	require.NoError(t, err)
	msgLen := binary.BigEndian.Uint16(query[0:2])
	assert.Equal(t, len(query)-2, int(msgLen))
	gotTxnID := binary.BigEndian.Uint16(query[2:4])
	assert.Equal(t, txnID, gotTxnID)
}

func TestReadAliveTestReplyValidatesTxnID(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	const wantID = uint16(0xBEEF)
	go func() {
		reply := make([]byte, 12)
		binary.BigEndian.PutUint16(reply[2:4], wantID)
		_, _ = server.Write(reply)
	}()

	err := readAliveTestReply(client, wantID)
	require.NoError(t, err)
}

func TestReadAliveTestReplyRejectsMismatchedTxnID(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		reply := make([]byte, 12)
		binary.BigEndian.PutUint16(reply[2:4], 0x1111)
		_, _ = server.Write(reply)
	}()

	err := readAliveTestReply(client, 0x2222)
	require.Error(t, err)
}
