package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorz/moproxy-go/internal/core"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestServerListConfigLoadsSocks5AndHTTP(t *testing.T) {
	path := writeTemp(t, "servers.ini", `
[proxyA]
address = 127.0.0.1:1080
protocol = socks5
score base = 10
listen ports = 1080, 1081

[proxyB]
address = 127.0.0.1:8080
protocol = http
http username = user
http password = pass
http allow connect payload = true
`)
	cfg := ServerListConfig{
		Path:           path,
		DefaultTestDNS: "8.8.8.8:53",
		DefaultMaxWait: 3 * time.Second,
		ListenPorts:    map[uint16]struct{}{1080: {}, 1081: {}},
	}
	servers, err := cfg.Load()
	require.NoError(t, err)
	require.Len(t, servers, 2)

	a := servers[0]
	assert.Equal(t, "127.0.0.1:1080", a.Addr)
	assert.Equal(t, core.ProtoSocks5, a.Proto.Kind)
	assert.Equal(t, int32(10), a.ScoreBase)
	assert.True(t, a.AllowsListenPort(1080))
	assert.False(t, a.AllowsListenPort(9999))

	b := servers[1]
	assert.Equal(t, core.ProtoHTTP, b.Proto.Kind)
	require.NotNil(t, b.Proto.HTTPAuth)
	assert.Equal(t, "user", b.Proto.HTTPAuth.Username)
	assert.True(t, b.Proto.HTTPAllowConnectPayload)
}

func TestServerListConfigRejectsUnknownProtocol(t *testing.T) {
	path := writeTemp(t, "servers.ini", `
[bad]
address = 127.0.0.1:1080
protocol = carrier-pigeon
`)
	cfg := ServerListConfig{Path: path}
	_, err := cfg.Load()
	require.Error(t, err)
}

func TestServerListConfigRejectsMismatchedSocksCredentials(t *testing.T) {
	path := writeTemp(t, "servers.ini", `
[bad]
address = 127.0.0.1:1080
protocol = socks5
socks username = onlyuser
`)
	cfg := ServerListConfig{Path: path}
	_, err := cfg.Load()
	require.Error(t, err)
}

func TestServerListConfigEmptyWithoutAllowDirectErrors(t *testing.T) {
	path := writeTemp(t, "servers.ini", "\n")
	cfg := ServerListConfig{Path: path, AllowDirect: false}
	_, err := cfg.Load()
	require.Error(t, err)
}

func TestServerListConfigEmptyWithAllowDirectOK(t *testing.T) {
	path := writeTemp(t, "servers.ini", "\n")
	cfg := ServerListConfig{Path: path, AllowDirect: true}
	servers, err := cfg.Load()
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestLoadPolicyEmptyPath(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, 0, p.RuleCount())
}
