package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/monitor"
)

func newTestServer(t *testing.T) (*Server, *core.ServerList) {
	t.Helper()
	u := core.NewUpstream("proxyA", "127.0.0.1:1080", core.Proto{Kind: core.ProtoSocks5}, "8.8.8.8:53", time.Second, nil, core.CapSet{}, 10)
	delay := 42 * time.Millisecond
	u.Status.UpdateDelay(&delay, 10)
	u.Status.OnConnOpen()

	servers := core.NewServerList([]*core.Upstream{u})
	lifecycle := core.NewLifecycle()
	require.NoError(t, lifecycle.SetAgentState(core.StateActive))

	srv := NewServer(lifecycle, servers, monitor.NewMeter(), ServerOptions{Logger: zerolog.Nop()})
	return srv, servers
}

func (s *Server) testRequest(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	w := srv.testRequest(http.MethodGet, "/v1/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatusReportsUpstreamSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	w := srv.testRequest(http.MethodGet, "/v1/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(core.StateActive), resp.State)
	require.Len(t, resp.Upstreams, 1)
	assert.Equal(t, "proxyA", resp.Upstreams[0].Tag)
	assert.True(t, resp.Upstreams[0].DelayOK)
	assert.Equal(t, int64(42), resp.Upstreams[0].DelayMs)
	assert.Equal(t, uint64(1), resp.Upstreams[0].ConnTotal)
	assert.Equal(t, uint64(1), resp.Upstreams[0].ConnAlive)
}

func TestHandleStatusReflectsReload(t *testing.T) {
	srv, servers := newTestServer(t)

	replacement := core.NewUpstream("proxyB", "127.0.0.1:1081", core.Proto{Kind: core.ProtoHTTP}, "8.8.8.8:53", time.Second, nil, core.CapSet{}, 0)
	servers.Replace([]*core.Upstream{replacement})

	w := srv.testRequest(http.MethodGet, "/v1/status")
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Upstreams, 1)
	assert.Equal(t, "proxyB", resp.Upstreams[0].Tag)
}
