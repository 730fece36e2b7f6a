package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/monitor"
)

func TestFromUpstreamReflectsStatusSnapshot(t *testing.T) {
	u := core.NewUpstream("proxyA", "127.0.0.1:1080", core.Proto{Kind: core.ProtoSocks5}, "8.8.8.8:53", time.Second, nil, core.CapSet{}, 5)
	delay := 10 * time.Millisecond
	u.Status.UpdateDelay(&delay, 5)

	view := FromUpstream(u, monitor.Throughput{TxBps: 100, RxBps: 200})

	assert.Equal(t, "proxyA", view.Tag)
	assert.Equal(t, "SOCKSv5", view.Protocol)
	assert.True(t, view.DelayOK)
	assert.Equal(t, int64(10), view.DelayMs)
	assert.True(t, view.ScoreOK)
	assert.Equal(t, float64(100), view.TxBps)
	assert.Equal(t, float64(200), view.RxBps)
}

func TestFromUpstreamWithoutDelayReportsNotOK(t *testing.T) {
	u := core.NewUpstream("proxyB", "127.0.0.1:1081", core.Proto{Kind: core.ProtoHTTP}, "8.8.8.8:53", time.Second, nil, core.CapSet{}, 0)
	view := FromUpstream(u, monitor.Throughput{})
	assert.False(t, view.DelayOK)
	assert.False(t, view.ScoreOK)
}

func TestFromLifecycleAndServersBuildsFullResponse(t *testing.T) {
	u := core.NewUpstream("proxyA", "127.0.0.1:1080", core.Proto{Kind: core.ProtoSocks5}, "8.8.8.8:53", time.Second, nil, core.CapSet{}, 0)
	lifecycle := core.NewLifecycle()
	require.NoError(t, lifecycle.SetAgentState(core.StateActive))
	lifecycle.AppendWarning("reload failed once")

	resp := FromLifecycleAndServers(lifecycle.Snapshot(), []*core.Upstream{u}, nil)

	assert.Equal(t, string(core.StateActive), resp.State)
	assert.NotEmpty(t, resp.StartedAt)
	assert.Equal(t, []string{"reload failed once"}, resp.Warnings)
	require.Len(t, resp.Upstreams, 1)
	assert.Equal(t, "proxyA", resp.Upstreams[0].Tag)
}
