package api

import (
	"time"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/monitor"
)

// FromLifecycleAndServers converts a LifecycleSnapshot plus a live
// ServerList/Meter pair into the public StatusResponse. Traffic and
// connection counters come straight from each upstream's Status; delay and
// score come from the same Status, already updated by the most recent
// health probe; tx/rx bps come from the Meter's sliding window.
func FromLifecycleAndServers(life core.LifecycleSnapshot, servers []*core.Upstream, throughputs map[string]monitor.Throughput) StatusResponse {
	var started string
	var uptime int64
	if !life.StartedAt.IsZero() {
		started = life.StartedAt.UTC().Format(time.RFC3339)
		uptime = int64(time.Since(life.StartedAt).Seconds())
	}

	views := make([]UpstreamView, 0, len(servers))
	for _, u := range servers {
		views = append(views, FromUpstream(u, throughputs[u.Tag]))
	}

	return StatusResponse{
		State:       string(life.AgentState),
		StartedAt:   started,
		UptimeSec:   uptime,
		Warnings:    append([]string(nil), life.Warnings...),
		Upstreams:   views,
		GeneratedAt: TimeNow().UTC().Format(time.RFC3339),
	}
}

// FromUpstream converts one core.Upstream plus its derived throughput into
// the public UpstreamView. Status counters are read via Status.Snapshot,
// never by touching the atomics directly, so the API stays decoupled from
// core's internal synchronization.
func FromUpstream(u *core.Upstream, tp monitor.Throughput) UpstreamView {
	snap := u.Status.Snapshot()
	return UpstreamView{
		Tag:       u.Tag,
		Addr:      u.Addr,
		Protocol:  u.Proto.String(),
		DelayMs:   snap.Delay.Milliseconds(),
		DelayOK:   snap.DelayOK,
		Score:     snap.Score,
		ScoreOK:   snap.ScoreOK,
		TxBytes:   snap.TxBytes,
		RxBytes:   snap.RxBytes,
		TxBps:     tp.TxBps,
		RxBps:     tp.RxBps,
		ConnTotal: snap.ConnTotal,
		ConnAlive: snap.ConnAlive,
		ConnError: snap.ConnError,
	}
}
