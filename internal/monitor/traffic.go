package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sorz/moproxy-go/internal/core"
)

// sampleInterval is the throughput sampler's fixed period (§4.4: "every
// second").
const sampleInterval = time.Second

// trafficSample is one (time, tx_bytes, rx_bytes) point for a single
// upstream's sliding window.
type trafficSample struct {
	at time.Time
	tx uint64
	rx uint64
}

// window holds the most recent two traffic samples for one upstream, used
// to derive an instantaneous bits-per-second throughput.
type window struct {
	prev, cur trafficSample
	filled    bool
}

// Throughput is the most recent derived bits-per-second pair for one
// upstream, keyed by its tag.
type Throughput struct {
	TxBps float64
	RxBps float64
}

// Meter samples every upstream's cumulative (tx_bytes, rx_bytes) once a
// second and derives an instantaneous throughput as
// (bytes(t1) - bytes(t0)) * 8 / (t1 - t0) bits per second (§3 "Meter").
type Meter struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMeter returns an empty Meter.
func NewMeter() *Meter {
	return &Meter{windows: make(map[string]*window)}
}

// Sample records one traffic snapshot per server, pushing it into that
// server's sliding window. Servers not present in this call's list are not
// touched; a caller that rebuilds the server list after reload should
// call Reset first (§4.7: "the Meter map is rebuilt over the new
// upstreams").
func (m *Meter) Sample(servers []*core.Upstream, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range servers {
		tx, rx := u.Status.Traffic()
		sample := trafficSample{at: at, tx: tx, rx: rx}
		w, ok := m.windows[u.Tag]
		if !ok {
			w = &window{}
			m.windows[u.Tag] = w
		}
		if !w.filled {
			w.cur = sample
			w.filled = true
			continue
		}
		w.prev = w.cur
		w.cur = sample
	}
}

// Reset replaces the window map with a fresh, empty one, keyed fresh over
// the post-reload upstream set.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = make(map[string]*window)
}

// Throughputs reports the most recent per-upstream bits-per-second
// derived from each tag's two most recent samples. An upstream with fewer
// than two samples yet is omitted.
func (m *Meter) Throughputs() map[string]Throughput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Throughput, len(m.windows))
	for tag, w := range m.windows {
		if w.prev.at.IsZero() || !w.prev.at.Before(w.cur.at) {
			continue
		}
		secs := w.cur.at.Sub(w.prev.at).Seconds()
		if secs <= 0 {
			continue
		}
		out[tag] = Throughput{
			TxBps: bitsPerSecond(w.prev.tx, w.cur.tx, secs),
			RxBps: bitsPerSecond(w.prev.rx, w.cur.rx, secs),
		}
	}
	return out
}

func bitsPerSecond(prev, cur uint64, secs float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) * 8 / secs
}

// runThroughputSampler is Monitor's independent once-a-second sampling
// task (§4.4: "Throughput sampler (independent task)").
func (m *Monitor) runThroughputSampler(ctx context.Context) error {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			m.Meter.Sample(m.Servers.Servers(), t)
		}
	}
}
