package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sorz/moproxy-go/internal/core"
	"github.com/sorz/moproxy-go/internal/probe"
)

// ScoreOverrideFunc lets an external collaborator (the original's resident
// scoring-script hook, out of core scope per §1) adjust an upstream's
// effective score after a probe round without the core depending on a
// scripting runtime. A nil return leaves the probed score untouched.
type ScoreOverrideFunc func(u *core.Upstream, delay *time.Duration) *int32

// GraphiteSink is the subset of *GraphiteEmitter the monitor depends on,
// kept as an interface so tests can substitute a recorder.
type GraphiteSink interface {
	Emit(ctx context.Context, servers []*core.Upstream) error
}

// Monitor runs the periodic alive-test fan-out and resort (§4.4) against a
// shared ServerList, plus the once-a-second throughput sampler.
type Monitor struct {
	Servers  *core.ServerList
	Interval time.Duration // probe_secs; <=0 disables periodic probing

	// ScoreOverride, when set, is consulted after every probe to let a
	// caller veto or adjust the computed score before resort.
	ScoreOverride ScoreOverrideFunc
	// Graphite, when set, receives one Emit call per probe round.
	Graphite GraphiteSink

	Meter *Meter

	Logger zerolog.Logger
}

// NewMonitor builds a Monitor with a fresh Meter. Graphite and
// ScoreOverride are left nil; set them directly before calling Run.
func NewMonitor(servers *core.ServerList, interval time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		Servers:  servers,
		Interval: interval,
		Meter:    NewMeter(),
		Logger:   logger,
	}
}

// Run drives the probe loop and the throughput sampler concurrently until
// ctx is cancelled. It returns ctx.Err() on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.runProbeLoop(ctx) })
	g.Go(func() error { return m.runThroughputSampler(ctx) })
	return g.Wait()
}

func (m *Monitor) runProbeLoop(ctx context.Context) error {
	if m.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce probes every upstream currently in Servers, joins, resorts, and
// (if configured) emits the round to Graphite. Probe errors are recorded
// per-upstream (clearing that upstream's delay) and never abort the round.
func (m *Monitor) RunOnce(ctx context.Context) {
	servers := m.Servers.Servers()

	var g errgroup.Group
	for _, u := range servers {
		u := u
		g.Go(func() error {
			m.probeOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	m.Servers.Resort()

	if m.Graphite != nil {
		if err := m.Graphite.Emit(ctx, servers); err != nil {
			m.Logger.Warn().Err(err).Msg("monitor: graphite emit failed, dropping round")
		}
	}
}

func (m *Monitor) probeOne(ctx context.Context, u *core.Upstream) {
	probeCtx, cancel := context.WithTimeout(ctx, u.MaxWait)
	defer cancel()

	delay, err := probe.RunAliveTest(probeCtx, u)
	var delayPtr *time.Duration
	if err != nil {
		m.Logger.Debug().Str("upstream", u.Tag).Err(err).Msg("monitor: alive test failed")
	} else {
		delayPtr = &delay
	}
	u.Status.UpdateDelay(delayPtr, u.ScoreBase)

	if m.ScoreOverride != nil {
		if override := m.ScoreOverride(u, delayPtr); override != nil {
			u.Status.SetScore(*override)
		}
	}
}
