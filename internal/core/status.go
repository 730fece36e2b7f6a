package core

import (
	"math"
	"sync/atomic"
	"time"
)

// noDelay marks Status.delayMs as "no measurement" without needing a
// pointer or a separate boolean under separate synchronization; -1 is not
// a valid millisecond delay.
const noDelay int64 = -1

// noScore marks Status.score as "unset" the same way.
const noScore int64 = math.MinInt32 - 1

// Status is the mutable, atomically-updated portion of an Upstream: the
// last measured delay, the composed score, traffic totals, and connection
// counters (§3). Every field is updated lock-free; Snapshot reads a
// consistent-enough view for reporting (not a transaction).
type Status struct {
	delayMs int64 // atomic; noDelay when absent
	score   int64 // atomic; noScore when absent

	txBytes uint64 // atomic
	rxBytes uint64 // atomic

	connTotal uint64 // atomic
	connAlive uint64 // atomic
	connError uint64 // atomic
}

// NewStatus returns a Status with no delay/score and zeroed counters.
func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.delayMs, noDelay)
	atomic.StoreInt64(&s.score, noScore)
	return s
}

// StatusSnapshot is a consistent-enough point-in-time read of a Status.
type StatusSnapshot struct {
	Delay     time.Duration // zero if unmeasured; use DelayOK
	DelayOK   bool
	Score     int32
	ScoreOK   bool
	TxBytes   uint64
	RxBytes   uint64
	ConnTotal uint64
	ConnAlive uint64
	ConnError uint64
}

// Snapshot returns a consistent-enough snapshot of the status counters and
// traffic (§4.3: "status_snapshot() returns a consistent snapshot").
func (s *Status) Snapshot() StatusSnapshot {
	var snap StatusSnapshot
	if ms := atomic.LoadInt64(&s.delayMs); ms != noDelay {
		snap.Delay = time.Duration(ms) * time.Millisecond
		snap.DelayOK = true
	}
	if sc := atomic.LoadInt64(&s.score); sc != noScore {
		snap.Score = int32(sc)
		snap.ScoreOK = true
	}
	snap.TxBytes = atomic.LoadUint64(&s.txBytes)
	snap.RxBytes = atomic.LoadUint64(&s.rxBytes)
	snap.ConnTotal = atomic.LoadUint64(&s.connTotal)
	snap.ConnAlive = atomic.LoadUint64(&s.connAlive)
	snap.ConnError = atomic.LoadUint64(&s.connError)
	return snap
}

// UpdateDelay sets the latest probe delay (or clears it, on nil) and
// recomputes the score as base + delay_ms + error_penalty(err_rate), per
// §4.3. A missing delay clears the score entirely: an upstream with no
// recent successful probe should sort to the back, not merely worse.
func (s *Status) UpdateDelay(delay *time.Duration, scoreBase int32) {
	if delay == nil {
		atomic.StoreInt64(&s.delayMs, noDelay)
		atomic.StoreInt64(&s.score, noScore)
		return
	}
	ms := delay.Milliseconds()
	atomic.StoreInt64(&s.delayMs, ms)

	total := atomic.LoadUint64(&s.connTotal)
	errs := atomic.LoadUint64(&s.connError)
	penalty := errorPenalty(errorRate(total, errs))
	score := int64(scoreBase) + ms + int64(penalty)
	atomic.StoreInt64(&s.score, score)
}

// SetScore forcibly overrides the computed score, used by an external
// score-override hook (e.g. a resident scoring script) that wants to
// adjust an upstream's effective sort key without touching the delay
// measurement that produced it.
func (s *Status) SetScore(score int32) {
	atomic.StoreInt64(&s.score, int64(score))
}

// errorRate is conn_error / max(conn_total, 1), per §4.3.
func errorRate(total, errs uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(errs) / float64(total)
}

// errorPenalty is a monotone function of err_rate, zero at err_rate=0 and
// strictly increasing, scaled so a fully-failing upstream is penalized by
// roughly half a second — enough to sort it behind any merely-slow but
// reliable upstream without needing floating scores end to end.
func errorPenalty(errRate float64) int32 {
	return int32(errRate * 500)
}

// OnConnOpen increments total and alive connection counters (§3: "on every
// connection open total and alive increment").
func (s *Status) OnConnOpen() {
	atomic.AddUint64(&s.connTotal, 1)
	atomic.AddUint64(&s.connAlive, 1)
}

// OnConnClose decrements alive and, if failed is true, increments the
// error counter (§3: "on close alive decrements and, if the pipe returned
// an error, error increments").
func (s *Status) OnConnClose(failed bool) {
	atomic.AddUint64(&s.connAlive, ^uint64(0)) // -1
	if failed {
		atomic.AddUint64(&s.connError, 1)
	}
}

// AddTraffic adds tx/rx byte counts observed on this upstream's pipe. tx is
// bytes the upstream sent outward on behalf of the client; rx is bytes the
// upstream delivered back (§9 open question (b): do not invert this).
func (s *Status) AddTraffic(tx, rx uint64) {
	if tx > 0 {
		atomic.AddUint64(&s.txBytes, tx)
	}
	if rx > 0 {
		atomic.AddUint64(&s.rxBytes, rx)
	}
}

// Traffic returns the current (tx, rx) byte totals, for the throughput
// sampler.
func (s *Status) Traffic() (tx, rx uint64) {
	return atomic.LoadUint64(&s.txBytes), atomic.LoadUint64(&s.rxBytes)
}

// EffectiveScore returns the current score, or math.MaxInt32 if unset, for
// use as a sort key (§4.4: "score.unwrap_or(I32_MAX)").
func (s *Status) EffectiveScore() int32 {
	sc := atomic.LoadInt64(&s.score)
	if sc == noScore {
		return math.MaxInt32
	}
	return int32(sc)
}

// ReplaceFrom copies atomic counters and the last delay from a prior
// Status with the same upstream identity, preserving scoring history and
// traffic counters across a reload (§4.3, §4.7).
func (s *Status) ReplaceFrom(prev *Status) {
	if prev == nil {
		return
	}
	atomic.StoreInt64(&s.delayMs, atomic.LoadInt64(&prev.delayMs))
	atomic.StoreInt64(&s.score, atomic.LoadInt64(&prev.score))
	atomic.StoreUint64(&s.txBytes, atomic.LoadUint64(&prev.txBytes))
	atomic.StoreUint64(&s.rxBytes, atomic.LoadUint64(&prev.rxBytes))
	atomic.StoreUint64(&s.connTotal, atomic.LoadUint64(&prev.connTotal))
	atomic.StoreUint64(&s.connAlive, atomic.LoadUint64(&prev.connAlive))
	atomic.StoreUint64(&s.connError, atomic.LoadUint64(&prev.connError))
}
