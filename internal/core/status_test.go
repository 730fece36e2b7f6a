package core

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusUpdateDelaySetsScore(t *testing.T) {
	s := NewStatus()
	snap := s.Snapshot()
	assert.False(t, snap.DelayOK)
	assert.False(t, snap.ScoreOK)

	d := 42 * time.Millisecond
	s.UpdateDelay(&d, 10)
	snap = s.Snapshot()
	assert.True(t, snap.DelayOK)
	assert.Equal(t, 42*time.Millisecond, snap.Delay)
	assert.True(t, snap.ScoreOK)
	assert.Equal(t, int32(52), snap.Score) // base 10 + delay 42ms + 0 penalty

	s.UpdateDelay(nil, 10)
	snap = s.Snapshot()
	assert.False(t, snap.DelayOK)
	assert.False(t, snap.ScoreOK)
	assert.Equal(t, int32(math.MaxInt32), s.EffectiveScore())
}

func TestStatusErrorPenaltyIncreasesWithRate(t *testing.T) {
	s := NewStatus()
	for i := 0; i < 10; i++ {
		s.OnConnOpen()
	}
	for i := 0; i < 5; i++ {
		s.OnConnClose(true)
	}
	d := 0 * time.Millisecond
	s.UpdateDelay(&d, 0)
	snap := s.Snapshot()
	assert.Equal(t, uint64(10), snap.ConnTotal)
	assert.Equal(t, uint64(5), snap.ConnAlive) // 10 opened, 5 closed
	assert.Equal(t, uint64(5), snap.ConnError)
	assert.Greater(t, snap.Score, int32(0))
}

func TestStatusAliveNeverExceedsTotal(t *testing.T) {
	s := NewStatus()
	s.OnConnOpen()
	s.OnConnOpen()
	s.OnConnClose(false)
	snap := s.Snapshot()
	assert.LessOrEqual(t, snap.ConnAlive, snap.ConnTotal)
	assert.LessOrEqual(t, snap.ConnError, snap.ConnTotal)
}

func TestStatusTrafficMonotonic(t *testing.T) {
	s := NewStatus()
	s.AddTraffic(10, 20)
	s.AddTraffic(5, 0)
	tx, rx := s.Traffic()
	assert.Equal(t, uint64(15), tx)
	assert.Equal(t, uint64(20), rx)
}

func TestStatusReplaceFromPreservesCounters(t *testing.T) {
	prev := NewStatus()
	prev.OnConnOpen()
	prev.OnConnOpen()
	prev.OnConnClose(false)
	d := 7 * time.Millisecond
	prev.UpdateDelay(&d, 3)

	next := NewStatus()
	next.ReplaceFrom(prev)

	prevSnap, nextSnap := prev.Snapshot(), next.Snapshot()
	assert.Equal(t, prevSnap.ConnTotal, nextSnap.ConnTotal)
	assert.Equal(t, prevSnap.ConnAlive, nextSnap.ConnAlive)
	assert.Equal(t, prevSnap.Score, nextSnap.Score)
}
