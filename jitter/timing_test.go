package jitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func TestRenderTimeMsAnchorsOnFirstFrame(t *testing.T) {
	timing := NewTiming(nil, 90000)
	rt := timing.RenderTimeMs(1000, 5000)
	require.GreaterOrEqual(t, rt, int64(5000))
}

func TestRenderTimeMsProjectsFutureTimestampsForward(t *testing.T) {
	timing := NewTiming(nil, 90000)
	first := timing.RenderTimeMs(0, 1000)
	// 90000 ticks == 1 second at a 90kHz clock rate.
	second := timing.RenderTimeMs(90000, 2000)
	require.Greater(t, second, first)
}

func TestRenderTimeMsRespectsMinPlayoutDelayFloor(t *testing.T) {
	timing := NewTiming(nil, 90000)
	timing.SetMinPlayoutDelay(200)
	rt := timing.RenderTimeMs(0, 1000)
	require.GreaterOrEqual(t, rt, int64(1200))
}

func TestRenderTimeMsUnwrapsTimestampRollover(t *testing.T) {
	timing := NewTiming(nil, 90000)
	_ = timing.RenderTimeMs(0xFFFFFFF0, 1000)
	after := timing.RenderTimeMs(10, 1001)
	require.Greater(t, after, int64(1000))
}

func TestRenderTimeMsReanchorsOnLargeJump(t *testing.T) {
	timing := NewTiming(nil, 90000)
	_ = timing.RenderTimeMs(0, 1000)
	// A receive time wildly inconsistent with the RTP-clock projection
	// (e.g. a stream restart) should re-anchor rather than extrapolate a
	// stale base far into the past or future.
	rt := timing.RenderTimeMs(90000, 100000)
	require.InDelta(t, 100000, rt, 100)
}

func TestRenderTimeMsAddsJitterEstimate(t *testing.T) {
	clk := clock.NewSimulatedClock(0)
	e := NewEstimator(clk)
	e.UpdateEstimate(5, 1000, false)

	timing := NewTiming(e, 90000)
	withJitter := timing.RenderTimeMs(0, 1000)

	plain := NewTiming(nil, 90000)
	withoutJitter := plain.RenderTimeMs(0, 1000)

	require.GreaterOrEqual(t, withJitter, withoutJitter)
}
