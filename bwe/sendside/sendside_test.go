package sendside

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func TestHighLossDecreasesBitrate(t *testing.T) {
	c := NewController(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10000), clock.DataRateFromKbps(1000))
	now := clock.TimestampFromMilliseconds(0)
	// fraction_lost = 64/256 = 25% loss, above the 10% high-loss threshold.
	got := c.UpdateEstimate(64, now)
	require.InDelta(t, 1000000.0*(1-0.5*0.25), float64(got.BitsPerSec()), 1)
}

func TestDecreaseGatedToOncePer300Ms(t *testing.T) {
	c := NewController(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10000), clock.DataRateFromKbps(1000))
	now := clock.TimestampFromMilliseconds(0)
	first := c.UpdateEstimate(64, now)

	now = now.Add(clock.TimeDeltaFromMilliseconds(100))
	second := c.UpdateEstimate(64, now)
	require.Equal(t, first.BitsPerSec(), second.BitsPerSec(), "within 300ms of the last decrease, no further reduction")

	now = now.Add(clock.TimeDeltaFromMilliseconds(250))
	third := c.UpdateEstimate(64, now)
	require.Less(t, third.BitsPerSec(), second.BitsPerSec())
}

func TestModerateLossHoldsBitrate(t *testing.T) {
	c := NewController(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10000), clock.DataRateFromKbps(1000))
	now := clock.TimestampFromMilliseconds(0)
	before := c.TargetBitrate()
	// fraction_lost = 13/256 ≈ 5%, within the 2%-10% hold band.
	after := c.UpdateEstimate(13, now)
	require.Equal(t, before.BitsPerSec(), after.BitsPerSec())
}

func TestLowLossIncreasesBoundedByEightPercentPerSecond(t *testing.T) {
	c := NewController(clock.DataRateFromKbps(10), clock.DataRateFromKbps(1_000_000), clock.DataRateFromKbps(1000))
	now := clock.TimestampFromMilliseconds(0)
	c.UpdateEstimate(0, now) // first call only seeds lastUpdateTime, no increase yet

	now = now.Add(clock.TimeDeltaFromMilliseconds(1000))
	after := c.UpdateEstimate(0, now)
	require.InDelta(t, 1000000.0*1.08, float64(after.BitsPerSec()), 1)
}

func TestClampsToMinAndMax(t *testing.T) {
	min := clock.DataRateFromKbps(500)
	max := clock.DataRateFromKbps(1100)
	c := NewController(min, max, clock.DataRateFromKbps(1000))
	now := clock.TimestampFromMilliseconds(0)
	for i := 0; i < 5; i++ {
		c.UpdateEstimate(0, now)
		now = now.Add(clock.TimeDeltaFromMilliseconds(1000))
	}
	require.LessOrEqual(t, c.TargetBitrate().BitsPerSec(), max.BitsPerSec())

	now = now.Add(clock.TimeDeltaFromMilliseconds(1000))
	for i := 0; i < 10; i++ {
		c.UpdateEstimate(255, now)
		now = now.Add(clock.TimeDeltaFromMilliseconds(300))
	}
	require.GreaterOrEqual(t, c.TargetBitrate().BitsPerSec(), min.BitsPerSec())
}
