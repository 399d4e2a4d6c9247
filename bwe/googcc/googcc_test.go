package googcc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func ts(ms int64) clock.Timestamp { return clock.TimestampFromMilliseconds(ms) }

func TestHighLossDropsTargetBelowStart(t *testing.T) {
	cfg := DefaultConfig(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10_000), clock.DataRateFromKbps(1000))
	c := NewController(cfg)

	feedbacks := []PacketFeedback{
		{SendTime: ts(0), RecvTime: ts(20), Size: 1200},
		{SendTime: ts(6), RecvTime: ts(26), Size: 1200, Lost: true},
		{SendTime: ts(12), RecvTime: ts(32), Size: 1200, Lost: true},
		{SendTime: ts(18), RecvTime: ts(38), Size: 1200},
	}
	// 2 lost out of 4 = 50% loss, well above the 10% high-loss threshold.
	upd := c.OnTransportPacketsFeedback(feedbacks, ts(38), clock.TimeDeltaFromMilliseconds(20))

	require.True(t, upd.Updated)
	require.Less(t, upd.TargetBitrate.BitsPerSec(), int64(1_000_000))
}

func TestRttBackoffDropsBitrateAfterProlongedSilence(t *testing.T) {
	cfg := DefaultConfig(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10_000), clock.DataRateFromKbps(1000))
	c := NewController(cfg)

	c.OnSentPacket(ts(0))
	// No feedback arrives for 5s: the corrected RTT (5s) exceeds the 3s
	// RTT-backoff limit, so the controller drops to 0.8x regardless of loss.
	feedbackTime := ts(5000)
	upd := c.OnTransportPacketsFeedback(
		[]PacketFeedback{{SendTime: ts(4900), RecvTime: ts(5000), Size: 1200}},
		feedbackTime, clock.TimeDeltaFromMilliseconds(20),
	)

	require.True(t, upd.Updated)
	require.InDelta(t, 1_000_000.0*0.8, float64(upd.TargetBitrate.BitsPerSec()), 1)
}

func TestRttBackoffDecreaseGatedToOncePerDropInterval(t *testing.T) {
	cfg := DefaultConfig(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10_000), clock.DataRateFromKbps(1000))
	c := NewController(cfg)
	c.OnSentPacket(ts(0))

	first := c.OnTransportPacketsFeedback(
		[]PacketFeedback{{SendTime: ts(4900), RecvTime: ts(5000), Size: 1200}},
		ts(5000), clock.TimeDeltaFromMilliseconds(20),
	)
	// Still silent, 500ms later: within the 1s drop interval, no further drop.
	second := c.OnTransportPacketsFeedback(
		[]PacketFeedback{{SendTime: ts(5400), RecvTime: ts(5500), Size: 1200}},
		ts(5500), clock.TimeDeltaFromMilliseconds(20),
	)
	require.Equal(t, first.TargetBitrate.BitsPerSec(), second.TargetBitrate.BitsPerSec())
}

func TestZeroLossDuringStartPhaseTrustsDelayBasedCeiling(t *testing.T) {
	cfg := DefaultConfig(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10_000), clock.DataRateFromKbps(500))
	c := NewController(cfg)

	var upd Update
	for i := int64(1); i <= 5; i++ {
		sendMs := i * 20
		recvMs := sendMs
		upd = c.OnTransportPacketsFeedback(
			[]PacketFeedback{{SendTime: ts(sendMs), RecvTime: ts(recvMs), Size: 1200}},
			ts(recvMs), clock.TimeDeltaFromMilliseconds(20),
		)
	}

	require.True(t, upd.Updated)
	require.Greater(t, upd.TargetBitrate.BitsPerSec(), int64(500_000), "zero loss in the 2s start phase should ramp toward the delay-based ceiling rather than stay flat")
}

func TestEmptyFeedbackIsANoOp(t *testing.T) {
	cfg := DefaultConfig(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10_000), clock.DataRateFromKbps(500))
	c := NewController(cfg)
	upd := c.OnTransportPacketsFeedback(nil, ts(0), clock.TimeDeltaFromMilliseconds(20))
	require.False(t, upd.Updated)
}
