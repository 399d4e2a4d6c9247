package ackedbitrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func TestEstimateUnavailableBeforeWindowCloses(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	_, ok := e.Estimate()
	require.False(t, ok)

	e.Update(clock.TimestampFromMilliseconds(0), 1250, false)
	_, ok = e.Estimate()
	require.False(t, ok, "initial 500ms window hasn't closed yet")
}

func TestEstimateInitializesOnFirstClosedWindow(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	t0 := int64(0)
	for i := 0; i < 30; i++ {
		e.Update(clock.TimestampFromMilliseconds(t0), 1250, false)
		t0 += 20
	}
	rate, ok := e.Estimate()
	require.True(t, ok)
	require.Greater(t, rate.BitsPerSec(), int64(0))
}

func TestEstimateConvergesTowardSteadyRate(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	t0 := int64(0)
	// 1250 bytes every 20ms == 500000 bits/sec == 500 kbps.
	for i := 0; i < 100; i++ {
		e.Update(clock.TimestampFromMilliseconds(t0), 1250, false)
		t0 += 20
	}
	rate, ok := e.Estimate()
	require.True(t, ok)
	require.InDelta(t, 500000.0, float64(rate.BitsPerSec()), 50000)
}

func TestTimeGoingBackwardsResetsWindow(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	e.Update(clock.TimestampFromMilliseconds(1000), 1250, false)
	e.Update(clock.TimestampFromMilliseconds(500), 1250, false) // time moves backward
	_, ok := e.PeekRate()
	require.False(t, ok, "a backward time jump resets the in-progress window")
}

func TestAcknowledgedEstimatorForwardsFeedbackInOrder(t *testing.T) {
	a := NewAcknowledgedEstimator(DefaultConfig())
	feedbacks := make([]PacketFeedback, 0, 30)
	t0 := int64(0)
	for i := 0; i < 30; i++ {
		feedbacks = append(feedbacks, PacketFeedback{RecvTime: clock.TimestampFromMilliseconds(t0), Size: 1250})
		t0 += 20
	}
	a.IncomingPacketFeedback(feedbacks)
	rate, ok := a.Estimate()
	require.True(t, ok)
	require.Greater(t, rate.BitsPerSec(), int64(0))
}
