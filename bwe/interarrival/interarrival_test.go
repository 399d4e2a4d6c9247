package interarrival

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func ts(ms int64) clock.Timestamp { return clock.TimestampFromMilliseconds(ms) }

// Spec §8: three groups each containing one packet 6ms apart emit two
// deltas whose send_time_delta == 6ms. A delta is emitted when a group
// closes, so the second delta comes with the packet that closes the third
// group.
func TestThreeGroupsSixMsApartEmitTwoSixMsDeltas(t *testing.T) {
	e := NewEstimator()

	_, ok := e.ComputeDeltas(ts(0), ts(0), ts(0), 100)
	require.False(t, ok)

	_, ok = e.ComputeDeltas(ts(6), ts(6), ts(6), 100)
	require.False(t, ok, "closing the first group has nothing to compare against")

	d1, ok := e.ComputeDeltas(ts(12), ts(12), ts(12), 100)
	require.True(t, ok)
	require.Equal(t, int64(6), d1.SendTimeDelta.Milliseconds())
	require.Equal(t, int64(6), d1.ArrivalTimeDelta.Milliseconds())

	d2, ok := e.ComputeDeltas(ts(18), ts(18), ts(18), 100)
	require.True(t, ok)
	require.Equal(t, int64(6), d2.SendTimeDelta.Milliseconds())
}

func TestPacketsWithinSpanAreGrouped(t *testing.T) {
	e := NewEstimator()
	e.ComputeDeltas(ts(0), ts(0), ts(0), 100)
	_, ok := e.ComputeDeltas(ts(2), ts(2), ts(2), 100)
	require.False(t, ok, "2ms apart stays within the 5ms group span")
}

func TestBurstMergeJoinsCurrentGroupDespiteSpan(t *testing.T) {
	e := NewEstimator()
	e.ComputeDeltas(ts(0), ts(0), ts(0), 100)
	// Sent 10ms apart (beyond the 5ms span) but arrives only 1ms later
	// than the previous packet (a burst): should merge into the current
	// group rather than start a new one.
	_, ok := e.ComputeDeltas(ts(10), ts(1), ts(1), 100)
	require.False(t, ok)
}

func TestClockJumpResetsGrouping(t *testing.T) {
	e := NewEstimator()
	e.ComputeDeltas(ts(0), ts(0), ts(0), 100)
	// arrival jumps 4s ahead of send/system time: treated as a clock jump.
	_, ok := e.ComputeDeltas(ts(10), ts(4010), ts(10), 100)
	require.False(t, ok)
	require.True(t, e.curr.hasPackets)
	require.Equal(t, int64(10), e.curr.firstSendTime.Milliseconds())
}

func TestNewGroupAcrossSpanEmitsDeltaAgainstPreviousGroup(t *testing.T) {
	e := NewEstimator()
	e.ComputeDeltas(ts(0), ts(0), ts(0), 100)     // group A
	e.ComputeDeltas(ts(100), ts(100), ts(100), 100) // closes A, opens group B
	d, ok := e.ComputeDeltas(ts(250), ts(250), ts(250), 100) // closes B, opens group C
	require.True(t, ok)
	require.Equal(t, int64(100), d.SendTimeDelta.Milliseconds())
	require.Equal(t, int64(100), d.ArrivalTimeDelta.Milliseconds())
}
