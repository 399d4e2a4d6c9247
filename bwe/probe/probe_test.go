package probe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

const (
	defaultMinProbes = 5
	defaultMinBytes  = 5000
)

func feedback(clusterID, sizeBytes int, sendMs, recvMs int64, minProbes, minBytes int) PacketFeedback {
	const referenceMs = 1000 * 1000
	return PacketFeedback{
		ClusterID: clusterID,
		MinProbes: minProbes,
		MinBytes:  minBytes,
		SendTime:  clock.TimestampFromMilliseconds(referenceMs + sendMs),
		RecvTime:  clock.TimestampFromMilliseconds(referenceMs + recvMs),
		Size:      sizeBytes,
	}
}

// Spec §8: 4 packets of 1KiB sent/received 10ms apart → ≈800kbps. Mirrors
// the original ProbeBitrateEstimatorTest.OneCluster case.
func TestOneClusterFourProbesEstimatesEightHundredKbps(t *testing.T) {
	e := NewEstimator()
	var rate clock.DataRate
	var ok bool
	rate, ok = e.IncomingProbePacket(feedback(0, 1000, 0, 10, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)
	rate, ok = e.IncomingProbePacket(feedback(0, 1000, 10, 20, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)
	rate, ok = e.IncomingProbePacket(feedback(0, 1000, 20, 30, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)
	rate, ok = e.IncomingProbePacket(feedback(0, 1000, 30, 40, defaultMinProbes, defaultMinBytes))
	require.True(t, ok)
	require.InDelta(t, 800000, rate.BitsPerSec(), 10)
}

func TestOneClusterTooFewProbesStaysInvalid(t *testing.T) {
	e := NewEstimator()
	_, ok := e.IncomingProbePacket(feedback(0, 1000, 0, 10, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)
	_, ok = e.IncomingProbePacket(feedback(0, 1000, 10, 20, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)
	_, ok = e.IncomingProbePacket(feedback(0, 1000, 20, 30, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)

	estimate, ok := e.Estimate(true)
	require.False(t, ok)
	require.Zero(t, estimate.BitsPerSec())
}

func TestOneClusterTooFewBytesStaysInvalid(t *testing.T) {
	const minBytes = 6000
	e := NewEstimator()
	var lastOK bool
	for _, send := range []int64{0, 10, 20, 30, 40} {
		_, lastOK = e.IncomingProbePacket(feedback(0, 800, send, send+10, defaultMinProbes, minBytes))
	}
	require.False(t, lastOK, "4000 accumulated bytes never reaches 0.8*6000")
	_, ok := e.Estimate(true)
	require.False(t, ok)
}

func TestReceiveRateFarAboveSendRateIsRejected(t *testing.T) {
	e := NewEstimator()
	// Sent 10ms apart (spanning 30ms) but received in a burst spanning only 5ms:
	// receive rate would be >2x the send rate.
	e.IncomingProbePacket(feedback(0, 1000, 0, 0, defaultMinProbes, defaultMinBytes))
	e.IncomingProbePacket(feedback(0, 1000, 10, 1, defaultMinProbes, defaultMinBytes))
	e.IncomingProbePacket(feedback(0, 1000, 20, 2, defaultMinProbes, defaultMinBytes))
	_, ok := e.IncomingProbePacket(feedback(0, 1000, 30, 5, defaultMinProbes, defaultMinBytes))
	require.False(t, ok)
}

func TestUnsaturatedLinkScalesEstimateDown(t *testing.T) {
	e := NewEstimator()
	// Sent 10ms apart, received 20ms apart: recv rate is half the send
	// rate, well under the 0.9 threshold, so the result is scaled by 0.95
	// of the receive rate rather than taking min(send, recv) directly.
	e.IncomingProbePacket(feedback(0, 1000, 0, 0, defaultMinProbes, defaultMinBytes))
	e.IncomingProbePacket(feedback(0, 1000, 10, 20, defaultMinProbes, defaultMinBytes))
	e.IncomingProbePacket(feedback(0, 1000, 20, 40, defaultMinProbes, defaultMinBytes))
	rate, ok := e.IncomingProbePacket(feedback(0, 1000, 30, 60, defaultMinProbes, defaultMinBytes))
	require.True(t, ok)

	sendBitrate := float64(3000*8) * 1000.0 / 30.0
	recvBitrate := float64(3000*8) * 1000.0 / 60.0
	require.Less(t, recvBitrate, 0.9*sendBitrate)
	require.InDelta(t, 0.95*recvBitrate, float64(rate.BitsPerSec()), 10)
}

func TestEstimateResetsAfterReadingWhenRequested(t *testing.T) {
	e := NewEstimator()
	for _, send := range []int64{0, 10, 20, 30} {
		e.IncomingProbePacket(feedback(0, 1000, send, send+10, defaultMinProbes, defaultMinBytes))
	}
	_, ok := e.Estimate(true)
	require.True(t, ok)
	_, ok = e.Estimate(true)
	require.False(t, ok, "estimate is cleared after being read once")
}
