package nack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func newTestModule(rtt clock.TimeDelta) (*Module, *clock.SimulatedClock, *int, *[][]uint16) {
	clk := clock.NewSimulatedClock(0)
	keyframeRequests := new(int)
	var sentBatches [][]uint16
	m := New(Config{
		Clk: clk,
		RequestKeyFrame: func() {
			*keyframeRequests++
		},
		SendNack: func(seqs []uint16) {
			sentBatches = append(sentBatches, append([]uint16(nil), seqs...))
		},
	})
	m.UpdateRTT(rtt)
	return m, clk, keyframeRequests, &sentBatches
}

func TestGapInsertsMissingSequences(t *testing.T) {
	m, _, _, _ := newTestModule(clock.TimeDeltaFromMilliseconds(20))
	m.OnReceivedPacket(1, false, false)
	m.OnReceivedPacket(3, false, false)
	require.Equal(t, 1, m.Len())
}

func TestNackBurstTriggersKeyframeExactlyOnceAndClears(t *testing.T) {
	m, _, keyframeRequests, _ := newTestModule(clock.TimeDeltaFromMilliseconds(20))
	m.OnReceivedPacket(0, false, false)
	m.OnReceivedPacket(1001, false, false)

	require.Equal(t, 1, *keyframeRequests)
	require.Equal(t, 0, m.Len())
}

func TestKeyframeClearsEntriesUpToItsSequence(t *testing.T) {
	m, _, _, _ := newTestModule(clock.TimeDeltaFromMilliseconds(20))
	m.OnReceivedPacket(0, false, false)
	m.OnReceivedPacket(10, false, false) // gap 1..9
	require.Equal(t, 9, m.Len())

	m.OnReceivedPacket(5, true, false) // keyframe arriving late at seq 5
	require.Equal(t, 4, m.Len())       // 6,7,8,9 remain
}

func TestClearUpToDropsWithoutEmitting(t *testing.T) {
	m, _, _, sent := newTestModule(clock.TimeDeltaFromMilliseconds(20))
	m.OnReceivedPacket(0, false, false)
	m.OnReceivedPacket(100, false, false)
	require.Equal(t, 99, m.Len())

	m.ClearUpTo(50)
	require.Equal(t, 50, m.Len())
	m.PeriodicUpdate()
	require.Len(t, *sent, 1)
	require.Len(t, (*sent)[0], 50)
}

func TestPeriodicUpdateRespectsBackoffAndMaxRetries(t *testing.T) {
	m, clk, _, sent := newTestModule(clock.TimeDeltaFromMilliseconds(20))
	m.OnReceivedPacket(1, false, false)
	m.OnReceivedPacket(3, false, false) // gap: seq 2 missing

	m.PeriodicUpdate()
	require.Len(t, *sent, 1)
	require.Equal(t, []uint16{2}, (*sent)[0])

	// Immediately again: the 40ms backoff hasn't elapsed, no resend.
	m.PeriodicUpdate()
	require.Len(t, *sent, 1)

	clk.AdvanceTime(clock.TimeDeltaFromMilliseconds(41))
	m.PeriodicUpdate()
	require.Len(t, *sent, 2)

	// Drive retries to the cap; each backoff is capped at 40ms.
	for i := 0; i < KMaxRetries-2; i++ {
		clk.AdvanceTime(clock.TimeDeltaFromMilliseconds(41))
		m.PeriodicUpdate()
	}
	require.Equal(t, KMaxRetries, len(*sent))
	require.Equal(t, 1, m.Len())

	// One more tick after the cap: entry is dropped, nothing more sent.
	clk.AdvanceTime(clock.TimeDeltaFromMilliseconds(41))
	m.PeriodicUpdate()
	require.Equal(t, KMaxRetries, len(*sent))
	require.Equal(t, 0, m.Len())
}

func TestSendNackDelaySuppressesImmediateNack(t *testing.T) {
	clk := clock.NewSimulatedClock(0)
	var sentBatches [][]uint16
	m := New(Config{
		Clk:             clk,
		SendNackDelayMs: 10,
		SendNack: func(seqs []uint16) {
			sentBatches = append(sentBatches, seqs)
		},
	})
	m.UpdateRTT(clock.TimeDeltaFromMilliseconds(1))

	m.OnReceivedPacket(0, false, false)
	m.OnReceivedPacket(2, false, false) // gap: seq 1

	m.PeriodicUpdate()
	require.Empty(t, sentBatches)

	clk.AdvanceTime(clock.TimeDeltaFromMilliseconds(10))
	m.PeriodicUpdate()
	require.Len(t, sentBatches, 1)
	require.Equal(t, []uint16{1}, sentBatches[0])
}

func TestRetryIntervalFormula(t *testing.T) {
	require.Equal(t, int64(20), retryIntervalMs(20, 0))
	require.Equal(t, int64(40), retryIntervalMs(20, 1))
	require.Equal(t, int64(40), retryIntervalMs(20, 5)) // capped
	require.Equal(t, int64(1), retryIntervalMs(0, 0))   // floor
}
