package ntp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func TestEstimateUnavailableBeforeAnyMeasurement(t *testing.T) {
	e := New()
	_, ok := e.Estimate(1000)
	require.False(t, ok)
}

func TestEstimateFallsBackToDefaultClockRateWithOneAnchor(t *testing.T) {
	e := New()
	base := clock.NtpTimeFromParts(1000, 0)
	require.True(t, e.UpdateMeasurements(base, 90000))

	// 90000 ticks later at 90 kHz is exactly 1000 ms further.
	ms, ok := e.Estimate(180000)
	require.True(t, ok)
	require.InDelta(t, base.ToMs()+1000, ms, 1)
}

func TestEstimateInterpolatesBetweenTwoAnchors(t *testing.T) {
	e := New()
	anchor1 := clock.NtpTimeFromParts(1000, 0)
	anchor2 := clock.NtpTimeFromParts(1002, 0) // 2000 ms later
	require.True(t, e.UpdateMeasurements(anchor1, 0))
	require.True(t, e.UpdateMeasurements(anchor2, 180000)) // 180000 ticks later

	// Halfway between the two anchors in RTP ticks should land halfway in
	// NTP ms too.
	ms, ok := e.Estimate(90000)
	require.True(t, ok)
	require.InDelta(t, anchor1.ToMs()+1000, ms, 2)
}

func TestEstimateExtrapolatesPastNewestAnchor(t *testing.T) {
	e := New()
	anchor1 := clock.NtpTimeFromParts(1000, 0)
	anchor2 := clock.NtpTimeFromParts(1001, 0)
	e.UpdateMeasurements(anchor1, 0)
	e.UpdateMeasurements(anchor2, 90000)

	ms, ok := e.Estimate(180000)
	require.True(t, ok)
	require.InDelta(t, anchor1.ToMs()+2000, ms, 2)
}

func TestUpdateMeasurementsRejectsStaleTimestamp(t *testing.T) {
	e := New()
	anchor := clock.NtpTimeFromParts(1000, 0)
	require.True(t, e.UpdateMeasurements(anchor, 50000))
	require.False(t, e.UpdateMeasurements(clock.NtpTimeFromParts(999, 0), 40000))
}

func TestEstimateUnwrapsRTPTimestampRollover(t *testing.T) {
	e := New()
	anchor1 := clock.NtpTimeFromParts(1000, 0)
	e.UpdateMeasurements(anchor1, 0xFFFFFFF0)
	anchor2 := clock.NtpTimeFromParts(1001, 0)
	e.UpdateMeasurements(anchor2, 10) // wrapped past 2^32

	ms, ok := e.Estimate(10)
	require.True(t, ok)
	require.InDelta(t, anchor2.ToMs(), ms, 2)
}
