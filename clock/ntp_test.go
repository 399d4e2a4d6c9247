package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNtpTimeValidity(t *testing.T) {
	require.False(t, NewNtpTime(0).Valid())
	require.True(t, NtpTimeFromParts(1, 0).Valid())
}

func TestNtpTimeRoundTripsThroughParts(t *testing.T) {
	n := NtpTimeFromParts(0x12345678, 0x9ABCDEF0)
	require.Equal(t, uint32(0x12345678), n.Seconds())
	require.Equal(t, uint32(0x9ABCDEF0), n.Fractions())
}

func TestQ32x32RoundTripIsIdentityForRepresentableValues(t *testing.T) {
	for _, ms := range []int64{0, 1, -1, 1000, -1000, 123456789} {
		q := Int64MsToQ32x32(ms)
		got := Q32x32ToInt64Ms(q)
		require.Equal(t, ms, got, "ms=%d", ms)
	}
}

func TestQ32x32SaturatesOutsideRange(t *testing.T) {
	require.Equal(t, int64(1<<63-1), Int64MsToQ32x32(1<<62))
	require.Equal(t, int64(-1<<63), Int64MsToQ32x32(-(1 << 62)))
}

func TestCompactNtpMatchesScenarioFromSpec(t *testing.T) {
	// Scenario 3 in spec §8: compact_ntp=0x12345678 echoed back with a 1 s
	// delay_since_last_sr, received 2 s later -> RTT ~= 1000ms.
	sent := uint32(0x12345678)
	delaySinceLastSR := uint32(0x00010000) // 1s in compact-NTP units (1<<16)
	nowCompact := sent + 0x00020000        // 2s later

	rttCompact := nowCompact - sent - delaySinceLastSR
	rttMs := int64(rttCompact) * 1000 / (1 << 16)
	require.InDelta(t, 1000, rttMs, 1)
}
