package jitter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRTTFilterIgnoresLeadingZero(t *testing.T) {
	f := NewRTTFilter()
	f.AddRtt(0)
	require.Equal(t, int64(0), f.RttMs())
}

func TestRTTFilterConvergesOnStableSamples(t *testing.T) {
	f := NewRTTFilter()
	for i := 0; i < 50; i++ {
		f.AddRtt(100)
	}
	require.InDelta(t, 100, f.RttMs(), 2)
}

func TestRTTFilterCapsAtMaxRtt(t *testing.T) {
	f := NewRTTFilter()
	for i := 0; i < 10; i++ {
		f.AddRtt(10000)
	}
	require.LessOrEqual(t, f.RttMs(), int64(maxRTTMs))
}

func TestRTTFilterSustainedJumpMovesEstimate(t *testing.T) {
	f := NewRTTFilter()
	for i := 0; i < 20; i++ {
		f.AddRtt(50)
	}
	before := f.RttMs()
	for i := 0; i < detectThreshold+2; i++ {
		f.AddRtt(500)
	}
	after := f.RttMs()
	require.Greater(t, after, before)
}
