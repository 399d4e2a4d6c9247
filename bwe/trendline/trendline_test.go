package trendline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func TestEqualSendAndArrivalDeltasStayNormal(t *testing.T) {
	e := NewEstimator()
	for i := int64(1); i <= 30; i++ {
		s := e.Update(clock.ZeroTimeDelta(), clock.ZeroTimeDelta(), i*20)
		require.Equal(t, Normal, s)
	}
}

func TestSustainedGrowingDelayTripsOverusing(t *testing.T) {
	e := NewEstimator()
	var last State
	for i := int64(1); i <= 60; i++ {
		last = e.Update(clock.ZeroTimeDelta(), clock.TimeDeltaFromMilliseconds(20), i*20)
	}
	require.Equal(t, Overusing, last)
	require.Equal(t, Overusing, e.State())
}

func TestSustainedShrinkingDelayTripsUnderusing(t *testing.T) {
	e := NewEstimator()
	var last State
	for i := int64(1); i <= 60; i++ {
		last = e.Update(clock.TimeDeltaFromMilliseconds(20), clock.ZeroTimeDelta(), i*20)
	}
	require.Equal(t, Underusing, last)
}

func TestResetClearsState(t *testing.T) {
	e := NewEstimator()
	for i := int64(1); i <= 60; i++ {
		e.Update(clock.ZeroTimeDelta(), clock.TimeDeltaFromMilliseconds(20), i*20)
	}
	require.Equal(t, Overusing, e.State())
	e.Reset()
	require.Equal(t, Normal, e.State())
	require.Empty(t, e.history)
}

func TestStateStringValues(t *testing.T) {
	require.Equal(t, "normal", Normal.String())
	require.Equal(t, "overusing", Overusing.String())
	require.Equal(t, "underusing", Underusing.String())
}
