package rollingacc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeMeanMatchesArithmeticMean(t *testing.T) {
	acc := New(5)
	samples := []float64{1, 2, 3, 4, 5}
	sum := 0.0
	for _, s := range samples {
		acc.AddSample(s)
		sum += s
	}
	require.InDelta(t, sum/float64(len(samples)), acc.ComputeMean(), 1e-10)
}

func TestAccumulatorEvictsOldestOnOverflow(t *testing.T) {
	acc := New(3)
	acc.AddSample(1)
	acc.AddSample(2)
	acc.AddSample(3)
	acc.AddSample(4) // evicts 1
	require.Equal(t, 3, acc.Count())
	require.InDelta(t, 3.0, acc.ComputeMean(), 1e-10)
	require.Equal(t, 4.0, acc.ComputeMax())
	require.Equal(t, 2.0, acc.ComputeMin())
}

func TestWeightedMeanFallsBackOutsideRange(t *testing.T) {
	acc := New(3)
	acc.AddSample(1)
	acc.AddSample(2)
	require.Equal(t, acc.ComputeMean(), acc.ComputeWeightedMean(1.5))
}
