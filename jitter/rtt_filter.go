// Package jitter implements the receive-side Kalman jitter estimator, its
// companion RTT filter, and render-time extrapolation (spec §4.9).
package jitter

import "math"

const (
	maxRTTMs           = 3000
	maxSampleCount     = 35
	jumpStdDev         = 2.5
	driftStdDev        = 3.5
	detectThreshold    = 5
)

// RTTFilter smooths a stream of RTT samples with a moving average, and
// folds in a short "jump"/"drift" buffer so a run of samples that moved
// sharply away from the average resets the filter onto the new regime
// instead of slowly dragging toward it one sample at a time (spec §4.9:
// "RTT filter").
type RTTFilter struct {
	haveFirstNonZero bool
	avgRTT           float64
	varRTT           float64
	maxRTT           float64
	jumpCount        int
	driftCount       int
	sampleCount      int

	jumpBuffer  [detectThreshold]float64
	driftBuffer [detectThreshold]float64
}

// NewRTTFilter returns a filter ready to accept samples.
func NewRTTFilter() *RTTFilter {
	f := &RTTFilter{}
	f.Reset()
	return f
}

// Reset clears all accumulated state.
func (f *RTTFilter) Reset() {
	f.haveFirstNonZero = false
	f.avgRTT = 0
	f.varRTT = 0
	f.maxRTT = 0
	f.jumpCount = 0
	f.driftCount = 0
	f.sampleCount = 1
	f.jumpBuffer = [detectThreshold]float64{}
	f.driftBuffer = [detectThreshold]float64{}
}

// AddRtt folds a new RTT sample, in milliseconds, into the filter.
func (f *RTTFilter) AddRtt(rttMs int64) {
	if !f.haveFirstNonZero {
		if rttMs == 0 {
			return
		}
		f.haveFirstNonZero = true
	}
	if rttMs > maxRTTMs {
		rttMs = maxRTTMs
	}

	filtFactor := 0.0
	if f.sampleCount > 1 {
		filtFactor = float64(f.sampleCount-1) / float64(f.sampleCount)
	}
	f.sampleCount++
	if f.sampleCount > maxSampleCount {
		f.sampleCount = maxSampleCount
	}

	oldAvg, oldVar := f.avgRTT, f.varRTT
	sample := float64(rttMs)
	f.avgRTT = filtFactor*f.avgRTT + (1-filtFactor)*sample
	f.varRTT = filtFactor*f.varRTT + (1-filtFactor)*math.Pow(sample-f.avgRTT, 2)
	if sample > f.maxRTT {
		f.maxRTT = sample
	}

	if !f.jumpDetection(sample) || !f.driftDetection(sample) {
		f.avgRTT, f.varRTT = oldAvg, oldVar
	}
}

func (f *RTTFilter) jumpDetection(rttMs float64) bool {
	diffFromAvg := f.avgRTT - rttMs
	if math.Abs(diffFromAvg) <= jumpStdDev*math.Sqrt(f.varRTT) {
		f.jumpCount = 0
		return true
	}

	diffSign := 1
	if diffFromAvg < 0 {
		diffSign = -1
	}
	jumpSign := 1
	if f.jumpCount < 0 {
		jumpSign = -1
	}
	if diffSign != jumpSign {
		f.jumpCount = 0
	}
	if abs(f.jumpCount) < detectThreshold {
		f.jumpBuffer[abs(f.jumpCount)] = rttMs
		f.jumpCount += diffSign
	}
	if abs(f.jumpCount) >= detectThreshold {
		f.updateFromBuffer(f.jumpBuffer[:], abs(f.jumpCount))
		f.sampleCount = detectThreshold + 1
		f.jumpCount = 0
		return true
	}
	return false
}

func (f *RTTFilter) driftDetection(rttMs float64) bool {
	if f.maxRTT-f.avgRTT <= driftStdDev*math.Sqrt(f.varRTT) {
		f.driftCount = 0
		return true
	}
	if f.driftCount < detectThreshold {
		f.driftBuffer[f.driftCount] = rttMs
		f.driftCount++
	}
	if f.driftCount >= detectThreshold {
		f.updateFromBuffer(f.driftBuffer[:], f.driftCount)
		f.sampleCount = detectThreshold + 1
		f.driftCount = 0
	}
	return true
}

func (f *RTTFilter) updateFromBuffer(buf []float64, count int) {
	if count == 0 {
		return
	}
	f.maxRTT = 0
	sum := 0.0
	for i := 0; i < count; i++ {
		if buf[i] > f.maxRTT {
			f.maxRTT = buf[i]
		}
		sum += buf[i]
	}
	f.avgRTT = sum / float64(count)
}

// RttMs returns the current RTT estimate, in milliseconds.
func (f *RTTFilter) RttMs() int64 {
	return int64(f.maxRTT + 0.5)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
