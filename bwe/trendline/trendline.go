// Package trendline turns the (send_time_delta, arrival_time_delta,
// packet_size_delta) samples emitted by the inter-arrival grouper into a
// bandwidth-usage state by fitting a least-squares slope to the accumulated
// delay variation and comparing it against an adaptive threshold (module
// table §4.12 "Trendline estimator").
//
// No trendline_estimator.cpp/.hpp exists anywhere in the retrieval pack
// (goog_cc's delay_based_bwe.cpp only constructs a TrendlineEstimator by
// name); the windowed-regression algorithm below follows spec §4.12's prose
// directly, using the same accumulated-delay + adaptive-threshold shape the
// spec describes rather than reproducing an unavailable original.
package trendline

import "github.com/arzzra/rtprtcp/clock"

// State is the detector's bandwidth usage verdict.
type State int

const (
	Normal State = iota
	Overusing
	Underusing
)

func (s State) String() string {
	switch s {
	case Overusing:
		return "overusing"
	case Underusing:
		return "underusing"
	default:
		return "normal"
	}
}

const (
	windowSize               = 20
	smoothingCoef            = 0.9
	thresholdGain            = 4.0
	kUp                      = 0.0087
	kDown                    = 0.039
	initialThreshold         = 12.5
	minThreshold             = 6.0
	maxThreshold             = 600.0
	overusingTimeThresholdMs = 10.0
	overuseCounterThreshold  = 1
)

type point struct {
	arrivalMs float64
	delayMs   float64
}

// Estimator fits a windowed least-squares slope to accumulated delay
// variation and classifies it as Normal, Overusing, or Underusing.
type Estimator struct {
	history []point

	accumulatedDelayMs float64
	smoothedDelayMs     float64

	threshold        float64
	prevModifiedTrend float64

	timeOverUsingMs float64
	overuseCounter  int

	state State

	haveLastArrival bool
	lastArrivalMs   int64
}

// NewEstimator returns a detector starting in the Normal state.
func NewEstimator() *Estimator {
	return &Estimator{
		threshold: initialThreshold,
		state:     Normal,
	}
}

// Reset clears all accumulated state, e.g. after the inter-arrival grouper
// itself resets on a clock jump.
func (e *Estimator) Reset() {
	*e = Estimator{threshold: initialThreshold, state: Normal}
}

// State returns the detector's current verdict.
func (e *Estimator) State() State { return e.state }

// Update folds in one inter-arrival delta and returns the (possibly
// unchanged) bandwidth-usage state.
func (e *Estimator) Update(sendTimeDelta, arrivalTimeDelta clock.TimeDelta, arrivalTimeMs int64) State {
	delayMs := float64(arrivalTimeDelta.Milliseconds() - sendTimeDelta.Milliseconds())
	e.accumulatedDelayMs += delayMs
	e.smoothedDelayMs = smoothingCoef*e.smoothedDelayMs + (1-smoothingCoef)*e.accumulatedDelayMs

	e.history = append(e.history, point{arrivalMs: float64(arrivalTimeMs), delayMs: e.smoothedDelayMs})
	if len(e.history) > windowSize {
		e.history = e.history[len(e.history)-windowSize:]
	}

	if len(e.history) < 2 {
		e.haveLastArrival = true
		e.lastArrivalMs = arrivalTimeMs
		return e.state
	}

	slope := linearRegressionSlope(e.history)
	modifiedTrend := slope * float64(len(e.history)) * thresholdGain

	var timeDeltaMs float64
	if e.haveLastArrival {
		timeDeltaMs = float64(arrivalTimeMs - e.lastArrivalMs)
	}
	e.haveLastArrival = true
	e.lastArrivalMs = arrivalTimeMs

	e.updateThreshold(modifiedTrend, timeDeltaMs)

	switch {
	case modifiedTrend > e.threshold:
		e.timeOverUsingMs += timeDeltaMs
		e.overuseCounter++
		if e.timeOverUsingMs >= overusingTimeThresholdMs && e.overuseCounter >= overuseCounterThreshold {
			e.state = Overusing
		}
	case modifiedTrend < -e.threshold:
		e.timeOverUsingMs = 0
		e.overuseCounter = 0
		e.state = Underusing
	default:
		e.timeOverUsingMs = 0
		e.overuseCounter = 0
		e.state = Normal
	}

	e.prevModifiedTrend = modifiedTrend
	return e.state
}

// updateThreshold tracks the adaptive threshold γ toward the recent
// magnitude of the trend: it rises slowly (kUp) and falls quickly (kDown),
// so a sudden quiet period doesn't leave γ too high to ever flag a real
// overuse again.
func (e *Estimator) updateThreshold(modifiedTrend, timeDeltaMs float64) {
	if timeDeltaMs <= 0 {
		return
	}
	k := kUp
	if abs(modifiedTrend) < e.threshold {
		k = kDown
	}
	const maxTimeDeltaMs = 100.0
	if timeDeltaMs > maxTimeDeltaMs {
		timeDeltaMs = maxTimeDeltaMs
	}
	e.threshold += k * (abs(modifiedTrend) - e.threshold) * timeDeltaMs
	if e.threshold < minThreshold {
		e.threshold = minThreshold
	} else if e.threshold > maxThreshold {
		e.threshold = maxThreshold
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// linearRegressionSlope fits y = a + b*x through the window and returns b,
// using the standard least-squares formula.
func linearRegressionSlope(pts []point) float64 {
	n := float64(len(pts))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range pts {
		sumX += p.arrivalMs
		sumY += p.delayMs
		sumXY += p.arrivalMs * p.delayMs
		sumXX += p.arrivalMs * p.arrivalMs
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
