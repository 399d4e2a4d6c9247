package jitter

import (
	"math"

	"github.com/arzzra/rtprtcp/clock"
)

// operatingSystemJitterMs accounts for delay the jitter buffer itself
// doesn't see: scheduler latency between the jitter buffer handing a frame
// to the decoder and the decoder actually running.
const operatingSystemJitterMs = 10

// Kalman filter tuning, grounded on the corresponding constants in the
// jitter estimator this package is adapted from: moving-average factors
// for the frame-size tracker (phi for the average, psi for the decaying
// max) and the process-noise covariance diagonal (spec §4.9 step 1: `Q =
// diag(2.5e-10, 1e-10)`).
const (
	frameSizeAvgFactor = 0.97
	frameSizeMaxFactor = 0.9999
	qCov00             = 2.5e-10
	qCov11             = 1e-10

	numStdDevDelayOutlier = 15.0
	noiseStdDevs          = 2.33
	noiseStdDevOffset     = 30.0

	jitterScaleLowFPS  = 5.0
	jitterScaleHighFPS = 10.0

	nackLimit         = 3
	nackCountTimeout  = 60 * 1000 // ms
)

// Estimator tracks the Kalman-filtered relationship between frame size and
// transmission delay, and turns it into a jitter estimate and a render-time
// prediction (spec §4.9).
type Estimator struct {
	clk clock.Clock

	theta    [2]float64 // [1/C, m]
	thetaCov [2][2]float64
	varNoise float64
	avgNoise float64

	avgFrameSize  float64
	varFrameSize  float64
	maxFrameSize  float64
	prevFrameSize uint32

	prevEstimate float64

	lastUpdateTime clock.Timestamp
	haveLastUpdate bool
	lastFrameDelta clock.TimeDelta
	haveFrameDelta bool

	rtt            *RTTFilter
	nackCount      int
	haveLastNack   bool
	lastNackTime   clock.Timestamp
}

// NewEstimator returns an Estimator driven by clk's notion of "now".
func NewEstimator(clk clock.Clock) *Estimator {
	e := &Estimator{clk: clk, rtt: NewRTTFilter()}
	e.Reset()
	return e
}

// Reset restores the estimator to its startup state.
func (e *Estimator) Reset() {
	e.theta = [2]float64{1.0 / (512e3 / 8), 0}
	e.varNoise = 4.0
	e.thetaCov = [2][2]float64{{1e-4, 0}, {0, 1e2}}
	e.avgFrameSize = 500
	e.maxFrameSize = 500
	e.varFrameSize = 100
	e.prevFrameSize = 0
	e.avgNoise = 0
	e.prevEstimate = -1
	e.haveLastUpdate = false
	e.haveFrameDelta = false
	e.nackCount = 0
	e.haveLastNack = false
	e.rtt.Reset()
}

// NoteNack records that a NACK was just sent for this stream, so a
// sustained run of NACKs can add an RTT-derived cushion to the jitter
// estimate until `nackLimit` consecutive-enough NACKs stop arriving.
func (e *Estimator) NoteNack() {
	now := e.clk.Now()
	if e.haveLastNack && now.Sub(e.lastNackTime).Milliseconds() > nackCountTimeout {
		e.nackCount = 0
	}
	e.lastNackTime = now
	e.haveLastNack = true
	e.nackCount++
}

// UpdateRTT folds an RTT sample into the companion RTT filter, used by
// GetJitterEstimate's NACK-triggered RTT term.
func (e *Estimator) UpdateRTT(rtt clock.TimeDelta) {
	e.rtt.AddRtt(rtt.Milliseconds())
}

// UpdateEstimate folds in one frame's observed (frameDelayMs, frameSize)
// sample (spec §4.9). frameDelayMs is the deviation of this frame's
// arrival from an ideal on-time arrival; frameSize is the frame's total
// byte size; incomplete marks a frame that arrived with packet loss still
// outstanding (e.g. recovered by FEC after the fact), which damps how
// aggressively its sample can move the average.
func (e *Estimator) UpdateEstimate(frameDelayMs int64, frameSize uint32, incomplete bool) {
	if frameSize == 0 {
		return
	}
	frameSizeDelta := int32(frameSize) - int32(e.prevFrameSize)

	if !incomplete || float64(frameSize) > e.avgFrameSize {
		newAvg := frameSizeAvgFactor*e.avgFrameSize + (1-frameSizeAvgFactor)*float64(frameSize)
		if float64(frameSize) < e.avgFrameSize+2.0*math.Sqrt(e.varFrameSize) {
			e.avgFrameSize = newAvg
		}
		e.varFrameSize = frameSizeAvgFactor*e.varFrameSize + (1-frameSizeAvgFactor)*math.Pow(float64(frameSize)-newAvg, 2)
		if e.varFrameSize > 1.0 {
			e.varFrameSize = 1.0
		}
	}
	e.maxFrameSize = math.Max(frameSizeMaxFactor*e.maxFrameSize, float64(frameSize))

	if e.prevFrameSize == 0 {
		e.prevFrameSize = frameSize
		e.lastUpdateTime = e.clk.Now()
		e.haveLastUpdate = true
		return
	}
	e.prevFrameSize = frameSize

	stdDevNoise := math.Sqrt(e.varNoise)
	deviation := e.deviationFromExpectedDelay(frameDelayMs, frameSizeDelta)

	if math.Abs(deviation) < numStdDevDelayOutlier*stdDevNoise {
		e.estimateRandomJitter(deviation, incomplete)
		e.kalmanEstimateChannel(frameDelayMs, frameSizeDelta)
	} else {
		sign := 1.0
		if deviation < 0 {
			sign = -1.0
		}
		e.estimateRandomJitter(sign*numStdDevDelayOutlier*stdDevNoise, incomplete)
	}
}

func (e *Estimator) deviationFromExpectedDelay(frameDelayMs int64, frameSizeDelta int32) float64 {
	estimated := e.theta[0]*float64(frameSizeDelta) + e.theta[1]
	return float64(frameDelayMs) - estimated
}

func (e *Estimator) estimateRandomJitter(ddT float64, incomplete bool) {
	now := e.clk.Now()
	if e.haveLastUpdate {
		e.lastFrameDelta = now.Sub(e.lastUpdateTime)
		e.haveFrameDelta = true
	}
	e.lastUpdateTime = now
	e.haveLastUpdate = true

	// A fixed smoothing factor in place of the sample-count-scaled one the
	// original estimator uses: this module has no caller-visible sample
	// counter to expose, and a fixed factor already tracks bursty frame
	// arrivals closely enough for the render-time use this feeds.
	const filtFactor = 0.98

	newAvgNoise := filtFactor*e.avgNoise + (1-filtFactor)*ddT
	newVarNoise := filtFactor*e.varNoise + (1-filtFactor)*math.Pow(ddT-e.avgNoise, 2)
	if !incomplete || newVarNoise > e.varNoise {
		e.avgNoise = newAvgNoise
		e.varNoise = newVarNoise
	}
	if e.varNoise < 1.0 {
		e.varNoise = 1.0
	}
}

// kalmanEstimateChannel is steps 1-4 of spec §4.9's Kalman jitter
// estimator.
func (e *Estimator) kalmanEstimateChannel(frameDelayMs int64, frameSizeDelta int32) {
	if e.maxFrameSize < 1.0 {
		return
	}

	e.thetaCov[0][0] += qCov00
	e.thetaCov[1][1] += qCov11

	dL := float64(frameSizeDelta)
	mh0 := e.thetaCov[0][0]*dL + e.thetaCov[0][1]
	mh1 := e.thetaCov[1][0]*dL + e.thetaCov[1][1]

	sigma := (300.0*math.Exp(-math.Abs(dL)/e.maxFrameSize) + 1) * math.Sqrt(e.varNoise)
	if sigma < 1.0 {
		sigma = 1.0
	}

	hMhSigma := dL*mh0 + mh1 + sigma
	if math.Abs(hMhSigma) < 1e-9 {
		return
	}

	k0 := mh0 / hMhSigma
	k1 := mh1 / hMhSigma

	measureRes := float64(frameDelayMs) - (dL*e.theta[0] + e.theta[1])
	e.theta[0] += k0 * measureRes
	e.theta[1] += k1 * measureRes
	if e.theta[0] < 1e-6 {
		e.theta[0] = 1e-6
	}

	cov00, cov01 := e.thetaCov[0][0], e.thetaCov[0][1]
	e.thetaCov[0][0] = (1-k0*dL)*cov00 - k0*e.thetaCov[1][0]
	e.thetaCov[0][1] = (1-k0*dL)*cov01 - k0*e.thetaCov[1][1]
	e.thetaCov[1][0] = e.thetaCov[1][0]*(1-k1) - k1*dL*cov00
	e.thetaCov[1][1] = e.thetaCov[1][1]*(1-k1) - k1*dL*cov01
}

func (e *Estimator) calcNoiseThreshold() float64 {
	threshold := noiseStdDevs*math.Sqrt(e.varNoise) - noiseStdDevOffset
	if threshold < 1.0 {
		threshold = 1.0
	}
	return threshold
}

func (e *Estimator) calcJitterEstimate() float64 {
	estimate := e.theta[0]*(e.maxFrameSize-e.avgFrameSize) + e.calcNoiseThreshold()
	if estimate < 1.0 {
		if e.prevEstimate <= 0.01 {
			estimate = 1.0
		} else {
			estimate = e.prevEstimate
		}
	}
	e.prevEstimate = estimate
	return estimate
}

// estimatedFrameRate derives fps from the most recent inter-frame delta.
func (e *Estimator) estimatedFrameRate() float64 {
	if !e.haveFrameDelta || e.lastFrameDelta.Microseconds() <= 0 {
		return 0
	}
	fps := 1000000.0 / float64(e.lastFrameDelta.Microseconds())
	const maxEstimatedFrameRate = 200.0
	if fps > maxEstimatedFrameRate {
		fps = maxEstimatedFrameRate
	}
	return fps
}

// GetJitterEstimate returns the current jitter estimate in milliseconds
// (spec §4.9). rttMultiplier and rttMultAddCapMs fold in an RTT-derived
// term once enough NACKs have fired recently to suspect extra queuing
// delay; nil rttMultAddCapMs means uncapped. enableReducedDelay scales
// the estimate down for very-low-fps streams where per-frame jitter is not
// a meaningful playout signal.
func (e *Estimator) GetJitterEstimate(rttMultiplier float64, rttMultAddCapMs *float64, enableReducedDelay bool) int64 {
	jitterMs := e.calcJitterEstimate() + operatingSystemJitterMs

	if e.haveLastNack && e.clk.Now().Sub(e.lastNackTime).Milliseconds() > nackCountTimeout {
		e.nackCount = 0
	}
	if e.nackCount >= nackLimit {
		rttTerm := float64(e.rtt.RttMs()) * rttMultiplier
		if rttMultAddCapMs != nil && rttTerm > *rttMultAddCapMs {
			rttTerm = *rttMultAddCapMs
		}
		jitterMs += rttTerm
	}

	if !enableReducedDelay {
		return round(math.Max(0, jitterMs))
	}

	fps := e.estimatedFrameRate()
	if fps < jitterScaleLowFPS {
		if fps == 0 {
			return round(math.Max(0, jitterMs))
		}
		return 0
	}
	if fps < jitterScaleHighFPS {
		jitterMs = (1.0 / (jitterScaleHighFPS - jitterScaleLowFPS)) * (fps - jitterScaleLowFPS) * jitterMs
	}
	return round(math.Max(0, jitterMs))
}

func round(v float64) int64 {
	return int64(v + 0.5)
}

// RttMs exposes the filtered RTT the estimator is using internally.
func (e *Estimator) RttMs() int64 {
	return e.rtt.RttMs()
}
