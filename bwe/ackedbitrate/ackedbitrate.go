// Package ackedbitrate tracks the bitrate actually acknowledged by the
// receiver (as opposed to sent), feeding the delay-based and loss-based
// estimators' decrease targets and the AIMD link-capacity EWMA.
package ackedbitrate

import (
	"math"

	"github.com/arzzra/rtprtcp/clock"
)

const (
	minRateWindowMs = 150
	maxRateWindowMs = 1000
)

// Config mirrors the knobs a BitrateEstimator needs, with the
// original's naming kept recognizable.
type Config struct {
	InitialWindowMs             int
	NoninitialWindowMs          int
	UncertaintyScale            float64
	UncertaintyScaleInALR       float64
	SmallSampleUncertaintyScale float64
	SmallSampleThreshold        int
	UncertaintySymmetryCap      clock.DataRate
	EstimateFloor               clock.DataRate
}

// DefaultConfig returns the same defaults as the original implementation.
func DefaultConfig() Config {
	return Config{
		InitialWindowMs:             500,
		NoninitialWindowMs:          150,
		UncertaintyScale:            10.0,
		UncertaintyScaleInALR:       10.0,
		SmallSampleUncertaintyScale: 10.0,
		SmallSampleThreshold:        0,
	}
}

// Estimator is a Bayesian running estimate of the bitrate observed over a
// sliding window of acknowledged bytes, widening its uncertainty for
// small samples and for samples seen during an application-limited region
// (ALR).
type Estimator struct {
	config Config

	sum          int64
	currWindowMs int64
	havePrevTime bool
	prevTimeMs   int64

	bitrateEstimateKbps float64
	bitrateEstimateVar  float64
}

// NewEstimator returns an estimator with no samples yet.
func NewEstimator(config Config) *Estimator {
	if config.InitialWindowMs < minRateWindowMs {
		config.InitialWindowMs = minRateWindowMs
	} else if config.InitialWindowMs > maxRateWindowMs {
		config.InitialWindowMs = maxRateWindowMs
	}
	if config.NoninitialWindowMs < minRateWindowMs {
		config.NoninitialWindowMs = minRateWindowMs
	} else if config.NoninitialWindowMs > maxRateWindowMs {
		config.NoninitialWindowMs = maxRateWindowMs
	}
	return &Estimator{
		config:              config,
		bitrateEstimateKbps: -1.0,
		bitrateEstimateVar:  50.0,
	}
}

// Update folds in amount bytes acknowledged at atTime.
func (e *Estimator) Update(atTime clock.Timestamp, amount int, inALR bool) {
	rateWindowMs := e.config.NoninitialWindowMs
	if e.bitrateEstimateKbps < 0 {
		rateWindowMs = e.config.InitialWindowMs
	}

	bitrateSampleKbps, isSmallSample := e.updateWindow(atTime.Milliseconds(), amount, rateWindowMs)
	if bitrateSampleKbps < 0 {
		return
	}
	if e.bitrateEstimateKbps < 0 {
		e.bitrateEstimateKbps = bitrateSampleKbps
		return
	}

	scale := e.config.UncertaintyScale
	if isSmallSample && bitrateSampleKbps < e.bitrateEstimateKbps {
		scale = e.config.SmallSampleUncertaintyScale
	} else if inALR && bitrateSampleKbps < e.bitrateEstimateKbps {
		scale = e.config.UncertaintyScaleInALR
	}

	symmetryCapKbps := e.config.UncertaintySymmetryCap.KilobitsPerSec()
	sampleUncertainty := scale * math.Abs(e.bitrateEstimateKbps-bitrateSampleKbps) /
		(e.bitrateEstimateKbps + math.Min(bitrateSampleKbps, symmetryCapKbps))
	sampleVar := sampleUncertainty * sampleUncertainty

	predBitrateEstimateVar := e.bitrateEstimateVar + 5.0
	e.bitrateEstimateKbps = (sampleVar*e.bitrateEstimateKbps + predBitrateEstimateVar*bitrateSampleKbps) /
		(sampleVar + predBitrateEstimateVar)
	if floor := e.config.EstimateFloor.KilobitsPerSec(); e.bitrateEstimateKbps < floor {
		e.bitrateEstimateKbps = floor
	}
	e.bitrateEstimateVar = sampleVar * predBitrateEstimateVar / (sampleVar + predBitrateEstimateVar)
}

// Estimate returns the current Bayesian rate estimate, if any sample has
// been seen yet.
func (e *Estimator) Estimate() (clock.DataRate, bool) {
	if e.bitrateEstimateKbps < 0 {
		return clock.DataRate{}, false
	}
	return clock.DataRateFromKbps(e.bitrateEstimateKbps), true
}

// PeekRate returns the raw in-progress window's rate without waiting for
// the window to close.
func (e *Estimator) PeekRate() (clock.DataRate, bool) {
	if e.currWindowMs <= 0 {
		return clock.DataRate{}, false
	}
	return clock.DataRateFromBitsPerSec(e.sum * 8 * 1000 / e.currWindowMs), true
}

// ExpectFastRateChange widens the estimate's variance so the next few
// samples can move it quickly, e.g. right after a known step change.
func (e *Estimator) ExpectFastRateChange() {
	e.bitrateEstimateVar += 200
}

func (e *Estimator) updateWindow(nowMs int64, bytes int, rateWindowMs int) (float64, bool) {
	if e.havePrevTime {
		if nowMs < e.prevTimeMs {
			e.havePrevTime = false
			e.sum = 0
			e.currWindowMs = 0
		} else {
			elapsedMs := nowMs - e.prevTimeMs
			e.currWindowMs += elapsedMs
			if elapsedMs > int64(rateWindowMs) {
				e.sum = 0
				e.currWindowMs %= int64(rateWindowMs)
			}
		}
	}
	e.prevTimeMs = nowMs
	e.havePrevTime = true

	bitrateSample := -1.0
	isSmallSample := false
	if e.currWindowMs >= int64(rateWindowMs) {
		isSmallSample = e.sum < int64(e.config.SmallSampleThreshold)
		bitrateSample = 8.0 * float64(e.sum) / float64(rateWindowMs)
		e.currWindowMs -= int64(rateWindowMs)
		e.sum = 0
	}
	e.sum += int64(bytes)
	return bitrateSample, isSmallSample
}

// PacketFeedback is one acknowledged packet's record, as handed to the
// congestion controller once transport feedback confirms its arrival.
type PacketFeedback struct {
	RecvTime clock.Timestamp
	Size     int
}

// AcknowledgedEstimator wraps Estimator with the in-ALR bookkeeping the
// delay-based estimator consults when weighting samples seen during an
// application-limited region.
type AcknowledgedEstimator struct {
	inner *Estimator
	inALR bool
}

// NewAcknowledgedEstimator returns a wrapper over a freshly constructed
// Estimator using config.
func NewAcknowledgedEstimator(config Config) *AcknowledgedEstimator {
	return &AcknowledgedEstimator{inner: NewEstimator(config)}
}

// SetInALR marks whether the sender is currently in an application-limited
// region.
func (a *AcknowledgedEstimator) SetInALR(inALR bool) { a.inALR = inALR }

// IncomingPacketFeedback folds in acknowledged packets in receive-time
// order.
func (a *AcknowledgedEstimator) IncomingPacketFeedback(feedbacks []PacketFeedback) {
	for _, f := range feedbacks {
		a.inner.Update(f.RecvTime, f.Size, a.inALR)
	}
}

// Estimate returns the wrapped estimator's current rate estimate.
func (a *AcknowledgedEstimator) Estimate() (clock.DataRate, bool) { return a.inner.Estimate() }

// PeekRate returns the wrapped estimator's in-progress window rate.
func (a *AcknowledgedEstimator) PeekRate() (clock.DataRate, bool) { return a.inner.PeekRate() }
