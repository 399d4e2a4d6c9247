// Package delaybased combines the inter-arrival grouper, the trendline
// overuse detector, and the AIMD rate controller into the delay-based half
// of send-side BWE (module table §4.15 item 1, "Delay-based").
package delaybased

import (
	"github.com/arzzra/rtprtcp/bwe/aimd"
	"github.com/arzzra/rtprtcp/bwe/interarrival"
	"github.com/arzzra/rtprtcp/bwe/trendline"
	"github.com/arzzra/rtprtcp/clock"
)

// streamTimeout matches DelayBasedBwe::kStreamTimeOut: a 2s gap between
// feedback batches is treated as a new stream, resetting the grouper and
// the trendline detector.
var streamTimeout = clock.TimeDeltaFromSeconds(2)

// PacketFeedback is one packet's (send time, receive time, size) as
// reported by transport-wide feedback.
type PacketFeedback struct {
	SendTime clock.Timestamp
	RecvTime clock.Timestamp
	Size     int
}

// Result is the outcome of one feedback batch.
type Result struct {
	TargetBitrate clock.DataRate
	Updated       bool
	Probe         bool
}

// Estimator is the delay-based estimator: inter-arrival grouping feeds the
// trendline detector, whose Normal/Overusing/Underusing verdict drives the
// AIMD controller.
type Estimator struct {
	interArrival *interarrival.Estimator
	trend        *trendline.Estimator
	rateControl  *aimd.Controller

	haveLastSeenPacket bool
	lastSeenPacket     clock.Timestamp
}

// NewEstimator returns an estimator whose AIMD controller starts at
// startBitrate, clamped to [minBitrate, maxBitrate].
func NewEstimator(minBitrate, maxBitrate, startBitrate clock.DataRate) *Estimator {
	return &Estimator{
		interArrival: interarrival.NewEstimator(),
		trend:        trendline.NewEstimator(),
		rateControl:  aimd.NewController(minBitrate, maxBitrate, startBitrate),
	}
}

// SetRTT feeds the AIMD controller's decrease-frequency gate.
func (e *Estimator) SetRTT(rtt clock.TimeDelta) { e.rateControl.SetRTT(rtt) }

// State returns the trendline detector's current verdict.
func (e *Estimator) State() trendline.State { return e.trend.State() }

// IncomingPacketFeedback folds in one batch of packet feedback (assumed
// sorted by receive time), then reacts: a probe result takes priority
// whenever the detector isn't currently Overusing; otherwise the AIMD
// controller reacts to the trendline state, using ackedBitrate for its
// decrease target and the batch's packet rate/size for its additive
// increase cap.
func (e *Estimator) IncomingPacketFeedback(
	feedbacks []PacketFeedback,
	ackedBitrate clock.DataRate,
	probeBitrate clock.DataRate, haveProbe bool,
	feedbackTime clock.Timestamp,
	updatePeriod clock.TimeDelta,
) Result {
	if len(feedbacks) == 0 {
		return Result{}
	}

	if !e.haveLastSeenPacket || feedbackTime.Sub(e.lastSeenPacket).Microseconds() > streamTimeout.Microseconds() {
		e.interArrival.Reset()
		e.trend.Reset()
	}
	e.haveLastSeenPacket = true
	e.lastSeenPacket = feedbackTime

	var totalSize int
	for _, pf := range feedbacks {
		totalSize += pf.Size
		d, ok := e.interArrival.ComputeDeltas(pf.SendTime, pf.RecvTime, feedbackTime, pf.Size)
		if ok {
			e.trend.Update(d.SendTimeDelta, d.ArrivalTimeDelta, pf.RecvTime.Milliseconds())
		}
	}

	state := e.trend.State()

	if haveProbe && state != trendline.Overusing {
		e.rateControl.SetBitrate(probeBitrate)
		return Result{TargetBitrate: e.rateControl.CurrentBitrate(), Updated: true, Probe: true}
	}

	periodSeconds := updatePeriod.Seconds()
	var packetRateHz float64
	avgPacketSize := 0
	if periodSeconds > 0 {
		packetRateHz = float64(len(feedbacks)) / periodSeconds
		avgPacketSize = totalSize / len(feedbacks)
	}

	target := e.rateControl.Update(state, ackedBitrate, packetRateHz, avgPacketSize, feedbackTime, updatePeriod)
	return Result{TargetBitrate: target, Updated: true}
}
