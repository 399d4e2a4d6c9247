// Package googcc is the top-level GoogCC network controller (module table
// §4.15 "Send-side BWE + GoogCC controller"): it wires the delay-based
// estimator, the acknowledged-bitrate and probe-bitrate estimators, and the
// loss-based controller together, then applies the REMB/configured-bitrate
// clamp and the RTT-backoff floor to produce one target rate per feedback
// report.
package googcc

import (
	"github.com/arzzra/rtprtcp/bwe/ackedbitrate"
	"github.com/arzzra/rtprtcp/bwe/delaybased"
	"github.com/arzzra/rtprtcp/bwe/probe"
	"github.com/arzzra/rtprtcp/bwe/sendside"
	"github.com/arzzra/rtprtcp/clock"
)

// kProbeDropThroughputFraction in goog_cc_network_controller.cpp.
const probeDropThroughputFraction = 0.85

// kStartPhase / kBweIncreaseInterval in send_side_bwe.cpp.
var startPhase = clock.TimeDeltaFromSeconds(2)

// linkCapacitySmoothing has no grounding source of its own (no
// linker_capacity_tracker.hpp/.cpp exists in the retrieval pack); reuses
// the aimd package's own EWMA coefficient for consistency.
const linkCapacitySmoothing = 0.9

// Config holds the controller's static knobs. RTTLimit/DropInterval/
// DropFactor/BandwidthFloor are the RTT-backoff floor's parameters named by
// spec §4.15 but never given concrete values there, and
// rtt_based_backoff.hpp/.cpp doesn't exist anywhere in the retrieval pack —
// see DESIGN.md's Open Question decision for the chosen defaults.
type Config struct {
	MinBitrate   clock.DataRate
	MaxBitrate   clock.DataRate
	StartBitrate clock.DataRate

	RTTLimit       clock.TimeDelta
	DropInterval   clock.TimeDelta
	DropFactor     float64
	BandwidthFloor clock.DataRate
}

// DefaultConfig returns a Config with the RTT-backoff floor's defaults
// filled in.
func DefaultConfig(minBitrate, maxBitrate, startBitrate clock.DataRate) Config {
	return Config{
		MinBitrate:     minBitrate,
		MaxBitrate:     maxBitrate,
		StartBitrate:   startBitrate,
		RTTLimit:       clock.TimeDeltaFromMilliseconds(3000),
		DropInterval:   clock.TimeDeltaFromMilliseconds(1000),
		DropFactor:     0.8,
		BandwidthFloor: clock.DataRateFromKbps(5),
	}
}

// rttBackoff tracks a corrected RTT that grows with the silence since the
// last sent packet, matching RttBasedBackoff::CorrectedRtt's shape
// (propagation RTT plus time-since-last-packet, so a stalled feedback path
// looks like a growing RTT even without a fresh RTCP report).
type rttBackoff struct {
	propagationRTT     clock.TimeDelta
	haveLastPacketSent bool
	lastPacketSentTime clock.Timestamp
}

func (b *rttBackoff) onSentPacket(now clock.Timestamp) {
	b.haveLastPacketSent = true
	b.lastPacketSentTime = now
}

func (b *rttBackoff) onPropagationRtt(rtt clock.TimeDelta, now clock.Timestamp) {
	b.propagationRTT = rtt
	if !b.haveLastPacketSent {
		b.lastPacketSentTime = now
		b.haveLastPacketSent = true
	}
}

func (b *rttBackoff) correctedRtt(now clock.Timestamp) clock.TimeDelta {
	if !b.haveLastPacketSent {
		return b.propagationRTT
	}
	sinceLastSent := now.Sub(b.lastPacketSentTime)
	if sinceLastSent.Microseconds() > b.propagationRTT.Microseconds() {
		return sinceLastSent
	}
	return b.propagationRTT
}

// PacketFeedback is one packet's transport-wide feedback record: send/
// receive time and size for throughput estimation, plus an optional probe-
// cluster tag for probe-bitrate aggregation.
type PacketFeedback struct {
	SendTime clock.Timestamp
	RecvTime clock.Timestamp
	Size     int
	Lost     bool

	HasProbeCluster bool
	ProbeClusterID  int
	MinProbes       int
	MinBytes        int
}

// Update is the controller's output for one feedback report.
type Update struct {
	TargetBitrate       clock.DataRate
	StableTargetBitrate clock.DataRate
	Updated             bool
}

// Controller is the wired-together GoogCC estimator.
type Controller struct {
	cfg Config

	delay    *delaybased.Estimator
	loss     *sendside.Controller
	acked    *ackedbitrate.AcknowledgedEstimator
	probeEst *probe.Estimator
	rtt      rttBackoff

	target     clock.DataRate
	delayLimit clock.DataRate // ceiling from the delay-based estimator, +Inf until one arrives
	rembLimit  clock.DataRate // ceiling from the last REMB report, +Inf until one arrives

	haveFirstReport  bool
	firstReportTime  clock.Timestamp
	haveLastDecrease bool
	timeLastDecrease clock.Timestamp

	haveLinkCapacity bool
	linkCapacity     clock.DataRate
}

// NewController wires a fresh estimator stack, starting at cfg.StartBitrate.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:        cfg,
		delay:      delaybased.NewEstimator(cfg.MinBitrate, cfg.MaxBitrate, cfg.StartBitrate),
		loss:       sendside.NewController(cfg.MinBitrate, cfg.MaxBitrate, cfg.StartBitrate),
		acked:      ackedbitrate.NewAcknowledgedEstimator(ackedbitrate.DefaultConfig()),
		probeEst:   probe.NewEstimator(),
		target:     cfg.StartBitrate.Clamp(cfg.MinBitrate, cfg.MaxBitrate),
		delayLimit: clock.PlusInfinityDataRate(),
		rembLimit:  clock.PlusInfinityDataRate(),
	}
}

// TargetBitrate returns the controller's current combined estimate.
func (c *Controller) TargetBitrate() clock.DataRate { return c.target }

// StableTargetBitrate returns the smoothed link-capacity estimate, suitable
// for driving a stable (non-bursty) encoder target.
func (c *Controller) StableTargetBitrate() clock.DataRate {
	if !c.haveLinkCapacity {
		return c.target
	}
	return c.linkCapacity
}

// OnSentPacket feeds the RTT backoff's silence timer.
func (c *Controller) OnSentPacket(now clock.Timestamp) { c.rtt.onSentPacket(now) }

// OnRttUpdate feeds both the delay-based estimator's decrease-gate RTT and
// the RTT backoff's propagation-RTT baseline.
func (c *Controller) OnRttUpdate(rtt clock.TimeDelta, now clock.Timestamp) {
	c.delay.SetRTT(rtt)
	c.rtt.onPropagationRtt(rtt, now)
}

// OnRemb applies a receiver-estimated max bitrate as an upper bound.
func (c *Controller) OnRemb(bitrate clock.DataRate, now clock.Timestamp) {
	if bitrate.BitsPerSec() > 0 {
		c.rembLimit = bitrate
	} else {
		c.rembLimit = clock.PlusInfinityDataRate()
	}
	c.applyLimits()
}

// OnTransportPacketsFeedback folds in one transport-wide feedback report:
// updates the acknowledged-bitrate and probe-bitrate estimators, runs the
// delay-based estimator (whose probe-override already implements the
// probe > delay-based priority), then combines with the loss-based
// controller's reaction to this batch's loss ratio and the RTT-backoff
// floor (loss-based > delay-based priority: the delay-based estimator acts
// as a ceiling over the loss-based target, per SendSideBwe::UpdateEstimate).
func (c *Controller) OnTransportPacketsFeedback(feedbacks []PacketFeedback, feedbackTime clock.Timestamp, updatePeriod clock.TimeDelta) Update {
	if len(feedbacks) == 0 {
		return Update{}
	}

	var ackFeedback []ackedbitrate.PacketFeedback
	var delayFeedback []delaybased.PacketFeedback
	lost := 0
	for _, pf := range feedbacks {
		if pf.Lost {
			lost++
			continue
		}
		ackFeedback = append(ackFeedback, ackedbitrate.PacketFeedback{RecvTime: pf.RecvTime, Size: pf.Size})
		delayFeedback = append(delayFeedback, delaybased.PacketFeedback{SendTime: pf.SendTime, RecvTime: pf.RecvTime, Size: pf.Size})
		if pf.HasProbeCluster {
			c.probeEst.IncomingProbePacket(probe.PacketFeedback{
				ClusterID: pf.ProbeClusterID,
				MinProbes: pf.MinProbes,
				MinBytes:  pf.MinBytes,
				SendTime:  pf.SendTime,
				RecvTime:  pf.RecvTime,
				Size:      pf.Size,
			})
		}
	}

	c.acked.IncomingPacketFeedback(ackFeedback)
	ackBitrate, haveAck := c.acked.Estimate()

	probeBitrate, haveProbe := c.probeEst.Estimate(true)
	if haveProbe && haveAck {
		backoffedAck := clock.DataRateFromBitsPerSec(int64(probeDropThroughputFraction * float64(ackBitrate.BitsPerSec())))
		currBwe := c.delayLimit
		if backoffedAck.BitsPerSec() < currBwe.BitsPerSec() || !currBwe.IsFinite() {
			currBwe = backoffedAck
		}
		if probeBitrate.BitsPerSec() < currBwe.BitsPerSec() {
			probeBitrate = currBwe
		}
	}

	delayResult := c.delay.IncomingPacketFeedback(delayFeedback, ackBitrate, probeBitrate, haveProbe, feedbackTime, updatePeriod)
	if delayResult.Updated {
		if delayResult.TargetBitrate.BitsPerSec() > 0 {
			c.delayLimit = delayResult.TargetBitrate
		} else {
			c.delayLimit = clock.PlusInfinityDataRate()
		}
	}

	total := len(feedbacks)
	fractionLost := uint8((lost * 256) / total)
	lossTarget := c.loss.UpdateEstimate(fractionLost, feedbackTime)

	c.updateEstimate(fractionLost, lossTarget, feedbackTime)

	if haveAck {
		capacitySample := ackBitrate
		if c.target.BitsPerSec() < capacitySample.BitsPerSec() {
			capacitySample = c.target
		}
		c.updateLinkCapacity(capacitySample)
	}

	return Update{TargetBitrate: c.target, StableTargetBitrate: c.StableTargetBitrate(), Updated: true}
}

// updateEstimate mirrors SendSideBwe::UpdateEstimate: the RTT-backoff floor
// takes priority over everything else, then a 2s start phase trusts the
// REMB/delay-based ceiling directly (to let startup probing ramp up without
// waiting on loss feedback), and otherwise the loss-based target is used,
// always capped by the delay-based/REMB/configured ceiling.
func (c *Controller) updateEstimate(fractionLost uint8, lossTarget clock.DataRate, now clock.Timestamp) {
	if c.rtt.correctedRtt(now).Microseconds() > c.cfg.RTTLimit.Microseconds() {
		if (!c.haveLastDecrease || now.Sub(c.timeLastDecrease).Microseconds() >= c.cfg.DropInterval.Microseconds()) &&
			c.target.BitsPerSec() > c.cfg.BandwidthFloor.BitsPerSec() {
			c.haveLastDecrease = true
			c.timeLastDecrease = now
			dropped := clock.DataRateFromBitsPerSec(int64(c.cfg.DropFactor * float64(c.target.BitsPerSec())))
			if dropped.BitsPerSec() < c.cfg.BandwidthFloor.BitsPerSec() {
				dropped = c.cfg.BandwidthFloor
			}
			c.target = dropped
			c.applyLimits()
		}
		return
	}

	if !c.haveFirstReport {
		c.haveFirstReport = true
		c.firstReportTime = now
	}
	inStartPhase := now.Sub(c.firstReportTime).Microseconds() < startPhase.Microseconds()

	if fractionLost == 0 && inStartPhase {
		newBitrate := c.target
		if c.rembLimit.IsFinite() && c.rembLimit.BitsPerSec() > newBitrate.BitsPerSec() {
			newBitrate = c.rembLimit
		}
		if c.delayLimit.IsFinite() && c.delayLimit.BitsPerSec() > newBitrate.BitsPerSec() {
			newBitrate = c.delayLimit
		}
		if newBitrate.BitsPerSec() != c.target.BitsPerSec() {
			c.target = newBitrate
			c.applyLimits()
		}
		return
	}

	c.target = lossTarget
	c.applyLimits()
}

// applyLimits caps the target at the REMB/delay-based ceiling and the
// configured max, then floors it at the configured min.
func (c *Controller) applyLimits() {
	ceiling := c.cfg.MaxBitrate
	if c.delayLimit.IsFinite() && c.delayLimit.BitsPerSec() < ceiling.BitsPerSec() {
		ceiling = c.delayLimit
	}
	if c.rembLimit.IsFinite() && c.rembLimit.BitsPerSec() < ceiling.BitsPerSec() {
		ceiling = c.rembLimit
	}
	if c.target.BitsPerSec() > ceiling.BitsPerSec() {
		c.target = ceiling
	}
	if c.target.BitsPerSec() < c.cfg.MinBitrate.BitsPerSec() {
		c.target = c.cfg.MinBitrate
	}
}

func (c *Controller) updateLinkCapacity(sample clock.DataRate) {
	if !c.haveLinkCapacity {
		c.linkCapacity = sample
		c.haveLinkCapacity = true
		return
	}
	blended := linkCapacitySmoothing*float64(c.linkCapacity.BitsPerSec()) + (1-linkCapacitySmoothing)*float64(sample.BitsPerSec())
	c.linkCapacity = clock.DataRateFromBitsPerSec(int64(blended))
}
