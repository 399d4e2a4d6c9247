// Package aimd implements the additive-increase/multiplicative-decrease
// rate controller driven by the trendline bandwidth-usage state (module
// table §4.13 "AIMD rate control").
//
// delay_based_bwe.hpp references an AimdRateControl member
// (`rate_control_`) but no aimd_rate_control.hpp/.cpp exists anywhere in
// the retrieval pack, so the state machine and its numeric constants below
// follow spec §4.13's prose directly.
package aimd

import (
	"math"

	"github.com/arzzra/rtprtcp/bwe/trendline"
	"github.com/arzzra/rtprtcp/clock"
)

// State is the controller's current rate-control mode.
type State int

const (
	Hold State = iota
	Increase
	Decrease
)

const (
	multiplicativeFactor = 1.08
	decreaseFactor       = 0.85
	additiveCapBpms      = 1000.0 // 1000 bits/ms, spec's "min(1000 bps/ms, ...)"
	linkCapacitySmoothing = 0.9
	minReduceInterval      = 10 * 1_000  // microseconds
	maxReduceInterval      = 200 * 1_000 // microseconds
)

// Controller tracks a target send bitrate, reacting to the trendline's
// Normal/Overusing/Underusing verdicts by holding, additively/
// multiplicatively increasing, or multiplicatively decreasing it.
type Controller struct {
	state State

	currentBitrate clock.DataRate
	minBitrate     clock.DataRate
	maxBitrate     clock.DataRate

	haveLinkCapacity     bool
	linkCapacityEstimate clock.DataRate

	rtt clock.TimeDelta

	haveLastDecrease bool
	lastDecreaseTime clock.Timestamp
}

// NewController returns a controller starting at startBitrate, clamped to
// [minBitrate, maxBitrate].
func NewController(minBitrate, maxBitrate, startBitrate clock.DataRate) *Controller {
	return &Controller{
		state:          Hold,
		currentBitrate: clampRate(startBitrate, minBitrate, maxBitrate),
		minBitrate:     minBitrate,
		maxBitrate:     maxBitrate,
		rtt:            clock.TimeDeltaFromMilliseconds(100),
	}
}

// State returns the controller's current mode.
func (c *Controller) State() State { return c.state }

// CurrentBitrate returns the controller's target bitrate.
func (c *Controller) CurrentBitrate() clock.DataRate { return c.currentBitrate }

// SetRTT updates the round-trip time used to gate decrease frequency.
func (c *Controller) SetRTT(rtt clock.TimeDelta) { c.rtt = rtt }

// SetBitrate overrides the target bitrate directly, clamped to
// [minBitrate, maxBitrate] — used when a probe result or a REMB/max
// ceiling takes priority over the AIMD state machine's own output.
func (c *Controller) SetBitrate(bitrate clock.DataRate) {
	c.currentBitrate = clampRate(bitrate, c.minBitrate, c.maxBitrate)
}

// CanReduceFurther reports whether a decrease is allowed at now: at most
// once per RTT, clamped to [10ms, 200ms].
func (c *Controller) CanReduceFurther(now clock.Timestamp) bool {
	if !c.haveLastDecrease {
		return true
	}
	return now.Sub(c.lastDecreaseTime).Microseconds() >= c.reduceIntervalUs()
}

func (c *Controller) reduceIntervalUs() int64 {
	us := c.rtt.Microseconds()
	if us < minReduceInterval {
		return minReduceInterval
	}
	if us > maxReduceInterval {
		return maxReduceInterval
	}
	return us
}

// Update reacts to one trendline verdict, advancing the state machine and
// the target bitrate. packetRateHz and avgPacketSizeBytes feed the
// additive-increase cap; ackedBitrate feeds the multiplicative decrease and
// the link-capacity estimate.
func (c *Controller) Update(bandwidthState trendline.State, ackedBitrate clock.DataRate, packetRateHz float64, avgPacketSizeBytes int, now clock.Timestamp, updatePeriod clock.TimeDelta) clock.DataRate {
	switch bandwidthState {
	case trendline.Overusing:
		c.state = Decrease
	case trendline.Underusing:
		c.state = Hold
	default: // Normal
		if c.state == Decrease {
			c.state = Hold
		} else {
			c.state = Increase
		}
	}

	switch c.state {
	case Increase:
		c.currentBitrate = clampRate(c.increase(packetRateHz, avgPacketSizeBytes, updatePeriod), c.minBitrate, c.maxBitrate)
	case Decrease:
		if c.CanReduceFurther(now) {
			c.currentBitrate = clampRate(clock.DataRateFromBitsPerSec(int64(decreaseFactor*float64(ackedBitrate.BitsPerSec()))), c.minBitrate, c.maxBitrate)
			c.haveLastDecrease = true
			c.lastDecreaseTime = now
			c.updateLinkCapacity(ackedBitrate)
		}
	case Hold:
		// bitrate unchanged
	}

	return c.currentBitrate
}

// increase applies either the multiplicative step (while the link capacity
// is unknown or the current rate is well below it) or the additive,
// packet-rate-scaled step (once the rate is approaching the last-known
// capacity), matching spec §4.13's "near-max unknown" distinction.
func (c *Controller) increase(packetRateHz float64, avgPacketSizeBytes int, updatePeriod clock.TimeDelta) clock.DataRate {
	nearMaxKnown := c.haveLinkCapacity && float64(c.currentBitrate.BitsPerSec()) >= 0.9*float64(c.linkCapacityEstimate.BitsPerSec())
	if !nearMaxKnown {
		return clock.DataRateFromBitsPerSec(int64(float64(c.currentBitrate.BitsPerSec()) * multiplicativeFactor))
	}

	halfPacketRatePerMs := packetRateHz / 2.0 / 1000.0
	additiveBpms := halfPacketRatePerMs * float64(avgPacketSizeBytes*8)
	incBpms := math.Min(additiveCapBpms, additiveBpms)
	incBits := incBpms * float64(updatePeriod.Milliseconds())
	return clock.DataRateFromBitsPerSec(c.currentBitrate.BitsPerSec() + int64(incBits))
}

func (c *Controller) updateLinkCapacity(ackedBitrate clock.DataRate) {
	if !c.haveLinkCapacity {
		c.linkCapacityEstimate = ackedBitrate
		c.haveLinkCapacity = true
		return
	}
	blended := linkCapacitySmoothing*float64(c.linkCapacityEstimate.BitsPerSec()) + (1-linkCapacitySmoothing)*float64(ackedBitrate.BitsPerSec())
	c.linkCapacityEstimate = clock.DataRateFromBitsPerSec(int64(blended))
}

func clampRate(r, min, max clock.DataRate) clock.DataRate {
	return r.Clamp(min, max)
}
