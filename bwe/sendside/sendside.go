// Package sendside implements the loss-based half of the send-side
// bandwidth estimator: reacting to the RTCP receiver report's fraction-lost
// field directly, independent of the delay-based/trendline path (module
// table §4.15 item 2, "Loss-based (send-side)").
package sendside

import "github.com/arzzra/rtprtcp/clock"

const (
	defaultLowLossThreshold  = 0.02
	defaultHighLossThreshold = 0.1

	// kBweDecreaseInterval in the original send_side_bwe.cpp.
	decreaseIntervalMs = 300
	// the cap named in spec §4.15: "increases ≤ 8%/s".
	maxIncreaseFractionPerSecond = 0.08
)

// Controller reacts to RTCP fraction-lost feedback, decreasing the target
// bitrate on high loss, holding on moderate loss, and increasing slowly
// otherwise.
type Controller struct {
	targetBitrate clock.DataRate
	minBitrate    clock.DataRate
	maxBitrate    clock.DataRate

	haveLastDecrease bool
	timeLastDecrease clock.Timestamp

	haveLastUpdate bool
	lastUpdateTime clock.Timestamp
}

// NewController returns a controller starting at startBitrate, clamped to
// [minBitrate, maxBitrate].
func NewController(minBitrate, maxBitrate, startBitrate clock.DataRate) *Controller {
	return &Controller{
		targetBitrate: startBitrate.Clamp(minBitrate, maxBitrate),
		minBitrate:    minBitrate,
		maxBitrate:    maxBitrate,
	}
}

// TargetBitrate returns the controller's current target.
func (c *Controller) TargetBitrate() clock.DataRate { return c.targetBitrate }

// UpdateEstimate reacts to one RTCP receiver report's fraction-lost value
// (RFC 3550's 8-bit fixed-point field, 256 representing 100%) observed at
// now, returning the (possibly unchanged) target bitrate.
func (c *Controller) UpdateEstimate(fractionLost uint8, now clock.Timestamp) clock.DataRate {
	lossRatio := float64(fractionLost) / 256.0

	switch {
	case lossRatio > defaultHighLossThreshold:
		if !c.haveLastDecrease || now.Sub(c.timeLastDecrease).Milliseconds() >= decreaseIntervalMs {
			reduced := float64(c.targetBitrate.BitsPerSec()) * (1 - 0.5*lossRatio)
			c.targetBitrate = clock.DataRateFromBitsPerSec(int64(reduced)).Clamp(c.minBitrate, c.maxBitrate)
			c.haveLastDecrease = true
			c.timeLastDecrease = now
		}
	case lossRatio <= defaultLowLossThreshold:
		if c.haveLastUpdate {
			elapsedSeconds := now.Sub(c.lastUpdateTime).Seconds()
			if elapsedSeconds > 0 {
				factor := 1 + maxIncreaseFractionPerSecond*elapsedSeconds
				c.targetBitrate = clock.DataRateFromBitsPerSec(int64(float64(c.targetBitrate.BitsPerSec()) * factor)).Clamp(c.minBitrate, c.maxBitrate)
			}
		}
		// moderate loss (2%-10%): hold, no change.
	}

	c.haveLastUpdate = true
	c.lastUpdateTime = now
	return c.targetBitrate
}
