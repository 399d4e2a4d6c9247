// Package ntp maps a remote sender's RTP timestamps to local monotonic
// time, anchored on the (NTP time, RTP timestamp) pairs carried in its
// Sender Reports (spec's "Remote NTP estimator": "maps sender RTP
// timestamps to local monotonic time via SR round-trips").
package ntp

import (
	"github.com/arzzra/rtprtcp/clock"
)

// Measurement is one (NTP time, RTP timestamp) anchor taken from a remote
// Sender Report.
type Measurement struct {
	NTPTimeMs    int64
	RTPTimestamp int64 // unwrapped
}

// Estimator fits a line between the oldest and newest SR anchors it has
// seen and uses it to convert any RTP timestamp in that stream into an NTP
// millisecond value, extrapolating linearly outside the observed range.
// Grounded on the two-measurement linear-regression idiom RTP-to-NTP
// estimators use industry-wide: a single SR anchor can't reveal the
// stream's actual clock rate (drift, clock-skew), so at least two are kept
// and the slope between them stands in for the nominal clock rate once
// available.
type Estimator struct {
	oldest, newest *Measurement

	haveLastRTP bool
	lastRTP     uint32
	cycles      int64
}

// New returns an estimator with no anchors yet.
func New() *Estimator {
	return &Estimator{}
}

// unwrap extends a 32-bit RTP timestamp to a monotonic 64-bit tick count,
// using the same half-range wraparound rule as every other sequence/
// timestamp unwrapper in this module.
func (e *Estimator) unwrap(rtpTimestamp uint32) int64 {
	if e.haveLastRTP && rtpTimestamp < e.lastRTP && (e.lastRTP-rtpTimestamp) > (1<<31) {
		e.cycles++
	}
	e.lastRTP = rtpTimestamp
	e.haveLastRTP = true
	return e.cycles<<32 + int64(rtpTimestamp)
}

// UpdateMeasurements folds in a fresh (ntp, rtpTimestamp) anchor from a
// just-received Sender Report. Returns false if the sample was rejected as
// stale (an RTP timestamp at or behind the oldest anchor already held).
func (e *Estimator) UpdateMeasurements(ntpTime clock.NtpTime, rtpTimestamp uint32) bool {
	unwrapped := e.unwrap(rtpTimestamp)
	ntpMs := ntpTime.ToMs()

	if e.oldest == nil {
		e.oldest = &Measurement{NTPTimeMs: ntpMs, RTPTimestamp: unwrapped}
		return true
	}
	if unwrapped <= e.oldest.RTPTimestamp {
		return false
	}
	e.newest = &Measurement{NTPTimeMs: ntpMs, RTPTimestamp: unwrapped}
	return true
}

// Estimate converts rtpTimestamp to an NTP-domain millisecond value using
// the line fitted through the held anchors. ok is false until at least one
// anchor has been recorded.
func (e *Estimator) Estimate(rtpTimestamp uint32) (ntpMs int64, ok bool) {
	if e.oldest == nil {
		return 0, false
	}

	unwrapped := e.peekUnwrap(rtpTimestamp)

	if e.newest == nil || e.newest.RTPTimestamp == e.oldest.RTPTimestamp {
		// Only one anchor (or a degenerate pair): fall back to the
		// standard RTP clock rate for video (90 kHz) rather than refuse
		// to answer.
		const defaultClockRateHz = 90000
		deltaTicks := unwrapped - e.oldest.RTPTimestamp
		return e.oldest.NTPTimeMs + deltaTicks*1000/defaultClockRateHz, true
	}

	slope := float64(e.newest.NTPTimeMs-e.oldest.NTPTimeMs) / float64(e.newest.RTPTimestamp-e.oldest.RTPTimestamp)
	deltaTicks := float64(unwrapped - e.oldest.RTPTimestamp)
	return e.oldest.NTPTimeMs + int64(slope*deltaTicks+0.5), true
}

// peekUnwrap extends rtpTimestamp relative to the estimator's wraparound
// state without mutating it, for use from Estimate (which may be called
// with timestamps that don't arrive in the same order UpdateMeasurements
// saw them).
func (e *Estimator) peekUnwrap(rtpTimestamp uint32) int64 {
	if e.haveLastRTP && rtpTimestamp < e.lastRTP && (e.lastRTP-rtpTimestamp) > (1<<31) {
		return (e.cycles+1)<<32 + int64(rtpTimestamp)
	}
	return e.cycles<<32 + int64(rtpTimestamp)
}

// Reset drops all held anchors, e.g. on an SSRC change within the same
// logical stream.
func (e *Estimator) Reset() {
	e.oldest = nil
	e.newest = nil
	e.haveLastRTP = false
	e.cycles = 0
}
