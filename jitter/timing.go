package jitter

// Timing turns a frame's RTP timestamp plus the jitter estimator's current
// estimate into the local millisecond instant the frame should be handed to
// the decoder/renderer (spec §4.9 "Render-time estimation").
//
// The cached (rtp_ts, local_ms) base lets the estimate survive RTP
// timestamp wrap-around and reordering: rather than trusting each frame's
// raw local arrival time directly (which jitters with every packet's
// network delay), the base anchors a linear RTP-clock-rate projection that
// the jitter/decode/render terms are then added on top of.
type Timing struct {
	estimator *Estimator

	clockRateHz int64

	minPlayoutDelayMs int64
	decodeDelayMs     int64
	renderDelayMs     int64

	haveBase        bool
	baseRTPUnwrapped int64
	baseLocalMs      int64

	haveLastRTP bool
	lastRTP     uint32
	cycles      int64
}

// NewTiming returns a Timing that projects RTP timestamps ticking at
// clockRateHz (e.g. 90000 for video) into local milliseconds, using jitter
// estimates from estimator.
func NewTiming(estimator *Estimator, clockRateHz int64) *Timing {
	return &Timing{estimator: estimator, clockRateHz: clockRateHz, renderDelayMs: 10}
}

// SetMinPlayoutDelay sets the floor below which RenderTimeMs will never
// return a time earlier than the base-projected arrival.
func (t *Timing) SetMinPlayoutDelay(ms int64) { t.minPlayoutDelayMs = ms }

// SetDecodeDelay sets the fixed decode-latency term folded into the
// estimate (typically a rolling max of recent decode durations, tracked by
// the caller).
func (t *Timing) SetDecodeDelay(ms int64) { t.decodeDelayMs = ms }

// SetRenderDelay sets the fixed render-pipeline latency term.
func (t *Timing) SetRenderDelay(ms int64) { t.renderDelayMs = ms }

// Reset drops the cached wraparound base, so the next call to RenderTimeMs
// re-anchors instead of projecting off stale state (e.g. after a stream
// restart with a fresh RTP timestamp space).
func (t *Timing) Reset() {
	t.haveBase = false
	t.haveLastRTP = false
	t.cycles = 0
}

// unwrap extends a 32-bit RTP timestamp to a monotonic 64-bit tick count,
// using the same half-range wraparound rule as the sequence-number and
// picture-id unwrappers elsewhere in this module.
func (t *Timing) unwrap(rtpTimestamp uint32) int64 {
	if t.haveLastRTP && rtpTimestamp < t.lastRTP && (t.lastRTP-rtpTimestamp) > (1<<31) {
		t.cycles++
	}
	t.lastRTP = rtpTimestamp
	t.haveLastRTP = true
	return t.cycles<<32 + int64(rtpTimestamp)
}

// RenderTimeMs returns the local millisecond instant a frame captured at
// rtpTimestamp and received at receiveTimeMs should be rendered.
func (t *Timing) RenderTimeMs(rtpTimestamp uint32, receiveTimeMs int64) int64 {
	unwrapped := t.unwrap(rtpTimestamp)
	if !t.haveBase {
		t.baseRTPUnwrapped = unwrapped
		t.baseLocalMs = receiveTimeMs
		t.haveBase = true
	}

	elapsedTicks := unwrapped - t.baseRTPUnwrapped
	projectedMs := t.baseLocalMs + elapsedTicks*1000/t.clockRateHz

	// A raw receive time more than 5000ms away from the RTP-clock projection,
	// in either direction, means the stream restarted its timestamp space or
	// the base is stale; re-anchor instead of projecting nonsense.
	if projectedMs < receiveTimeMs-5000 || projectedMs > receiveTimeMs+5000 {
		t.baseRTPUnwrapped = unwrapped
		t.baseLocalMs = receiveTimeMs
		projectedMs = receiveTimeMs
	}

	jitterMs := int64(0)
	if t.estimator != nil {
		jitterMs = t.estimator.GetJitterEstimate(0, nil, false)
	}

	renderMs := projectedMs + jitterMs + t.decodeDelayMs + t.renderDelayMs
	floor := projectedMs + t.minPlayoutDelayMs
	if renderMs < floor {
		renderMs = floor
	}
	return renderMs
}
