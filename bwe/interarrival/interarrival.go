// Package interarrival groups incoming packets by send time into bursts and
// emits inter-group (send, arrival, size) deltas for the trendline
// estimator to consume (spec §4.11 "Inter-arrival delta").
package interarrival

import "github.com/arzzra/rtprtcp/clock"

const (
	burstDeltaThresholdUs        = 5000
	maxBurstDurationUs           = 100000
	arrivalTimeOffsetThresholdUs = 3_000_000
	reorderedResetThreshold      = 3
)

// Delta is one emitted inter-group sample.
type Delta struct {
	SendTimeDelta    clock.TimeDelta
	ArrivalTimeDelta clock.TimeDelta
	PacketSizeDelta  int
}

type group struct {
	size               int
	hasPackets         bool
	firstSendTime      clock.Timestamp
	firstArrivalTime   clock.Timestamp
	lastSendTime       clock.Timestamp
	lastArrivalTime    clock.Timestamp
	lastSystemTime     clock.Timestamp
}

func (g *group) reset() { *g = group{} }

// Estimator accumulates packets into send-time groups and reports the delta
// between consecutive completed groups.
type Estimator struct {
	groupTimeSpan clock.TimeDelta

	curr, prev group

	numConsecutiveReordered int
}

// NewEstimator returns an Estimator grouping packets within a 5ms send-time
// span (spec §4.11).
func NewEstimator() *Estimator {
	return &Estimator{groupTimeSpan: clock.TimeDeltaFromMilliseconds(5)}
}

// Reset clears accumulated group state, e.g. after a detected clock jump.
func (e *Estimator) Reset() {
	e.curr.reset()
	e.prev.reset()
	e.numConsecutiveReordered = 0
}

// ComputeDeltas folds in one packet's (sendTime, arrivalTime, systemTime,
// size) and returns the delta against the previous completed group once
// this packet's arrival closes out the current one. ok is false while
// still accumulating the current group, or after a reset.
func (e *Estimator) ComputeDeltas(sendTime, arrivalTime, systemTime clock.Timestamp, size int) (Delta, bool) {
	if e.curr.hasPackets {
		if arrivalTime.Sub(e.curr.lastArrivalTime).Microseconds()-systemTime.Sub(e.curr.lastSystemTime).Microseconds() >= arrivalTimeOffsetThresholdUs {
			e.Reset()
		}
	}

	if !e.curr.hasPackets {
		e.curr.firstSendTime = sendTime
		e.curr.firstArrivalTime = arrivalTime
		e.curr.lastSendTime = sendTime
		e.curr.lastArrivalTime = arrivalTime
		e.curr.lastSystemTime = systemTime
		e.curr.size = size
		e.curr.hasPackets = true
		return Delta{}, false
	}

	if e.isNewPacketGroup(arrivalTime, sendTime) {
		if e.prev.hasPackets {
			d := Delta{
				SendTimeDelta:    e.curr.firstSendTime.Sub(e.prev.firstSendTime),
				ArrivalTimeDelta: e.curr.firstArrivalTime.Sub(e.prev.firstArrivalTime),
				PacketSizeDelta:  e.curr.size - e.prev.size,
			}
			if d.ArrivalTimeDelta.Microseconds() < 0 {
				e.numConsecutiveReordered++
				if e.numConsecutiveReordered >= reorderedResetThreshold {
					e.Reset()
				}
				return Delta{}, false
			}
			e.numConsecutiveReordered = 0
			e.prev = e.curr
			e.curr = group{
				firstSendTime:    sendTime,
				firstArrivalTime: arrivalTime,
				lastSendTime:     sendTime,
				lastArrivalTime:  arrivalTime,
				lastSystemTime:   systemTime,
				size:             size,
				hasPackets:       true,
			}
			return d, true
		}
		e.prev = e.curr
		e.curr = group{
			firstSendTime:    sendTime,
			firstArrivalTime: arrivalTime,
			lastSendTime:     sendTime,
			lastArrivalTime:  arrivalTime,
			lastSystemTime:   systemTime,
			size:             size,
			hasPackets:       true,
		}
		return Delta{}, false
	}

	e.curr.lastSendTime = sendTime
	e.curr.lastArrivalTime = arrivalTime
	e.curr.lastSystemTime = systemTime
	e.curr.size += size
	return Delta{}, false
}

func (e *Estimator) isNewPacketGroup(arrivalTime, sendTime clock.Timestamp) bool {
	if e.doesBurstHappen(arrivalTime, sendTime) {
		return false
	}
	return sendTime.Sub(e.curr.firstSendTime).Microseconds() > e.groupTimeSpan.Microseconds()
}

// doesBurstHappen implements spec §4.11's burst-merge condition: a packet
// arriving very soon after the current group's last packet, faster than it
// was sent (negative transport delay delta), and still within 100ms of the
// group's first arrival, joins the current group even if its send time
// would otherwise start a new one.
func (e *Estimator) doesBurstHappen(arrivalTime, sendTime clock.Timestamp) bool {
	sendTimeDelta := sendTime.Sub(e.curr.lastSendTime)
	if sendTimeDelta.Microseconds() == 0 {
		return true
	}
	arrivalTimeDelta := arrivalTime.Sub(e.curr.lastArrivalTime)
	transportDelayDelta := arrivalTimeDelta.Microseconds() - sendTimeDelta.Microseconds()
	if transportDelayDelta < 0 &&
		arrivalTimeDelta.Microseconds() <= burstDeltaThresholdUs &&
		arrivalTime.Sub(e.curr.firstArrivalTime).Microseconds() < maxBurstDurationUs {
		return true
	}
	return false
}
