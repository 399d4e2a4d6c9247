// Package probe estimates the bitrate a deliberate probe burst actually
// achieved, aggregating feedback per probe cluster (module table §4.14
// "Probe bitrate estimator").
package probe

import "github.com/arzzra/rtprtcp/clock"

const (
	minReceivedProbesRatio    = 0.8
	minReceivedBytesRatio     = 0.8
	maxValidRatio             = 2.0
	minRatioForUnsaturatedLink = 0.9
	targetUtilizationFraction = 0.95
)

var (
	maxClusterHistory = clock.TimeDeltaFromSeconds(1)
	maxProbeInterval  = clock.TimeDeltaFromSeconds(1)
)

// PacketFeedback is one probe packet's send/receive record.
type PacketFeedback struct {
	ClusterID int
	MinProbes int
	MinBytes  int
	SendTime  clock.Timestamp
	RecvTime  clock.Timestamp
	Size      int
}

type aggregatedCluster struct {
	numProbes     int
	firstSendTime clock.Timestamp
	lastSendTime  clock.Timestamp
	firstRecvTime clock.Timestamp
	lastRecvTime  clock.Timestamp
	lastSendSize  int
	firstRecvSize int
	totalSize     int
}

func newAggregatedCluster() *aggregatedCluster {
	return &aggregatedCluster{
		firstSendTime: clock.PlusInfinityTimestamp(),
		lastSendTime:  clock.MinusInfinityTimestamp(),
		firstRecvTime: clock.PlusInfinityTimestamp(),
		lastRecvTime:  clock.MinusInfinityTimestamp(),
	}
}

// Estimator aggregates probe-packet feedback per cluster and produces a
// bitrate estimate once a cluster's feedback looks complete enough to
// trust.
type Estimator struct {
	clusters map[int]*aggregatedCluster

	estimatedBitrate clock.DataRate
	haveEstimate     bool
}

// NewEstimator returns an estimator with no clusters tracked yet.
func NewEstimator() *Estimator {
	return &Estimator{clusters: make(map[int]*aggregatedCluster)}
}

// IncomingProbePacket folds in one probe packet's feedback. ok is true only
// once its cluster has enough probes/bytes and a valid, plausible send/
// receive rate ratio to produce a bitrate estimate.
func (e *Estimator) IncomingProbePacket(pf PacketFeedback) (clock.DataRate, bool) {
	e.eraseOldClusters(pf.RecvTime)

	c, ok := e.clusters[pf.ClusterID]
	if !ok {
		c = newAggregatedCluster()
		e.clusters[pf.ClusterID] = c
	}

	if pf.SendTime.Before(c.firstSendTime) {
		c.firstSendTime = pf.SendTime
	}
	if pf.SendTime.After(c.lastSendTime) {
		c.lastSendTime = pf.SendTime
		c.lastSendSize = pf.Size
	}
	if pf.RecvTime.Before(c.firstRecvTime) {
		c.firstRecvTime = pf.RecvTime
		c.firstRecvSize = pf.Size
	}
	if pf.RecvTime.After(c.lastRecvTime) {
		c.lastRecvTime = pf.RecvTime
	}
	c.totalSize += pf.Size
	c.numProbes++

	minProbes := float64(pf.MinProbes) * minReceivedProbesRatio
	minSize := float64(pf.MinBytes) * minReceivedBytesRatio
	if float64(c.numProbes) < minProbes || float64(c.totalSize) < minSize {
		return clock.DataRate{}, false
	}

	sendInterval := c.lastSendTime.Sub(c.firstSendTime)
	recvInterval := c.lastRecvTime.Sub(c.firstRecvTime)
	if sendInterval.Microseconds() <= 0 || sendInterval.Microseconds() > maxProbeInterval.Microseconds() ||
		recvInterval.Microseconds() <= 0 || recvInterval.Microseconds() > maxProbeInterval.Microseconds() {
		return clock.DataRate{}, false
	}

	// Excludes the last sent packet's own size: send_interval doesn't cover
	// the time spent transmitting it.
	sendSize := c.totalSize - c.lastSendSize
	sendBitrate := clock.DataRateFromBitsPerSec(int64(float64(sendSize*8) * 1000.0 / float64(sendInterval.Milliseconds())))

	// Excludes the first received packet's own size for the same reason.
	recvSize := c.totalSize - c.firstRecvSize
	recvBitrate := clock.DataRateFromBitsPerSec(int64(float64(recvSize*8) * 1000.0 / float64(recvInterval.Milliseconds())))

	if sendBitrate.BitsPerSec() <= 0 {
		return clock.DataRate{}, false
	}
	ratio := float64(recvBitrate.BitsPerSec()) / float64(sendBitrate.BitsPerSec())
	if ratio > maxValidRatio {
		return clock.DataRate{}, false
	}

	ret := sendBitrate
	if recvBitrate.BitsPerSec() < sendBitrate.BitsPerSec() {
		ret = recvBitrate
	}
	if float64(recvBitrate.BitsPerSec()) < minRatioForUnsaturatedLink*float64(sendBitrate.BitsPerSec()) {
		ret = clock.DataRateFromBitsPerSec(int64(targetUtilizationFraction * float64(recvBitrate.BitsPerSec())))
	}

	e.estimatedBitrate = ret
	e.haveEstimate = true
	return ret, true
}

// Estimate returns the latest estimate produced by IncomingProbePacket, and
// clears it when resetAfterReading is true so a stale value isn't handed
// out twice.
func (e *Estimator) Estimate(resetAfterReading bool) (clock.DataRate, bool) {
	if !e.haveEstimate {
		return clock.DataRate{}, false
	}
	ret := e.estimatedBitrate
	if resetAfterReading {
		e.haveEstimate = false
	}
	return ret, true
}

// eraseOldClusters drops clusters whose last-seen receive time is more than
// 1s behind timestamp — a probe burst is never expected to straddle a
// longer gap than that.
func (e *Estimator) eraseOldClusters(timestamp clock.Timestamp) {
	for id, c := range e.clusters {
		if c.lastRecvTime.Add(maxClusterHistory).Before(timestamp) {
			delete(e.clusters, id)
		}
	}
}
