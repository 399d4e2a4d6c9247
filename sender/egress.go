package sender

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/fec"
	"github.com/arzzra/rtprtcp/history"
	"github.com/arzzra/rtprtcp/internal/rtperr"
	"github.com/arzzra/rtprtcp/rtpext"
	"github.com/arzzra/rtprtcp/rtppkt"
	"github.com/arzzra/rtprtcp/transport"
)

var (
	errEmptyPacket      = fmt.Errorf("sender: empty packet")
	errWrongSSRCBucket  = fmt.Errorf("sender: packet SSRC does not match media/rtx/fec bucket")
)

// RtpStreamDataCounters accumulates cumulative per-stream send statistics
// (spec §5 "owned by the egress queue; observers receive immutable
// snapshots"), modeled on the teacher's flat SessionStatistics struct
// (pkg/rtp/session.go).
type RtpStreamDataCounters struct {
	PacketsTransmitted     uint64
	PacketsRetransmitted   uint64
	PacketsFEC             uint64
	BytesTransmitted       uint64
	BytesRetransmitted     uint64
	BytesFEC               uint64
}

// SendDelayObserver receives the sliding-1s-window send-to-capture delay
// statistics emitted by step 5 of send_packet (spec §4.3). Implementations
// must be non-blocking (spec §9).
type SendDelayObserver interface {
	OnSendDelay(avg, max clock.TimeDelta, accumulated clock.TimeDelta)
}

// BitrateObserver receives the per-packet-type bitrate snapshot updated in
// step 7.
type BitrateObserver interface {
	OnBitrateUpdate(kind rtppkt.PacketType, rate clock.DataRate)
}

// delayWindow is a simple time-bounded ring used for the send-to-capture
// delay statistics (spec §4.3 step 5: "sliding 1 s window"). Unlike
// rollingacc.Accumulator (fixed sample count), this evicts by age, which is
// what the spec's 1-second wall-clock window requires.
type delayWindow struct {
	samples []delaySample
	sum     clock.TimeDelta
}

type delaySample struct {
	at    clock.Timestamp
	delay clock.TimeDelta
}

func (w *delayWindow) add(now clock.Timestamp, d clock.TimeDelta) {
	w.samples = append(w.samples, delaySample{at: now, delay: d})
	w.sum = w.sum.Add(d)
	cutoff := now.Add(clock.TimeDeltaFromMilliseconds(-1000))
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		w.sum = w.sum.Sub(w.samples[i].delay)
		i++
	}
	if i > 0 {
		w.samples = append([]delaySample(nil), w.samples[i:]...)
	}
}

func (w *delayWindow) avgMax() (avg, max clock.TimeDelta) {
	if len(w.samples) == 0 {
		return clock.ZeroTimeDelta(), clock.ZeroTimeDelta()
	}
	max = w.samples[0].delay
	for _, s := range w.samples[1:] {
		if s.delay.Microseconds() > max.Microseconds() {
			max = s.delay
		}
	}
	avg = clock.TimeDeltaFromMicroseconds(w.sum.Microseconds() / int64(len(w.samples)))
	return avg, max
}

// bitrateWindow tracks bytes sent in the trailing 1s window to derive an
// instantaneous DataRate per packet type (spec §4.3 step 7).
type bitrateWindow struct {
	samples []bitrateSample
	sumBytes int64
}

type bitrateSample struct {
	at    clock.Timestamp
	bytes int64
}

func (w *bitrateWindow) add(now clock.Timestamp, n int) clock.DataRate {
	w.samples = append(w.samples, bitrateSample{at: now, bytes: int64(n)})
	w.sumBytes += int64(n)
	cutoff := now.Add(clock.TimeDeltaFromMilliseconds(-1000))
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		w.sumBytes -= w.samples[i].bytes
		i++
	}
	if i > 0 {
		w.samples = append([]bitrateSample(nil), w.samples[i:]...)
	}
	return clock.DataRateFromBitsPerSec(w.sumBytes * 8)
}

// EgresserConfig wires the Egresser's collaborators.
type EgresserConfig struct {
	MediaSSRC uint32
	RTXSSRC   uint32
	FecSSRC   uint32

	Ext  *rtpext.Registry
	Clk  clock.Clock
	Hist *history.History // nil disables history storage for this stream

	FecGenerator fec.Generator // nil disables FEC entirely

	Transport transport.Transport

	SendDelayObserver SendDelayObserver
	BitrateObserver   BitrateObserver
}

// Egresser is the single send_packet entry point (spec §4.3).
type Egresser struct {
	mu sync.Mutex

	cfg EgresserConfig

	nextTransportSeq uint16

	delay        delayWindow
	bitrateAudio bitrateWindow
	bitrateVideo bitrateWindow
	bitrateRTX   bitrateWindow
	bitrateFEC   bitrateWindow

	counters RtpStreamDataCounters

	mediaHasBeenSent bool
}

func NewEgresser(cfg EgresserConfig) *Egresser {
	return &Egresser{cfg: cfg}
}

// SetPendingFECParameters lets the caller swap in new protection factors atomically
// before the next packet that requests protection is fed to the FEC
// generator (spec §5 "pending_fec_params is a single-writer slot swapped
// atomically per flush").
func (e *Egresser) SetPendingFECParameters(params fec.ProtectionParameters) {
	if e.cfg.FecGenerator == nil {
		return
	}
	e.cfg.FecGenerator.SetProtectionParameters(params)
}

// Counters returns an immutable snapshot (spec §5: "observers receive
// immutable snapshots").
func (e *Egresser) Counters() RtpStreamDataCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// MediaHasBeenSent reports whether any non-padding packet has successfully
// gone out yet (consumed by Generator.GeneratePadding's RTX-eligibility rule).
func (e *Egresser) MediaHasBeenSent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mediaHasBeenSent
}

// SendPacket implements the 7-step pipeline of spec §4.3.
func (e *Egresser) SendPacket(ctx context.Context, p *rtppkt.Packet, isKeyFrame bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1: reject empty packets; verify SSRC bucket.
	if p.PayloadSize() == 0 && p.Type != rtppkt.PacketTypePadding {
		return rtperr.Config("sender.Egresser", "SendPacket", errEmptyPacket)
	}
	if !e.ssrcInBucket(p) {
		return rtperr.Config("sender.Egresser", "SendPacket", errWrongSSRCBucket)
	}

	// Step 2: assign a transport sequence number (transport-wide-cc) if
	// that extension is registered, and record the packet id for later
	// feedback correlation (correlation bookkeeping itself lives in the
	// BWE feedback path; here we only stamp the id onto the wire).
	var packetID uint16
	var havePacketID bool
	if e.cfg.Ext.Registered(rtpext.TypeTransportSequenceNumber) {
		packetID = e.nextTransportSeq
		e.nextTransportSeq++
		_ = rtpext.SetTransportSequenceNumber(&p.Raw.Header, e.cfg.Ext, packetID, nil)
		havePacketID = true
	}

	// Step 3: FEC protection.
	if e.cfg.FecGenerator != nil && p.FECProtectionNeeded {
		if err := e.cfg.FecGenerator.PushMediaPacket(p, isKeyFrame); err != nil {
			// Resource errors drop the FEC contribution, never the media
			// packet itself (spec §7 Resource policy).
			_ = err
		}
	}

	// Step 4: stamp toffset / abs-send-time.
	now := e.cfg.Clk.Now()
	if e.cfg.Ext.Registered(rtpext.TypeTransmissionTimeOffset) {
		offset90k := int32((now.Milliseconds() - p.CaptureTime.Milliseconds()) * 90)
		_ = rtpext.SetTransmissionTimeOffset(&p.Raw.Header, e.cfg.Ext, offset90k)
	}
	if e.cfg.Ext.Registered(rtpext.TypeAbsoluteSendTime) {
		_ = rtpext.SetAbsoluteSendTime(&p.Raw.Header, e.cfg.Ext, now)
	}

	// Step 5: send-to-capture delay, sliding 1s window.
	if p.Type != rtppkt.PacketTypePadding && p.Type != rtppkt.PacketTypeRetransmission {
		e.delay.add(now, now.Sub(p.CaptureTime))
		if e.cfg.SendDelayObserver != nil {
			avg, max := e.delay.avgMax()
			e.cfg.SendDelayObserver.OnSendDelay(avg, max, e.delay.sum)
		}
	}

	// Step 6: history bookkeeping.
	if e.cfg.Hist != nil {
		switch p.Type {
		case rtppkt.PacketTypeRetransmission:
			if p.RetransmittedSequenceNumber != nil {
				e.cfg.Hist.MarkPacketAsSent(*p.RetransmittedSequenceNumber)
			}
		default:
			if p.AllowRetransmission {
				e.cfg.Hist.PutRtpPacket(p, nil)
			}
		}
	}

	// Step 7: hand off to transport.
	buf, err := p.Marshal()
	if err != nil {
		return rtperr.Parse("sender.Egresser", "SendPacket", err)
	}
	opts := transport.PacketOptions{PacketID: packetID, HasPacketID: havePacketID}
	n, err := e.cfg.Transport.SendRTP(ctx, buf, opts)
	if err != nil {
		return rtperr.Transient("sender.Egresser", "SendPacket", err)
	}

	if p.Type != rtppkt.PacketTypePadding {
		e.mediaHasBeenSent = true
	}
	e.updateCountersLocked(p, n)
	e.updateBitrateLocked(p, now, n)

	return nil
}

func (e *Egresser) ssrcInBucket(p *rtppkt.Packet) bool {
	switch p.SSRC() {
	case e.cfg.MediaSSRC, e.cfg.RTXSSRC, e.cfg.FecSSRC:
		return true
	default:
		return false
	}
}

func (e *Egresser) updateCountersLocked(p *rtppkt.Packet, n int) {
	switch p.Type {
	case rtppkt.PacketTypeRetransmission:
		e.counters.PacketsRetransmitted++
		e.counters.BytesRetransmitted += uint64(n)
	case rtppkt.PacketTypeFEC:
		e.counters.PacketsFEC++
		e.counters.BytesFEC += uint64(n)
	default:
		e.counters.PacketsTransmitted++
		e.counters.BytesTransmitted += uint64(n)
	}
}

func (e *Egresser) updateBitrateLocked(p *rtppkt.Packet, now clock.Timestamp, n int) {
	if e.cfg.BitrateObserver == nil {
		return
	}
	var rate clock.DataRate
	switch p.Type {
	case rtppkt.PacketTypeRetransmission:
		rate = e.bitrateRTX.add(now, n)
	case rtppkt.PacketTypeFEC:
		rate = e.bitrateFEC.add(now, n)
	case rtppkt.PacketTypeAudio:
		rate = e.bitrateAudio.add(now, n)
	default:
		rate = e.bitrateVideo.add(now, n)
	}
	e.cfg.BitrateObserver.OnBitrateUpdate(p.Type, rate)
}
