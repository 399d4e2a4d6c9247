package rtcp

import (
	"sync"

	"github.com/pion/rtcp"

	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/internal/rtperr"
)

// RTTStats is the per-remote-SSRC round-trip-time ledger (spec §4.10:
// "maintained per-remote-SSRC as {last, min, max, sum, count}").
type RTTStats struct {
	Last  clock.TimeDelta
	Min   clock.TimeDelta
	Max   clock.TimeDelta
	Sum   clock.TimeDelta
	Count int
}

func (s *RTTStats) observe(d clock.TimeDelta) {
	if s.Count == 0 || d.Microseconds() < s.Min.Microseconds() {
		s.Min = d
	}
	if d.Microseconds() > s.Max.Microseconds() {
		s.Max = d
	}
	s.Last = d
	s.Sum = s.Sum.Add(d)
	s.Count++
}

func (s RTTStats) Average() clock.TimeDelta {
	if s.Count == 0 {
		return clock.ZeroTimeDelta()
	}
	return clock.TimeDeltaFromMicroseconds(s.Sum.Microseconds() / int64(s.Count))
}

// remoteSRRecord is the last SR this receiver saw from a given SSRC, used to
// compute RTT when the matching RR report block arrives (spec §4.10).
type remoteSRRecord struct {
	compactNTP uint32
	receivedAt clock.Timestamp
}

// Callbacks groups the capability-set of function objects a Receiver
// forwards parsed feedback to (spec §9: "replaced by a capability-set
// structure of function objects"). Every field is optional and must be
// non-blocking.
type Callbacks struct {
	OnSenderReport       func(ssrc uint32, f SenderReportFields)
	OnReceiverReport     func(ssrc uint32, reports []rtcp.ReceptionReport)
	OnNack               func(senderSSRC, mediaSSRC uint32, pairs []rtcp.NackPair)
	OnPLI                func(senderSSRC, mediaSSRC uint32)
	OnFIR                func(senderSSRC uint32, entries []rtcp.FIREntry)
	OnREMB               func(r *rtcp.ReceiverEstimatedMaximumBitrate)
	OnTMMBR              func(senderSSRC, mediaSSRC uint32, items []TMMBItem)
	OnTMMBN              func(senderSSRC, mediaSSRC uint32, items []TMMBItem)
	OnLossNotification   func(ln *LossNotification)
	OnBye                func(sources []uint32)
	OnRTT                func(ssrc uint32, rtt clock.TimeDelta)
}

// Receiver parses compound RTCP packets (spec §4.10). It tolerates unknown
// block types by skipping them, matching pion/rtcp.Unmarshal's own
// behaviour of decoding unrecognized payloads as rtcp.RawPacket instead of
// failing the whole compound packet.
type Receiver struct {
	mu sync.Mutex

	clk clock.Clock

	remoteSR map[uint32]remoteSRRecord
	rtt      map[uint32]*RTTStats

	cb Callbacks
}

func NewReceiver(clk clock.Clock, cb Callbacks) *Receiver {
	return &Receiver{
		clk:      clk,
		remoteSR: make(map[uint32]remoteSRRecord),
		rtt:      make(map[uint32]*RTTStats),
		cb:       cb,
	}
}

// NoteSentSenderReport records the compact NTP of an SR this endpoint just
// sent under its own SSRC, so that a later-arriving report block echoing it
// back (LastSenderReport/Delay) can be turned into an RTT sample. Sender
// calls this whenever Flush builds an SR, just before the compound packet
// is sent (spec §4.10's
// "remote SR/NTP record", symmetric for the sending side).
func (r *Receiver) NoteSentSenderReport(ssrc uint32, ntp clock.NtpTime, sentAt clock.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteSR[ssrc] = remoteSRRecord{compactNTP: ntp.CompactNtp(), receivedAt: sentAt}
}

// RTT returns the accumulated round-trip statistics for a remote SSRC.
func (r *Receiver) RTT(ssrc uint32) (RTTStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rtt[ssrc]
	if !ok {
		return RTTStats{}, false
	}
	return *s, true
}

// HandleCompound parses one datagram's worth of RTCP packets and dispatches
// each to the matching callback (spec §4.10).
func (r *Receiver) HandleCompound(buf []byte) error {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return rtperr.Parse("rtcp.Receiver", "HandleCompound", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range packets {
		switch v := p.(type) {
		case *rtcp.SenderReport:
			r.handleSenderReportLocked(v)
		case *rtcp.ReceiverReport:
			r.handleReceiverReportLocked(v)
		case *rtcp.TransportLayerNack:
			if r.cb.OnNack != nil {
				r.cb.OnNack(v.SenderSSRC, v.MediaSSRC, v.Nacks)
			}
		case *rtcp.PictureLossIndication:
			if r.cb.OnPLI != nil {
				r.cb.OnPLI(v.SenderSSRC, v.MediaSSRC)
			}
		case *rtcp.FullIntraRequest:
			if r.cb.OnFIR != nil {
				r.cb.OnFIR(v.SenderSSRC, v.FIR)
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			if r.cb.OnREMB != nil {
				r.cb.OnREMB(v)
			}
		case *rtcp.Goodbye:
			if r.cb.OnBye != nil {
				r.cb.OnBye(v.Sources)
			}
		case *rtcp.RawPacket:
			r.handleUnknownLocked(v)
		default:
			// Unknown but already-typed by pion/rtcp (e.g. SDES, XR): no
			// feedback callback is defined for it in this module's scope;
			// skip without error, matching "tolerates unknown block types
			// by skipping".
		}
	}
	return nil
}

// handleUnknownLocked retries payloads pion/rtcp couldn't classify against
// this module's own TMMBR/TMMBN/LossNotification framings before giving up
// on them silently.
func (r *Receiver) handleUnknownLocked(raw *rtcp.RawPacket) {
	bytes := []byte(*raw)
	if len(bytes) < 8 {
		return
	}
	header := bytes[0]
	format := header & 0x1F
	packetType := bytes[1]

	switch {
	case packetType == uint8(rtcp.TypeTransportSpecificFeedback) && format == rtpfbFormatTMMBR:
		var v TransportLayerMaxTmmbr
		if v.Unmarshal(bytes) == nil && r.cb.OnTMMBR != nil {
			r.cb.OnTMMBR(v.SenderSSRC, v.MediaSSRC, v.Items)
		}
	case packetType == uint8(rtcp.TypeTransportSpecificFeedback) && format == rtpfbFormatTMMBN:
		var v TransportLayerMaxTmmbn
		if v.Unmarshal(bytes) == nil && r.cb.OnTMMBN != nil {
			r.cb.OnTMMBN(v.SenderSSRC, v.MediaSSRC, v.Items)
		}
	case packetType == uint8(rtcp.TypePayloadSpecificFeedback) && format == psfbFormatAFB:
		var v LossNotification
		if v.Unmarshal(bytes) == nil && r.cb.OnLossNotification != nil {
			r.cb.OnLossNotification(&v)
		}
	}
}

func (r *Receiver) handleSenderReportLocked(sr *rtcp.SenderReport) {
	now := r.clk.Now()
	r.remoteSR[sr.SSRC] = remoteSRRecord{
		compactNTP: clock.CompactNtpFromValue(sr.NTPTime),
		receivedAt: now,
	}
	if r.cb.OnSenderReport != nil {
		r.cb.OnSenderReport(sr.SSRC, SenderReportFields{
			NTPTime:          clock.NewNtpTime(sr.NTPTime),
			RTPTimestamp:     sr.RTPTime,
			PacketCount:      sr.PacketCount,
			OctetCount:       sr.OctetCount,
			ReceptionReports: sr.Reports,
		})
	}
}

func (r *Receiver) handleReceiverReportLocked(rr *rtcp.ReceiverReport) {
	if r.cb.OnReceiverReport != nil {
		r.cb.OnReceiverReport(rr.SSRC, rr.Reports)
	}
	for _, block := range rr.Reports {
		r.updateRTTLocked(block)
	}
}

// updateRTTLocked implements spec §4.10's RTT formula against the SR record
// this receiver previously saw from block.SSRC: RTT = now_compact_ntp -
// last_sr_compact_ntp - delay_since_last_sr_compact_ntp.
func (r *Receiver) updateRTTLocked(block rtcp.ReceptionReport) {
	if block.LastSenderReport == 0 {
		return
	}
	rec, ok := r.remoteSR[block.SSRC]
	if !ok || rec.compactNTP != block.LastSenderReport {
		return
	}
	nowCompact := clock.CompactNtpFromValue(uint64(r.clk.CurrentNtpTime().Value()))
	rttCompact := int64(nowCompact) - int64(block.LastSenderReport) - int64(block.Delay)
	if rttCompact < 0 {
		return
	}
	// Compact NTP units are 1/65536 s.
	rttMs := rttCompact * 1000 / 65536
	stats, ok := r.rtt[block.SSRC]
	if !ok {
		stats = &RTTStats{}
		r.rtt[block.SSRC] = stats
	}
	d := clock.TimeDeltaFromMilliseconds(rttMs)
	stats.observe(d)
	if r.cb.OnRTT != nil {
		r.cb.OnRTT(block.SSRC, d)
	}
}
