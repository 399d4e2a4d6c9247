package rtcp

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/internal/rtperr"
	"github.com/arzzra/rtprtcp/transport"
)

// ReportInterval picks the compound-packet timer interval (spec §4.10):
// min(rtcpReportInterval, 360_000/send_bitrate_kbps) for video senders,
// jittered into [1/2, 3/2]. Audio-only / non-sending sessions use the
// configured interval unjittered-base the same way.
func ReportInterval(rnd *rand.Rand, rtcpReportInterval time.Duration, sendBitrateKbps float64, isVideoSender bool) time.Duration {
	base := rtcpReportInterval
	if isVideoSender && sendBitrateKbps > 0 {
		bwBound := time.Duration(360_000/sendBitrateKbps) * time.Millisecond
		if bwBound < base {
			base = bwBound
		}
	}
	factor := 0.5 + rnd.Float64()
	return time.Duration(float64(base) * factor)
}

// SenderConfig wires the outgoing RTCP path.
type SenderConfig struct {
	SenderSSRC uint32
	MediaSSRC  uint32 // remote SSRC this sender requests feedback about
	CNAME      string

	Clk       clock.Clock
	Transport transport.Transport
}

// pendingFeedback accumulates volatile flags that the next Flush call
// consumes (spec §4.10: "Flags are volatile unless explicitly sticky; each
// flush consumes volatile flags").
type pendingFeedback struct {
	nack  []rtcp.NackPair
	pli   bool
	fir   []rtcp.FIREntry
	remb  *rtcp.ReceiverEstimatedMaximumBitrate
	tmmbr []TMMBItem
	tmmbn []TMMBItem
	lntf  *LossNotification
	bye   bool
}

// Sender assembles compound RTCP packets on demand (spec §4.10). The
// calling timer (owned by the worker queue per spec §5) decides when to
// call Flush; this type owns no goroutine of its own.
type Sender struct {
	mu sync.Mutex

	cfg SenderConfig

	sending bool // true once this endpoint has sent at least one RTP packet

	pending pendingFeedback

	// reportGenerator supplies the SR/RR numeric fields; kept as a small
	// function-object capability per spec §9 ("virtual inheritance of
	// observers ... replaced by a capability-set structure of function
	// objects") rather than a full interface this package would have to
	// own the lifetime of.
	SenderReportFields func() SenderReportFields
	ReceiverReports    func() []rtcp.ReceptionReport

	// RTTTracker is notified after every SR this Sender emits, so the RTT
	// computed from the peer's later echo (spec §4.10) has something to
	// compare against. Optional; typically the paired rtcp.Receiver for the
	// same stream.
	RTTTracker interface {
		NoteSentSenderReport(ssrc uint32, ntp clock.NtpTime, sentAt clock.Timestamp)
	}
}

// SenderReportFields are the numeric fields only the egress/statistics
// stage knows (packet/octet counts, RTP timestamp at report time).
type SenderReportFields struct {
	NTPTime       clock.NtpTime
	RTPTimestamp  uint32
	PacketCount   uint32
	OctetCount    uint32
	ReceptionReports []rtcp.ReceptionReport
}

func NewSender(cfg SenderConfig) *Sender {
	return &Sender{cfg: cfg}
}

func (s *Sender) MarkSending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = true
}

// RequestNack / RequestPLI / RequestFIR / RequestREMB / RequestTMMBR /
// RequestTMMBN / RequestLossNotification / RequestBye set (OR merge) the
// volatile flags the next Flush will include.
func (s *Sender) RequestNack(pairs []rtcp.NackPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.nack = append(s.pending.nack, pairs...)
}

func (s *Sender) RequestPLI() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.pli = true
}

func (s *Sender) RequestFIR(entries []rtcp.FIREntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.fir = append(s.pending.fir, entries...)
}

func (s *Sender) RequestREMB(r *rtcp.ReceiverEstimatedMaximumBitrate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.remb = r
}

func (s *Sender) RequestTMMBR(items []TMMBItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.tmmbr = append(s.pending.tmmbr, items...)
}

func (s *Sender) RequestTMMBN(items []TMMBItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.tmmbn = append(s.pending.tmmbn, items...)
}

func (s *Sender) RequestLossNotification(ln *LossNotification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.lntf = ln
}

func (s *Sender) RequestBye() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.bye = true
}

// Flush assembles and sends one compound packet: SR (if sending) or RR,
// then SDES (if CNAME set), then any pending feedback, consuming every
// volatile flag (spec §4.10).
func (s *Sender) Flush(ctx context.Context) error {
	s.mu.Lock()
	var packets []rtcp.Packet

	if s.sending && s.SenderReportFields != nil {
		f := s.SenderReportFields()
		packets = append(packets, &rtcp.SenderReport{
			SSRC:        s.cfg.SenderSSRC,
			NTPTime:     f.NTPTime.Value(),
			RTPTime:     f.RTPTimestamp,
			PacketCount: f.PacketCount,
			OctetCount:  f.OctetCount,
			Reports:     f.ReceptionReports,
		})
		if s.RTTTracker != nil {
			s.RTTTracker.NoteSentSenderReport(s.cfg.SenderSSRC, f.NTPTime, s.cfg.Clk.Now())
		}
	} else {
		var reports []rtcp.ReceptionReport
		if s.ReceiverReports != nil {
			reports = s.ReceiverReports()
		}
		packets = append(packets, &rtcp.ReceiverReport{SSRC: s.cfg.SenderSSRC, Reports: reports})
	}

	if s.cfg.CNAME != "" {
		packets = append(packets, &rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: s.cfg.SenderSSRC,
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: s.cfg.CNAME,
				}},
			}},
		})
	}

	if len(s.pending.nack) > 0 {
		packets = append(packets, &rtcp.TransportLayerNack{SenderSSRC: s.cfg.SenderSSRC, MediaSSRC: s.cfg.MediaSSRC, Nacks: s.pending.nack})
	}
	if s.pending.pli {
		packets = append(packets, &rtcp.PictureLossIndication{SenderSSRC: s.cfg.SenderSSRC, MediaSSRC: s.cfg.MediaSSRC})
	}
	if len(s.pending.fir) > 0 {
		packets = append(packets, &rtcp.FullIntraRequest{SenderSSRC: s.cfg.SenderSSRC, FIR: s.pending.fir})
	}
	if s.pending.remb != nil {
		packets = append(packets, s.pending.remb)
	}
	if len(s.pending.tmmbr) > 0 {
		packets = append(packets, &TransportLayerMaxTmmbr{SenderSSRC: s.cfg.SenderSSRC, MediaSSRC: s.cfg.MediaSSRC, Items: s.pending.tmmbr})
	}
	if len(s.pending.tmmbn) > 0 {
		packets = append(packets, &TransportLayerMaxTmmbn{SenderSSRC: s.cfg.SenderSSRC, MediaSSRC: s.cfg.MediaSSRC, Items: s.pending.tmmbn})
	}
	if s.pending.lntf != nil {
		packets = append(packets, s.pending.lntf)
	}
	if s.pending.bye {
		packets = append(packets, &rtcp.Goodbye{Sources: []uint32{s.cfg.SenderSSRC}})
	}

	s.pending = pendingFeedback{}
	s.mu.Unlock()

	buf, err := rtcp.Marshal(packets)
	if err != nil {
		return rtperr.Fatal("rtcp.Sender", "Flush", err)
	}
	if _, err := s.cfg.Transport.SendRTCP(ctx, buf); err != nil {
		return rtperr.Transient("rtcp.Sender", "Flush", err)
	}
	return nil
}
