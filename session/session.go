// Package session wires every component of the RTP/RTCP media-transport
// core into one outbound/inbound media stream (spec §9 design note: "a
// single Session owns every component by value and components hold stable
// indices or plain references with lifetimes tied to the session... all
// back-references are logical callbacks routed through the session's task
// queue").
//
// Grounded on the teacher's pkg/rtp/session.go, which plays the same
// coordinating role for its RTPSession/RTCPSession/SourceManager trio;
// generalized here to own the much larger component set this module's
// spec names (sequencer, history, FEC, NACK, jitter, BWE) instead of
// delegating to a SIP-oriented RTPSession/RTCPSession pair.
package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"

	"github.com/arzzra/rtprtcp/bwe/googcc"
	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/fec"
	"github.com/arzzra/rtprtcp/history"
	internalmetrics "github.com/arzzra/rtprtcp/internal/metrics"
	"github.com/arzzra/rtprtcp/internal/rtperr"
	"github.com/arzzra/rtprtcp/jitter"
	"github.com/arzzra/rtprtcp/nack"
	"github.com/arzzra/rtprtcp/ntp"
	"github.com/arzzra/rtprtcp/queue"
	"github.com/arzzra/rtprtcp/receiver"
	rtcpmod "github.com/arzzra/rtprtcp/rtcp"
	"github.com/arzzra/rtprtcp/rtpext"
	"github.com/arzzra/rtprtcp/rtppkt"
	"github.com/arzzra/rtprtcp/sender"
	"github.com/arzzra/rtprtcp/sequencer"
	"github.com/arzzra/rtprtcp/transport"
)

// Config configures one Session: one outbound media stream, optionally
// paired with RTX and FEC SSRCs, plus the matching receive-side state for
// the single remote participant this Session talks to.
type Config struct {
	Clk clock.Clock

	MediaSSRC uint32
	RTXSSRC   uint32 // 0 disables RTX
	FecSSRC   uint32 // 0 disables FEC

	CNAME string
	Mid   string
	Rid   string

	PayloadType    uint8
	RTXPayloadType uint8 // only consulted if RTXSSRC != 0

	ClockRateHz int64

	MaxPacketSize int
	TransportMTU  int

	Transport transport.Transport

	// FecGenerator is optional; nil disables FEC protection on send.
	FecGenerator fec.Generator
	// FecRecoverer is optional; nil disables FEC recovery on receive.
	FecRecoverer *fec.Recoverer

	Codec receiver.Codec
	// Depacketize reassembles a run of packets belonging to one frame; nil
	// uses the plain-concatenation default.
	Depacketize receiver.Depacketizer

	// BweConfig configures the send-side GoogCC controller. Zero value is
	// replaced by googcc.DefaultConfig(10kbps, 10Mbps, 300kbps).
	BweConfig *googcc.Config

	StorePacketHistory      history.StorageMode
	PacketHistoryCapacity   int
	NackSendDelayMs         int64
	QueueCapacity           int // 0 uses a sensible default
	RTCPReportInterval      time.Duration

	Metrics *internalmetrics.Collector // nil is treated as a disabled collector

	// OnFrame is invoked (on the session's queue goroutine) whenever the
	// receive buffer and reference finder assemble and annotate a frame.
	OnFrame func(*receiver.FrameToDecode)
}

const defaultQueueCapacity = 256

// Session is the coordinating root spec §9 describes: it owns every
// component below by value (as concrete struct pointers it alone
// constructs and closes — no shared ownership, no cycles) and serializes
// all of their interactions through a single queue.Queue.
type Session struct {
	cfg Config
	clk clock.Clock
	q   *queue.Queue

	ext       *rtpext.Registry
	seq       *sequencer.Sequencer
	hist      *history.History
	generator *sender.Generator
	egress    *sender.Egresser

	recvBuffer *receiver.Buffer
	refFinder  *receiver.ReferenceFinder

	jitterEstimator *jitter.Estimator
	rttFilter       *jitter.RTTFilter
	timing          *jitter.Timing

	nackModule *nack.Module
	nackTicker *queue.RepeatingTask

	rtcpSender   *rtcpmod.Sender
	rtcpReceiver *rtcpmod.Receiver
	rtcpTicker   *queue.RepeatingTask

	ntpEstimator *ntp.Estimator
	bwe          *googcc.Controller

	metrics *internalmetrics.Collector

	packetsSent uint64
	octetsSent  uint32
}

// New constructs every component and wires their callbacks, but starts no
// goroutines other than the queue's own worker; call Start to begin the
// periodic RTCP/NACK timers.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, rtperr.Config("session.Session", "New", fmt.Errorf("transport is required"))
	}
	if cfg.Clk == nil {
		return nil, rtperr.Config("session.Session", "New", fmt.Errorf("clock is required"))
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Metrics == nil {
		cfg.Metrics = internalmetrics.New(internalmetrics.Config{Enabled: false})
	}
	if cfg.RTCPReportInterval <= 0 {
		cfg.RTCPReportInterval = 5 * time.Second
	}
	bweCfg := googcc.DefaultConfig(clock.DataRateFromKbps(10), clock.DataRateFromKbps(10_000), clock.DataRateFromKbps(300))
	if cfg.BweConfig != nil {
		bweCfg = *cfg.BweConfig
	}

	s := &Session{
		cfg:     cfg,
		clk:     cfg.Clk,
		q:       queue.NewQueue(cfg.QueueCapacity),
		ext:     rtpext.NewRegistry(),
		metrics: cfg.Metrics,
	}

	s.seq = sequencer.New(sequencer.Config{
		MediaSSRC:                       cfg.MediaSSRC,
		RTXSSRC:                         cfg.RTXSSRC,
		RequireMarkerBeforeMediaPadding: true,
	})

	s.hist = history.New(cfg.Clk, zeroLogger())
	if cfg.PacketHistoryCapacity > 0 {
		s.hist.SetStorePacketsStatus(cfg.StorePacketHistory, cfg.PacketHistoryCapacity)
	}

	gen, err := sender.NewGenerator(sender.GeneratorConfig{
		SSRC:              cfg.MediaSSRC,
		RTXSSRC:           cfg.RTXSSRC,
		Mid:               cfg.Mid,
		Rid:               cfg.Rid,
		MaxPacketSize:     cfg.MaxPacketSize,
		TransportMTU:      cfg.TransportMTU,
		RTXPayloadPadding: cfg.RTXSSRC != 0,
	}, s.ext)
	if err != nil {
		s.q.Close()
		return nil, err
	}
	if cfg.RTXSSRC != 0 {
		gen.SetRtxPayloadType(cfg.PayloadType, cfg.RTXPayloadType)
	}
	s.generator = gen

	s.egress = sender.NewEgresser(sender.EgresserConfig{
		MediaSSRC:    cfg.MediaSSRC,
		RTXSSRC:      cfg.RTXSSRC,
		FecSSRC:      cfg.FecSSRC,
		Ext:          s.ext,
		Clk:          cfg.Clk,
		Hist:         s.hist,
		FecGenerator: cfg.FecGenerator,
		Transport:    cfg.Transport,
	})

	s.recvBuffer = receiver.NewBuffer(0, cfg.Depacketize)
	s.refFinder = receiver.NewReferenceFinder()
	s.recvBuffer.OnFrame = s.handleAssembledFrame

	s.jitterEstimator = jitter.NewEstimator(cfg.Clk)
	s.rttFilter = jitter.NewRTTFilter()
	s.timing = jitter.NewTiming(s.jitterEstimator, cfg.ClockRateHz)

	s.nackModule = nack.New(nack.Config{
		Clk:             cfg.Clk,
		SendNackDelayMs: cfg.NackSendDelayMs,
		RequestKeyFrame: func() { s.q.Post(func() { s.rtcpSender.RequestPLI() }) },
		SendNack:        s.sendNack,
	})
	s.nackTicker = queue.StartRepeatingTask(s.q, 20*time.Millisecond, s.nackModule.PeriodicUpdate)

	s.ntpEstimator = ntp.New()
	s.bwe = googcc.NewController(bweCfg)

	s.rtcpReceiver = rtcpmod.NewReceiver(cfg.Clk, rtcpmod.Callbacks{
		OnSenderReport:   s.handleSenderReport,
		OnReceiverReport: s.handleReceiverReport,
		OnNack:           s.handleRemoteNack,
		OnPLI:            func(uint32, uint32) {},
		OnREMB:           s.handleREMB,
		OnBye:            func([]uint32) {},
		OnRTT:            s.handleRTT,
	})
	s.rtcpSender = rtcpmod.NewSender(rtcpmod.SenderConfig{
		SenderSSRC: cfg.MediaSSRC,
		CNAME:      cfg.CNAME,
		Clk:        cfg.Clk,
		Transport:  cfg.Transport,
	})
	s.rtcpSender.RTTTracker = s.rtcpReceiver
	s.rtcpSender.SenderReportFields = s.senderReportFields

	return s, nil
}

// Start begins the periodic RTCP compound-packet timer. Call once.
func (s *Session) Start() {
	s.metrics.SessionOpened()
	s.rtcpTicker = queue.StartRepeatingTask(s.q, s.cfg.RTCPReportInterval, s.flushRTCP)
}

// Close stops every timer and drains the session's queue. Safe to call once.
func (s *Session) Close() error {
	if s.nackTicker != nil {
		s.nackTicker.Stop()
	}
	if s.rtcpTicker != nil {
		s.rtcpTicker.Stop()
	}
	s.q.Close()
	s.metrics.SessionClosed()
	return nil
}

// SendMedia allocates a packet for payload, stamps timestamp/marker, assigns
// a sequence number, and hands it to the egress pipeline (spec §4.1 → §4.3).
// captureTime is the media sample's capture time; rtpTimestamp the already
// clock-rate-scaled RTP timestamp for that sample.
func (s *Session) SendMedia(ctx context.Context, payload []byte, rtpTimestamp uint32, marker, isKeyFrame bool, captureTime clock.Timestamp) error {
	p := s.generator.AllocatePacket()
	p.Raw.Header.PayloadType = s.cfg.PayloadType
	p.Raw.Header.Timestamp = rtpTimestamp
	p.Raw.Header.Marker = marker
	p.Raw.Payload = payload
	p.CaptureTime = captureTime
	p.AllowRetransmission = true
	p.FECProtectionNeeded = s.cfg.FecGenerator != nil

	if !s.seq.Assign(p) {
		return rtperr.Fatal("session.Session", "SendMedia", fmt.Errorf("sequencer rejected media packet"))
	}

	var sendErr error
	s.q.RunOn(func() {
		sendErr = s.egress.SendPacket(ctx, p, isKeyFrame)
		if sendErr == nil {
			s.packetsSent++
			s.octetsSent += uint32(p.TotalSize())
			s.metrics.PacketSent(p.TotalSize())
			s.rtcpSender.MarkSending()
		} else {
			s.metrics.ErrorOccurred(asTypedError(sendErr))
		}
	})
	return sendErr
}

// OnInboundRTP feeds a received, already-parsed RTP packet into the
// receive pipeline: NACK tracking, history-based FEC recovery bookkeeping,
// jitter estimation, and frame reassembly.
func (s *Session) OnInboundRTP(p *rtppkt.Packet, isFirstPacketInFrame, isKeyframe bool, from net.Addr) {
	s.q.Post(func() {
		now := s.clk.Now()
		s.metrics.PacketReceived(p.TotalSize())
		s.nackModule.OnReceivedPacket(p.SequenceNumber(), isKeyframe, false)
		if s.cfg.FecRecoverer != nil {
			s.cfg.FecRecoverer.ObserveMediaPacket(p)
		}
		frameDelayMs := now.Milliseconds() - p.CaptureTime.Milliseconds()
		s.jitterEstimator.UpdateEstimate(frameDelayMs, uint32(p.PayloadSize()), false)
		s.metrics.ObserveJitter(float64(s.jitterEstimator.GetJitterEstimate(2.0, nil, false)))
		s.recvBuffer.InsertPacket(p, isFirstPacketInFrame, isKeyframe, s.cfg.Codec)
	})
}

func (s *Session) handleAssembledFrame(f *receiver.FrameToDecode) {
	out := s.refFinder.Process(f)
	s.metrics.FrameDecodable()
	if s.cfg.OnFrame != nil {
		s.cfg.OnFrame(out)
	}
}

func (s *Session) sendNack(seqs []uint16) {
	pairs := nackPairsFromSeqs(seqs)
	s.rtcpSender.RequestNack(pairs)
	s.metrics.NackSent()
}

func (s *Session) handleRemoteNack(senderSSRC, mediaSSRC uint32, pairs []rtcp.NackPair) {
	s.metrics.NackReceived()
	for _, pair := range pairs {
		seq := pair.PacketID
		s.retransmit(seq)
		mask := pair.LostPackets
		for bit := uint16(0); bit < 16; bit++ {
			if mask&(1<<bit) != 0 {
				s.retransmit(seq + bit + 1)
			}
		}
	}
}

func (s *Session) retransmit(seq uint16) {
	orig := s.hist.GetPacketAndMarkAsPending(seq, func(p *rtppkt.Packet) *rtppkt.Packet {
		rtx, err := s.generator.BuildRtxPacket(p)
		if err != nil {
			return nil
		}
		return rtx
	})
	if orig == nil {
		return
	}
	if !s.seq.Assign(orig) {
		return
	}
	if err := s.egress.SendPacket(context.Background(), orig, false); err != nil {
		s.metrics.ErrorOccurred(asTypedError(err))
		return
	}
	s.metrics.Retransmitted()
}

// handleSenderReport records the remote endpoint's NTP/RTP-timestamp
// correlation so a late-arriving RTP packet's capture instant can later be
// mapped onto this session's own wall-clock-relative timeline (ntp.Estimator).
func (s *Session) handleSenderReport(ssrc uint32, f rtcpmod.SenderReportFields) {
	s.ntpEstimator.UpdateMeasurements(f.NTPTime, f.RTPTimestamp)
}

func (s *Session) handleReceiverReport(ssrc uint32, reports []rtcp.ReceptionReport) {
	for _, r := range reports {
		ratio := float64(r.FractionLost) / 256.0
		s.metrics.SetLossRatio(ratio)
	}
}

func (s *Session) handleREMB(r *rtcp.ReceiverEstimatedMaximumBitrate) {
	if r == nil {
		return
	}
	now := s.clk.Now()
	s.bwe.OnRemb(clock.DataRateFromBitsPerSec(int64(r.Bitrate)), now)
	s.metrics.SetTargetBitrate(s.bwe.TargetBitrate().BitsPerSec())
	s.metrics.SetStableBitrate(s.bwe.StableTargetBitrate().BitsPerSec())
}

func (s *Session) handleRTT(ssrc uint32, rtt clock.TimeDelta) {
	now := s.clk.Now()
	s.bwe.OnRttUpdate(rtt, now)
	s.nackModule.UpdateRTT(rtt)
	s.rttFilter.AddRtt(rtt.Milliseconds())
	s.jitterEstimator.UpdateRTT(rtt)
	s.metrics.ObserveRTT(float64(rtt.Milliseconds()))
}

// IngestTransportFeedback feeds a decoded batch of per-packet send/receive
// feedback (e.g. from an externally decoded RTCP transport-wide-cc report —
// decoding that wire format is out of this package's scope, matching
// transport.Transport's own note that the concrete datagram/feedback path
// is an external collaborator) into the send-side BWE controller.
func (s *Session) IngestTransportFeedback(feedbacks []googcc.PacketFeedback, feedbackTime clock.Timestamp, updatePeriod clock.TimeDelta) googcc.Update {
	upd := s.bwe.OnTransportPacketsFeedback(feedbacks, feedbackTime, updatePeriod)
	if upd.Updated {
		s.metrics.SetTargetBitrate(upd.TargetBitrate.BitsPerSec())
		s.metrics.SetStableBitrate(upd.StableTargetBitrate.BitsPerSec())
	}
	return upd
}

func (s *Session) senderReportFields() rtcpmod.SenderReportFields {
	_, lastRTPTimestamp, _, _, _ := s.seq.LastMediaState()
	return rtcpmod.SenderReportFields{
		NTPTime:      s.clk.CurrentNtpTime(),
		RTPTimestamp: lastRTPTimestamp,
		PacketCount:  uint32(s.packetsSent),
		OctetCount:   s.octetsSent,
	}
}

func (s *Session) flushRTCP() {
	if err := s.rtcpSender.Flush(context.Background()); err != nil {
		s.metrics.ErrorOccurred(asTypedError(err))
	}
}

// HandleCompoundRTCP parses an inbound compound RTCP packet and dispatches
// its feedback to every interested component via the callbacks wired in New.
func (s *Session) HandleCompoundRTCP(buf []byte) {
	s.q.Post(func() {
		if err := s.rtcpReceiver.HandleCompound(buf); err != nil {
			s.metrics.ErrorOccurred(asTypedError(err))
		}
	})
}

func nackPairsFromSeqs(seqs []uint16) []rtcp.NackPair {
	if len(seqs) == 0 {
		return nil
	}
	pairs := make([]rtcp.NackPair, 0, len(seqs))
	base := seqs[0]
	var mask uint16
	for _, seq := range seqs[1:] {
		delta := seq - base
		if delta >= 1 && delta <= 16 {
			mask |= 1 << (delta - 1)
			continue
		}
		pairs = append(pairs, rtcp.NackPair{PacketID: base, LostPackets: rtcp.PacketBitmap(mask)})
		base = seq
		mask = 0
	}
	pairs = append(pairs, rtcp.NackPair{PacketID: base, LostPackets: rtcp.PacketBitmap(mask)})
	return pairs
}

func asTypedError(err error) *rtperr.Error {
	if te, ok := err.(*rtperr.Error); ok {
		return te
	}
	return rtperr.Transient("session.Session", "unknown", err)
}

func zeroLogger() zerolog.Logger {
	return zerolog.Nop()
}
