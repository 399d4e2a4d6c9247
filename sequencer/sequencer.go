// Package sequencer assigns monotonically increasing, wrap-around-safe media
// and RTX sequence numbers (spec §4.4), enforcing the marker-before-padding
// rule.
package sequencer

import (
	"sync"

	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/rtppkt"
)

// Config configures a Sequencer.
type Config struct {
	MediaSSRC uint32
	RTXSSRC   uint32 // 0 if RTX is not configured for this stream

	// RequireMarkerBeforeMediaPadding rejects padding on the media SSRC
	// unless the last sequenced media packet had Marker==true.
	RequireMarkerBeforeMediaPadding bool

	StartMediaSequence uint16
	StartRTXSequence   uint16
}

// Sequencer owns the per-stream sequence counters.
type Sequencer struct {
	mu sync.Mutex

	mediaSSRC uint32
	rtxSSRC   uint32

	requireMarkerBeforePadding bool

	mediaSeq uint16
	rtxSeq   uint16

	lastPayloadType    uint8
	lastRTPTimestamp   uint32
	lastCaptureTime    clock.Timestamp
	lastPacketMarker   bool
	haveSequencedMedia bool
}

func New(cfg Config) *Sequencer {
	return &Sequencer{
		mediaSSRC:                  cfg.MediaSSRC,
		rtxSSRC:                    cfg.RTXSSRC,
		requireMarkerBeforePadding: cfg.RequireMarkerBeforeMediaPadding,
		mediaSeq:                   cfg.StartMediaSequence,
		rtxSeq:                     cfg.StartRTXSequence,
	}
}

// Assign picks the correct counter for p's SSRC and stamps its sequence
// number, respecting the marker-before-padding rule. Returns false if
// assignment was rejected (media padding before any marker packet).
func (s *Sequencer) Assign(p *rtppkt.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.SSRC() {
	case s.rtxSSRC:
		if s.rtxSSRC == 0 {
			return false
		}
		p.SetSequenceNumber(s.rtxSeq)
		s.rtxSeq++
		return true

	case s.mediaSSRC:
		if p.Type == rtppkt.PacketTypePadding && s.requireMarkerBeforePadding {
			if !s.haveSequencedMedia || !s.lastPacketMarker {
				return false
			}
		}
		p.SetSequenceNumber(s.mediaSeq)
		s.mediaSeq++
		s.lastPayloadType = p.PayloadType()
		s.lastRTPTimestamp = p.Timestamp()
		s.lastCaptureTime = p.CaptureTime
		s.lastPacketMarker = p.Marker()
		s.haveSequencedMedia = true
		return true

	default:
		return false
	}
}

// LastMediaState reports the bookkeeping fields updated by the most recent
// media-SSRC assignment — read by the session when it fills in its sender
// report fields.
func (s *Sequencer) LastMediaState() (payloadType uint8, rtpTimestamp uint32, captureTime clock.Timestamp, marker bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPayloadType, s.lastRTPTimestamp, s.lastCaptureTime, s.lastPacketMarker, s.haveSequencedMedia
}

// NextMediaSequence / NextRTXSequence peek at the next counter value without
// consuming it, useful for padding generation that needs to know a
// sequence number before committing to send.
func (s *Sequencer) NextMediaSequence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaSeq
}

func (s *Sequencer) NextRTXSequence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtxSeq
}
