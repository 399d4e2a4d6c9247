// Package rtppkt is the typed RTP packet used across the send and receive
// pipelines (spec §3 "RtpPacket"). It wraps github.com/pion/rtp's wire
// codec — that library already implements RFC 3550/RFC 5285 framing
// correctly and is the teacher's own choice (pkg/rtp/rtp_session.go) — and
// adds the transport-core-specific attributes the wire format doesn't carry:
// packet type, capture time, retransmission bookkeeping and protection
// flags.
package rtppkt

import (
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/rtprtcp/clock"
)

// PacketType classifies a packet for statistics, egress routing and FEC
// protection decisions (spec §3).
type PacketType int

const (
	PacketTypeAudio PacketType = iota
	PacketTypeVideo
	PacketTypeRetransmission
	PacketTypePadding
	PacketTypeFEC
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeAudio:
		return "audio"
	case PacketTypeVideo:
		return "video"
	case PacketTypeRetransmission:
		return "retransmission"
	case PacketTypePadding:
		return "padding"
	case PacketTypeFEC:
		return "fec"
	default:
		return "unknown"
	}
}

// Packet is an outgoing or incoming RTP packet plus the transport-core
// metadata that travels with it through history, FEC and egress but never
// hits the wire.
//
// Invariant (spec §3): RetransmittedSequenceNumber must be set when
// Type == PacketTypeRetransmission.
type Packet struct {
	Raw rtp.Packet

	Type                      PacketType
	CaptureTime               clock.Timestamp
	AllowRetransmission       bool
	FECProtectionNeeded       bool
	REDProtectionNeeded       bool
	RetransmittedSequenceNumber *uint16
}

// NewPacket builds an empty packet with RTP version 2 set, ready for header
// fields and payload to be filled in by the generator.
func NewPacket() *Packet {
	return &Packet{Raw: rtp.Packet{Header: rtp.Header{Version: 2}}}
}

func (p *Packet) SequenceNumber() uint16 { return p.Raw.Header.SequenceNumber }
func (p *Packet) SetSequenceNumber(seq uint16) { p.Raw.Header.SequenceNumber = seq }
func (p *Packet) Timestamp() uint32      { return p.Raw.Header.Timestamp }
func (p *Packet) SSRC() uint32           { return p.Raw.Header.SSRC }
func (p *Packet) PayloadType() uint8     { return p.Raw.Header.PayloadType }
func (p *Packet) Marker() bool           { return p.Raw.Header.Marker }
func (p *Packet) Payload() []byte        { return p.Raw.Payload }

// HeaderSize returns the marshaled size of the fixed header, CSRCs and
// extensions, matching the MarshalSize() of the fully-populated header
// (spec §3 invariant: header_size + payload_size + padding_size == total_size).
func (p *Packet) HeaderSize() int {
	return p.Raw.Header.MarshalSize()
}

// PayloadSize returns len(Payload) (the padding octet, if any, is tracked
// separately in PaddingSize).
func (p *Packet) PayloadSize() int { return len(p.Raw.Payload) }

// PaddingSize returns the trailing padding octet count, 0 if unpadded.
func (p *Packet) PaddingSize() int { return int(p.Raw.PaddingSize) }

// TotalSize is the fully marshaled wire size of the packet.
func (p *Packet) TotalSize() int { return p.Raw.MarshalSize() }

// Marshal serializes to wire bytes via pion/rtp, validating the
// retransmission invariant first.
func (p *Packet) Marshal() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p.Raw.Marshal()
}

// MarshalTo serializes into buf without an extra allocation when buf is
// large enough, matching pion/rtp's zero-copy path used by the egress stage.
func (p *Packet) MarshalTo(buf []byte) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p.Raw.MarshalTo(buf)
}

// Validate enforces the spec §3 invariants that aren't already implied by
// the wire codec: a RETRANSMISSION packet must carry its original sequence
// number.
func (p *Packet) Validate() error {
	if p.Type == PacketTypeRetransmission && p.RetransmittedSequenceNumber == nil {
		return fmt.Errorf("rtppkt: retransmission packet missing original sequence number")
	}
	return nil
}

// Unmarshal parses wire bytes into a fresh Packet, defaulting Type to Video
// (the caller classifies it against its RTX/FEC SSRC bookkeeping).
func Unmarshal(buf []byte) (*Packet, error) {
	p := &Packet{Type: PacketTypeVideo}
	if err := p.Raw.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("rtppkt: unmarshal: %w", err)
	}
	return p, nil
}

// Clone deep-copies the packet, including the payload, so that storing it in
// PacketHistory never aliases a buffer the caller might reuse.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.Raw.Payload = append([]byte(nil), p.Raw.Payload...)
	clone.Raw.Header.CSRC = append([]uint32(nil), p.Raw.Header.CSRC...)
	clone.Raw.Header.Extensions = append([]rtp.Extension(nil), p.Raw.Header.Extensions...)
	if p.RetransmittedSequenceNumber != nil {
		v := *p.RetransmittedSequenceNumber
		clone.RetransmittedSequenceNumber = &v
	}
	return &clone
}

// AgeSince returns how long ago this packet was captured, relative to now.
func (p *Packet) AgeSince(now clock.Timestamp) clock.TimeDelta {
	return now.Sub(p.CaptureTime)
}

// captureWallClock is used only by constructors that need a best-effort
// CaptureTime when the caller supplies time.Time instead of a clock.Timestamp
// (e.g. when adapting externally-timestamped media).
func captureWallClock(t time.Time, epoch time.Time) clock.Timestamp {
	return clock.TimestampFromMicroseconds(t.Sub(epoch).Microseconds())
}
