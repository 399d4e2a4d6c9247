// Package rtpext implements the RTP header extension registry and wire
// codecs named in spec §3/§6: AbsoluteSendTime, TransmissionTimeOffset,
// TransportSequenceNumber (+ feedback request), AbsoluteCaptureTime,
// PlayoutDelayLimits, RtpMid, RtpStreamId, RepairedRtpStreamId.
//
// Extension ids and presence are negotiated once per session (typically via
// SDP extmap lines — see negotiate.go) and never change mid-session, which
// is why Registry is built once and treated as read-only by every later
// reader (matches the "no mutable globals" design note, §9).
package rtpext

import "fmt"

// Type enumerates the RTP header extensions this core understands.
type Type int

const (
	TypeAbsoluteSendTime Type = iota
	TypeTransmissionTimeOffset
	TypeTransportSequenceNumber
	TypeAbsoluteCaptureTime
	TypePlayoutDelayLimits
	TypeRtpMid
	TypeRtpStreamId
	TypeRepairedRtpStreamId
)

func (t Type) String() string {
	switch t {
	case TypeAbsoluteSendTime:
		return "abs-send-time"
	case TypeTransmissionTimeOffset:
		return "toffset"
	case TypeTransportSequenceNumber:
		return "transport-wide-cc"
	case TypeAbsoluteCaptureTime:
		return "abs-capture-time"
	case TypePlayoutDelayLimits:
		return "playout-delay"
	case TypeRtpMid:
		return "mid"
	case TypeRtpStreamId:
		return "rid"
	case TypeRepairedRtpStreamId:
		return "repaired-rid"
	default:
		return "unknown"
	}
}

// URI is the registered RFC 8285 extension URI for each Type, as used in SDP
// extmap lines.
func (t Type) URI() string {
	switch t {
	case TypeAbsoluteSendTime:
		return "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	case TypeTransmissionTimeOffset:
		return "urn:ietf:params:rtp-hdrext:toffset"
	case TypeTransportSequenceNumber:
		return "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	case TypeAbsoluteCaptureTime:
		return "http://www.webrtc.org/experiments/rtp-hdrext/abs-capture-time"
	case TypePlayoutDelayLimits:
		return "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	case TypeRtpMid:
		return "urn:ietf:params:rtp-hdrext:sdes:mid"
	case TypeRtpStreamId:
		return "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id"
	case TypeRepairedRtpStreamId:
		return "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id"
	default:
		return ""
	}
}

// Volatile extensions may be absent from any given packet (playout-delay,
// abs-capture-time); non-volatile ones are expected on every packet once
// registered (spec §3).
func (t Type) Volatile() bool {
	return t == TypePlayoutDelayLimits || t == TypeAbsoluteCaptureTime
}

// MaxValueSize is the largest wire payload this extension can occupy,
// governing whether it fits the one-byte (max 16) or must use the two-byte
// header profile.
func (t Type) MaxValueSize() int {
	switch t {
	case TypeAbsoluteSendTime, TypeTransmissionTimeOffset, TypePlayoutDelayLimits:
		return 3
	case TypeTransportSequenceNumber:
		return 4 // 2 bytes seqnum + optional 2-byte feedback-request header
	case TypeAbsoluteCaptureTime:
		return 16
	case TypeRtpMid, TypeRtpStreamId, TypeRepairedRtpStreamId:
		return 16
	default:
		return 16
	}
}

// registration is a single entry of the registry: which wire id a Type was
// assigned.
type registration struct {
	id      uint8
	typ     Type
}

// Registry maps Type to its negotiated one/two-byte extension id (1-255, id
// 15 reserved per RFC 5285).
type Registry struct {
	byType map[Type]uint8
	byID   map[uint8]Type
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[Type]uint8), byID: make(map[uint8]Type)}
}

// Register assigns id to typ. Returns an error if id is reserved (15), out
// of range, or already assigned to a different Type.
func (r *Registry) Register(typ Type, id uint8) error {
	if id == 0 || id == 15 {
		return fmt.Errorf("rtpext: id %d is reserved", id)
	}
	if existing, ok := r.byID[id]; ok && existing != typ {
		return fmt.Errorf("rtpext: id %d already registered to %s", id, existing)
	}
	r.byType[typ] = id
	r.byID[id] = typ
	return nil
}

// ID returns the wire id registered for typ, and whether it is registered.
func (r *Registry) ID(typ Type) (uint8, bool) {
	id, ok := r.byType[typ]
	return id, ok
}

// TypeForID is the inverse lookup, used when parsing an incoming packet's
// extension ids back into semantic types.
func (r *Registry) TypeForID(id uint8) (Type, bool) {
	typ, ok := r.byID[id]
	return typ, ok
}

// Registered reports whether typ has been assigned an id.
func (r *Registry) Registered(typ Type) bool {
	_, ok := r.byType[typ]
	return ok
}
