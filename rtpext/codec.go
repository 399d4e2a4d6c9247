package rtpext

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pion/rtp"

	"github.com/arzzra/rtprtcp/clock"
)

// setRaw writes the extension for typ onto hdr via the registry, turning on the
// extension bit as needed. It is a no-op (returns nil) if typ isn't
// registered, matching the "volatile extensions may be absent" rule.
func setRaw(hdr *rtp.Header, r *Registry, typ Type, payload []byte) error {
	id, ok := r.ID(typ)
	if !ok {
		return nil
	}
	return hdr.SetExtension(id, payload)
}

func getRaw(hdr *rtp.Header, r *Registry, typ Type) ([]byte, bool) {
	id, ok := r.ID(typ)
	if !ok {
		return nil, false
	}
	v := hdr.GetExtension(id)
	if v == nil {
		return nil, false
	}
	return v, true
}

// --- AbsoluteSendTime: 24-bit Q6.18 fixed-point seconds (spec §3/§6) ---

const absSendTimeFraction = 1 << 18

func EncodeAbsoluteSendTime(t clock.Timestamp) []byte {
	sec := t.Seconds()
	fixed := uint32(math.Mod(sec, 64.0) * absSendTimeFraction)
	fixed &= 0x00FFFFFF
	buf := make([]byte, 3)
	buf[0] = byte(fixed >> 16)
	buf[1] = byte(fixed >> 8)
	buf[2] = byte(fixed)
	return buf
}

func DecodeAbsoluteSendTime(b []byte) (uint32, error) {
	if len(b) != 3 {
		return 0, fmt.Errorf("rtpext: abs-send-time wants 3 bytes, got %d", len(b))
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func SetAbsoluteSendTime(hdr *rtp.Header, r *Registry, t clock.Timestamp) error {
	return setRaw(hdr, r, TypeAbsoluteSendTime, EncodeAbsoluteSendTime(t))
}

func GetAbsoluteSendTime(hdr *rtp.Header, r *Registry) (uint32, bool) {
	b, ok := getRaw(hdr, r, TypeAbsoluteSendTime)
	if !ok {
		return 0, false
	}
	v, err := DecodeAbsoluteSendTime(b)
	return v, err == nil
}

// --- TransmissionTimeOffset: 24-bit signed 1/90000s (spec §3/§6) ---

func EncodeTransmissionTimeOffset(offset90k int32) []byte {
	buf := make([]byte, 3)
	v := uint32(offset90k) & 0x00FFFFFF
	buf[0] = byte(v >> 16)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v)
	return buf
}

func DecodeTransmissionTimeOffset(b []byte) (int32, error) {
	if len(b) != 3 {
		return 0, fmt.Errorf("rtpext: toffset wants 3 bytes, got %d", len(b))
	}
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if v&0x00800000 != 0 {
		v |= 0xFF000000 // sign-extend 24 -> 32 bits
	}
	return int32(v), nil
}

func SetTransmissionTimeOffset(hdr *rtp.Header, r *Registry, offset90k int32) error {
	return setRaw(hdr, r, TypeTransmissionTimeOffset, EncodeTransmissionTimeOffset(offset90k))
}

func GetTransmissionTimeOffset(hdr *rtp.Header, r *Registry) (int32, bool) {
	b, ok := getRaw(hdr, r, TypeTransmissionTimeOffset)
	if !ok {
		return 0, false
	}
	v, err := DecodeTransmissionTimeOffset(b)
	return v, err == nil
}

// --- TransportSequenceNumber: u16, optional v2 feedback-request header ---

type FeedbackRequest struct {
	IncludeTimestamps bool
	SequenceCount     uint16 // 15-bit count
}

func EncodeTransportSequenceNumber(seq uint16, fr *FeedbackRequest) []byte {
	if fr == nil {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, seq)
		return buf
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf, seq)
	v := fr.SequenceCount & 0x7FFF
	if fr.IncludeTimestamps {
		v |= 0x8000
	}
	binary.BigEndian.PutUint16(buf[2:], v)
	return buf
}

func DecodeTransportSequenceNumber(b []byte) (uint16, *FeedbackRequest, error) {
	if len(b) != 2 && len(b) != 4 {
		return 0, nil, fmt.Errorf("rtpext: transport-cc wants 2 or 4 bytes, got %d", len(b))
	}
	seq := binary.BigEndian.Uint16(b[:2])
	if len(b) == 2 {
		return seq, nil, nil
	}
	raw := binary.BigEndian.Uint16(b[2:])
	return seq, &FeedbackRequest{
		IncludeTimestamps: raw&0x8000 != 0,
		SequenceCount:     raw & 0x7FFF,
	}, nil
}

func SetTransportSequenceNumber(hdr *rtp.Header, r *Registry, seq uint16, fr *FeedbackRequest) error {
	return setRaw(hdr, r, TypeTransportSequenceNumber, EncodeTransportSequenceNumber(seq, fr))
}

func GetTransportSequenceNumber(hdr *rtp.Header, r *Registry) (uint16, *FeedbackRequest, bool) {
	b, ok := getRaw(hdr, r, TypeTransportSequenceNumber)
	if !ok {
		return 0, nil, false
	}
	seq, fr, err := DecodeTransportSequenceNumber(b)
	return seq, fr, err == nil
}

// --- AbsoluteCaptureTime: 8 bytes UQ32.32, or 16 with signed Q32.32 offset ---

type AbsoluteCaptureTime struct {
	Timestamp          uint64 // UQ32.32 NTP
	EstimatedCaptureClockOffset *int64 // signed Q32.32, optional
}

func EncodeAbsoluteCaptureTime(v AbsoluteCaptureTime) []byte {
	if v.EstimatedCaptureClockOffset == nil {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, v.Timestamp)
		return buf
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, v.Timestamp)
	binary.BigEndian.PutUint64(buf[8:], uint64(*v.EstimatedCaptureClockOffset))
	return buf
}

func DecodeAbsoluteCaptureTime(b []byte) (AbsoluteCaptureTime, error) {
	switch len(b) {
	case 8:
		return AbsoluteCaptureTime{Timestamp: binary.BigEndian.Uint64(b)}, nil
	case 16:
		offset := int64(binary.BigEndian.Uint64(b[8:]))
		return AbsoluteCaptureTime{
			Timestamp:                   binary.BigEndian.Uint64(b[:8]),
			EstimatedCaptureClockOffset: &offset,
		}, nil
	default:
		return AbsoluteCaptureTime{}, fmt.Errorf("rtpext: abs-capture-time wants 8 or 16 bytes, got %d", len(b))
	}
}

func SetAbsoluteCaptureTime(hdr *rtp.Header, r *Registry, v AbsoluteCaptureTime) error {
	return setRaw(hdr, r, TypeAbsoluteCaptureTime, EncodeAbsoluteCaptureTime(v))
}

func GetAbsoluteCaptureTime(hdr *rtp.Header, r *Registry) (AbsoluteCaptureTime, bool) {
	b, ok := getRaw(hdr, r, TypeAbsoluteCaptureTime)
	if !ok {
		return AbsoluteCaptureTime{}, false
	}
	v, err := DecodeAbsoluteCaptureTime(b)
	return v, err == nil
}

// --- PlayoutDelayLimits: two 12-bit values x10ms (spec §3/§6) ---

type PlayoutDelay struct {
	MinMs uint32
	MaxMs uint32
}

func EncodePlayoutDelayLimits(d PlayoutDelay) []byte {
	minUnits := (d.MinMs / 10) & 0xFFF
	maxUnits := (d.MaxMs / 10) & 0xFFF
	buf := make([]byte, 3)
	buf[0] = byte(minUnits >> 4)
	buf[1] = byte(minUnits<<4) | byte(maxUnits>>8)
	buf[2] = byte(maxUnits)
	return buf
}

func DecodePlayoutDelayLimits(b []byte) (PlayoutDelay, error) {
	if len(b) != 3 {
		return PlayoutDelay{}, fmt.Errorf("rtpext: playout-delay wants 3 bytes, got %d", len(b))
	}
	minUnits := uint32(b[0])<<4 | uint32(b[1])>>4
	maxUnits := uint32(b[1]&0x0F)<<8 | uint32(b[2])
	return PlayoutDelay{MinMs: minUnits * 10, MaxMs: maxUnits * 10}, nil
}

func SetPlayoutDelayLimits(hdr *rtp.Header, r *Registry, d PlayoutDelay) error {
	return setRaw(hdr, r, TypePlayoutDelayLimits, EncodePlayoutDelayLimits(d))
}

func GetPlayoutDelayLimits(hdr *rtp.Header, r *Registry) (PlayoutDelay, bool) {
	b, ok := getRaw(hdr, r, TypePlayoutDelayLimits)
	if !ok {
		return PlayoutDelay{}, false
	}
	v, err := DecodePlayoutDelayLimits(b)
	return v, err == nil
}

// --- ASCII string extensions: mid / rid / repaired-rid, <= 16 bytes ---

func setASCII(hdr *rtp.Header, r *Registry, typ Type, s string) error {
	if len(s) > 16 {
		return fmt.Errorf("rtpext: %s value %q exceeds 16 bytes", typ, s)
	}
	return setRaw(hdr, r, typ, []byte(s))
}

func SetRtpMid(hdr *rtp.Header, r *Registry, mid string) error {
	return setASCII(hdr, r, TypeRtpMid, mid)
}

func GetRtpMid(hdr *rtp.Header, r *Registry) (string, bool) {
	b, ok := getRaw(hdr, r, TypeRtpMid)
	return string(b), ok
}

func SetRtpStreamID(hdr *rtp.Header, r *Registry, rid string) error {
	return setASCII(hdr, r, TypeRtpStreamId, rid)
}

func GetRtpStreamID(hdr *rtp.Header, r *Registry) (string, bool) {
	b, ok := getRaw(hdr, r, TypeRtpStreamId)
	return string(b), ok
}

func SetRepairedRtpStreamID(hdr *rtp.Header, r *Registry, rid string) error {
	return setASCII(hdr, r, TypeRepairedRtpStreamId, rid)
}

func GetRepairedRtpStreamID(hdr *rtp.Header, r *Registry) (string, bool) {
	b, ok := getRaw(hdr, r, TypeRepairedRtpStreamId)
	return string(b), ok
}
