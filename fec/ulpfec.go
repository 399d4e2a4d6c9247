package fec

import (
	"sync"

	"github.com/arzzra/rtprtcp/rtppkt"
)

// ULPFECConfig configures an ULPFEC generator.
type ULPFECConfig struct {
	MediaSSRC      uint32
	RedPayloadType uint8
	FecPayloadType uint8 // the block PT carried inside the RED framing
}

// ULPFEC generates FEC packets encapsulated in RED (RFC 2198), sent on the
// same SSRC and sequence space as the media it protects (spec §4.5).
type ULPFEC struct {
	mu sync.Mutex

	cfg ULPFECConfig

	params  ProtectionParameters
	pending []*rtppkt.Packet
	out     []*rtppkt.Packet
}

func NewULPFEC(cfg ULPFECConfig) *ULPFEC {
	return &ULPFEC{cfg: cfg}
}

func (f *ULPFEC) SetProtectionParameters(params ProtectionParameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
}

func (f *ULPFEC) PushMediaPacket(p *rtppkt.Packet, isKeyFrame bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) >= MaxProtectedMediaPackets {
		return ErrTooManyProtectedPackets
	}
	f.pending = append(f.pending, p.Clone())

	factor := f.params.DeltaFrameFactor
	if isKeyFrame {
		factor = f.params.KeyFrameFactor
	}
	if p.Marker() && shouldFlush(len(f.pending), factor) {
		f.out = append(f.out, f.buildLocked())
		f.pending = nil
	}
	return nil
}

func (f *ULPFEC) buildLocked() *rtppkt.Packet {
	payload := xorBuild(f.pending)

	// RED framing (RFC 2198 §3): a single terminal block header is one
	// byte, F=0 in the high bit followed by the 7-bit block payload type.
	red := make([]byte, 1+len(payload))
	red[0] = f.cfg.FecPayloadType & 0x7F
	copy(red[1:], payload)

	out := rtppkt.NewPacket()
	out.Type = rtppkt.PacketTypeFEC
	out.Raw.Header.SSRC = f.cfg.MediaSSRC
	out.Raw.Header.PayloadType = f.cfg.RedPayloadType
	out.Raw.Header.Timestamp = f.pending[len(f.pending)-1].Timestamp()
	out.Raw.Payload = red
	return out
}

func (f *ULPFEC) PopFECPackets() []*rtppkt.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

// UnwrapRED strips the single-block RED framing this generator produces,
// returning the block payload type and the FEC payload bytes.
func UnwrapRED(payload []byte) (blockPT uint8, fecPayload []byte, ok bool) {
	if len(payload) < 1 {
		return 0, nil, false
	}
	return payload[0] & 0x7F, payload[1:], true
}
