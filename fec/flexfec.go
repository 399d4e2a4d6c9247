package fec

import (
	"sync"

	"github.com/arzzra/rtprtcp/rtppkt"
)

// FlexFECConfig configures a FlexFEC generator, which sends on its own SSRC
// and sequence space (spec §4.5).
type FlexFECConfig struct {
	FecSSRC        uint32
	FecPayloadType uint8
}

// FlexFEC generates FEC packets on a dedicated SSRC/sequence space. The
// sequence number itself is assigned later by the sequencer, so packets
// emitted here carry sequence 0 until the generator's output is routed
// through the send sequencer like any other stream.
type FlexFEC struct {
	mu sync.Mutex

	cfg FlexFECConfig

	params  ProtectionParameters
	pending []*rtppkt.Packet
	out     []*rtppkt.Packet
}

func NewFlexFEC(cfg FlexFECConfig) *FlexFEC {
	return &FlexFEC{cfg: cfg}
}

func (f *FlexFEC) SetProtectionParameters(params ProtectionParameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
}

func (f *FlexFEC) PushMediaPacket(p *rtppkt.Packet, isKeyFrame bool) error {
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

func (f *FlexFEC) buildLocked() *rtppkt.Packet {
	payload := xorBuild(f.pending)

	out := rtppkt.NewPacket()
	out.Type = rtppkt.PacketTypeFEC
	out.Raw.Header.SSRC = f.cfg.FecSSRC
	out.Raw.Header.PayloadType = f.cfg.FecPayloadType
	out.Raw.Header.Timestamp = f.pending[len(f.pending)-1].Timestamp()
	out.Raw.Payload = payload
	return out
}

func (f *FlexFEC) PopFECPackets() []*rtppkt.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}
