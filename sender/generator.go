// Package sender implements the send-side RTP pipeline: packet allocation,
// RTX/padding construction (spec §4.1) and the egress hand-off to transport
// (spec §4.3). It is grounded in the teacher's pkg/rtp/rtp_session.go send
// path, generalized from a SIP/RTP bridge to the transport-core's own packet
// lifecycle.
package sender

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/arzzra/rtprtcp/history"
	"github.com/arzzra/rtprtcp/internal/rtperr"
	"github.com/arzzra/rtprtcp/rtpext"
	"github.com/arzzra/rtprtcp/rtppkt"
)

// MediaKind distinguishes the synthetic-padding sizing rule (spec §4.1):
// video padding targets 224 bytes, audio floors at 50.
type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaVideo
)

const (
	// MinPayloadPaddingBytes is kMinPayloadPaddingBytes: below this many
	// bytes remaining, RTX-payload padding isn't worth requesting.
	MinPayloadPaddingBytes = 50
	// syntheticVideoPaddingBytes / syntheticAudioFloorBytes are the fixed
	// sizes used once synthetic (non-history) padding is chosen.
	syntheticVideoPaddingBytes = 224
	syntheticAudioFloorBytes   = 50

	minMaxPacketSize = 100
)

// GeneratorConfig configures a Generator for one outbound media stream.
type GeneratorConfig struct {
	Kind MediaKind

	SSRC    uint32
	RTXSSRC uint32 // 0 disables RTX entirely

	CSRC []uint32
	Mid  string
	Rid  string

	MaxPacketSize int // must be in [100, transport MTU]
	TransportMTU  int

	// RTXPayloadPadding enables step 1 of the padding algorithm
	// (supports_bwe_extension ∧ RTX_REDUNDANT_PAYLOADS).
	RTXPayloadPadding bool
	// MaxPaddingSizeFactor bounds the RTX-payload-padding budget to
	// factor × target_bytes (spec §4.1 step 1); defaults to 1.2 if zero.
	MaxPaddingSizeFactor float64
}

// Generator implements allocate_packet / max_packet_size / build_rtx_packet /
// generate_padding (spec §4.1).
type Generator struct {
	cfg GeneratorConfig
	ext *rtpext.Registry

	rtxPayloadType map[uint8]uint8 // original PT -> RTX PT

	mediaHasBeenSent bool
}

// NewGenerator validates cfg and constructs a Generator. Mirrors the
// ConfigError cases named in spec §4.1.
func NewGenerator(cfg GeneratorConfig, ext *rtpext.Registry) (*Generator, error) {
	if cfg.MaxPacketSize < minMaxPacketSize {
		return nil, rtperr.Config("sender.Generator", "NewGenerator",
			fmt.Errorf("max packet size %d below minimum %d", cfg.MaxPacketSize, minMaxPacketSize))
	}
	if cfg.TransportMTU > 0 && cfg.MaxPacketSize > cfg.TransportMTU {
		return nil, rtperr.Config("sender.Generator", "NewGenerator",
			fmt.Errorf("max packet size %d exceeds transport MTU %d", cfg.MaxPacketSize, cfg.TransportMTU))
	}
	if cfg.MaxPaddingSizeFactor == 0 {
		cfg.MaxPaddingSizeFactor = 1.2
	}
	return &Generator{
		cfg:            cfg,
		ext:            ext,
		rtxPayloadType: make(map[uint8]uint8),
	}, nil
}

// SetRtxPayloadType registers the original_pt → rtx_pt mapping used by
// build_rtx_packet (spec §4.1's set_rtx_payload_type).
func (g *Generator) SetRtxPayloadType(originalPT, rtxPT uint8) {
	g.rtxPayloadType[originalPT] = rtxPT
}

// MaxPacketSize is the configured ceiling on a fully-marshaled packet.
func (g *Generator) MaxPacketSize() int { return g.cfg.MaxPacketSize }

// MaxPayloadSize subtracts a worst-case header (fixed header, CSRCs, and the
// two-byte extension profile with each extension listed in
// reservedExtensionBytes at its max size, when registered) from
// MaxPacketSize. Extensions not in that list, such as repaired-rid, get no
// reserved room.
func (g *Generator) MaxPayloadSize() int {
	overhead := 12 + 4*len(g.cfg.CSRC)
	extBytes := g.reservedExtensionBytes()
	if extBytes > 0 {
		overhead += 4 + extBytes // two-byte profile header + per-extension id/len/value
	}
	size := g.cfg.MaxPacketSize - overhead
	if size < 0 {
		return 0
	}
	return size
}

func (g *Generator) reservedExtensionBytes() int {
	total := 0
	for _, t := range []rtpext.Type{
		rtpext.TypeAbsoluteSendTime, rtpext.TypeTransmissionTimeOffset,
		rtpext.TypeTransportSequenceNumber, rtpext.TypeAbsoluteCaptureTime,
		rtpext.TypePlayoutDelayLimits, rtpext.TypeRtpMid, rtpext.TypeRtpStreamId,
	} {
		if g.ext.Registered(t) {
			total += 2 + t.MaxValueSize() // two-byte id+len header, then value
		}
	}
	return total
}

// AllocatePacket pre-populates a fresh outbound packet with SSRC, CSRCs, and
// MID/RID extensions if this generator is still sending them (spec §4.1).
// BWE-related extensions (abs-send-time, toffset, transport-seq) are left
// for the egress stage to stamp at send time.
func (g *Generator) AllocatePacket() *rtppkt.Packet {
	p := rtppkt.NewPacket()
	p.Raw.Header.SSRC = g.cfg.SSRC
	p.Raw.Header.CSRC = append([]uint32(nil), g.cfg.CSRC...)

	if g.cfg.Mid != "" {
		_ = rtpext.SetRtpMid(&p.Raw.Header, g.ext, g.cfg.Mid)
	}
	if g.cfg.Rid != "" {
		_ = rtpext.SetRtpStreamID(&p.Raw.Header, g.ext, g.cfg.Rid)
	}
	return p
}

// BuildRtxPacket wraps an already-sent original packet for retransmission
// (spec §4.1): copies timestamp/marker/CSRCs/non-MID/RID extensions, swaps
// in the RTX SSRC and mapped payload type, and prepends the 2-byte OSN.
// Returns (nil, UnmappedPayloadType-kind error) if no RTX mapping or no RTX
// SSRC is configured.
func (g *Generator) BuildRtxPacket(original *rtppkt.Packet) (*rtppkt.Packet, error) {
	if g.cfg.RTXSSRC == 0 {
		return nil, rtperr.Config("sender.Generator", "BuildRtxPacket", fmt.Errorf("no RTX SSRC configured"))
	}
	rtxPT, ok := g.rtxPayloadType[original.PayloadType()]
	if !ok {
		return nil, rtperr.Config("sender.Generator", "BuildRtxPacket",
			fmt.Errorf("unmapped payload type %d", original.PayloadType()))
	}

	out := rtppkt.NewPacket()
	out.Type = rtppkt.PacketTypeRetransmission
	out.Raw.Header.SSRC = g.cfg.RTXSSRC
	out.Raw.Header.PayloadType = rtxPT
	out.Raw.Header.Timestamp = original.Timestamp()
	out.Raw.Header.Marker = original.Marker()
	out.Raw.Header.CSRC = append([]uint32(nil), original.Raw.Header.CSRC...)
	out.Raw.Header.Extensions = nonMidRidExtensions(original.Raw.Header.Extensions, g.ext)
	out.Raw.Header.ExtensionProfile = original.Raw.Header.ExtensionProfile
	out.Raw.Header.Extension = len(out.Raw.Header.Extensions) > 0

	osn := original.SequenceNumber()
	out.Raw.Payload = append([]byte{byte(osn >> 8), byte(osn)}, original.Payload()...)
	seq := osn
	out.RetransmittedSequenceNumber = &seq
	out.CaptureTime = original.CaptureTime
	out.AllowRetransmission = false

	return out, nil
}

func nonMidRidExtensions(exts []rtp.Extension, reg *rtpext.Registry) []rtp.Extension {
	out := make([]rtp.Extension, 0, len(exts))
	for _, e := range exts {
		typ, ok := reg.TypeForID(e.ID)
		if ok && (typ == rtpext.TypeRtpMid || typ == rtpext.TypeRtpStreamId || typ == rtpext.TypeRepairedRtpStreamId) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GeneratePadding implements the spec §4.1 padding algorithm. history may be
// nil, in which case RTX-payload padding is skipped and step 2 (synthetic
// padding) always applies.
func (g *Generator) GeneratePadding(targetBytes int, mediaHasBeenSent, canUseMediaSSRC bool, hist *history.History) []*rtppkt.Packet {
	var out []*rtppkt.Packet

	if g.cfg.RTXPayloadPadding && hist != nil && targetBytes >= MinPayloadPaddingBytes {
		budget := int(float64(targetBytes) * g.cfg.MaxPaddingSizeFactor)
		sent := 0
		for sent < targetBytes {
			p := hist.GetPayloadPaddingPacket(func(orig *rtppkt.Packet) *rtppkt.Packet {
				rtx, err := g.BuildRtxPacket(orig)
				if err != nil {
					return nil
				}
				rtx.Type = rtppkt.PacketTypePadding
				return rtx
			})
			if p == nil {
				break
			}
			if sent+p.TotalSize() > budget {
				break
			}
			out = append(out, p)
			sent += p.TotalSize()
		}
		if sent > 0 {
			return out
		}
	}

	// Step 2: synthetic padding.
	useRTXSSRC := g.cfg.RTXSSRC != 0 && (mediaHasBeenSent || g.ext.Registered(rtpext.TypeAbsoluteSendTime) || g.ext.Registered(rtpext.TypeTransportSequenceNumber))
	if !useRTXSSRC && !canUseMediaSSRC {
		return out
	}

	size := syntheticAudioFloorBytes
	if g.cfg.Kind == MediaVideo {
		size = syntheticVideoPaddingBytes
		if max := g.MaxPayloadSize(); max < size {
			size = max
		}
	}
	if size <= 0 {
		return out
	}

	remaining := targetBytes
	for remaining > 0 {
		p := rtppkt.NewPacket()
		p.Type = rtppkt.PacketTypePadding
		p.Raw.Header.Marker = false
		if useRTXSSRC {
			p.Raw.Header.SSRC = g.cfg.RTXSSRC
		} else {
			p.Raw.Header.SSRC = g.cfg.SSRC
		}
		p.Raw.Payload = make([]byte, size)
		out = append(out, p)
		remaining -= size
	}
	return out
}

// MarkMediaSent records that a media packet has left the egress stage, as
// reported by MediaHasBeenSent. GeneratePadding does not read this flag; it
// takes the media-sent state as its mediaHasBeenSent argument.
func (g *Generator) MarkMediaSent() { g.mediaHasBeenSent = true }

// MediaHasBeenSent reports the flag MarkMediaSent sets.
func (g *Generator) MediaHasBeenSent() bool { return g.mediaHasBeenSent }
