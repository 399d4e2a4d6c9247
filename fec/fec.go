// Package fec implements the two FEC generator variants named in spec §4.5:
// ULPFEC (encapsulated in RED, same SSRC) and FlexFEC (separate SSRC/
// sequence space). Both share the Generator interface and an XOR-based
// recovery scheme modelled on RFC 5109's ULP mask idea, simplified to a
// single "protect everything since the last flush" mask rather than the
// original's bursty/non-bursty mask table — see DESIGN.md for the rationale.
package fec

import (
	"encoding/binary"
	"fmt"

	"github.com/arzzra/rtprtcp/rtppkt"
)

// MaxProtectedMediaPackets is the maximum number of media packets a single
// FEC packet can protect (spec §4.5).
const MaxProtectedMediaPackets = 48

// ErrTooManyProtectedPackets is returned by PushMediaPacket when the pending
// buffer would exceed MaxProtectedMediaPackets before a flush occurs.
var ErrTooManyProtectedPackets = fmt.Errorf("fec: too many protected packets queued")

// ProtectionParameters are the delta/key-frame protection factors, expressed
// as a fraction [0, 1] of media packets that should receive an additional
// FEC packet (spec §4.5 set_protection_parameters). They are swapped
// atomically and apply from the next pushed media packet: the factor in
// force when a frame's marker packet arrives decides whether a FEC packet is
// built. A swap in the middle of a frame is not deferred to the frame
// boundary.
type ProtectionParameters struct {
	DeltaFrameFactor float64
	KeyFrameFactor   float64
}

// Generator is the shared interface for ULPFEC and FlexFEC.
type Generator interface {
	// PushMediaPacket buffers a just-generated media packet for protection.
	// When p carries the marker bit (the last packet of a frame) and the
	// configured factor indicates one is due, it synchronously produces a
	// FEC packet (retrievable via PopFECPackets).
	PushMediaPacket(p *rtppkt.Packet, isKeyFrame bool) error
	// SetProtectionParameters atomically swaps in new delta/key factors,
	// used from the next pushed media packet on.
	SetProtectionParameters(params ProtectionParameters)
	// PopFECPackets drains generated FEC output.
	PopFECPackets() []*rtppkt.Packet
}

// maskHeader is the wire layout this package uses to describe which media
// sequence numbers a FEC payload protects: a 2-byte count followed by that
// many 2-byte sequence numbers, then a 2-byte protected-payload length.
// It precedes the XOR'd payload bytes in every FEC packet this package
// produces (both ULPFEC-in-RED and FlexFEC).
type maskHeader struct {
	protectedSeqs []uint16
	length        uint16
}

func encodeMaskHeader(m maskHeader) []byte {
	buf := make([]byte, 2+2*len(m.protectedSeqs)+2)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(m.protectedSeqs)))
	off := 2
	for _, s := range m.protectedSeqs {
		binary.BigEndian.PutUint16(buf[off:off+2], s)
		off += 2
	}
	binary.BigEndian.PutUint16(buf[off:off+2], m.length)
	return buf
}

func decodeMaskHeader(b []byte) (maskHeader, []byte, error) {
	if len(b) < 2 {
		return maskHeader{}, nil, fmt.Errorf("fec: mask header truncated")
	}
	n := int(binary.BigEndian.Uint16(b[0:2]))
	need := 2 + 2*n + 2
	if len(b) < need {
		return maskHeader{}, nil, fmt.Errorf("fec: mask header truncated")
	}
	seqs := make([]uint16, n)
	off := 2
	for i := 0; i < n; i++ {
		seqs[i] = binary.BigEndian.Uint16(b[off : off+2])
		off += 2
	}
	length := binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	return maskHeader{protectedSeqs: seqs, length: length}, b[off:], nil
}

// xorBuild produces the FEC payload (mask header + XOR of every protected
// media packet's payload, zero-padded to the longest one).
func xorBuild(packets []*rtppkt.Packet) []byte {
	maxLen := 0
	for _, p := range packets {
		if len(p.Payload()) > maxLen {
			maxLen = len(p.Payload())
		}
	}
	xor := make([]byte, maxLen)
	seqs := make([]uint16, 0, len(packets))
	for _, p := range packets {
		seqs = append(seqs, p.SequenceNumber())
		pl := p.Payload()
		for i := range pl {
			xor[i] ^= pl[i]
		}
	}
	header := encodeMaskHeader(maskHeader{protectedSeqs: seqs, length: uint16(maxLen)})
	return append(header, xor...)
}

// shouldFlush applies the delta/key protection factor: at least
// ceil(factor*count) FEC packets should exist for `count` buffered media
// packets. With this package's single-FEC-per-group simplification that
// reduces to "flush once count*factor >= 1", evaluated when a frame's
// marker packet arrives.
func shouldFlush(count int, factor float64) bool {
	return factor > 0 && float64(count)*factor >= 1.0
}
