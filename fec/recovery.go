package fec

import "github.com/arzzra/rtprtcp/rtppkt"

// Recoverer reconstructs a single missing media packet from a FEC payload
// and the media packets of the protected group that did arrive. It cannot
// recover more than one missing packet per group (XOR-based FEC's
// fundamental limit), matching spec scenario 1 (one lost packet recovered).
type Recoverer struct {
	// received maps sequence number -> payload for packets seen so far in
	// the current protected group.
	received map[uint16][]byte
}

func NewRecoverer() *Recoverer {
	return &Recoverer{received: make(map[uint16][]byte)}
}

// ObserveMediaPacket records a media packet's payload for later recovery
// lookups.
func (r *Recoverer) ObserveMediaPacket(p *rtppkt.Packet) {
	r.received[p.SequenceNumber()] = p.Payload()
}

// Recover attempts to reconstruct exactly one missing packet out of the
// group described by a FEC payload (ULPFEC, already unwrapped from RED, or
// FlexFEC). Returns the recovered sequence number and payload, or ok=false
// if zero or more than one packet in the group is missing.
func (r *Recoverer) Recover(fecPayload []byte) (seq uint16, payload []byte, ok bool) {
	mask, xorPayload, err := decodeMaskHeader(fecPayload)
	if err != nil {
		return 0, nil, false
	}

	missing := make([]uint16, 0, 1)
	result := make([]byte, mask.length)
	copy(result, xorPayload)

	for _, s := range mask.protectedSeqs {
		pl, ok := r.received[s]
		if !ok {
			missing = append(missing, s)
			continue
		}
		for i := range pl {
			result[i] ^= pl[i]
		}
	}
	if len(missing) != 1 {
		return 0, nil, false
	}
	return missing[0], trimTrailingZeros(result), true
}

// trimTrailingZeros removes the zero-padding xorBuild added to align
// variable-length payloads. This is a best-effort recovery of the original
// length and assumes media payloads do not end in a run of real zero bytes
// longer than the padding — acceptable for this module's scope (see
// DESIGN.md).
func trimTrailingZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
