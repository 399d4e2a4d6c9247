package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/rtppkt"
)

func mediaPacket(seq uint16, ts uint32, marker bool, payload []byte) *rtppkt.Packet {
	p := rtppkt.NewPacket()
	p.SetSequenceNumber(seq)
	p.Raw.Header.Timestamp = ts
	p.Raw.Header.Marker = marker
	p.Raw.Payload = payload
	return p
}

func payloadOfLen(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

// TestULPFECRecoversSingleLostPacket mirrors spec §8 scenario 1: two-packet
// frame, seq=100 and seq=101 (marker), 100% protection factor; seq=101 is
// dropped on the wire and the FEC packet recovers it.
func TestULPFECRecoversSingleLostPacket(t *testing.T) {
	gen := NewULPFEC(ULPFECConfig{MediaSSRC: 1, RedPayloadType: 97, FecPayloadType: 96})
	gen.SetProtectionParameters(ProtectionParameters{DeltaFrameFactor: 1.0, KeyFrameFactor: 1.0})

	p100 := mediaPacket(100, 9000, false, payloadOfLen(1024, 0xAB))
	p101 := mediaPacket(101, 9000, true, payloadOfLen(1024, 0xCD))

	require.NoError(t, gen.PushMediaPacket(p100, false))
	require.NoError(t, gen.PushMediaPacket(p101, false))

	fecPackets := gen.PopFECPackets()
	require.Len(t, fecPackets, 1)

	blockPT, fecPayload, ok := UnwrapRED(fecPackets[0].Payload())
	require.True(t, ok)
	require.Equal(t, uint8(96), blockPT)

	// seq=101 is dropped on the wire; the receiver only observed seq=100.
	rec := NewRecoverer()
	rec.ObserveMediaPacket(p100)

	seq, payload, ok := rec.Recover(fecPayload)
	require.True(t, ok)
	require.Equal(t, uint16(101), seq)
	require.True(t, bytes.Equal(p101.Payload(), payload))
}

func TestPushMediaPacketFailsWhenQueueOverflows(t *testing.T) {
	gen := NewULPFEC(ULPFECConfig{MediaSSRC: 1, RedPayloadType: 97, FecPayloadType: 96})
	gen.SetProtectionParameters(ProtectionParameters{}) // factor 0: never flush
	for i := 0; i < MaxProtectedMediaPackets; i++ {
		require.NoError(t, gen.PushMediaPacket(mediaPacket(uint16(i), 0, false, []byte{1}), false))
	}
	err := gen.PushMediaPacket(mediaPacket(200, 0, false, []byte{1}), false)
	require.ErrorIs(t, err, ErrTooManyProtectedPackets)
}

func TestRecoverFailsWithZeroOrMultipleMissing(t *testing.T) {
	gen := NewULPFEC(ULPFECConfig{MediaSSRC: 1, RedPayloadType: 97, FecPayloadType: 96})
	gen.SetProtectionParameters(ProtectionParameters{DeltaFrameFactor: 1.0})
	p1 := mediaPacket(1, 0, false, payloadOfLen(4, 0x11))
	p2 := mediaPacket(2, 0, true, payloadOfLen(4, 0x22))
	require.NoError(t, gen.PushMediaPacket(p1, false))
	require.NoError(t, gen.PushMediaPacket(p2, false))
	fecPackets := gen.PopFECPackets()
	_, fecPayload, _ := UnwrapRED(fecPackets[0].Payload())

	rec := NewRecoverer() // nothing observed -> 2 missing
	_, _, ok := rec.Recover(fecPayload)
	require.False(t, ok)
}
