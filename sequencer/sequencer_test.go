package sequencer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/rtppkt"
)

func mediaPacket(ssrc uint32, marker bool, typ rtppkt.PacketType) *rtppkt.Packet {
	p := rtppkt.NewPacket()
	p.Raw.Header.SSRC = ssrc
	p.Raw.Header.Marker = marker
	p.Type = typ
	return p
}

func TestAssignIncrementsMediaAndRTXIndependently(t *testing.T) {
	s := New(Config{MediaSSRC: 1, RTXSSRC: 2})
	m1 := mediaPacket(1, false, rtppkt.PacketTypeVideo)
	require.True(t, s.Assign(m1))
	require.Equal(t, uint16(0), m1.SequenceNumber())

	r1 := mediaPacket(2, false, rtppkt.PacketTypeRetransmission)
	require.True(t, s.Assign(r1))
	require.Equal(t, uint16(0), r1.SequenceNumber())

	m2 := mediaPacket(1, false, rtppkt.PacketTypeVideo)
	require.True(t, s.Assign(m2))
	require.Equal(t, uint16(1), m2.SequenceNumber())
}

func TestMarkerBeforePaddingRuleRejectsWithoutPriorMarker(t *testing.T) {
	s := New(Config{MediaSSRC: 1, RequireMarkerBeforeMediaPadding: true})
	pad := mediaPacket(1, false, rtppkt.PacketTypePadding)
	require.False(t, s.Assign(pad))

	media := mediaPacket(1, true, rtppkt.PacketTypeVideo)
	require.True(t, s.Assign(media))

	pad2 := mediaPacket(1, false, rtppkt.PacketTypePadding)
	require.True(t, s.Assign(pad2))
}

func TestUnknownSSRCRejected(t *testing.T) {
	s := New(Config{MediaSSRC: 1, RTXSSRC: 2})
	p := mediaPacket(99, false, rtppkt.PacketTypeVideo)
	require.False(t, s.Assign(p))
}
