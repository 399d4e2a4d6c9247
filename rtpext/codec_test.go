package rtpext

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
)

func TestTransmissionTimeOffsetRoundTripsSignedValues(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 8388607, -8388608} {
		b := EncodeTransmissionTimeOffset(v)
		got, err := DecodeTransmissionTimeOffset(b)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestTransportSequenceNumberWithFeedbackRequest(t *testing.T) {
	fr := &FeedbackRequest{IncludeTimestamps: true, SequenceCount: 10}
	b := EncodeTransportSequenceNumber(42, fr)
	seq, gotFr, err := DecodeTransportSequenceNumber(b)
	require.NoError(t, err)
	require.Equal(t, uint16(42), seq)
	require.NotNil(t, gotFr)
	require.True(t, gotFr.IncludeTimestamps)
	require.Equal(t, uint16(10), gotFr.SequenceCount)
}

func TestPlayoutDelayLimitsRoundTrip(t *testing.T) {
	d := PlayoutDelay{MinMs: 100, MaxMs: 500}
	b := EncodePlayoutDelayLimits(d)
	got, err := DecodePlayoutDelayLimits(b)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestSetOnUnregisteredExtensionIsNoOp(t *testing.T) {
	hdr := &rtp.Header{}
	reg := NewRegistry()
	err := SetAbsoluteSendTime(hdr, reg, clock.TimestampFromMilliseconds(1000))
	require.NoError(t, err)
	require.False(t, hdr.Extension)
}

func TestAbsSendTimeRegisteredThenRoundTripsThroughHeader(t *testing.T) {
	hdr := &rtp.Header{}
	reg := NewRegistry()
	require.NoError(t, reg.Register(TypeAbsoluteSendTime, 3))
	require.NoError(t, SetAbsoluteSendTime(hdr, reg, clock.TimestampFromMilliseconds(2000)))

	raw, err := hdr.Marshal()
	require.NoError(t, err)

	var parsed rtp.Header
	_, err = parsed.Unmarshal(raw)
	require.NoError(t, err)

	_, ok := GetAbsoluteSendTime(&parsed, reg)
	require.True(t, ok)
}

func TestRegisterRejectsReservedID(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(TypeRtpMid, 15))
}

func TestParseExtmapValue(t *testing.T) {
	id, uri, ok := parseExtmapValue("3/sendonly http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time")
	require.True(t, ok)
	require.Equal(t, uint8(3), id)
	require.Equal(t, "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", uri)
}
