package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingReceiver collects every datagram OnReceived delivers, mirroring
// the teacher's polling-based transport tests (pkg/rtp/transport_simple_test.go)
// adapted to this package's push-model Receiver.
type recordingReceiver struct {
	mu    sync.Mutex
	rtp   [][]byte
	rtcp  [][]byte
}

func (r *recordingReceiver) OnReceived(buf []byte, isRTCP bool, _ net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isRTCP {
		r.rtcp = append(r.rtcp, buf)
	} else {
		r.rtp = append(r.rtp, buf)
	}
}

func (r *recordingReceiver) rtpCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rtp)
}

func (r *recordingReceiver) rtcpCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rtcp)
}

func TestUDPTransportCreationBindsEphemeralPort(t *testing.T) {
	tr, err := NewUDPTransport(UDPConfig{}, nil)
	require.NoError(t, err)
	defer tr.Close()
	require.NotNil(t, tr.LocalAddr())
	require.Nil(t, tr.RemoteAddr())
}

func TestUDPTransportSendFailsWithoutRemoteAddr(t *testing.T) {
	tr, err := NewUDPTransport(UDPConfig{}, nil)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.SendRTP(context.Background(), []byte{1, 2, 3}, PacketOptions{})
	require.Error(t, err)
}

func TestUDPTransportRoundTripDemuxesRTPAndRTCP(t *testing.T) {
	recv := &recordingReceiver{}
	server, err := NewUDPTransport(UDPConfig{LocalAddr: "127.0.0.1:0"}, recv)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewUDPTransport(UDPConfig{
		LocalAddr:  "127.0.0.1:0",
		RemoteAddr: server.LocalAddr().String(),
	}, nil)
	require.NoError(t, err)
	defer client.Close()

	// An RTP packet: version 2, no marker, payload type 96 (not in the
	// 200-204 RTCP range).
	rtpPacket := []byte{0x80, 96, 0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err = client.SendRTP(context.Background(), rtpPacket, PacketOptions{})
	require.NoError(t, err)

	// An RTCP Sender Report: version 2, packet type 200.
	rtcpPacket := []byte{0x80, 200, 0x00, 0x06, 0, 0, 0, 0}
	_, err = client.SendRTCP(context.Background(), rtcpPacket)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recv.rtpCount() == 1 && recv.rtcpCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUDPTransportLearnsRemoteAddrFromFirstDatagram(t *testing.T) {
	recv := &recordingReceiver{}
	server, err := NewUDPTransport(UDPConfig{LocalAddr: "127.0.0.1:0"}, recv)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewUDPTransport(UDPConfig{
		LocalAddr:  "127.0.0.1:0",
		RemoteAddr: server.LocalAddr().String(),
	}, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Nil(t, server.RemoteAddr())
	_, err = client.SendRTP(context.Background(), []byte{0x80, 96, 0, 1, 0, 0, 0, 0}, PacketOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return server.RemoteAddr() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestUDPTransportCloseIsIdempotent(t *testing.T) {
	tr, err := NewUDPTransport(UDPConfig{}, &recordingReceiver{})
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestIsRTCPPacketRecognizesSRThroughAPPRange(t *testing.T) {
	require.True(t, isRTCPPacket([]byte{0x80, 200, 0, 0}))
	require.True(t, isRTCPPacket([]byte{0x80, 204, 0, 0}))
	require.False(t, isRTCPPacket([]byte{0x80, 96, 0, 0}))
	require.False(t, isRTCPPacket([]byte{0x80, 199, 0, 0}))
	require.False(t, isRTCPPacket([]byte{0x00}))
}
