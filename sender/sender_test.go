package sender

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/history"
	"github.com/arzzra/rtprtcp/rtpext"
	"github.com/arzzra/rtprtcp/rtppkt"
	"github.com/arzzra/rtprtcp/sequencer"
	"github.com/arzzra/rtprtcp/transport"
)

// mockTransport records every buffer handed to SendRTP, mirroring the
// teacher's MockTransport (pkg/rtp/session_test.go).
type mockTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (m *mockTransport) SendRTP(_ context.Context, buf []byte, _ transport.PacketOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), buf...)
	m.sent = append(m.sent, cp)
	return len(buf), nil
}
func (m *mockTransport) SendRTCP(_ context.Context, buf []byte) (int, error) { return len(buf), nil }
func (m *mockTransport) LocalAddr() net.Addr                                { return &net.UDPAddr{} }
func (m *mockTransport) RemoteAddr() net.Addr                               { return &net.UDPAddr{} }
func (m *mockTransport) Close() error                                       { return nil }

func (m *mockTransport) last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestGenerator(t *testing.T) (*Generator, *rtpext.Registry) {
	ext := rtpext.NewRegistry()
	gen, err := NewGenerator(GeneratorConfig{
		Kind:          MediaVideo,
		SSRC:          1111,
		RTXSSRC:       2222,
		MaxPacketSize: 1200,
	}, ext)
	require.NoError(t, err)
	return gen, ext
}

// TestRTXRetransmitMatchesScenario mirrors spec §8 scenario 6: media
// SSRC=A/pt=100/seq=42/ts=9000/payload=[0xDE 0xAD], RTX SSRC=B, pt_map
// {100:101}; the resend carries the OSN prefix and RETRANSMISSION type.
func TestRTXRetransmitMatchesScenario(t *testing.T) {
	gen, ext := newTestGenerator(t)
	gen.SetRtxPayloadType(100, 101)

	original := rtppkt.NewPacket()
	original.Raw.Header.SSRC = 1111
	original.Raw.Header.PayloadType = 100
	original.SetSequenceNumber(42)
	original.Raw.Header.Timestamp = 9000
	original.Raw.Payload = []byte{0xDE, 0xAD}

	rtx, err := gen.BuildRtxPacket(original)
	require.NoError(t, err)
	require.Equal(t, uint32(2222), rtx.SSRC())
	require.Equal(t, uint8(101), rtx.PayloadType())
	require.Equal(t, uint32(9000), rtx.Timestamp())
	require.Equal(t, []byte{0x00, 0x2A, 0xDE, 0xAD}, rtx.Payload())
	require.Equal(t, rtppkt.PacketTypeRetransmission, rtx.Type)
	require.NotNil(t, rtx.RetransmittedSequenceNumber)
	require.Equal(t, uint16(42), *rtx.RetransmittedSequenceNumber)

	_ = ext
}

func TestBuildRtxPacketFailsWithoutMapping(t *testing.T) {
	gen, _ := newTestGenerator(t)
	original := rtppkt.NewPacket()
	original.Raw.Header.PayloadType = 100
	_, err := gen.BuildRtxPacket(original)
	require.Error(t, err)
}

func TestBuildRtxPacketFailsWithoutRTXSSRC(t *testing.T) {
	ext := rtpext.NewRegistry()
	gen, err := NewGenerator(GeneratorConfig{SSRC: 1, MaxPacketSize: 1200}, ext)
	require.NoError(t, err)
	gen.SetRtxPayloadType(100, 101)
	original := rtppkt.NewPacket()
	original.Raw.Header.PayloadType = 100
	_, err = gen.BuildRtxPacket(original)
	require.Error(t, err)
}

func TestNewGeneratorRejectsUndersizedPacket(t *testing.T) {
	ext := rtpext.NewRegistry()
	_, err := NewGenerator(GeneratorConfig{SSRC: 1, MaxPacketSize: 50}, ext)
	require.Error(t, err)
}

func newTestEgresser(t *testing.T) (*Egresser, *mockTransport, *rtpext.Registry, *history.History) {
	ext := rtpext.NewRegistry()
	clk := clock.NewSimulatedClock(0)
	hist := history.New(clk, zerolog.Nop())
	hist.SetStorePacketsStatus(history.StorageStoreAndCull, 100)
	tr := &mockTransport{}
	egress := NewEgresser(EgresserConfig{
		MediaSSRC: 1111,
		RTXSSRC:   2222,
		Ext:       ext,
		Clk:       clk,
		Hist:      hist,
		Transport: tr,
	})
	return egress, tr, ext, hist
}

func TestSendPacketRejectsWrongSSRC(t *testing.T) {
	egress, _, _, _ := newTestEgresser(t)
	p := rtppkt.NewPacket()
	p.Raw.Header.SSRC = 9999
	p.Raw.Payload = []byte{1, 2, 3}
	err := egress.SendPacket(context.Background(), p, false)
	require.Error(t, err)
}

func TestSendPacketStoresRetransmittablePacketsInHistory(t *testing.T) {
	egress, tr, _, hist := newTestEgresser(t)
	p := rtppkt.NewPacket()
	p.Raw.Header.SSRC = 1111
	p.SetSequenceNumber(7)
	p.Raw.Payload = []byte{1, 2, 3}
	p.AllowRetransmission = true

	require.NoError(t, egress.SendPacket(context.Background(), p, false))
	require.Equal(t, 1, tr.count())

	state, ok := hist.GetPacketState(7)
	require.True(t, ok)
	require.Equal(t, 0, state.TimesRetransmitted)
	require.True(t, egress.MediaHasBeenSent())
}

func TestSendPacketUpdatesCounters(t *testing.T) {
	egress, _, _, _ := newTestEgresser(t)
	p := rtppkt.NewPacket()
	p.Raw.Header.SSRC = 1111
	p.SetSequenceNumber(1)
	p.Raw.Payload = []byte{1, 2, 3, 4}
	require.NoError(t, egress.SendPacket(context.Background(), p, false))

	counters := egress.Counters()
	require.Equal(t, uint64(1), counters.PacketsTransmitted)
	require.True(t, counters.BytesTransmitted > 0)
}

func TestNonPacedSenderResendsViaRtx(t *testing.T) {
	ext := rtpext.NewRegistry()
	gen, err := NewGenerator(GeneratorConfig{SSRC: 1111, RTXSSRC: 2222, MaxPacketSize: 1200}, ext)
	require.NoError(t, err)
	gen.SetRtxPayloadType(100, 101)

	clk := clock.NewSimulatedClock(0)
	hist := history.New(clk, zerolog.Nop())
	hist.SetStorePacketsStatus(history.StorageStoreAndCull, 100)

	tr := &mockTransport{}
	egress := NewEgresser(EgresserConfig{MediaSSRC: 1111, RTXSSRC: 2222, Ext: ext, Clk: clk, Hist: hist, Transport: tr})
	seq := sequencer.New(sequencer.Config{MediaSSRC: 1111, RTXSSRC: 2222})
	s := NewNonPacedSender(gen, seq, egress, hist)

	media := rtppkt.NewPacket()
	media.Raw.Header.SSRC = 1111
	media.Raw.Header.PayloadType = 100
	media.Raw.Payload = []byte{0xAA, 0xBB}
	media.AllowRetransmission = true
	require.NoError(t, s.SendMediaPacket(context.Background(), media, false))
	sentSeq := media.SequenceNumber()

	require.NoError(t, s.ResendPacket(context.Background(), sentSeq))
	require.Equal(t, 2, tr.count())

	rtx, err := rtppkt.Unmarshal(tr.last())
	require.NoError(t, err)
	require.Equal(t, uint32(2222), rtx.SSRC())
	require.Equal(t, uint8(101), rtx.PayloadType())
}

func TestNonPacedSenderSendsSyntheticPadding(t *testing.T) {
	ext := rtpext.NewRegistry()
	gen, err := NewGenerator(GeneratorConfig{Kind: MediaAudio, SSRC: 1111, MaxPacketSize: 1200}, ext)
	require.NoError(t, err)
	clk := clock.NewSimulatedClock(0)
	tr := &mockTransport{}
	egress := NewEgresser(EgresserConfig{MediaSSRC: 1111, Ext: ext, Clk: clk, Transport: tr})
	seqr := sequencer.New(sequencer.Config{MediaSSRC: 1111})
	s := NewNonPacedSender(gen, seqr, egress, nil)

	sent, err := s.SendPadding(context.Background(), 100, true)
	require.NoError(t, err)
	require.True(t, sent >= 100)
	require.True(t, tr.count() > 0)
}
