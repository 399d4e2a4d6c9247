package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/arzzra/rtprtcp/internal/rtperr"
)

// rtcpTypeSR / rtcpTypeAPP bound the RTCP packet-type byte range RFC 5761
// rtcp-mux demuxing checks (adapted from the teacher's IsRTCPPacket,
// pkg/rtp/rtcp.go).
const (
	rtcpTypeSR  = 200
	rtcpTypeAPP = 204
)

// isRTCPPacket applies the same version+packet-type-range heuristic the
// teacher's IsRTCPPacket used, so a single rtcp-mux'd socket can tell RTP
// and RTCP datagrams apart without touching the codec-level payload.
func isRTCPPacket(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	version := (data[0] >> 6) & 0x03
	packetType := data[1]
	return version == 2 && packetType >= rtcpTypeSR && packetType <= rtcpTypeAPP
}

// UDPConfig configures a UDPTransport (adapted from the teacher's
// TransportConfig, pkg/rtp/transport.go).
type UDPConfig struct {
	// LocalAddr is a "host:port" string to bind, or "" for an ephemeral port
	// on every interface.
	LocalAddr string
	// RemoteAddr, if set, fixes the send destination; otherwise the first
	// inbound datagram's source address is learned as the remote address
	// (matching the teacher's UDPTransport.Receive behavior).
	RemoteAddr string
	// BufferSize bounds the largest datagram the read loop accepts.
	BufferSize int
}

const defaultUDPBufferSize = 1500

// UDPTransport is a single rtcp-mux'd UDP socket implementing Transport,
// adapted from the teacher's UDPTransport/MultiplexedUDPTransport
// (pkg/rtp/transport_udp.go, transport_rtcp_udp.go) into a push-model
// adapter: instead of the teacher's polling Receive(ctx), a background
// goroutine reads datagrams and dispatches them to a Receiver, matching
// this package's own Receiver interface (spec §6).
type UDPTransport struct {
	conn *net.UDPConn

	mu         sync.RWMutex
	remoteAddr *net.UDPAddr
	closed     bool

	bufferSize int
	recv       Receiver

	wg sync.WaitGroup
}

// NewUDPTransport binds cfg.LocalAddr and starts the background read loop.
// recv may be nil if the caller only intends to send.
func NewUDPTransport(cfg UDPConfig, recv Receiver) (*UDPTransport, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultUDPBufferSize
	}
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = ":0"
	}

	localAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, rtperr.Config("transport.UDPTransport", "NewUDPTransport", fmt.Errorf("resolve local addr: %w", err))
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, rtperr.Resource("transport.UDPTransport", "NewUDPTransport", fmt.Errorf("listen: %w", err))
	}

	t := &UDPTransport{
		conn:       conn,
		bufferSize: cfg.BufferSize,
		recv:       recv,
	}

	if cfg.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, rtperr.Config("transport.UDPTransport", "NewUDPTransport", fmt.Errorf("resolve remote addr: %w", err))
		}
		t.remoteAddr = remoteAddr
	}

	if recv != nil {
		t.wg.Add(1)
		go t.readLoop()
	}

	return t, nil
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, t.bufferSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.mu.Lock()
		if t.remoteAddr == nil {
			t.remoteAddr = addr
		}
		t.mu.Unlock()

		cp := make([]byte, n)
		copy(cp, buf[:n])
		t.recv.OnReceived(cp, isRTCPPacket(cp), addr)
	}
}

// SendRTP writes an already-serialized RTP packet to the remote address.
// opts is unused here: transport-wide-cc packet-id correlation belongs to
// whichever transport actually needs to stamp it on the wire (e.g. a
// two-byte RTP header extension written before Marshal), which a plain
// UDP socket has no reason to do.
func (t *UDPTransport) SendRTP(_ context.Context, buf []byte, _ PacketOptions) (int, error) {
	return t.send(buf)
}

// SendRTCP writes an already-serialized compound RTCP packet over the same
// rtcp-mux'd socket SendRTP uses.
func (t *UDPTransport) SendRTCP(_ context.Context, buf []byte) (int, error) {
	return t.send(buf)
}

func (t *UDPTransport) send(buf []byte) (int, error) {
	t.mu.RLock()
	remoteAddr := t.remoteAddr
	closed := t.closed
	t.mu.RUnlock()

	if closed {
		return 0, rtperr.Fatal("transport.UDPTransport", "send", fmt.Errorf("transport closed"))
	}
	if remoteAddr == nil {
		return 0, rtperr.Config("transport.UDPTransport", "send", fmt.Errorf("remote address not set"))
	}

	n, err := t.conn.WriteToUDP(buf, remoteAddr)
	if err != nil {
		return n, rtperr.Transient("transport.UDPTransport", "send", err)
	}
	return n, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr returns the configured or learned remote address, or nil if
// neither has happened yet.
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// Close stops the read loop and closes the socket. Calls after the first
// are no-ops.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	t.wg.Wait()
	return err
}
