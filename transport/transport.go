// Package transport defines the network transport boundary the send/receive
// pipelines dispatch through (spec §6 "Transport interface consumed"),
// named only — the concrete datagram transport (ICE/DTLS/SRTP) is an
// external collaborator per spec §1's out-of-scope list. UDPTransport
// (adapted from the teacher's transport_udp.go/transport_rtcp_udp.go) is a
// convenience rtcp-mux'd implementation, not a requirement of the core; a
// DTLS/SRTP-secured transport is left to that external collaborator.
package transport

import (
	"context"
	"net"
)

// PacketOptions travels alongside a send call for transport-wide-cc
// correlation (spec §4.3 step 7: "Hand the packet ... with a PacketOptions{packet_id}").
type PacketOptions struct {
	PacketID           uint16
	HasPacketID        bool
	ApplicationData    []byte
}

// Transport is the minimal external interface the egress and RTCP stages
// require: send raw bytes, optionally tagged is_rtcp, and receive a
// callback-driven stream of inbound datagrams (spec §6).
type Transport interface {
	// SendRTP transmits an already-serialized RTP packet. Returns the
	// number of bytes written, or an error classified as rtperr.KindTransient
	// by the caller.
	SendRTP(ctx context.Context, buf []byte, opts PacketOptions) (int, error)
	// SendRTCP transmits an already-serialized compound RTCP packet.
	SendRTCP(ctx context.Context, buf []byte) (int, error)

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Receiver is implemented by callers that take inbound datagrams through a
// push callback; Transport has no receive method of its own (so that
// send-only transports need not implement one).
type Receiver interface {
	OnReceived(buf []byte, isRTCP bool, from net.Addr)
}
