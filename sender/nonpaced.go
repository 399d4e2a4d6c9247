package sender

import (
	"context"
	"fmt"

	"github.com/arzzra/rtprtcp/history"
	"github.com/arzzra/rtprtcp/internal/rtperr"
	"github.com/arzzra/rtprtcp/rtppkt"
	"github.com/arzzra/rtprtcp/sequencer"
)

// NonPacedSender drives packets straight from generator through sequencer
// to egress with no queueing delay (spec §2 "Non-paced sender": "the paced
// variant is out of core scope").
type NonPacedSender struct {
	gen      *Generator
	seq      *sequencer.Sequencer
	egress   *Egresser
	hist     *history.History // may be nil; used for resends and RTX-payload padding
}

func NewNonPacedSender(gen *Generator, seq *sequencer.Sequencer, egress *Egresser, hist *history.History) *NonPacedSender {
	return &NonPacedSender{gen: gen, seq: seq, egress: egress, hist: hist}
}

// SendMediaPacket assigns a sequence number and sends p immediately.
func (s *NonPacedSender) SendMediaPacket(ctx context.Context, p *rtppkt.Packet, isKeyFrame bool) error {
	if !s.seq.Assign(p) {
		return rtperr.Config("sender.NonPacedSender", "SendMediaPacket", fmt.Errorf("sequencer rejected packet for SSRC %d", p.SSRC()))
	}
	if err := s.egress.SendPacket(ctx, p, isKeyFrame); err != nil {
		return err
	}
	if p.Type != rtppkt.PacketTypePadding {
		s.gen.MarkMediaSent()
	}
	return nil
}

// ResendPacket retransmits seq from history as an RTX packet built by
// BuildRtxPacket. There is no plain retransmission on the media SSRC: when
// no RTX packet can be built (no RTX SSRC or payload-type mapping), nothing
// is sent. Returns nil if the packet is not retrievable (suppressed by the
// RTT gate or already evicted) or not resent — matching history's "fails
// silently" contract (spec §4.2).
func (s *NonPacedSender) ResendPacket(ctx context.Context, seq uint16) error {
	if s.hist == nil {
		return rtperr.Config("sender.NonPacedSender", "ResendPacket", fmt.Errorf("no packet history configured"))
	}
	out := s.hist.GetPacketAndMarkAsPending(seq, func(orig *rtppkt.Packet) *rtppkt.Packet {
		rtx, err := s.gen.BuildRtxPacket(orig)
		if err != nil {
			return nil
		}
		return rtx
	})
	if out == nil {
		return nil
	}
	if !s.seq.Assign(out) {
		return rtperr.Config("sender.NonPacedSender", "ResendPacket", fmt.Errorf("sequencer rejected RTX packet"))
	}
	if err := s.egress.SendPacket(ctx, out, false); err != nil {
		return err
	}
	return nil
}

// SendPadding runs generate_padding and sends every resulting packet through
// the sequencer and egress (spec §4.1).
func (s *NonPacedSender) SendPadding(ctx context.Context, targetBytes int, canUseMediaSSRC bool) (int, error) {
	packets := s.gen.GeneratePadding(targetBytes, s.egress.MediaHasBeenSent(), canUseMediaSSRC, s.hist)
	sent := 0
	for _, p := range packets {
		if !s.seq.Assign(p) {
			continue
		}
		if err := s.egress.SendPacket(ctx, p, false); err != nil {
			return sent, err
		}
		sent += p.TotalSize()
	}
	return sent, nil
}
