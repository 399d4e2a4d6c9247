// Package receiver assembles incoming RTP packets into frames and resolves
// their codec-level reference structure (spec §4.7 "Receive buffer & frame
// assembler", §4.8 "Frame reference finder").
package receiver

import (
	"sync"

	"github.com/arzzra/rtprtcp/rtppkt"
)

// defaultCapacity bounds how many not-yet-assembled packets a Buffer holds
// before it starts evicting the oldest incomplete frame, so a persistent
// gap can't grow the buffer without limit.
const defaultCapacity = 4096

// FrameToDecode is a fully reassembled frame's contiguous payload plus the
// metadata the frame-reference finder and jitter buffer need (spec §4.7).
type FrameToDecode struct {
	RTPTimestamp  uint32
	FirstSequence uint16
	LastSequence  uint16
	Payload       []byte
	IsKeyframe    bool

	Codec Codec

	// Codec-specific hints a depacketizer may have already extracted from
	// the payload descriptor (spec §4.8: "uses codec-header fields").
	TL0PicIdx     uint8
	TemporalLayer uint8
	RefPicID      uint16

	// Filled in by ReferenceFinder.Process.
	UnwrappedID int64
	References  []int64
}

// Codec selects which frame-reference rule applies (spec §4.8).
type Codec int

const (
	CodecH264 Codec = iota
	CodecVP8
	CodecVP9
)

// Depacketizer turns an ordered run of packets belonging to one frame into
// its contiguous payload (codec-specific; e.g. stripping NAL start codes or
// VP8/VP9 payload descriptors). The default, if none is supplied, simply
// concatenates each packet's RTP payload in sequence order.
type Depacketizer func(packets []*rtppkt.Packet) ([]byte, error)

func defaultDepacketize(packets []*rtppkt.Packet) ([]byte, error) {
	total := 0
	for _, p := range packets {
		total += p.PayloadSize()
	}
	out := make([]byte, 0, total)
	for _, p := range packets {
		out = append(out, p.Payload()...)
	}
	return out, nil
}

// Buffer stores incoming packets indexed by (wrap-aware) sequence number and
// emits a FrameToDecode once a run of packets with no gap, starting at a
// first-packet-in-frame marker and ending at marker=true, is complete (spec
// §4.7).
type Buffer struct {
	mu sync.Mutex

	capacity int
	packets  map[uint16]*rtppkt.Packet
	firstSeq map[uint32]uint16 // rtp_timestamp -> seq of its first-packet-in-frame
	markerSeq map[uint32]uint16 // rtp_timestamp -> seq of its marker packet

	depacketize Depacketizer

	OnFrame func(*FrameToDecode)
}

// NewBuffer constructs a Buffer. capacity <= 0 uses defaultCapacity.
func NewBuffer(capacity int, depacketize Depacketizer) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if depacketize == nil {
		depacketize = defaultDepacketize
	}
	return &Buffer{
		capacity:    capacity,
		packets:     make(map[uint16]*rtppkt.Packet),
		firstSeq:    make(map[uint32]uint16),
		markerSeq:   make(map[uint32]uint16),
		depacketize: depacketize,
	}
}

// InsertPacket stores p and attempts to assemble any frame it completes.
// isFirstPacketInFrame is a codec-level hint (e.g. the H.264 NAL's first
// fragment, or VP8's start-of-partition bit) since RTP itself has no
// generic "first packet of frame" marker.
func (b *Buffer) InsertPacket(p *rtppkt.Packet, isFirstPacketInFrame bool, isKeyframe bool, codec Codec) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := p.SequenceNumber()
	ts := p.Timestamp()

	b.packets[seq] = p
	if isFirstPacketInFrame {
		b.firstSeq[ts] = seq
	}
	if p.Marker() {
		b.markerSeq[ts] = seq
	}

	if len(b.packets) > b.capacity {
		b.evictOldestLocked()
	}

	b.tryAssembleLocked(ts, isKeyframe, codec)
}

func (b *Buffer) tryAssembleLocked(ts uint32, isKeyframe bool, codec Codec) {
	first, haveFirst := b.firstSeq[ts]
	last, haveMarker := b.markerSeq[ts]
	if !haveFirst || !haveMarker {
		return
	}

	var ordered []*rtppkt.Packet
	for seq := first; ; seq++ {
		p, ok := b.packets[seq]
		if !ok {
			return // gap: not assemblable yet
		}
		ordered = append(ordered, p)
		if seq == last {
			break
		}
	}

	payload, err := b.depacketize(ordered)
	if err != nil {
		return
	}

	frame := &FrameToDecode{
		RTPTimestamp:  ts,
		FirstSequence: first,
		LastSequence:  last,
		Payload:       payload,
		IsKeyframe:    isKeyframe,
		Codec:         codec,
	}

	for seq := first; ; seq++ {
		delete(b.packets, seq)
		if seq == last {
			break
		}
	}
	delete(b.firstSeq, ts)
	delete(b.markerSeq, ts)

	if b.OnFrame != nil {
		b.OnFrame(frame)
	}
}

// evictOldestLocked drops the smallest-sequence-numbered buffered packet,
// and any now-incomplete frame bookkeeping pointing at it, when the buffer
// grows past capacity without completing (spec §4.7's bound: a persistent
// gap must not grow the buffer forever).
func (b *Buffer) evictOldestLocked() {
	var oldest uint16
	found := false
	for seq := range b.packets {
		if !found || int16(seq-oldest) < 0 {
			oldest = seq
			found = true
		}
	}
	if !found {
		return
	}
	ts := b.packets[oldest].Timestamp()
	delete(b.packets, oldest)
	if b.firstSeq[ts] == oldest {
		delete(b.firstSeq, ts)
	}
	if b.markerSeq[ts] == oldest {
		delete(b.markerSeq, ts)
	}
}

// Len reports how many not-yet-assembled packets are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}
