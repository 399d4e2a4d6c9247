// Package history implements the bounded packet history used for NACK
// retransmission and payload-padding packet selection (spec §4.2, §3
// "PacketHistory entry"), grounded in naivertc's
// rtp_packet_sent_history.hpp and adapted to the teacher's Go idiom of an
// RWMutex-guarded map (pkg/rtp/source_manager.go).
package history

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arzzra/rtprtcp/clock"
	"github.com/arzzra/rtprtcp/rtppkt"
)

// StorageMode selects whether the history retains anything at all.
type StorageMode int

const (
	StorageDisabled StorageMode = iota
	StorageStoreAndCull
)

const (
	// MaxCapacity is the hard ceiling on stored packets (spec §3).
	MaxCapacity = 9600
	// MinPacketDurationMs / MinPacketDurationRTT bound how soon a
	// packet can be culled or re-sent.
	MinPacketDurationMs    = 1000
	MinPacketDurationRTT   = 3
	// PacketCullingDelayFactor: packets are evicted after this factor times
	// max(MinPacketDurationMs, MinPacketDurationRTT*rtt).
	PacketCullingDelayFactor = 3
)

// entry is a single stored packet plus its bookkeeping (spec §3
// "PacketHistory entry").
type entry struct {
	packet             *rtppkt.Packet
	sendTime           *clock.Timestamp
	insertOrder        uint64
	numRetransmitted   int
	pendingTransmission bool
}

// PacketState is a read-only snapshot, matching GetPacketState in the
// original (spec §8 testable property: "for any packet stored ... and never
// retransmitted, num_retransmitted == 0").
type PacketState struct {
	SequenceNumber     uint16
	SendTime           *clock.Timestamp
	CaptureTime        clock.Timestamp
	SSRC               uint32
	PacketSize         int
	TimesRetransmitted int
	PendingTransmission bool
}

// History is the bounded send-side packet store.
type History struct {
	mu sync.Mutex

	clock  clock.Clock
	logger zerolog.Logger

	mode           StorageMode
	numberToStore  int
	rtt            clock.TimeDelta

	entries        map[uint16]*entry
	insertOrder    []uint16 // ordered by insertion, oldest first
	packetsInserted uint64
}

// New constructs a History in StorageDisabled mode; call
// SetStorePacketsStatus to activate it.
func New(clk clock.Clock, logger zerolog.Logger) *History {
	return &History{
		clock:  clk,
		logger: logger.With().Str("component", "rtp_packet_history").Logger(),
		mode:   StorageDisabled,
		entries: make(map[uint16]*entry),
		rtt:    clock.TimeDeltaFromMilliseconds(MinPacketDurationMs / MinPacketDurationRTT),
	}
}

// SetStorePacketsStatus sets the storage mode and capacity. Setting any mode
// (even the current one) clears existing history, matching the original.
func (h *History) SetStorePacketsStatus(mode StorageMode, numberToStore int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if numberToStore > MaxCapacity {
		numberToStore = MaxCapacity
	}
	h.mode = mode
	h.numberToStore = numberToStore
	h.clearLocked()
}

func (h *History) GetStorageMode() StorageMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// SetRTT updates the round-trip estimate used to gate premature
// retransmits/culls.
func (h *History) SetRTT(rtt clock.TimeDelta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rtt = rtt
}

func (h *History) minPacketDuration() clock.TimeDelta {
	rttBound := clock.TimeDeltaFromMilliseconds(h.rtt.Milliseconds() * MinPacketDurationRTT)
	floor := clock.TimeDeltaFromMilliseconds(MinPacketDurationMs)
	if rttBound.Microseconds() > floor.Microseconds() {
		return rttBound
	}
	return floor
}

// PutRtpPacket stores a sent (or about-to-be-sent) packet. sendTime is nil
// when a pacer will record the send time later via MarkPacketAsSent.
func (h *History) PutRtpPacket(p *rtppkt.Packet, sendTime *clock.Timestamp) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mode == StorageDisabled {
		return
	}

	seq := p.SequenceNumber()
	if _, exists := h.entries[seq]; !exists {
		h.insertOrder = append(h.insertOrder, seq)
	}
	h.packetsInserted++
	h.entries[seq] = &entry{
		packet:      p.Clone(),
		sendTime:    sendTime,
		insertOrder: h.packetsInserted,
	}

	h.cullOldPacketsLocked()
	h.enforceCapacityLocked()
}

// GetPacketAndSetSendTime returns the stored packet for seq if present and
// not too-recently (re)sent, stamping a new send time and incrementing the
// retransmit counter. Returns nil if not found or suppressed.
func (h *History) GetPacketAndSetSendTime(seq uint16) *rtppkt.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[seq]
	if !ok {
		return nil
	}
	now := h.clock.Now()
	if !h.verifyRTTLocked(e, now) {
		return nil
	}
	e.sendTime = &now
	e.numRetransmitted++
	return e.packet.Clone()
}

// GetPacketAndMarkAsPending is the two-phase variant for pacer-queued sends:
// it does not update send time, MarkPacketAsSent does. encapsulate (e.g. RTX
// wrapping) may return nil to abort the retransmit.
func (h *History) GetPacketAndMarkAsPending(seq uint16, encapsulate func(*rtppkt.Packet) *rtppkt.Packet) *rtppkt.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[seq]
	if !ok || e.pendingTransmission {
		return nil
	}
	now := h.clock.Now()
	if !h.verifyRTTLocked(e, now) {
		return nil
	}
	out := e.packet.Clone()
	if encapsulate != nil {
		out = encapsulate(out)
		if out == nil {
			return nil
		}
	}
	e.pendingTransmission = true
	return out
}

// MarkPacketAsSent commits a pending-transmission packet: stamps send time,
// increments retransmit count, clears the pending flag.
func (h *History) MarkPacketAsSent(seq uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[seq]
	if !ok {
		return false
	}
	now := h.clock.Now()
	e.sendTime = &now
	e.numRetransmitted++
	e.pendingTransmission = false
	return true
}

// verifyRTTLocked returns false if the packet was (re)sent too recently —
// within max(1000ms, 3*RTT) — so a duplicate retransmit should be suppressed.
func (h *History) verifyRTTLocked(e *entry, now clock.Timestamp) bool {
	if e.sendTime == nil {
		return true
	}
	elapsed := now.Sub(*e.sendTime)
	return elapsed.Microseconds() >= h.minPacketDuration().Microseconds()
}

// GetPacketState returns a read-only snapshot without mutating state.
func (h *History) GetPacketState(seq uint16) (PacketState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[seq]
	if !ok {
		return PacketState{}, false
	}
	return PacketState{
		SequenceNumber:      seq,
		SendTime:            e.sendTime,
		CaptureTime:         e.packet.CaptureTime,
		SSRC:                e.packet.SSRC(),
		PacketSize:          e.packet.TotalSize(),
		TimesRetransmitted:  e.numRetransmitted,
		PendingTransmission: e.pendingTransmission,
	}, true
}

// GetPayloadPaddingPacket returns the packet judged most useful as padding
// payload: most-recently-sent with the lowest retransmit count, ties broken
// by larger insertion order (spec §4.2).
func (h *History) GetPayloadPaddingPacket(encapsulate func(*rtppkt.Packet) *rtppkt.Packet) *rtppkt.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil
	}
	var best *entry
	for _, e := range h.entries {
		if e.sendTime == nil {
			continue
		}
		if best == nil || paddingBetter(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	now := h.clock.Now()
	out := best.packet.Clone()
	if encapsulate != nil {
		out = encapsulate(out)
		if out == nil {
			return nil
		}
	}
	best.sendTime = &now
	best.numRetransmitted++
	return out
}

// paddingBetter implements the StoredPacketCompare ordering: more-recently
// sent wins, tie-broken by fewer retransmits, tie-broken by larger insertion
// order.
func paddingBetter(candidate, current *entry) bool {
	if candidate.sendTime.Microseconds() != current.sendTime.Microseconds() {
		return candidate.sendTime.Microseconds() > current.sendTime.Microseconds()
	}
	if candidate.numRetransmitted != current.numRetransmitted {
		return candidate.numRetransmitted < current.numRetransmitted
	}
	return candidate.insertOrder > current.insertOrder
}

// CullAckedPackets removes entries for sequence numbers the remote end has
// acknowledged (spec §4.2 cull_acked_packets).
func (h *History) CullAckedPackets(seqs []uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, seq := range seqs {
		h.removeLocked(seq)
	}
}

// Clear empties storage but preserves the configured mode and capacity.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearLocked()
}

func (h *History) clearLocked() {
	h.entries = make(map[uint16]*entry)
	h.insertOrder = nil
}

func (h *History) removeLocked(seq uint16) {
	if _, ok := h.entries[seq]; !ok {
		return
	}
	delete(h.entries, seq)
	for i, s := range h.insertOrder {
		if s == seq {
			h.insertOrder = append(h.insertOrder[:i], h.insertOrder[i+1:]...)
			break
		}
	}
}

// cullOldPacketsLocked evicts entries whose last send time is older than
// PacketCullingDelayFactor * minPacketDuration (spec §4.2 culling policy).
func (h *History) cullOldPacketsLocked() {
	if len(h.insertOrder) == 0 {
		return
	}
	now := h.clock.Now()
	maxAge := h.minPacketDuration().Microseconds() * PacketCullingDelayFactor
	var kept []uint16
	for _, seq := range h.insertOrder {
		e, ok := h.entries[seq]
		if !ok {
			continue
		}
		if e.sendTime != nil && now.Sub(*e.sendTime).Microseconds() > maxAge {
			delete(h.entries, seq)
			continue
		}
		kept = append(kept, seq)
	}
	h.insertOrder = kept
}

// enforceCapacityLocked evicts the oldest entries until size <=
// numberToStore, the hard cap named in spec §8's capacity invariant.
func (h *History) enforceCapacityLocked() {
	if h.numberToStore <= 0 {
		return
	}
	for len(h.insertOrder) > h.numberToStore {
		oldest := h.insertOrder[0]
		h.insertOrder = h.insertOrder[1:]
		delete(h.entries, oldest)
	}
}

// Size reports the current number of stored packets.
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// sortedSequenceNumbers is a test/debug helper returning stored sequence
// numbers sorted ascending (wrap-unaware, used only for introspection).
func (h *History) sortedSequenceNumbers() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint16, 0, len(h.entries))
	for seq := range h.entries {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
