// Package nack implements the missing-sequence tracker and retry scheduler
// described in spec §4.6: on each received packet it records any gap ahead
// of the last-seen sequence number, and a periodic timer re-emits entries
// whose retry backoff has elapsed until they are acknowledged, dropped by a
// keyframe, or given up on after kMaxRetries.
package nack

import (
	"sync"

	"github.com/arzzra/rtprtcp/clock"
)

const (
	// KMaxNackList is the largest the missing-sequence set may grow before
	// it is cleared and (absent a keyframe to clear up to) a keyframe is
	// requested.
	KMaxNackList = 1000
	// KMaxRetries is how many times a single sequence is re-NACKed before
	// the entry is dropped silently.
	KMaxRetries = 10
	// kMaxBackoffMs is the retry interval ceiling (spec §4.6 / §7.3).
	kMaxBackoffMs = 40
)

// Entry is the per-missing-sequence bookkeeping record (spec §4.6): the
// first-seen time, the last-sent time (when HasSent is true) and the retry
// count. The SSRC in use when the sequence was inserted is not recorded.
type Entry struct {
	Seq       uint16
	FirstSeen clock.Timestamp
	LastSent  clock.Timestamp
	HasSent   bool
	Retries   int
}

// Config wires a Module's clock and feedback sinks (spec §9's capability-set
// design note: RequestKeyFrame/SendNack are plain function fields rather
// than an observer interface).
type Config struct {
	Clk clock.Clock

	// SendNackDelayMs delays the first NACK for a newly inserted gap,
	// matching jitter-buffer startup grace periods.
	SendNackDelayMs int64

	// RequestKeyFrame is invoked at most once per overflow event when no
	// keyframe is available to clear up to.
	RequestKeyFrame func()

	// SendNack receives the batch of sequence numbers to NACK this tick;
	// the caller translates it into rtcp.NackPair values and routes it
	// through the RTCP sender's RequestNack/Flush path.
	SendNack func(seqs []uint16)
}

// Module tracks missing sequence numbers for one incoming stream.
type Module struct {
	mu sync.Mutex

	cfg Config
	rtt clock.TimeDelta

	entries     map[uint16]*Entry
	order       []uint16 // insertion order, used only to keep periodic_update's emission order stable
	initialized bool
	lastSeen    uint16

	haveKeyframe    bool
	lastKeyframeSeq uint16
}

func New(cfg Config) *Module {
	return &Module{
		cfg:     cfg,
		entries: make(map[uint16]*Entry),
	}
}

// UpdateRTT refreshes the round-trip estimate the backoff formula uses.
func (m *Module) UpdateRTT(rtt clock.TimeDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtt = rtt
}

// seqGreater reports whether a comes strictly after b in wrap-around
// sequence-number space.
func seqGreater(a, b uint16) bool { return int16(a-b) > 0 }
func seqLessEq(a, b uint16) bool  { return int16(a-b) <= 0 }
func seqLess(a, b uint16) bool    { return int16(a-b) < 0 }

// OnReceivedPacket records seq as seen, inserting any gap ahead of the
// previous last-seen sequence into the nack set, and resolves an existing
// entry for seq itself (whether it arrived normally or via FEC recovery —
// is_recovered only affects upstream callers' decision to keep retransmit
// state alive, not this module's bookkeeping).
func (m *Module) OnReceivedPacket(seq uint16, isKeyframe, isRecovered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[seq]; ok {
		delete(m.entries, seq)
		m.removeFromOrderLocked(seq)
	}

	if !m.initialized {
		m.initialized = true
		m.lastSeen = seq
	} else if seqGreater(seq, m.lastSeen) {
		now := m.cfg.Clk.Now()
		for gap := m.lastSeen + 1; gap != seq; gap++ {
			if _, exists := m.entries[gap]; !exists {
				m.entries[gap] = &Entry{Seq: gap, FirstSeen: now}
				m.order = append(m.order, gap)
			}
		}
		m.lastSeen = seq
	}

	if isKeyframe {
		m.haveKeyframe = true
		m.lastKeyframeSeq = seq
		m.clearUpToLocked(seq, true)
	}

	if len(m.entries) >= KMaxNackList {
		m.handleOverflowLocked(seq, isKeyframe)
	}
}

// handleOverflowLocked implements "if the set overflows kMaxNackList, clear
// up to the next keyframe; if no keyframe exists, request one and drop all"
// (spec §4.6, §8 scenario 2).
func (m *Module) handleOverflowLocked(triggerSeq uint16, triggerIsKeyframe bool) {
	if triggerIsKeyframe {
		m.clearUpToLocked(triggerSeq, true)
		return
	}
	if m.cfg.RequestKeyFrame != nil {
		m.cfg.RequestKeyFrame()
	}
	m.entries = make(map[uint16]*Entry)
	m.order = nil
}

// clearUpToLocked drops every entry with seq <= threshold when inclusive is
// true, or seq < threshold when false (ClearUpTo, spec §4.6).
func (m *Module) clearUpToLocked(threshold uint16, inclusive bool) {
	var kept []uint16
	for _, seq := range m.order {
		var drop bool
		if inclusive {
			drop = seqLessEq(seq, threshold)
		} else {
			drop = seqLess(seq, threshold)
		}
		if drop {
			delete(m.entries, seq)
		} else {
			kept = append(kept, seq)
		}
	}
	m.order = kept
}

func (m *Module) removeFromOrderLocked(seq uint16) {
	for i, s := range m.order {
		if s == seq {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// ClearUpTo removes all entries strictly before seq without emitting a NACK
// for them (spec §4.6).
func (m *Module) ClearUpTo(seq uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearUpToLocked(seq, false)
}

// retryIntervalMs is spec §4.6 / §7.3's backoff: max(1, min(RTT*2^retries, 40ms)).
func retryIntervalMs(rttMs int64, retries int) int64 {
	interval := rttMs
	if retries > 0 {
		shift := retries
		if shift > 62 { // guard against overflow from an unreasonably high retry count
			shift = 62
		}
		interval = rttMs << uint(shift)
	}
	if interval > kMaxBackoffMs {
		interval = kMaxBackoffMs
	}
	if interval < 1 {
		interval = 1
	}
	return interval
}

// PeriodicUpdate is the repeating-task body (spec §5): emits every entry
// whose send-nack delay and retry backoff have both elapsed, then drops
// entries that have exhausted kMaxRetries.
func (m *Module) PeriodicUpdate() {
	m.mu.Lock()
	now := m.cfg.Clk.Now()
	rttMs := m.rtt.Milliseconds()

	var toSend []uint16
	var expired []uint16
	for _, seq := range m.order {
		e, ok := m.entries[seq]
		if !ok {
			continue
		}
		if now.Sub(e.FirstSeen).Milliseconds() < m.cfg.SendNackDelayMs {
			continue
		}
		if e.HasSent && now.Sub(e.LastSent).Milliseconds() < retryIntervalMs(rttMs, e.Retries) {
			continue
		}
		if e.Retries >= KMaxRetries {
			expired = append(expired, seq)
			continue
		}
		e.HasSent = true
		e.LastSent = now
		e.Retries++
		toSend = append(toSend, seq)
	}
	for _, seq := range expired {
		delete(m.entries, seq)
		m.removeFromOrderLocked(seq)
	}
	sendFn := m.cfg.SendNack
	m.mu.Unlock()

	if len(toSend) > 0 && sendFn != nil {
		sendFn(toSend)
	}
}

// Len reports the current nack set size, mainly for tests.
func (m *Module) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
