// Package clock provides the strongly-typed time and rate scalars used
// throughout the RTP/RTCP core (spec §3 "Timestamp / TimeDelta / DataRate"),
// plus the Q32.32 NTP fixed-point helpers.
//
// Основано на naivertc (original_source/include/rtc/base/clock.hpp,
// ntp_time.hpp): все величины имеют микросекундную точность и поддерживают
// "бесконечности" с насыщающей арифметикой, вместо знаковых sentinel-значений
// наподобие -1.
package clock

import "math"

const (
	maxMicroseconds = math.MaxInt64 / 2
	minMicroseconds = math.MinInt64 / 2
	plusInfinityUs  = math.MaxInt64
	minusInfinityUs  = math.MinInt64
)

// Timestamp is a point in time with microsecond precision, relative to some
// epoch chosen by the Clock that produced it (never wall-clock UTC directly).
type Timestamp struct {
	us int64
}

// TimeDelta is a signed duration with microsecond precision.
type TimeDelta struct {
	us int64
}

// DataRate is a non-negative bitrate in bits per second.
type DataRate struct {
	bps int64
}

// --- Timestamp ---

func TimestampFromMicroseconds(us int64) Timestamp { return Timestamp{us: us} }
func TimestampFromMilliseconds(ms int64) Timestamp { return Timestamp{us: saturatedMul(ms, 1000)} }

func PlusInfinityTimestamp() Timestamp  { return Timestamp{us: plusInfinityUs} }
func MinusInfinityTimestamp() Timestamp { return Timestamp{us: minusInfinityUs} }
func ZeroTimestamp() Timestamp           { return Timestamp{us: 0} }

func (t Timestamp) IsFinite() bool        { return t.us != plusInfinityUs && t.us != minusInfinityUs }
func (t Timestamp) IsPlusInfinity() bool  { return t.us == plusInfinityUs }
func (t Timestamp) IsMinusInfinity() bool { return t.us == minusInfinityUs }
func (t Timestamp) Microseconds() int64   { return t.us }
func (t Timestamp) Milliseconds() int64   { return divRound(t.us, 1000) }
func (t Timestamp) Seconds() float64      { return float64(t.us) / 1e6 }

func (t Timestamp) Sub(o Timestamp) TimeDelta {
	if !t.IsFinite() || !o.IsFinite() {
		if t.IsPlusInfinity() || o.IsMinusInfinity() {
			return PlusInfinityTimeDelta()
		}
		return MinusInfinityTimeDelta()
	}
	return TimeDelta{us: saturatedSub(t.us, o.us)}
}

func (t Timestamp) Add(d TimeDelta) Timestamp {
	if !t.IsFinite() {
		return t
	}
	if !d.IsFinite() {
		if d.IsPlusInfinity() {
			return PlusInfinityTimestamp()
		}
		return MinusInfinityTimestamp()
	}
	return Timestamp{us: saturatedAdd(t.us, d.us)}
}

func (t Timestamp) Before(o Timestamp) bool { return t.us < o.us }
func (t Timestamp) After(o Timestamp) bool  { return t.us > o.us }

// --- TimeDelta ---

func TimeDeltaFromMicroseconds(us int64) TimeDelta { return TimeDelta{us: us} }
func TimeDeltaFromMilliseconds(ms int64) TimeDelta { return TimeDelta{us: saturatedMul(ms, 1000)} }
func TimeDeltaFromSeconds(s float64) TimeDelta {
	return TimeDelta{us: int64(math.Round(s * 1e6))}
}

func PlusInfinityTimeDelta() TimeDelta  { return TimeDelta{us: plusInfinityUs} }
func MinusInfinityTimeDelta() TimeDelta { return TimeDelta{us: minusInfinityUs} }
func ZeroTimeDelta() TimeDelta           { return TimeDelta{us: 0} }

func (d TimeDelta) IsFinite() bool       { return d.us != plusInfinityUs && d.us != minusInfinityUs }
func (d TimeDelta) IsPlusInfinity() bool { return d.us == plusInfinityUs }
func (d TimeDelta) Microseconds() int64  { return d.us }
func (d TimeDelta) Milliseconds() int64  { return divRound(d.us, 1000) }
func (d TimeDelta) Seconds() float64     { return float64(d.us) / 1e6 }

func (d TimeDelta) Add(o TimeDelta) TimeDelta {
	if !d.IsFinite() || !o.IsFinite() {
		return infinityPropagateAdd(d, o)
	}
	return TimeDelta{us: saturatedAdd(d.us, o.us)}
}

func infinityPropagateAdd(a, b TimeDelta) TimeDelta {
	if a.IsPlusInfinity() || b.IsPlusInfinity() {
		return PlusInfinityTimeDelta()
	}
	return MinusInfinityTimeDelta()
}

func (d TimeDelta) Sub(o TimeDelta) TimeDelta {
	if !d.IsFinite() || !o.IsFinite() {
		return infinityPropagateAdd(d, TimeDelta{us: -o.us})
	}
	return TimeDelta{us: saturatedSub(d.us, o.us)}
}

func (d TimeDelta) Abs() TimeDelta {
	if d.us < 0 {
		return TimeDelta{us: -d.us}
	}
	return d
}

// --- DataRate ---

func DataRateFromBitsPerSec(bps int64) DataRate { return DataRate{bps: bps} }
func DataRateFromKbps(kbps float64) DataRate     { return DataRate{bps: int64(math.Round(kbps * 1000))} }
func ZeroDataRate() DataRate                      { return DataRate{bps: 0} }
func PlusInfinityDataRate() DataRate              { return DataRate{bps: plusInfinityUs} }

func (r DataRate) IsFinite() bool      { return r.bps != plusInfinityUs }
func (r DataRate) BitsPerSec() int64   { return r.bps }
func (r DataRate) KilobitsPerSec() float64 { return float64(r.bps) / 1000 }

func (r DataRate) Clamp(min, max DataRate) DataRate {
	if r.bps < min.bps {
		return min
	}
	if max.IsFinite() && r.bps > max.bps {
		return max
	}
	return r
}

// BytesPerInterval returns how many bytes are sent at this rate over d.
func (r DataRate) BytesPerInterval(d TimeDelta) int64 {
	return int64(float64(r.bps) * d.Seconds() / 8.0)
}

func divRound(a, b int64) int64 {
	if (a < 0) != (b < 0) {
		return -((-a + b/2) / b)
	}
	return (a + b/2) / b
}

func saturatedAdd(a, b int64) int64 {
	if a > maxMicroseconds-b && b > 0 {
		return math.MaxInt64
	}
	if a < minMicroseconds-b && b < 0 {
		return math.MinInt64
	}
	return a + b
}

func saturatedSub(a, b int64) int64 { return saturatedAdd(a, -b) }

func saturatedMul(a, b int64) int64 {
	result := float64(a) * float64(b)
	if result >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	if result <= float64(math.MinInt64) {
		return math.MinInt64
	}
	return a * b
}
