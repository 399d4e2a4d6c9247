package clock

import "math"

// FractionsPerSecond is 2^32, the Q32.32 denominator (naivertc ntp_time.hpp).
const FractionsPerSecond uint64 = 0x100000000

// NtpTime is a 64-bit Q32.32 fixed-point NTP timestamp: seconds since
// 1900-01-01 UTC in the high 32 bits, fractional seconds in the low 32 bits.
// A value of 0 is invalid per RFC 1305 §3.1 (spec §3).
type NtpTime struct {
	value uint64
}

func NewNtpTime(value uint64) NtpTime { return NtpTime{value: value} }

func NtpTimeFromParts(seconds, fractions uint32) NtpTime {
	return NtpTime{value: uint64(seconds)<<32 | uint64(fractions)}
}

func (n NtpTime) Valid() bool        { return n.value != 0 }
func (n NtpTime) Value() uint64      { return n.value }
func (n NtpTime) Seconds() uint32    { return uint32(n.value >> 32) }
func (n NtpTime) Fractions() uint32  { return uint32(n.value) }

// ToMs mirrors NtpTime::ToMs(): seconds*1000 + round(fractions*1000/2^32).
func (n NtpTime) ToMs() int64 {
	sec := int64(n.Seconds()) * 1000
	frac := divRoundU(uint64(n.Fractions())*1000, FractionsPerSecond)
	return sec + int64(frac)
}

// CompactNtp extracts the middle 32 bits of the 64-bit value (RFC 3550 §4,
// used in SR/RR LSR and DLSR fields): low 16 bits of seconds || high 16 bits
// of fractions.
func (n NtpTime) CompactNtp() uint32 {
	return uint32(n.value>>16) & 0xFFFFFFFF
}

// CompactNtpFromValue applies the same middle-32-bits extraction to a raw
// Q32.32 value, for callers that only hold the uint64.
func CompactNtpFromValue(value uint64) uint32 {
	return uint32(value >> 16)
}

func divRoundU(a, b uint64) uint64 {
	return (a + b/2) / b
}

// Int64MsToQ32x32 converts milliseconds to a signed Q32.32 fixed-point value,
// saturating on overflow (spec §8 round-trip property).
func Int64MsToQ32x32(ms int64) int64 {
	result := math.Round(float64(ms) * (float64(FractionsPerSecond) / 1000.0))
	if result <= float64(math.MinInt64) {
		return math.MinInt64
	}
	if result >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(result)
}

// Int64MsToUQ32x32 is the unsigned variant, used for NTP timestamps which are
// never negative.
func Int64MsToUQ32x32(ms int64) uint64 {
	result := math.Round(float64(ms) * (float64(FractionsPerSecond) / 1000.0))
	if result <= 0 {
		return 0
	}
	if result >= float64(math.MaxUint64) {
		return math.MaxUint64
	}
	return uint64(result)
}

// Q32x32ToInt64Ms is the inverse of Int64MsToQ32x32/Int64MsToUQ32x32.
func Q32x32ToInt64Ms(q32x32 int64) int64 {
	return int64(math.Round(float64(q32x32) * (1000.0 / float64(FractionsPerSecond))))
}

func UQ32x32ToInt64Ms(q32x32 uint64) int64 {
	return int64(math.Round(float64(q32x32) * (1000.0 / float64(FractionsPerSecond))))
}

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// UnixMillisToNtp converts a Unix-epoch millisecond timestamp to NtpTime.
func UnixMillisToNtp(unixMs int64) NtpTime {
	totalMs := unixMs + ntpEpochOffset*1000
	seconds := uint32(totalMs / 1000)
	fracMs := totalMs % 1000
	fractions := uint32(Int64MsToUQ32x32(fracMs))
	return NtpTimeFromParts(seconds, fractions)
}

// ToUnixMillis is the inverse of UnixMillisToNtp.
func (n NtpTime) ToUnixMillis() int64 {
	return n.ToMs() - ntpEpochOffset*1000
}
