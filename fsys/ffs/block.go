package ffs

import (
	"encoding/binary"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var be = binary.BigEndian

// NormalChecksum returns the value that, stored at off, makes the sum of
// all big-endian longs in buf zero.
func NormalChecksum(buf []byte, off int) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		if i == off {
			continue
		}
		sum += be.Uint32(buf[i:])
	}
	return -sum
}

// BootChecksum computes the boot block checksum over the first 1024
// bytes of buf. The long at offset 4 (the checksum itself) is skipped;
// carries out of bit 31 are added back in, and the result is inverted.
func BootChecksum(buf []byte) uint32 {
	var sum uint64
	for i := 0; i < bootBlockSize/4; i++ {
		if i == 1 {
			continue
		}
		sum += uint64(be.Uint32(buf[i*4:]))
		if sum > 0xffffffff {
			sum = (sum & 0xffffffff) + 1
		}
	}
	return ^uint32(sum)
}

// verifyChecksum checks the checksum stored at off
func verifyChecksum(buf []byte, off int) error {
	if be.Uint32(buf[off:]) != NormalChecksum(buf, off) {
		return ErrChecksumMismatch
	}
	return nil
}

func putChecksum(buf []byte, off int) {
	be.PutUint32(buf[off:], NormalChecksum(buf, off))
}

func getInt32(buf []byte, off int) int32 { return int32(be.Uint32(buf[off:])) }
func putInt32(buf []byte, off int, v int32) { be.PutUint32(buf[off:], uint32(v)) }

// amigaEpoch is day zero of the Amiga calendar
var amigaEpoch = time.Date(1978, time.January, 1, 0, 0, 0, 0, time.UTC)

// TicksPerSecond is the resolution of the tick field
const TicksPerSecond = 50

// Date is an on-disk timestamp
type Date struct {
	Days  uint32 // days since 1 Jan 1978
	Mins  uint32 // minutes past midnight
	Ticks uint32 // 1/50 s past the minute
}

// ToAmigaDate converts the wall clock of t (in its own location) to an
// Amiga date. Dates before 1978 clamp to the epoch.
func ToAmigaDate(t time.Time) Date {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(amigaEpoch) {
		return Date{}
	}
	return Date{
		Days:  uint32(day.Sub(amigaEpoch) / (24 * time.Hour)),
		Mins:  uint32(t.Hour()*60 + t.Minute()),
		Ticks: uint32(t.Second()*TicksPerSecond + t.Nanosecond()/(int(time.Second)/TicksPerSecond)),
	}
}

// Time returns the date as a UTC wall clock time
func (d Date) Time() time.Time {
	return amigaEpoch.AddDate(0, 0, int(d.Days)).
		Add(time.Duration(d.Mins) * time.Minute).
		Add(time.Duration(d.Ticks) * (time.Second / TicksPerSecond))
}

func readDate(buf []byte, off int) Date {
	return Date{
		Days:  be.Uint32(buf[off:]),
		Mins:  be.Uint32(buf[off+4:]),
		Ticks: be.Uint32(buf[off+8:]),
	}
}

func writeDate(buf []byte, off int, d Date) {
	be.PutUint32(buf[off:], d.Days)
	be.PutUint32(buf[off+4:], d.Mins)
	be.PutUint32(buf[off+8:], d.Ticks)
}

// readBSTR reads a length-prefixed string with at most max characters.
// Names are Latin-1 on disk; each byte maps to the rune of the same value.
func readBSTR(buf []byte, off, max int) string {
	n := int(buf[off])
	if n > max {
		n = max
	}
	return latin1ToString(buf[off+1 : off+1+n])
}

// writeBSTR stores s as a length byte plus max bytes of zero-padded storage
func writeBSTR(buf []byte, off, max int, s string) {
	b := stringToLatin1(s)
	if len(b) > max {
		b = b[:max]
	}
	buf[off] = byte(len(b))
	clear(buf[off+1 : off+1+max])
	copy(buf[off+1:], b)
}

// latin1ToString decodes an on-disk ISO 8859-1 string.
func latin1ToString(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// stringToLatin1 encodes s as ISO 8859-1, replacing runes outside the
// charset with '?'
func stringToLatin1(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		c, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			c = '?'
		}
		b = append(b, c)
	}
	return b
}

// latin1Len returns the on-disk length of s
func latin1Len(s string) int { return utf8.RuneCountInString(s) }
