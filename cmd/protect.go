package cmd

import (
	"fmt"
	"strconv"
	"strings"
)

// protection letters from bit 7 down to bit 0
const protLetters = "hsparwed"

// FormatProtection renders protection bits as "hsparwed". The low four
// bits are stored inverted: a set bit denies the access.
func FormatProtection(bits uint32) string {
	var sb strings.Builder
	for i := 7; i >= 0; i-- {
		on := bits&(1<<i) != 0
		if i < 4 {
			on = !on
		}
		if on {
			sb.WriteByte(protLetters[7-i])
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ParseProtection accepts either a number (as stored on disk) or a set of
// letters from "hsparwed" naming the flags that are on. Dashes are ignored.
func ParseProtection(s string) (uint32, error) {
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid protection %q: %w", s, err)
		}
		return uint32(v), nil
	}

	bits := uint32(0x0f)
	for _, c := range strings.ToLower(s) {
		if c == '-' {
			continue
		}
		i := strings.IndexRune(protLetters, c)
		if i < 0 {
			return 0, fmt.Errorf("invalid protection flag %q in %q", c, s)
		}
		bit := uint32(1) << (7 - i)
		if bit < 1<<4 {
			bits &^= bit
		} else {
			bits |= bit
		}
	}
	return bits, nil
}
