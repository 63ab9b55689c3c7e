// Package jstring converts between JVM string encodings and Go strings.
//
// JVM strings are sequences of UTF-16 code units and may contain unpaired
// surrogates, which obfuscated string tables use freely. Go strings produced
// here are WTF-8: well-formed pairs become ordinary UTF-8, unpaired
// surrogates are kept as their three-byte generalized UTF-8 encoding so the
// round trip is lossless.
package jstring

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// FromUTF16 builds a Go string from UTF-16 code units.
func FromUTF16(units []uint16) string {
	buf := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if utf16.IsSurrogate(u) && u < 0xDC00 && i+1 < len(units) {
			if r := utf16.DecodeRune(u, rune(units[i+1])); r != utf8.RuneError {
				buf = utf8.AppendRune(buf, r)
				i++
				continue
			}
		}
		if utf16.IsSurrogate(u) {
			buf = append(buf, 0xE0|byte(u>>12), 0x80|byte(u>>6)&0x3F, 0x80|byte(u)&0x3F)
			continue
		}
		buf = utf8.AppendRune(buf, u)
	}
	return string(buf)
}

// UTF16 returns the UTF-16 code units of a string built by FromUTF16 or of
// any valid UTF-8 string. Invalid bytes map to U+FFFD.
func UTF16(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		if s[i] == 0xED && i+2 < len(s) && s[i+1]&0xE0 == 0xA0 && s[i+2]&0xC0 == 0x80 {
			units = append(units, uint16(0xD000|uint16(s[i+1]&0x3F)<<6|uint16(s[i+2]&0x3F)))
			i += 3
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			units = append(units, uint16(hi), uint16(lo))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}

// Length returns the number of UTF-16 code units in s.
func Length(s string) int {
	return len(UTF16(s))
}

// DecodeModifiedUTF8 decodes the class file CONSTANT_Utf8 encoding.
func DecodeModifiedUTF8(b []byte) ([]uint16, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			if c == 0 {
				return nil, fmt.Errorf("modified utf-8: raw NUL at byte %d", i)
			}
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return nil, fmt.Errorf("modified utf-8: bad 2-byte sequence at byte %d", i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return nil, fmt.Errorf("modified utf-8: bad 3-byte sequence at byte %d", i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return nil, fmt.Errorf("modified utf-8: invalid lead byte 0x%02x at byte %d", c, i)
		}
	}
	return units, nil
}

// EncodeModifiedUTF8 is the inverse of DecodeModifiedUTF8.
func EncodeModifiedUTF8(units []uint16) []byte {
	out := make([]byte, 0, len(units))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xC0|byte(u>>6), 0x80|byte(u)&0x3F)
		default:
			out = append(out, 0xE0|byte(u>>12), 0x80|byte(u>>6)&0x3F, 0x80|byte(u)&0x3F)
		}
	}
	return out
}
