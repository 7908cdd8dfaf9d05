package reader

import (
	"context"
)

// DefaultMaxLength is the number of digits retained per scan when no limit
// is configured.
const DefaultMaxLength = 256

// Linux key codes for the top-row digit keys.
const (
	key1 = 2
	key9 = 10
	key0 = 11
)

// Scan is one completed read-to-terminator cycle.
type Scan struct {
	// Code holds at most the decoder's maximum length of digits.
	Code string

	// Length counts every digit received, so Length > len(Code) means the
	// scan overflowed and was truncated.
	Length int
}

// Truncated reports whether digits were dropped from Code.
func (s Scan) Truncated() bool {
	return s.Length > len(s.Code)
}

// Decoder assembles successive digit key events from a Source into scans.
type Decoder struct {
	src Source
	max int
	buf []byte
}

// NewDecoder creates a Decoder keeping at most maxLength digits per scan.
// A maxLength of zero or less selects DefaultMaxLength.
func NewDecoder(src Source, maxLength int) *Decoder {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Decoder{
		src: src,
		max: maxLength,
		buf: make([]byte, 0, maxLength),
	}
}

// MaxLength returns the number of digits kept per scan.
func (d *Decoder) MaxLength() int {
	return d.max
}

// Next blocks until a scan is terminated by a non-digit key press or by a
// read error. Non-key events and key releases are skipped. On error the
// digits assembled so far are returned along with it.
func (d *Decoder) Next(ctx context.Context) (Scan, error) {
	d.buf = d.buf[:0]
	length := 0

	for {
		ev, err := d.src.ReadEvent(ctx)
		if err != nil {
			return Scan{Code: string(d.buf), Length: length}, err
		}

		if ev.Class != ClassKey || (ev.Value != ValuePress && ev.Value != ValueRepeat) {
			continue
		}

		digit, ok := Digit(ev.Code)
		if !ok {
			return Scan{Code: string(d.buf), Length: length}, nil
		}

		if length < d.max {
			d.buf = append(d.buf, digit)
		}
		length++
	}
}

// Digit maps a key code to its decimal character.
func Digit(code uint16) (byte, bool) {
	switch {
	case code >= key1 && code <= key9:
		return byte('1' + code - key1), true
	case code == key0:
		return '0', true
	}
	return 0, false
}

// KeyCode is the inverse of Digit.
func KeyCode(digit byte) (uint16, bool) {
	switch {
	case digit == '0':
		return key0, true
	case digit >= '1' && digit <= '9':
		return key1 + uint16(digit-'1'), true
	}
	return 0, false
}
