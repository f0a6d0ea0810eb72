package spi

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

var errBitChar = errors.New("spi: bit string contains character other than 0 or 1")

// Bits is an append-only bit sequence packed MSB first into bytes.
// The zero value is an empty sequence ready to use.
type Bits struct {
	buf []byte
	n   int
}

// ParseBits parses a string of '0' and '1' characters. Spaces and
// underscores are ignored so bits may be grouped for readability.
func ParseBits(s string) (Bits, error) {
	var b Bits
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0', '1':
			b.Append(s[i] == '1')
		case ' ', '_':
		default:
			return Bits{}, fmt.Errorf("%w: %q at %d", errBitChar, s[i], i)
		}
	}
	return b, nil
}

// Len returns the number of bits in the sequence.
func (b Bits) Len() int { return b.n }

// Append adds a bit to the end of the sequence.
func (b *Bits) Append(bit bool) {
	if b.n%8 == 0 {
		b.buf = append(b.buf, 0)
	}
	b.buf[b.n/8] |= b2u[byte](bit) << (7 - b.n%8)
	b.n++
}

// At returns the bit at index i. It panics if i is out of range.
func (b Bits) At(i int) bool {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("spi: bit index %d out of range [0, %d)", i, b.n))
	}
	return b.buf[i/8]&(1<<(7-i%8)) != 0
}

// Uint reads width bits starting at off as an unsigned MSB-first integer.
// ok is false if the range is not contained in the sequence or width exceeds 64.
func (b Bits) Uint(off, width int) (v uint64, ok bool) {
	if off < 0 || width < 0 || width > 64 || off > b.n-width {
		return 0, false
	}
	for i := off; i < off+width; i++ {
		v = v<<1 | b2u[uint64](b.At(i))
	}
	return v, true
}

// Slice returns a copy of bits [start, end).
func (b Bits) Slice(start, end int) Bits {
	if start < 0 || end > b.n || start > end {
		panic(fmt.Sprintf("spi: bit slice [%d:%d] out of range [0, %d)", start, end, b.n))
	}
	var s Bits
	for i := start; i < end; i++ {
		s.Append(b.At(i))
	}
	return s
}

func (b Bits) clone() Bits {
	return Bits{buf: append([]byte(nil), b.buf...), n: b.n}
}

// String returns the bits as '0' and '1' characters.
func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(b.n)
	for i := 0; i < b.n; i++ {
		sb.WriteByte('0' + b2u[byte](b.At(i)))
	}
	return sb.String()
}

// Bitstream is the pair of index-aligned bit sequences captured on MOSI and MISO.
// Index k of both sequences belongs to the same capture event.
type Bitstream struct {
	mosi Bits
	miso Bits
	// samples[k] is the trace sample index bit k was captured at.
	// Nil when the bitstream was not produced by sampling a trace.
	samples []int
}

// NewBitstream creates a Bitstream from already captured bits.
func NewBitstream(mosi, miso Bits) (*Bitstream, error) {
	if mosi.Len() != miso.Len() {
		return nil, fmt.Errorf("spi: MOSI has %d bits and MISO %d, must be equal", mosi.Len(), miso.Len())
	}
	return &Bitstream{mosi: mosi, miso: miso}, nil
}

// ParseBitstream is shorthand for NewBitstream(ParseBits(mosi), ParseBits(miso)).
func ParseBitstream(mosi, miso string) (*Bitstream, error) {
	o, err := ParseBits(mosi)
	if err != nil {
		return nil, fmt.Errorf("MOSI: %w", err)
	}
	i, err := ParseBits(miso)
	if err != nil {
		return nil, fmt.Errorf("MISO: %w", err)
	}
	return NewBitstream(o, i)
}

func (bs *Bitstream) capture(mosi, miso bool, sample int) {
	bs.mosi.Append(mosi)
	bs.miso.Append(miso)
	bs.samples = append(bs.samples, sample)
}

// Len returns the number of capture events.
func (bs *Bitstream) Len() int { return bs.mosi.Len() }

// MOSI returns a copy of the bits captured on the initiator data line.
func (bs *Bitstream) MOSI() Bits { return bs.mosi.clone() }

// MISO returns a copy of the bits captured on the target data line.
func (bs *Bitstream) MISO() Bits { return bs.miso.clone() }

// SampleOf returns the trace sample index bit k was captured at.
func (bs *Bitstream) SampleOf(k int) (int, bool) {
	if bs.samples == nil || k < 0 || k >= len(bs.samples) {
		return 0, false
	}
	return bs.samples[k], true
}

//go:inline
func b2u[T constraints.Unsigned](b bool) T {
	if b {
		return 1
	}
	return 0
}
