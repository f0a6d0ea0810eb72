package spi

import (
	"iter"

	"github.com/soypat/spiwave/internal/slog"
)

// Frame header layout, MSB first:
//
//	| address (6) | dir (1) | stream (1) | data or length (8) |
const (
	HeaderBits = 16

	addrBits  = 6
	addrOff   = 0
	dirOff    = 6
	streamOff = 7
	secondOff = 8
	byteBits  = 8
)

// Direction of a transaction.
type Direction uint8

const (
	// Read transfers data from target to initiator, data is taken from MISO.
	Read Direction = iota
	// Write transfers data from initiator to target, data is taken from MOSI.
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "WR"
	}
	return "RD"
}

// Transaction is a decoded frame. A single exchange carries exactly one
// data byte in Data. A stream transaction carries its payload in Data, which
// may be empty.
type Transaction struct {
	Dir    Direction
	Addr   uint8
	Stream bool
	Data   []byte
	// Offset is the bit index of the frame header within the bitstream.
	Offset int
	// Bits is the number of bits the frame occupied.
	Bits int
}

type decodeState uint8

const (
	stateScanning decodeState = iota
	stateEmitSingle
	stateEmitStream
	stateDone
)

// Decoder walks a Bitstream and produces transactions one at a time.
// A Decoder is single pass; create a new one to decode again.
type Decoder struct {
	bs     *Bitstream
	state  decodeState
	cursor int
	// current frame header fields.
	addr   uint8
	dir    Direction
	second uint8
	log    *slog.Logger
}

// NewDecoder returns a decoder positioned at the first bit of bs.
// bs must not be modified while decoding.
func NewDecoder(bs *Bitstream) *Decoder {
	return &Decoder{bs: bs}
}

// SetLogger sets the logger that receives the per-frame trace. l may be nil.
func (d *Decoder) SetLogger(l *slog.Logger) { d.log = l }

// Cursor returns the index of the next undecoded bit.
func (d *Decoder) Cursor() int { return d.cursor }

// Done reports whether the decoder reached its terminal state.
func (d *Decoder) Done() bool { return d.state == stateDone }

// Discarded returns the number of trailing bits that did not form a complete frame.
// It is only meaningful once Done returns true.
func (d *Decoder) Discarded() int { return d.bs.Len() - d.cursor }

// Next decodes the next transaction. ok is false once the bitstream is
// exhausted or the remaining bits do not hold a complete frame.
func (d *Decoder) Next() (tx Transaction, ok bool) {
	mosi, miso := &d.bs.mosi, &d.bs.miso
	for {
		switch d.state {
		case stateScanning:
			i := d.cursor
			if i+HeaderBits > d.bs.Len() {
				d.finish("header")
				return Transaction{}, false
			}
			addr, _ := mosi.Uint(i+addrOff, addrBits)
			second, _ := mosi.Uint(i+secondOff, byteBits)
			d.addr = uint8(addr)
			d.second = uint8(second)
			d.dir = Read
			if mosi.At(i + dirOff) {
				d.dir = Write
			}
			if mosi.At(i + streamOff) {
				d.state = stateEmitStream
			} else {
				d.state = stateEmitSingle
			}

		case stateEmitSingle:
			tx = Transaction{
				Dir:    d.dir,
				Addr:   d.addr,
				Data:   []byte{d.second},
				Offset: d.cursor,
				Bits:   HeaderBits,
			}
			if d.dir == Read {
				tx.Data[0] = readByte(miso, d.cursor+secondOff)
			}
			d.emit(&tx)
			return tx, true

		case stateEmitStream:
			length := int(d.second)
			size := HeaderBits + length*byteBits
			if d.cursor+size > d.bs.Len() {
				d.finish("stream payload")
				return Transaction{}, false
			}
			src := mosi
			if d.dir == Read {
				src = miso
			}
			tx = Transaction{
				Dir:    d.dir,
				Addr:   d.addr,
				Stream: true,
				Data:   make([]byte, length),
				Offset: d.cursor,
				Bits:   size,
			}
			for j := range tx.Data {
				tx.Data[j] = readByte(src, d.cursor+HeaderBits+j*byteBits)
			}
			d.emit(&tx)
			return tx, true

		case stateDone:
			return Transaction{}, false
		}
	}
}

func (d *Decoder) emit(tx *Transaction) {
	d.cursor += tx.Bits
	d.state = stateScanning
	if d.log != nil {
		attrs := []any{slog.Int("offset", tx.Offset), slog.Int("bits", tx.Bits), slog.String("tx", tx.String())}
		if sample, ok := d.bs.SampleOf(tx.Offset); ok {
			attrs = append(attrs, slog.Int("sample", sample))
		}
		d.log.Debug("spi:frame", attrs...)
	}
}

func (d *Decoder) finish(reason string) {
	d.state = stateDone
	if d.log != nil && d.Discarded() > 0 {
		d.log.Debug("spi:truncated", slog.String("incomplete", reason), slog.Int("offset", d.cursor), slog.Int("discarded", d.Discarded()))
	}
}

func readByte(b *Bits, off int) byte {
	v, ok := b.Uint(off, byteBits)
	if !ok {
		panic("spi: frame byte out of range")
	}
	return byte(v)
}

// All returns an iterator over the transactions remaining in d.
func (d *Decoder) All() iter.Seq[Transaction] {
	return func(yield func(Transaction) bool) {
		for {
			tx, ok := d.Next()
			if !ok || !yield(tx) {
				return
			}
		}
	}
}

// Transactions returns an iterator that decodes bs from its first bit each
// time it is ranged over.
func (bs *Bitstream) Transactions() iter.Seq[Transaction] {
	return func(yield func(Transaction) bool) {
		NewDecoder(bs).All()(yield)
	}
}

// Decode decodes all complete frames in bs.
func Decode(bs *Bitstream) []Transaction {
	var txs []Transaction
	for tx := range bs.Transactions() {
		txs = append(txs, tx)
	}
	return txs
}
