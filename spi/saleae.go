package spi

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// ReadDigitalFile opens a Saleae Logic binary digital export.
func ReadDigitalFile(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

var errNoTransitions = errors.New("spi: saleae channel has no transitions")

// FromSaleae builds a Bitstream from Saleae Logic channel exports of the clock,
// chip select and both data lines. Bits are recovered by the Saleae SPI
// analyzer which samples in mode 0, so no sample indices are recorded.
// A data line without transitions is read as constant at its initial state.
func FromSaleae(clk, cs, mosi, miso *saleae.DigitalFile) (*Bitstream, error) {
	if idle(clk) {
		return nil, fmt.Errorf("%w: clock", errNoTransitions)
	}
	if idle(cs) {
		return nil, fmt.Errorf("%w: chip select", errNoTransitions)
	}
	// The analyzer indexes every channel's first transition, so an idle data
	// line is scanned through a stand-in and overwritten afterwards.
	sdo, sdi := mosi, miso
	switch {
	case idle(mosi) && idle(miso):
		sdo, sdi = clk, clk
	case idle(mosi):
		sdo = miso
	case idle(miso):
		sdi = mosi
	}
	spi := analyzers.SPI{}
	txs, err := spi.Scan(clk, cs, sdo, sdi)
	if err != nil {
		return nil, fmt.Errorf("spi: saleae scan: %w", err)
	}
	if idle(mosi) {
		holdLine(txs, true, level(mosi))
	}
	if idle(miso) {
		holdLine(txs, false, level(miso))
	}
	return bitstreamFromTxs(txs), nil
}

func idle(df *saleae.DigitalFile) bool {
	return df == nil || len(df.Data) == 0
}

func level(df *saleae.DigitalFile) bool {
	return df != nil && df.Header.InitialState != 0
}

// holdLine replaces the SDO (or SDI) bytes of every transaction with a
// constant line level.
func holdLine(txs []analyzers.TxSPI, sdo, high bool) {
	var b byte
	if high {
		b = 0xff
	}
	for i := range txs {
		if sdo {
			txs[i].SDO = bytes.Repeat([]byte{b}, len(txs[i].SDO))
		} else {
			txs[i].SDI = bytes.Repeat([]byte{b}, len(txs[i].SDI))
		}
	}
}

// bitstreamFromTxs concatenates the bytes of every chip select period
// MSB first. A shorter data line is padded with zero bits so both stay aligned.
func bitstreamFromTxs(txs []analyzers.TxSPI) *Bitstream {
	bs := &Bitstream{}
	for _, tx := range txs {
		n := max(len(tx.SDO), len(tx.SDI))
		for i := 0; i < n; i++ {
			var o, r byte
			if i < len(tx.SDO) {
				o = tx.SDO[i]
			}
			if i < len(tx.SDI) {
				r = tx.SDI[i]
			}
			for bit := 7; bit >= 0; bit-- {
				bs.mosi.Append(o&(1<<bit) != 0)
				bs.miso.Append(r&(1<<bit) != 0)
			}
		}
	}
	return bs
}
